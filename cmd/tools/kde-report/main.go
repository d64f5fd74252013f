// Command kde-report renders PNG plots and an HTML dashboard for a run
// recorded by bgsub.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/bgsub/internal/store"
)

func main() {
	dbPath := flag.String("db", "bgsub.db", "path to sqlite DB file")
	runID := flag.String("run", "", "run ID to report on (latest run when empty)")
	outDir := flag.String("out", "plots", "base directory for the report")
	list := flag.Bool("list", false, "list recent runs and exit")
	limit := flag.Int("limit", 20, "number of runs shown by -list")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("DB path %s not accessible: %v", *dbPath, err)
	}
	db, err := store.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if *list {
		if err := listRuns(os.Stdout, db, *limit); err != nil {
			log.Fatalf("list runs: %v", err)
		}
		return
	}

	paths, err := RunReport(db, *runID, *outDir, time.Now())
	if err != nil {
		log.Fatalf("report failed: %v", err)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}
