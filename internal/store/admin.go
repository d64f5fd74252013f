package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/bgsub/internal/httputil"
)

// AttachAdminRoutes mounts the debug pages on mux under /debug/: a tailsql
// console, database stats, the run list and an on-demand backup.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Background subtraction runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("db-stats", "Row counts and schema version (JSON)", db.StatsHandler())
	debug.Handle("runs", "Recent runs (JSON, ?limit=N)", db.RunsHandler())
	debug.Handle("backup", "Create and download a backup of the database now", db.BackupHandler())
	return nil
}

// StatsHandler serves GetDatabaseStats as JSON.
func (db *DB) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		stats, err := db.GetDatabaseStats()
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, "failed to get database stats: %v", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	})
}

// RunsHandler serves ListRuns as JSON. The limit query parameter defaults
// to 50.
func (db *DB) RunsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		limit, err := httputil.QueryInt(r, "limit", 50)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "%v", err)
			return
		}
		runs, err := db.ListRuns(limit)
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []*Run{}
		}
		httputil.WriteJSON(w, http.StatusOK, runs)
	})
}

// BackupHandler writes a gzip-compressed VACUUM INTO copy of the database.
// The temporary copy is created next to the database and removed after it
// has been sent.
func (db *DB) BackupHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("backup-%d.db", db.clock.Now().Unix())
		backupPath := filepath.Join(filepath.Dir(db.path), name)
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			httputil.Error(w, http.StatusInternalServerError, "failed to create backup: %v", err)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				db.log.Opsf("Failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, "failed to open backup file: %v", err)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			db.log.Opsf("Failed to stream backup: %v", err)
		}
	})
}
