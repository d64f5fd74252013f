package store

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunMigrateCommand handles the 'migrate' subcommand. Confirmation for
// force is read from in; all output goes to out.
func RunMigrateCommand(args []string, dbPath string, in io.Reader, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without migrating; the actions below manage the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		fmt.Fprintln(out, "Running migrations...")
		if err := database.MigrateUp(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		fmt.Fprintln(out, "✓ All migrations applied successfully")
		return printVersion(database, out)

	case "down":
		fmt.Fprintln(out, "Rolling back one migration...")
		if err := database.MigrateDown(); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		fmt.Fprintln(out, "✓ Migration rolled back successfully")
		return printVersion(database, out)

	case "status":
		return migrateStatus(database, out)

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: bgsub migrate version <version_number>")
		}
		target, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		fmt.Fprintf(out, "Migrating to version %d...\n", target)
		if err := database.MigrateTo(uint(target)); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", target, err)
		}
		fmt.Fprintf(out, "✓ Migrated to version %d successfully\n", target)
		return nil

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: bgsub migrate force <version_number>")
		}
		forced, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		fmt.Fprintf(out, "⚠️  WARNING: Forcing migration version to %d\n", forced)
		fmt.Fprintln(out, "This should only be used to recover from a dirty migration state.")
		fmt.Fprint(out, "Continue? [y/N]: ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if r := strings.TrimSpace(response); r != "y" && r != "Y" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
		if err := database.MigrateForce(forced); err != nil {
			return fmt.Errorf("force migration failed: %w", err)
		}
		fmt.Fprintf(out, "✓ Migration version forced to %d\n", forced)
		return nil

	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func printVersion(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func migrateStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return fmt.Errorf("failed to get latest migration version: %w", err)
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest available: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)

	switch {
	case dirty:
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(out, "  bgsub migrate force <version>")
	case version < latest:
		fmt.Fprintf(out, "⚠️  Database is %d version(s) behind. Run 'bgsub migrate up' to update.\n", latest-version)
	default:
		fmt.Fprintln(out, "✓ Database is up to date!")
	}
	return nil
}

// PrintMigrateHelp lists the migrate actions.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: bgsub [-db path] migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back one migration
  status             Show the current and latest schema versions
  version <n>        Migrate up or down to version n
  force <n>          Set the recorded version without running migrations
  help               Show this help
`)
}
