package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
)

// ErrUnknownAction is returned for an unknown migrate action.
var ErrUnknownAction = errors.New("unknown migrate action")

// RunMigrateCommand handles the 'migrate' subcommand of the calibration
// tools. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without migrating, the actions manage the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
	case "status":
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return printMigrateStatus(database, out)
}

func printMigrateStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest available: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(out, "Store is in a dirty state, a migration failed mid-execution.")
	case version < latest:
		fmt.Fprintf(out, "Store is %d version(s) behind. Run 'migrate up' to update.\n", latest-version)
	}
	return nil
}

// LatestMigrationVersion returns the highest embedded migration version.
func LatestMigrationVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	var latest uint
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		var v uint
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			return 0, fmt.Errorf("invalid migration name %s: %w", e.Name(), err)
		}
		latest = max(latest, v)
	}
	return latest, nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprintln(out, "Study store migrations")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: calibrate migrate <command>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up        Apply all pending migrations")
	fmt.Fprintln(out, "  down      Roll back one migration")
	fmt.Fprintln(out, "  status    Show the current version")
	fmt.Fprintln(out, "  help      Show this help message")
}
