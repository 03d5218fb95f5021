package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

const migrateUsage = `Usage: monitor migrate <action> [version]

Actions:
  up           apply every pending migration
  down         revert the newest migration
  status       print the applied and latest schema versions
  version <n>  migrate up or down to n
  force <n>    record n as applied without running it (dirty recovery)
  help         print this message
`

type migrateAction struct {
	needsVersion bool
	run          func(db *DB, version int, w io.Writer) error
}

var migrateActions = map[string]migrateAction{
	"up": {run: func(db *DB, _ int, w io.Writer) error {
		return thenStatus(db, w, db.MigrateUp())
	}},
	"down": {run: func(db *DB, _ int, w io.Writer) error {
		return thenStatus(db, w, db.MigrateDown())
	}},
	"status": {run: func(db *DB, _ int, w io.Writer) error {
		return thenStatus(db, w, nil)
	}},
	"version": {needsVersion: true, run: func(db *DB, v int, w io.Writer) error {
		return thenStatus(db, w, db.MigrateTo(uint(v)))
	}},
	"force": {needsVersion: true, run: func(db *DB, v int, w io.Writer) error {
		if err := db.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(w, "Forced migration version to %d\n", v)
		return nil
	}},
}

// RunMigrateCommand implements "monitor migrate". The database at dbPath is
// opened without migrating it.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(w, migrateUsage)
		return errors.New("missing migrate action")
	}
	if args[0] == "help" {
		fmt.Fprint(w, migrateUsage)
		return nil
	}
	action, ok := migrateActions[args[0]]
	if !ok {
		fmt.Fprint(w, migrateUsage)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	version := 0
	if action.needsVersion {
		if len(args) < 2 {
			return fmt.Errorf("usage: monitor migrate %s <version>", args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version %q", args[1])
		}
		version = v
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	return action.run(database, version, w)
}

func thenStatus(db *DB, w io.Writer, err error) error {
	if err != nil {
		return err
	}
	st, err := db.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d\nLatest version:  %d\n", st.Current, st.Latest)
	switch {
	case st.Dirty:
		fmt.Fprintln(w, "State:           DIRTY (recover with 'monitor migrate force <version>')")
	case st.Pending():
		fmt.Fprintf(w, "State:           %d migration(s) pending\n", st.Latest-st.Current)
	default:
		fmt.Fprintln(w, "State:           up to date")
	}
	return nil
}
