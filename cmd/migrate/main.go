package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/example/jobtracker/internal/config"
	"github.com/example/jobtracker/internal/dbmigrate"
)

const usage = "usage: migrate up|down [-steps N] | version | force -version V  [-dir DIR]"

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one migration verb against the configured Postgres database
// and returns the process exit code: 2 for usage errors, 1 for failures.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	verb := args[0]
	switch verb {
	case "up", "down", "version", "force":
	default:
		fmt.Fprintf(stderr, "unknown migrate command %q\n%s\n", verb, usage)
		return 2
	}

	fs := flag.NewFlagSet("migrate "+verb, flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	steps := fs.Int("steps", 0, "Number of steps, 0 for all")
	target := fs.Int("version", 0, "Version to force")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if verb == "force" && !flagSet(fs, "version") {
		fmt.Fprintln(stderr, "force requires -version")
		return 2
	}
	if *steps < 0 {
		fmt.Fprintln(stderr, "-steps must not be negative")
		return 2
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if cfg.DBAdapter != "postgres" {
		fmt.Fprintf(stderr, "migrations need DB_ADAPTER=postgres, got %s\n", cfg.DBAdapter)
		return 1
	}
	dsn, err := cfg.BuildPostgresDSN()
	if err != nil {
		fmt.Fprintf(stderr, "postgres config: %v\n", err)
		return 1
	}
	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	switch verb {
	case "up", "down":
		if err := dbmigrate.Steps(migrationsDir, dsn, verb == "up", *steps); err != nil {
			fmt.Fprintf(stderr, "migrate %s: %v\n", verb, err)
			return 1
		}
		fmt.Fprintf(stdout, "migrate %s done\n", verb)
	case "version":
		v, dirty, err := dbmigrate.Version(migrationsDir, dsn)
		if err != nil {
			fmt.Fprintf(stderr, "migrate version: %v\n", err)
			return 1
		}
		if dirty {
			fmt.Fprintf(stderr, "schema version %d is dirty\n", v)
			return 1
		}
		fmt.Fprintf(stdout, "schema version %d\n", v)
	case "force":
		if err := dbmigrate.Force(migrationsDir, dsn, *target); err != nil {
			fmt.Fprintf(stderr, "migrate force: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "schema forced to version %d\n", *target)
	}
	return 0
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
