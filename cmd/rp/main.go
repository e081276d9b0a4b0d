// Command rp is the rallypoint operator CLI: send and schedule troop
// movements, and run the resolution loop against a SQLite world.
package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

const (
	defaultDir = ".rallypoint"
	defaultDB  = defaultDir + "/rallypoint.db"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("rp", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	// Setup
	case "init":
		os.Exit(a.cmdInit(os.Args[2:]))
	case "seed":
		os.Exit(a.cmdSeed(os.Args[2:]))
	case "rally":
		os.Exit(a.cmdRally(os.Args[2:]))

	// Movements
	case "send":
		os.Exit(a.cmdSend(os.Args[2:]))
	case "wave":
		os.Exit(a.cmdWave(os.Args[2:]))
	case "cancel":
		os.Exit(a.cmdCancel(os.Args[2:]))
	case "recall":
		os.Exit(a.cmdRecall(os.Args[2:]))

	// Scheduler
	case "resolve":
		os.Exit(a.cmdResolve(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	// Queries
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))
	case "reports":
		os.Exit(a.cmdReports(os.Args[2:]))
	case "dismiss":
		os.Exit(a.cmdDismiss(os.Args[2:]))
	case "group":
		os.Exit(a.cmdGroup(os.Args[2:]))
	case "units":
		os.Exit(a.cmdUnits(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "rp: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'rp --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`rp - troop movements and battle resolution for a persistent world

Usage:
  rp <command> [flags]

Setup:
  init [--example FILE]            Create the database, optionally write an example world
  seed <world.yaml>                Load villages, garrisons, buildings and rally points
  rally <village> --level N        Set a rally point level (and --window MS)

Movements:
  send --from V --to V --units U   Send attack/raid/siege/reinforce (--mission)
  wave --to V --arrive T --member V:U [--member ...]
                                   Send a synchronized wave group
  cancel <movement>                Cancel inside the grace period
  recall --host V --home V         Bring reinforcements home (--units for part)

Scheduler:
  resolve [--limit N]              Resolve every movement that has arrived
  watch [--interval N]             Resolve on a fixed cadence until interrupted

Queries:
  status <village>                 Garrison, buildings, movements, prisoners
  reports <village>                Battle reports, newest first
  dismiss <village>                Release every trap prisoner held there
  group <wave-group>               A wave group with its members and movements
  units                            The unit catalog in use

Units are written as id=count pairs: sword=10,horse=5
Times are RFC 3339 or an offset from now: +90m

Environment:
  RALLYPOINT_DB         SQLite database path (default: .rallypoint/rallypoint.db)
  RALLYPOINT_CONFIG     YAML balance overrides (optional)
  RALLYPOINT_CATALOG    YAML unit catalog (optional, built-in table otherwise)
  RALLYPOINT_OWNER      Default account id (avoids passing --owner every time)
  RALLYPOINT_LOG_LEVEL  debug, info, warn or error (default: info)

All commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error, or at least one movement failed to resolve
  2  cancel refused
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "rp: "+format+"\n", args...)
	os.Exit(1)
}
