package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/rallypoint/pkg/engine"
)

func (a *app) cmdResolve(args []string) int {
	flags := flag.NewFlagSet("resolve", flag.ContinueOnError)
	limit := flags.Int("limit", 500, "max movements per run")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	sum, err := a.eng.ResolveDueMovements(context.Background(), a.clock.Now(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: resolve: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(summaryJSON(sum))
	} else {
		printSummary(sum)
	}
	if len(sum.Failed) > 0 {
		return 1
	}
	return 0
}

// cmdWatch resolves due movements on a fixed cadence until SIGINT or
// SIGTERM.
func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := flags.Int("interval", 1, "tick interval in seconds")
	limit := flags.Int("limit", 500, "max movements per tick")
	jsonOut := flags.Bool("json", false, "JSON output (one summary per line)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *interval < 1 {
		fmt.Fprintln(os.Stderr, "rp: watch: --interval must be at least 1")
		return 1
	}
	tick := time.Duration(*interval) * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	a.log.Info().Dur("interval", tick).Int("limit", *limit).Msg("watching for due movements (ctrl-c to stop)")

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			cancel()
			fmt.Fprintln(os.Stderr, "\nstopped")
			return 0
		case <-ticker.C:
			sum, err := a.eng.ResolveDueMovements(ctx, a.clock.Now(), *limit)
			if err != nil {
				a.log.Error().Err(err).Msg("resolve tick failed")
				continue
			}
			if len(sum.Resolved)+len(sum.Skipped)+len(sum.Failed) == 0 {
				continue
			}
			if *jsonOut {
				b, _ := json.Marshal(summaryJSON(sum))
				fmt.Println(string(b))
			} else {
				printSummary(sum)
			}
		}
	}
}

type failureJSON struct {
	MovementID string `json:"movement_id"`
	Error      string `json:"error"`
}

// summaryJSON flattens failure errors, which do not marshal on their own.
func summaryJSON(sum engine.ResolveSummary) map[string]interface{} {
	failed := make([]failureJSON, 0, len(sum.Failed))
	for _, f := range sum.Failed {
		failed = append(failed, failureJSON{MovementID: f.MovementID, Error: f.Err.Error()})
	}
	return map[string]interface{}{
		"resolved": nonNil(sum.Resolved),
		"skipped":  nonNil(sum.Skipped),
		"failed":   failed,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func printSummary(sum engine.ResolveSummary) {
	fmt.Printf("resolved %d, skipped %d, failed %d\n", len(sum.Resolved), len(sum.Skipped), len(sum.Failed))
	for _, f := range sum.Failed {
		fmt.Printf("  %s: %v\n", f.MovementID, f.Err)
	}
}
