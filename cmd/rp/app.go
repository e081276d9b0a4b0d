package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/clock"
	"github.com/daviddao/rallypoint/pkg/config"
	"github.com/daviddao/rallypoint/pkg/engine"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
)

// app holds shared state for all CLI subcommands.
type app struct {
	store   *store.Store
	eng     *engine.Engine
	units   catalog.Static
	clock   clock.Clock
	log     zerolog.Logger
	dbPath  string
	ownerID string // default owner from RALLYPOINT_OWNER
}

// newApp opens the database, loads balance and catalog overrides and
// builds the engine. Creates the .rallypoint/ directory if using the
// default DB path.
func newApp() (*app, error) {
	dbPath := envOr("RALLYPOINT_DB", defaultDB)
	if dbPath == defaultDB {
		if err := os.MkdirAll(filepath.Dir(defaultDB), 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", defaultDir, err)
		}
	}

	cfg := config.Default()
	if path := os.Getenv("RALLYPOINT_CONFIG"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cat := catalog.Default()
	if path := os.Getenv("RALLYPOINT_CATALOG"); path != "" {
		c, err := catalog.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cat = c
	}

	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}
	logger := newLogger(os.Stderr, envOr("RALLYPOINT_LOG_LEVEL", "info"))
	clk := clock.System{}
	return &app{
		store:   s,
		eng:     engine.New(s, cat, cfg, engine.WithLogger(logger), engine.WithClock(clk)),
		units:   cat,
		clock:   clk,
		log:     logger,
		dbPath:  dbPath,
		ownerID: envOr("RALLYPOINT_OWNER", ""),
	}, nil
}

// Close releases the database connection.
func (a *app) Close() { a.store.Close() }

// newLogger returns a human-readable console logger. Unknown levels fall
// back to info.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()
}

// resolveOwner returns the account id from the flag (if non-empty),
// falling back to RALLYPOINT_OWNER.
func (a *app) resolveOwner(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if a.ownerID != "" {
		return a.ownerID, nil
	}
	return "", fmt.Errorf("no owner: pass --owner or set RALLYPOINT_OWNER")
}

// parseFlags parses flags that may appear before or after positional
// arguments and returns the positionals in order.
func parseFlags(flags *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := flags.Parse(args); err != nil {
			return nil, err
		}
		args = flags.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

// parseUnits reads "sword=10,horse=5". An empty string is an empty
// composition.
func parseUnits(s string) (model.Units, error) {
	units := model.Units{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, count, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("bad unit %q: want id=count", part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(count), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad count in %q: %w", part, err)
		}
		units[strings.TrimSpace(id)] += n
	}
	return units, nil
}

// formatUnits is the inverse of parseUnits, in unit id order.
func formatUnits(u model.Units) string {
	ids := make([]string, 0, len(u))
	for id := range u {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s=%d", id, u[id]))
	}
	return strings.Join(parts, ",")
}

// parseTime accepts RFC 3339 or a "+duration" offset from now. An empty
// string yields nil.
func parseTime(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return nil, fmt.Errorf("bad offset %q: %w", s, err)
		}
		t := now.Add(d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("bad time %q: %w", s, err)
	}
	t = t.UTC()
	return &t, nil
}

// parseCoords reads "x|y".
func parseCoords(s string) (*model.Coordinates, error) {
	if s == "" {
		return nil, nil
	}
	xs, ys, ok := strings.Cut(s, "|")
	if !ok {
		return nil, fmt.Errorf("bad coordinates %q: want x|y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return nil, fmt.Errorf("bad x in %q: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return nil, fmt.Errorf("bad y in %q: %w", s, err)
	}
	return &model.Coordinates{X: x, Y: y}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printMovement writes a one-line movement summary.
func printMovement(m *model.Movement) {
	fmt.Printf("%s  %-9s %s -> %s  %s  depart %s  arrive %s  [%s]\n",
		m.ID, m.Mission, m.OriginVillageID, m.TargetVillageID, formatUnits(m.Payload.Units),
		m.DepartAt.Format(time.RFC3339), m.ArriveAt.Format(time.RFC3339), m.Status)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
