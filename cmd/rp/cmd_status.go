package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/rallypoint/pkg/model"
)

func (a *app) cmdRally(args []string) int {
	flags := flag.NewFlagSet("rally", flag.ContinueOnError)
	level := flags.Int("level", -1, "rally point level")
	window := flags.Int64("window", 0, "wave window in ms (0: balance default)")
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 || *level < 0 {
		fmt.Fprintln(os.Stderr, "usage: rp rally <village> --level N [--window MS] [--json]")
		return 1
	}

	rp, err := a.eng.ConfigureRallyPoint(context.Background(), pos[0], *level, *window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: rally: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(rp)
	} else {
		fmt.Printf("rally point %s: level %d, wave window %dms\n", rp.VillageID, rp.Level, rp.WaveWindowMs)
	}
	return 0
}

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "max movements to show")
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rp status <village> [--limit N] [--json]")
		return 1
	}

	st, err := a.eng.Status(context.Background(), pos[0], *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: status: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(st)
		return 0
	}

	v := st.Village
	fmt.Printf("%s (%s)  owner %s  at %d|%d\n", v.ID, v.Name, v.OwnerID, v.Coords.X, v.Coords.Y)
	if v.BeginnerProtection {
		fmt.Println("  under beginner protection")
	}
	fmt.Printf("  rally point level %d, wave window %dms\n", st.RallyPoint.Level, st.RallyPoint.WaveWindowMs)
	if len(st.Buildings) > 0 {
		fmt.Println("buildings:")
		for _, b := range st.Buildings {
			fmt.Printf("  %-14s %d\n", b.Kind, b.Level)
		}
	}
	if len(st.Garrison) > 0 {
		fmt.Println("garrison:")
		for _, g := range st.Garrison {
			fmt.Printf("  %-10s %-20s %d\n", g.OwnerID, g.UnitID, g.Count)
		}
	}
	if len(st.Movements) > 0 {
		fmt.Println("movements:")
		for i := range st.Movements {
			fmt.Print("  ")
			printMovement(&st.Movements[i])
		}
	}
	if len(st.Prisoners) > 0 {
		fmt.Println("prisoners:")
		for _, p := range st.Prisoners {
			fmt.Printf("  %-10s %-20s %d (from %s)\n", p.OwnerID, p.UnitID, p.Count, p.OriginVillageID)
		}
	}
	return 0
}

func (a *app) cmdReports(args []string) int {
	flags := flag.NewFlagSet("reports", flag.ContinueOnError)
	limit := flags.Int("limit", 10, "max reports")
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rp reports <village> [--limit N] [--json]")
		return 1
	}

	reports, err := a.eng.Reports(context.Background(), pos[0], *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: reports: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(reports)
		return 0
	}
	if len(reports) == 0 {
		fmt.Println("no reports")
		return 0
	}
	for _, r := range reports {
		res := r.Resolution
		fmt.Printf("%s  %-6s %s (%s) -> %s (%s)\n",
			r.OccurredAt.Format(time.RFC3339), r.Mission, r.OriginVillageID, r.AttackerID, r.TargetVillageID, r.DefenderID)
		fmt.Printf("  sent %s  survived %s  losses %.0f%% / %.0f%%\n",
			formatUnits(r.Sent), formatUnits(res.AttackerSurvivors),
			res.AttackerLossRate*100, res.DefenderLossRate*100)
		for _, c := range r.Trapped {
			fmt.Printf("  trapped %s=%d\n", c.UnitID, c.Count)
		}
		if res.Wall != nil && res.Wall.Drop > 0 {
			fmt.Printf("  wall %d -> %d\n", res.Wall.FromLevel, res.Wall.ToLevel)
		}
		for _, h := range res.BuildingHits {
			fmt.Printf("  %s -%d\n", h.Target, h.Drop)
		}
	}
	return 0
}

func (a *app) cmdDismiss(args []string) int {
	flags := flag.NewFlagSet("dismiss", flag.ContinueOnError)
	owner := flags.String("owner", "", "village owner")
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rp dismiss <village> [--owner ID] [--json]")
		return 1
	}
	ownerID, err := a.resolveOwner(*owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: %v\n", err)
		return 1
	}

	n, err := a.eng.DismissPrisoners(context.Background(), pos[0], ownerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: dismiss: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(map[string]interface{}{"village_id": pos[0], "released": n})
	} else {
		fmt.Printf("released %d prisoner(s) from %s\n", n, pos[0])
	}
	return 0
}

func (a *app) cmdUnits(args []string) int {
	flags := flag.NewFlagSet("units", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if _, err := parseFlags(flags, args); err != nil {
		return 1
	}

	ids := a.units.IDs()
	if *jsonOut {
		out := make([]model.UnitStats, 0, len(ids))
		for _, id := range ids {
			out = append(out, a.units[id])
		}
		printJSON(out)
		return 0
	}
	fmt.Printf("%-20s %-14s %6s %6s %6s %7s  %s\n", "unit", "role", "speed", "carry", "attack", "defense", "siege")
	for _, id := range ids {
		u := a.units[id]
		fmt.Printf("%-20s %-14s %6g %6d %6d %7d  %s\n", u.ID, u.Role, u.Speed, u.Carry, u.Attack, u.Defense, u.Siege)
	}
	return 0
}
