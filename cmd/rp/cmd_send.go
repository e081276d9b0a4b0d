package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/daviddao/rallypoint/pkg/engine"
	"github.com/daviddao/rallypoint/pkg/model"
)

func (a *app) cmdSend(args []string) int {
	flags := flag.NewFlagSet("send", flag.ContinueOnError)
	owner := flags.String("owner", "", "sending account")
	from := flags.String("from", "", "origin village")
	to := flags.String("to", "", "target village id")
	at := flags.String("at", "", "target tile as x|y (instead of --to)")
	mission := flags.String("mission", string(model.MissionAttack), "attack, raid, siege or reinforce")
	unitsFlag := flags.String("units", "", "composition, e.g. sword=10,horse=5")
	targets := flags.String("targets", "", "catapult targets, comma separated")
	depart := flags.String("depart", "", "departure time (RFC 3339 or +offset)")
	arrive := flags.String("arrive", "", "arrival time (RFC 3339 or +offset)")
	key := flags.String("key", "", "idempotency key (default: random)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *from == "" || (*to == "" && *at == "") || *unitsFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: rp send --from V (--to V | --at x|y) --units U [--mission M] [--arrive T] [--json]")
		return 1
	}

	ownerID, err := a.resolveOwner(*owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: %v\n", err)
		return 1
	}
	req := engine.SendRequest{
		IdempotencyKey:  *key,
		OwnerID:         ownerID,
		OriginVillageID: *from,
		Mission:         model.Mission(*mission),
		TargetVillageID: *to,
		CatapultTargets: splitList(*targets),
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	now := a.clock.Now()
	if req.TargetCoords, err = parseCoords(*at); err == nil {
		if req.Units, err = parseUnits(*unitsFlag); err == nil {
			if req.DepartAt, err = parseTime(*depart, now); err == nil {
				req.ArriveAt, err = parseTime(*arrive, now)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: send: %v\n", err)
		return 1
	}

	m, err := a.eng.SendMission(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: send: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(m)
	} else {
		printMovement(m)
	}
	return 0
}

// memberFlags collects repeated --member village:units values.
type memberFlags []engine.WaveMemberRequest

func (m *memberFlags) String() string {
	parts := make([]string, 0, len(*m))
	for _, mb := range *m {
		parts = append(parts, mb.OriginVillageID+":"+formatUnits(mb.Units))
	}
	return strings.Join(parts, " ")
}

func (m *memberFlags) Set(s string) error {
	village, units, ok := strings.Cut(s, ":")
	if !ok || village == "" {
		return fmt.Errorf("bad member %q: want village:units", s)
	}
	u, err := parseUnits(units)
	if err != nil {
		return err
	}
	*m = append(*m, engine.WaveMemberRequest{OriginVillageID: village, Units: u})
	return nil
}

func (a *app) cmdWave(args []string) int {
	flags := flag.NewFlagSet("wave", flag.ContinueOnError)
	owner := flags.String("owner", "", "sending account")
	name := flags.String("name", "", "wave group name")
	to := flags.String("to", "", "target village id")
	at := flags.String("at", "", "target tile as x|y (instead of --to)")
	mission := flags.String("mission", string(model.MissionAttack), "mission for every member")
	arrive := flags.String("arrive", "", "shared arrival time (RFC 3339 or +offset)")
	targets := flags.String("targets", "", "catapult targets for every member")
	key := flags.String("key", "", "idempotency key (default: random)")
	jsonOut := flags.Bool("json", false, "JSON output")
	var members memberFlags
	flags.Var(&members, "member", "origin:units, repeat once per member")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if (*to == "" && *at == "") || *arrive == "" || len(members) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rp wave (--to V | --at x|y) --arrive T --member V:U [--member V:U ...] [--json]")
		return 1
	}

	ownerID, err := a.resolveOwner(*owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: %v\n", err)
		return 1
	}
	arriveAt, err := parseTime(*arrive, a.clock.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: wave: %v\n", err)
		return 1
	}
	coords, err := parseCoords(*at)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: wave: %v\n", err)
		return 1
	}
	for i := range members {
		members[i].CatapultTargets = splitList(*targets)
	}
	req := engine.WaveRequest{
		IdempotencyKey:  *key,
		OwnerID:         ownerID,
		Name:            *name,
		Mission:         model.Mission(*mission),
		TargetVillageID: *to,
		TargetCoords:    coords,
		ArriveAt:        *arriveAt,
		Members:         members,
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	res, err := a.eng.SendWaveGroup(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: wave: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(res)
		return 0
	}
	printWave(res)
	return 0
}

func (a *app) cmdGroup(args []string) int {
	flags := flag.NewFlagSet("group", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rp group <wave-group> [--json]")
		return 1
	}

	res, err := a.eng.Wave(context.Background(), pos[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: group: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(res)
		return 0
	}
	printWave(res)
	return 0
}

func printWave(res *engine.WaveResult) {
	fmt.Printf("wave %s -> %s  arrive %s  window %dms  [%s]\n",
		res.Group.ID, res.Group.TargetVillageID, res.Group.ArriveAt.Format("15:04:05.000"),
		res.Group.WindowMs, res.Group.Status)
	for i := range res.Movements {
		fmt.Printf("  #%d %+dms  ", res.Members[i].Index, res.Members[i].OffsetMs)
		printMovement(&res.Movements[i])
	}
}

func (a *app) cmdCancel(args []string) int {
	flags := flag.NewFlagSet("cancel", flag.ContinueOnError)
	owner := flags.String("owner", "", "requesting account")
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rp cancel <movement> [--owner ID] [--json]")
		return 1
	}
	ownerID, err := a.resolveOwner(*owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: %v\n", err)
		return 1
	}

	id := pos[0]
	ok, err := a.eng.CancelMovement(context.Background(), id, ownerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: cancel: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(map[string]interface{}{"movement_id": id, "cancelled": ok})
	} else if ok {
		fmt.Printf("cancelled %s\n", id)
	} else {
		fmt.Printf("cannot cancel %s (not en route, not yours, or grace period over)\n", id)
	}
	if !ok {
		return 2
	}
	return 0
}

func (a *app) cmdRecall(args []string) int {
	flags := flag.NewFlagSet("recall", flag.ContinueOnError)
	owner := flags.String("owner", "", "account whose reinforcements return")
	host := flags.String("host", "", "village hosting the reinforcements")
	home := flags.String("home", "", "home village")
	unitsFlag := flags.String("units", "", "part of the stack to recall (default: all)")
	key := flags.String("key", "", "idempotency key (default: random)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *host == "" || *home == "" {
		fmt.Fprintln(os.Stderr, "usage: rp recall --host V --home V [--units U] [--json]")
		return 1
	}
	ownerID, err := a.resolveOwner(*owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: %v\n", err)
		return 1
	}
	units, err := parseUnits(*unitsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: recall: %v\n", err)
		return 1
	}
	req := engine.RecallRequest{
		IdempotencyKey: *key,
		OwnerID:        ownerID,
		HostVillageID:  *host,
		HomeVillageID:  *home,
		Units:          units,
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	m, err := a.eng.RecallReinforcements(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: recall: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(m)
	} else {
		printMovement(m)
	}
	return 0
}
