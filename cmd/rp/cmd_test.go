package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/clock"
	"github.com/daviddao/rallypoint/pkg/config"
	"github.com/daviddao/rallypoint/pkg/engine"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
)

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_RP_ENV", "hello")
	require.Equal(t, "hello", envOr("TEST_RP_ENV", "default"))
}

func TestEnvOr_EnvUnset(t *testing.T) {
	require.Equal(t, "fallback", envOr("TEST_RP_UNSET_KEY_XYZ", "fallback"))
}

func TestEnvOr_EmptyEnv(t *testing.T) {
	t.Setenv("TEST_RP_EMPTY", "")
	require.Equal(t, "default", envOr("TEST_RP_EMPTY", "default"))
}

// --- resolveOwner tests ---

func TestResolveOwner_FlagValue(t *testing.T) {
	a := &app{ownerID: "env-owner"}
	got, err := a.resolveOwner("flag-owner")
	require.NoError(t, err)
	require.Equal(t, "flag-owner", got)
}

func TestResolveOwner_EnvFallback(t *testing.T) {
	a := &app{ownerID: "env-owner"}
	got, err := a.resolveOwner("")
	require.NoError(t, err)
	require.Equal(t, "env-owner", got)
}

func TestResolveOwner_NoOwner(t *testing.T) {
	a := &app{}
	_, err := a.resolveOwner("")
	require.Error(t, err)
}

// --- argument parsing ---

func TestParseFlags_Interleaved(t *testing.T) {
	flags := flag.NewFlagSet("x", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "")
	limit := flags.Int("limit", 0, "")
	pos, err := parseFlags(flags, []string{"v1", "--json", "v2", "--limit", "3"})
	require.NoError(t, err)
	require.Equal(t, []string{"v1", "v2"}, pos)
	require.True(t, *jsonOut)
	require.Equal(t, 3, *limit)
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	flags := flag.NewFlagSet("x", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	_, err := parseFlags(flags, []string{"v1", "--nope"})
	require.Error(t, err)
}

func TestParseUnits(t *testing.T) {
	u, err := parseUnits(" sword=10, horse=5,sword=2 ")
	require.NoError(t, err)
	require.Equal(t, model.Units{"sword": 12, "horse": 5}, u)
	require.Equal(t, "horse=5,sword=12", formatUnits(u))
}

func TestParseUnits_Empty(t *testing.T) {
	u, err := parseUnits("")
	require.NoError(t, err)
	require.Empty(t, u)
}

func TestParseUnits_Malformed(t *testing.T) {
	for _, in := range []string{"sword", "=4", "sword=x", "sword=1.5"} {
		_, err := parseUnits(in)
		require.Error(t, err, in)
	}
}

func TestParseTime(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseTime("", now)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = parseTime("+90m", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(90*time.Minute), *got)

	got, err = parseTime("2026-05-01T14:00:00+02:00", now)
	require.NoError(t, err)
	require.True(t, got.Equal(now))
	require.Equal(t, time.UTC, got.Location())

	for _, in := range []string{"+soon", "tomorrow", "2026-05-01"} {
		_, err := parseTime(in, now)
		require.Error(t, err, in)
	}
}

func TestParseCoords(t *testing.T) {
	c, err := parseCoords("-6|9")
	require.NoError(t, err)
	require.Equal(t, &model.Coordinates{X: -6, Y: 9}, c)

	c, err = parseCoords("")
	require.NoError(t, err)
	require.Nil(t, c)

	for _, in := range []string{"3,4", "a|1", "1|b"} {
		_, err := parseCoords(in)
		require.Error(t, err, in)
	}
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"granary", "wall"}, splitList(" granary, ,wall "))
	require.Nil(t, splitList(""))
}

func TestMemberFlags(t *testing.T) {
	var m memberFlags
	require.NoError(t, m.Set("rome:legionnaire=10"))
	require.NoError(t, m.Set("ostia:praetorian=5,legionnaire=1"))
	require.Len(t, m, 2)
	require.Equal(t, "ostia", m[1].OriginVillageID)
	require.Equal(t, int64(5), m[1].Units["praetorian"])
	require.Equal(t, "rome:legionnaire=10 ostia:legionnaire=1,praetorian=5", m.String())

	for _, in := range []string{"rome", ":sword=1", "rome:sword"} {
		require.Error(t, m.Set(in), in)
	}
}

// --- logging ---

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	require.Equal(t, zerolog.WarnLevel, newLogger(&buf, "WARN").GetLevel())
	require.Equal(t, zerolog.InfoLevel, newLogger(&buf, "chatty").GetLevel(), "unknown level falls back to info")
	require.Equal(t, zerolog.InfoLevel, newLogger(&buf, "").GetLevel(), "empty level falls back to info")

	l := newLogger(&buf, "info")
	l.Debug().Msg("hidden")
	l.Info().Str("movement", "m1").Msg("movement sent")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "movement sent")
	require.Contains(t, out, "m1")
}

// --- world files ---

func writeWorld(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadWorld_Example(t *testing.T) {
	w, err := loadWorld(writeWorld(t, exampleWorld))
	require.NoError(t, err)
	require.Len(t, w.Villages, 4)

	rome := w.Villages[0]
	require.NotNil(t, rome.RallyPoint)
	require.Equal(t, 10, rome.RallyPoint.Level)
	require.Equal(t, int64(200), rome.Garrison["alice"]["legionnaire"])
}

func TestLoadWorld_Invalid(t *testing.T) {
	cases := map[string]string{
		"duplicate": "villages:\n  - {id: a, owner: x}\n  - {id: a, owner: y}\n",
		"no owner":  "villages:\n  - {id: a}\n",
		"bad yaml":  "villages: [\n",
	}
	for name, body := range cases {
		_, err := loadWorld(writeWorld(t, body))
		require.Error(t, err, name)
	}
	_, err := loadWorld(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "missing file")
}

func TestSeedWorld_NegativeCountRollsBack(t *testing.T) {
	a, _ := newTestApp(t)
	w := &worldFile{Villages: []worldVillage{
		{ID: "a", Owner: "x"},
		{ID: "b", Owner: "y", Garrison: map[string]model.Units{"y": {"spearman": -1}}},
	}}
	require.Error(t, seedWorld(context.Background(), a.store, w))

	_, err := a.eng.Status(context.Background(), "a", 5)
	require.ErrorIs(t, err, model.ErrNotFound, "seed should roll back")
}

// --- commands against a temp database ---

func newTestApp(t *testing.T) (*app, *clock.Manual) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	n := 0
	ids := func() string { n++; return fmt.Sprintf("id-%d", n) }
	cat := catalog.Default()
	eng := engine.New(s, cat, config.Default(),
		engine.WithClock(clk), engine.WithIDGenerator(ids))
	return &app{store: s, eng: eng, units: cat, clock: clk, log: zerolog.Nop(), dbPath: "test.db"}, clk
}

func seedExample(t *testing.T, a *app) {
	t.Helper()
	var code int
	captureStdout(t, func() { code = a.cmdSeed([]string{writeWorld(t, exampleWorld)}) })
	require.Equal(t, 0, code, "seed")
}

func TestCmdSeedAndStatus(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	out := captureStdout(t, func() { code = a.cmdStatus([]string{"rome", "--json"}) })
	require.Equal(t, 0, code)
	var st engine.VillageStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	require.Equal(t, "alice", st.Village.OwnerID)
	require.Equal(t, 10, st.RallyPoint.Level)
	require.Len(t, st.Garrison, 4)

	captureStderr(t, func() { code = a.cmdStatus([]string{"atlantis"}) })
	require.Equal(t, 1, code, "unknown village")
}

func TestCmdSendCancel(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	out := captureStdout(t, func() {
		code = a.cmdSend([]string{"--owner", "alice", "--from", "rome", "--to", "teuton-camp",
			"--units", "legionnaire=20", "--key", "k1", "--json"})
	})
	require.Equal(t, 0, code)
	var m model.Movement
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	require.Equal(t, model.StatusEnRoute, m.Status)
	require.Equal(t, int64(20), m.Payload.Units["legionnaire"])

	captureStdout(t, func() { code = a.cmdCancel([]string{m.ID, "--owner", "bob"}) })
	require.Equal(t, 2, code, "cancel by stranger")

	out = captureStdout(t, func() { code = a.cmdCancel([]string{m.ID, "--owner", "alice"}) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "cancelled")
}

func TestCmdSend_Rejected(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	errOut := captureStderr(t, func() {
		code = a.cmdSend([]string{"--owner", "alice", "--from", "rome", "--to", "ostia", "--units", "legionnaire=1"})
	})
	require.Equal(t, 1, code, "self attack")
	require.Contains(t, errOut, "rp: send:")

	captureStderr(t, func() { code = a.cmdSend([]string{"--owner", "alice", "--from", "rome"}) })
	require.Equal(t, 1, code, "missing flags")
}

type summaryOut struct {
	Resolved []string `json:"resolved"`
	Failed   []struct {
		MovementID string `json:"movement_id"`
		Error      string `json:"error"`
	} `json:"failed"`
}

func TestCmdResolve(t *testing.T) {
	a, clk := newTestApp(t)
	seedExample(t, a)

	var code int
	captureStdout(t, func() {
		code = a.cmdSend([]string{"--owner", "alice", "--from", "rome", "--at", "0|4",
			"--mission", "reinforce", "--units", "legionnaire=50", "--key", "r1"})
	})
	require.Equal(t, 0, code)

	out := captureStdout(t, func() { code = a.cmdResolve(nil) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "resolved 0", "nothing due yet")

	clk.Advance(48 * time.Hour)
	out = captureStdout(t, func() { code = a.cmdResolve([]string{"--json"}) })
	require.Equal(t, 0, code)
	var sum summaryOut
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	require.Len(t, sum.Resolved, 1)
	require.Empty(t, sum.Failed)

	out = captureStdout(t, func() { code = a.cmdStatus([]string{"ostia"}) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "legionnaire", "reinforcements should be stationed at ostia")
}

func TestCmdResolve_FailureExitCodeMatchesAcrossFormats(t *testing.T) {
	for _, args := range [][]string{nil, {"--json"}} {
		a, clk := newTestApp(t)
		seedExample(t, a)
		now := clk.Now()
		require.NoError(t, a.store.WithTx(context.Background(), func(tx store.Tx) error {
			return tx.CreateMovement(&model.Movement{
				ID: "bad", Mission: model.Mission("parade"), OwnerID: "alice",
				OriginVillageID: "rome", TargetVillageID: "teuton-camp",
				DepartAt: now, ArriveAt: now.Add(time.Minute),
				Payload:   model.Payload{Units: model.Units{"legionnaire": 1}},
				Status:    model.StatusEnRoute, IdempotencyKey: "bad",
				CreatedAt: now, UpdatedAt: now,
			})
		}))
		clk.Advance(time.Hour)

		var code int
		out := captureStdout(t, func() { code = a.cmdResolve(args) })
		require.Equal(t, 1, code, "args %v", args)
		require.Contains(t, out, "bad")
		if len(args) > 0 {
			var sum summaryOut
			require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
			require.Len(t, sum.Failed, 1)
			require.Equal(t, "bad", sum.Failed[0].MovementID)
			require.NotEmpty(t, sum.Failed[0].Error)
		}
	}
}

func TestCmdWaveAndGroup(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	out := captureStdout(t, func() {
		code = a.cmdWave([]string{"--owner", "alice", "--to", "teuton-camp", "--arrive", "+48h",
			"--member", "rome:legionnaire=10", "--member", "ostia:praetorian=5", "--key", "g1", "--json"})
	})
	require.Equal(t, 0, code)
	var sent engine.WaveResult
	require.NoError(t, json.Unmarshal([]byte(out), &sent), out)
	require.Len(t, sent.Movements, 2)

	out = captureStdout(t, func() { code = a.cmdGroup([]string{sent.Group.ID, "--json"}) })
	require.Equal(t, 0, code)
	var got engine.WaveResult
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	require.Equal(t, sent.Group.ID, got.Group.ID)
	require.Equal(t, model.WaveActive, got.Group.Status)
	require.Equal(t, sent.Movements[1].ID, got.Movements[1].ID)

	out = captureStdout(t, func() { code = a.cmdGroup([]string{sent.Group.ID}) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "[active]")
	require.Contains(t, out, "praetorian=5")

	errOut := captureStderr(t, func() { code = a.cmdGroup([]string{"nope"}) })
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "rp: group:")
}

func TestCmdUnits(t *testing.T) {
	a, _ := newTestApp(t)

	var code int
	out := captureStdout(t, func() { code = a.cmdUnits([]string{"--json"}) })
	require.Equal(t, 0, code)
	var units []model.UnitStats
	require.NoError(t, json.Unmarshal([]byte(out), &units), out)
	require.Len(t, units, len(a.units))
	require.Equal(t, "axeman", units[0].ID)
	require.Equal(t, a.units["battering_ram"], units[1])

	out = captureStdout(t, func() { code = a.cmdUnits(nil) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "fire_catapult")
	require.Contains(t, out, string(model.SiegeCatapult))
}

func TestCmdRally(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	out := captureStdout(t, func() { code = a.cmdRally([]string{"ostia", "--level", "15", "--window", "800"}) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "level 15")
	require.Contains(t, out, "800ms")

	captureStderr(t, func() { code = a.cmdRally([]string{"ostia", "--level", "99"}) })
	require.Equal(t, 1, code, "level out of range")
}

func TestCmdReportsEmpty(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	out := captureStdout(t, func() { code = a.cmdReports([]string{"rome"}) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "no reports")
}

func TestCmdDismiss_NotOwner(t *testing.T) {
	a, _ := newTestApp(t)
	seedExample(t, a)

	var code int
	captureStderr(t, func() { code = a.cmdDismiss([]string{"gaul-farm", "--owner", "alice"}) })
	require.Equal(t, 1, code, "dismiss by stranger")

	out := captureStdout(t, func() { code = a.cmdDismiss([]string{"gaul-farm", "--owner", "carol"}) })
	require.Equal(t, 0, code)
	require.Contains(t, out, "released 0")
}

func TestSummaryJSON_FlattensErrors(t *testing.T) {
	sum := engine.ResolveSummary{Failed: []engine.ResolveFailure{{MovementID: "m1", Err: errors.New("boom")}}}
	b, err := json.Marshal(summaryJSON(sum))
	require.NoError(t, err)
	require.JSONEq(t, `{"failed":[{"movement_id":"m1","error":"boom"}],"resolved":[],"skipped":[]}`, string(b))
}

func TestCmdInit_WritesExample(t *testing.T) {
	a, _ := newTestApp(t)
	path := filepath.Join(t.TempDir(), "world.yaml")

	var code int
	captureStdout(t, func() { code = a.cmdInit([]string{"--example", path}) })
	require.Equal(t, 0, code)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, exampleWorld, string(data))

	stderr := captureStderr(t, func() {
		captureStdout(t, func() { code = a.cmdInit([]string{"--example", path}) })
	})
	require.Equal(t, 0, code)
	require.Contains(t, stderr, "not overwriting")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
