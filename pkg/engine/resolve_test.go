package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/config"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
)

func (w *world) reports(village string) []model.MovementReport {
	w.t.Helper()
	r, err := w.eng.Reports(w.ctx, village, 100)
	require.NoError(w.t, err)
	return r
}

// 10 swords (attack 100) against 10 swords (defense 150): r = 2/3, so the
// attacker is wiped out and the defender loses floor(10 * 0.2667) = 2.
func TestResolve_OutmatchedAttackerIsWipedOut(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"sword": 10})
	w.station("b1", "bob", model.Units{"sword": 10})
	m := w.attack("k1", model.Units{"sword": 10})

	sum := w.resolveAt(t0.Add(time.Hour))
	require.Equal(t, []string{m.ID}, sum.Resolved)
	require.Empty(t, sum.Failed)

	got := w.movement(m.ID)
	require.Equal(t, model.StatusResolved, got.Status)
	require.Empty(t, got.Payload.ReturnMovementID)
	w.tx(func(tx store.Tx) error {
		ms, err := tx.ListMovementsForVillage("b1", 10)
		for _, mv := range ms {
			require.NotEqual(t, model.MissionReturn, mv.Mission, "no survivors, no return movement")
		}
		return err
	})

	require.Equal(t, int64(8), w.count("b1", "bob", "sword"))
	require.Equal(t, int64(0), w.count("a1", "alice", "sword"))

	reps := w.reports("b1")
	require.Len(t, reps, 1)
	res := reps[0].Resolution
	require.Equal(t, int64(100), res.AttackPower)
	require.Equal(t, int64(150), res.DefensePower)
	require.Equal(t, 1.0, res.AttackerLossRate)
	require.InDelta(t, 0.4*100.0/150.0, res.DefenderLossRate, 1e-12)
	require.Equal(t, model.Units{"sword": 10}, res.AttackerCasualties)
	require.Empty(t, res.AttackerSurvivors)
	require.Equal(t, "alice", reps[0].AttackerID)
	require.Equal(t, "bob", reps[0].DefenderID)
	require.Equal(t, t0.Add(time.Hour), reps[0].OccurredAt)
}

// 20 horses (attack 800) against 10 swords (defense 150): the defender
// falls, one horse dies and 19 ride home on the same half hour.
func TestResolve_SurvivorsReturnHome(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"horse": 50})
	w.station("b1", "bob", model.Units{"sword": 10})
	m := w.attack("k1", model.Units{"horse": 20})

	w.resolveAt(t0.Add(30 * time.Minute))
	orig := w.movement(m.ID)
	require.Equal(t, model.StatusReturning, orig.Status)
	require.NotEmpty(t, orig.Payload.ReturnMovementID)

	ret := w.movement(orig.Payload.ReturnMovementID)
	require.Equal(t, model.MissionReturn, ret.Mission)
	require.Equal(t, m.ID, ret.ParentID)
	require.Equal(t, "b1", ret.OriginVillageID)
	require.Equal(t, "a1", ret.TargetVillageID)
	require.Equal(t, model.Units{"horse": 19}, ret.Payload.Units)
	require.Equal(t, t0.Add(time.Hour), ret.ArriveAt)
	require.Equal(t, int64(0), w.count("b1", "bob", "sword"))

	rep := w.reports("a1")[0]
	require.Equal(t, int64(19*80), rep.Resolution.CarryCapacity)

	sum := w.resolveAt(t0.Add(time.Hour))
	require.Equal(t, []string{ret.ID}, sum.Resolved)
	require.Equal(t, int64(49), w.count("a1", "alice", "horse"))
	require.Equal(t, model.StatusDone, w.movement(ret.ID).Status)
	require.Equal(t, model.StatusDone, w.movement(m.ID).Status)
}

// Erin's reinforcements and Alice's attack land on b1 at the same
// instant. The reinforcements must be credited first.
func TestResolve_ReinforcementsLandBeforeAttack(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"sword": 10})
	w.station("e1", "erin", model.Units{"sword": 20})

	reinf, err := w.eng.SendMission(w.ctx, SendRequest{
		IdempotencyKey: "r1", OwnerID: "erin", OriginVillageID: "e1",
		Mission: model.MissionReinforce, TargetVillageID: "b1", Units: model.Units{"sword": 20},
	})
	require.NoError(t, err)
	atk := w.attack("k1", model.Units{"sword": 10})
	require.Equal(t, reinf.ArriveAt, atk.ArriveAt)

	sum := w.resolveAt(t0.Add(time.Hour))
	require.Equal(t, []string{reinf.ID, atk.ID}, sum.Resolved)

	// r = 100/300: attacker lost, defender loses floor(20 * 0.1333) = 2.
	require.Equal(t, int64(18), w.count("b1", "erin", "sword"))
	require.Equal(t, model.StatusDone, w.movement(reinf.ID).Status)
	require.Equal(t, model.StatusResolved, w.movement(atk.ID).Status)
}

// reversedRepo hands out due movements in the opposite order.
type reversedRepo struct{ store.Repository }

type reversedTx struct{ store.Tx }

func (r reversedRepo) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Repository.WithTx(ctx, func(tx store.Tx) error { return fn(reversedTx{tx}) })
}

func (t reversedTx) ListDueMovements(now time.Time, limit int) ([]model.Movement, error) {
	due, err := t.Tx.ListDueMovements(now, limit)
	for i, j := 0, len(due)-1; i < j; i, j = i+1, j-1 {
		due[i], due[j] = due[j], due[i]
	}
	return due, err
}

func TestResolve_ArrivalOrderDoesNotDependOnRepository(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"sword": 10})
	w.station("e1", "erin", model.Units{"sword": 20})

	reinf, err := w.eng.SendMission(w.ctx, SendRequest{
		IdempotencyKey: "r1", OwnerID: "erin", OriginVillageID: "e1",
		Mission: model.MissionReinforce, TargetVillageID: "b1", Units: model.Units{"sword": 20},
	})
	require.NoError(t, err)
	atk := w.attack("k1", model.Units{"sword": 10})

	cat, err := catalog.New(testUnits)
	require.NoError(t, err)
	eng := New(reversedRepo{w.store}, cat, config.Default(), WithClock(w.clk))
	sum, err := eng.ResolveDueMovements(w.ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []string{reinf.ID, atk.ID}, sum.Resolved)
	require.Equal(t, int64(18), w.count("b1", "erin", "sword"))
}

func TestSortByArrival(t *testing.T) {
	due := []model.Movement{
		{ID: "c", Mission: model.MissionAttack, ArriveAt: t0.Add(time.Second)},
		{ID: "b", Mission: model.MissionSiege, ArriveAt: t0},
		{ID: "z", Mission: model.MissionReturn, ArriveAt: t0},
		{ID: "a", Mission: model.MissionRaid, ArriveAt: t0},
		{ID: "y", Mission: model.MissionReinforce, ArriveAt: t0},
	}
	sortByArrival(due)
	var ids []string
	for _, m := range due {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"y", "z", "a", "b", "c"}, ids)
}

func TestResolve_UnknownMissionFails(t *testing.T) {
	w := newWorld(t)
	w.tx(func(tx store.Tx) error {
		return tx.CreateMovement(&model.Movement{
			ID: "odd", Mission: model.Mission("parade"), OwnerID: "alice",
			OriginVillageID: "a1", TargetVillageID: "b1",
			DepartAt: t0, ArriveAt: t0.Add(time.Minute),
			Payload: model.Payload{Units: model.Units{"sword": 1}},
			Status:  model.StatusEnRoute, IdempotencyKey: "odd",
			CreatedAt: t0, UpdatedAt: t0,
		})
	})
	sum := w.resolveAt(t0.Add(time.Hour))
	require.Len(t, sum.Failed, 1)
	require.ErrorIs(t, sum.Failed[0].Err, model.ErrInput)
}

// hookRepo runs after once, right after the first transaction commits.
type hookRepo struct {
	store.Repository
	calls int
	after func()
}

func (h *hookRepo) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := h.Repository.WithTx(ctx, fn)
	h.calls++
	if h.calls == 1 && h.after != nil {
		h.after()
	}
	return err
}

func TestResolve_ConcurrentWorkerIsSkipped(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"sword": 10})
	m := w.attack("k1", model.Units{"sword": 10})
	at := t0.Add(time.Hour)

	cat, err := catalog.New(testUnits)
	require.NoError(t, err)
	repo := &hookRepo{Repository: w.store}
	slow := New(repo, cat, config.Default(), WithClock(w.clk))

	// The other worker resolves the movement between slow's listing and
	// its per-movement transaction.
	var other ResolveSummary
	repo.after = func() {
		other, err = w.eng.ResolveDueMovements(w.ctx, at, 10)
		require.NoError(t, err)
	}
	sum, err := slow.ResolveDueMovements(w.ctx, at, 10)
	require.NoError(t, err)

	require.Equal(t, []string{m.ID}, other.Resolved)
	require.Equal(t, []string{m.ID}, sum.Skipped)
	require.Empty(t, sum.Resolved)
	require.Len(t, w.reports("b1"), 1)

	again := w.resolveAt(at)
	require.Empty(t, again.Resolved)
	require.Empty(t, again.Skipped)
}

func TestResolve_TrapsTakeAttackersFirst(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"sword": 20, "horse": 10})
	w.tx(func(tx store.Tx) error { return tx.SetBuildingLevel("b1", model.BuildingTrapper, 1) })

	// 20 traps: the fast horses go first, then 10 of the swords.
	m := w.attack("k1", model.Units{"sword": 15, "horse": 10})
	w.resolveAt(t0.Add(time.Hour))

	rep := w.reports("b1")[0]
	require.Equal(t, []model.TrapCapture{{UnitID: "horse", Count: 10}, {UnitID: "sword", Count: 10}}, rep.Trapped)
	require.Equal(t, model.Units{"sword": 5}, rep.Resolution.AttackerSurvivors)

	ret := w.movement(w.movement(m.ID).Payload.ReturnMovementID)
	require.Equal(t, model.Units{"sword": 5}, ret.Payload.Units)

	st, err := w.eng.Status(w.ctx, "b1", 10)
	require.NoError(t, err)
	require.Len(t, st.Prisoners, 2)

	// The traps are full: the next wave passes untouched.
	w.clk.Set(t0.Add(time.Hour))
	m2, err := w.eng.SendMission(w.ctx, SendRequest{
		IdempotencyKey: "k2", OwnerID: "alice", OriginVillageID: "a1",
		Mission: model.MissionAttack, TargetVillageID: "b1", Units: model.Units{"sword": 5},
	})
	require.NoError(t, err)
	w.resolveAt(m2.ArriveAt)
	for _, r := range w.reports("b1") {
		if r.MovementID == m2.ID {
			require.Empty(t, r.Trapped)
		}
	}

	_, err = w.eng.DismissPrisoners(w.ctx, "b1", "alice")
	require.ErrorIs(t, err, model.ErrInput)
	n, err := w.eng.DismissPrisoners(w.ctx, "b1", "bob")
	require.NoError(t, err)
	require.Equal(t, int64(20), n)
	st, err = w.eng.Status(w.ctx, "b1", 10)
	require.NoError(t, err)
	require.Empty(t, st.Prisoners)
}

func TestResolve_RamsAndCatapults(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"ram": 40, "cat": 10})
	w.tx(func(tx store.Tx) error {
		if err := tx.SetBuildingLevel("b1", model.BuildingWall, 10); err != nil {
			return err
		}
		return tx.SetBuildingLevel("b1", "granary", 10)
	})
	// Level 3 unlocks single-target catapults.
	_, err := w.eng.ConfigureRallyPoint(w.ctx, "a1", 3, 0)
	require.NoError(t, err)

	m, err := w.eng.SendMission(w.ctx, SendRequest{
		IdempotencyKey: "k1", OwnerID: "alice", OriginVillageID: "a1",
		Mission: model.MissionSiege, TargetVillageID: "b1",
		Units:           model.Units{"ram": 40, "cat": 10},
		CatapultTargets: []string{"granary"},
	})
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, m.Duration())

	w.resolveAt(m.ArriveAt)

	// floor(5 * ln(1 + 40/(10 + 2*10))) = 4; ten shots knock one level.
	require.Equal(t, 6, w.building("b1", model.BuildingWall))
	require.Equal(t, 9, w.building("b1", "granary"))

	res := w.reports("b1")[0].Resolution
	require.Equal(t, &model.WallDamage{Drop: 4, FromLevel: 10, ToLevel: 6}, res.Wall)
	require.Len(t, res.BuildingHits, 1)
	require.Equal(t, 10, res.BuildingHits[0].FromLevel)
	require.Equal(t, 9, res.BuildingHits[0].ToLevel)
}

func TestResolve_RaidSkipsSiegeAndHalvesLosses(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"horse": 20})
	w.station("b1", "bob", model.Units{"sword": 10})
	_, err := w.eng.SendMission(w.ctx, SendRequest{
		IdempotencyKey: "k1", OwnerID: "alice", OriginVillageID: "a1",
		Mission: model.MissionRaid, TargetVillageID: "b1", Units: model.Units{"horse": 20},
	})
	require.NoError(t, err)
	w.resolveAt(t0.Add(30 * time.Minute))

	res := w.reports("b1")[0].Resolution
	require.Equal(t, 0.5, res.DefenderLossRate)
	require.Equal(t, int64(5), w.count("b1", "bob", "sword"))
	require.Nil(t, res.Wall)
}

func TestRecallReinforcements(t *testing.T) {
	w := newWorld(t)
	w.station("e1", "erin", model.Units{"sword": 20})
	_, err := w.eng.SendMission(w.ctx, SendRequest{
		IdempotencyKey: "r1", OwnerID: "erin", OriginVillageID: "e1",
		Mission: model.MissionReinforce, TargetVillageID: "b1", Units: model.Units{"sword": 20},
	})
	require.NoError(t, err)
	w.resolveAt(t0.Add(time.Hour))
	require.Equal(t, int64(20), w.count("b1", "erin", "sword"))

	_, err = w.eng.RecallReinforcements(w.ctx, RecallRequest{
		IdempotencyKey: "back-too-many", OwnerID: "erin", HostVillageID: "b1", HomeVillageID: "e1",
		Units: model.Units{"sword": 21},
	})
	require.ErrorIs(t, err, model.ErrResource)
	_, err = w.eng.RecallReinforcements(w.ctx, RecallRequest{
		IdempotencyKey: "back-wrong-home", OwnerID: "erin", HostVillageID: "b1", HomeVillageID: "a1",
	})
	require.ErrorIs(t, err, model.ErrInput)

	ret, err := w.eng.RecallReinforcements(w.ctx, RecallRequest{
		IdempotencyKey: "back", OwnerID: "erin", HostVillageID: "b1", HomeVillageID: "e1",
	})
	require.NoError(t, err)
	again, err := w.eng.RecallReinforcements(w.ctx, RecallRequest{
		IdempotencyKey: "back", OwnerID: "erin", HostVillageID: "b1", HomeVillageID: "e1",
	})
	require.NoError(t, err)
	require.Equal(t, ret.ID, again.ID)

	require.Equal(t, model.MissionReturn, ret.Mission)
	require.Equal(t, model.Units{"sword": 20}, ret.Payload.Units)
	require.Equal(t, t0.Add(2*time.Hour), ret.ArriveAt)
	require.Equal(t, int64(0), w.count("b1", "erin", "sword"))
	require.Equal(t, int64(0), w.count("e1", "erin", "sword"))

	w.resolveAt(ret.ArriveAt)
	require.Equal(t, int64(20), w.count("e1", "erin", "sword"))
	require.Equal(t, model.StatusDone, w.movement(ret.ID).Status)

	_, err = w.eng.RecallReinforcements(w.ctx, RecallRequest{
		IdempotencyKey: "back-again", OwnerID: "erin", HostVillageID: "b1", HomeVillageID: "e1",
	})
	require.ErrorIs(t, err, model.ErrResource)
}

func TestResolve_ReturnKeysDoNotCollideWithClientKeys(t *testing.T) {
	w := newWorld(t)
	w.station("a1", "alice", model.Units{"sword": 20})
	atk := w.attack("k1", model.Units{"sword": 10})

	// A client that happens to pick the key the engine derives for the
	// attack's return, before and after the battle.
	req := SendRequest{
		IdempotencyKey: "return:" + atk.ID, OwnerID: "alice", OriginVillageID: "a1",
		Mission: model.MissionReinforce, TargetVillageID: "a2", Units: model.Units{"sword": 1},
	}
	before, err := w.eng.SendMission(w.ctx, req)
	require.NoError(t, err)

	sum := w.resolveAt(t0.Add(time.Hour))
	require.Empty(t, sum.Failed)
	require.Contains(t, sum.Resolved, atk.ID)

	retID := w.movement(atk.ID).Payload.ReturnMovementID
	require.NotEmpty(t, retID)
	ret := w.movement(retID)
	require.Equal(t, model.MissionReturn, ret.Mission)
	require.Equal(t, atk.ID, ret.ParentID)

	after, err := w.eng.SendMission(w.ctx, req)
	require.NoError(t, err)
	require.Equal(t, before.ID, after.ID, "client key replays the client movement")
	require.NotEqual(t, retID, after.ID)
	require.Equal(t, int64(9), w.count("a1", "alice", "sword"))
}
