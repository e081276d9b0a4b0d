package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/daviddao/rallypoint/pkg/clock"
	"github.com/daviddao/rallypoint/pkg/combat"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
	"github.com/daviddao/rallypoint/pkg/trap"
)

// ResolveFailure is one movement whose resolution transaction failed.
type ResolveFailure struct {
	MovementID string `json:"movement_id"`
	Err        error  `json:"-"`
}

// ResolveSummary reports one pass of ResolveDueMovements.
type ResolveSummary struct {
	Resolved []string         `json:"resolved"`
	Skipped  []string         `json:"skipped"`
	Failed   []ResolveFailure `json:"failed"`
}

// ResolveDueMovements resolves every en route movement that has arrived
// by now, up to limit, in arrival order. Each movement gets its own
// transaction that re-checks the status, so a movement already handled by
// another worker is skipped and a failing movement does not stop the rest.
// The returned error is non-nil only when the due list cannot be read or
// ctx is done.
func (e *Engine) ResolveDueMovements(ctx context.Context, now time.Time, limit int) (ResolveSummary, error) {
	var sum ResolveSummary
	var due []model.Movement
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.ListDueMovements(now, limit)
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("list due movements: %w", err)
	}
	sortByArrival(due)

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		var skipped bool
		err := e.repo.WithTx(ctx, func(tx store.Tx) error {
			skipped = false
			m, err := tx.GetMovement(d.ID)
			if err != nil {
				return err
			}
			if m.Status != model.StatusEnRoute {
				skipped = true
				return nil
			}
			return e.resolveMovement(tx, m, now)
		})
		switch {
		case err != nil:
			sum.Failed = append(sum.Failed, ResolveFailure{MovementID: d.ID, Err: err})
			e.log.Error().Err(err).Str("movement", d.ID).Str("mission", string(d.Mission)).
				Msg("movement resolution failed")
		case skipped:
			sum.Skipped = append(sum.Skipped, d.ID)
		default:
			sum.Resolved = append(sum.Resolved, d.ID)
		}
	}
	return sum, nil
}

// sortByArrival puts due movements in resolution order whatever order the
// repository returned them in.
func sortByArrival(due []model.Movement) {
	sort.SliceStable(due, func(i, j int) bool {
		a, b := &due[i], &due[j]
		return clock.ArrivalOrderLess(a.ArriveAt, a.Mission.ArrivalPriority(), a.ID,
			b.ArriveAt, b.Mission.ArrivalPriority(), b.ID)
	})
}

func (e *Engine) resolveMovement(tx store.Tx, m *model.Movement, now time.Time) error {
	if !m.Mission.Valid() {
		return model.InputErrorf("movement %s has unknown mission %q", m.ID, m.Mission)
	}
	if m.Mission.IsHostile() {
		return e.resolveBattle(tx, m, now)
	}
	return e.resolveArrival(tx, m, now)
}

// resolveArrival merges a friendly movement into its destination
// garrison. A return also closes out the movement it came back from.
func (e *Engine) resolveArrival(tx store.Tx, m *model.Movement, now time.Time) error {
	if _, err := tx.GetVillage(m.TargetVillageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.NotFoundErrorf("destination village %s of movement %s", m.TargetVillageID, m.ID)
		}
		return err
	}
	l, err := loadLedger(tx, m.TargetVillageID, m.OwnerID)
	if err != nil {
		return err
	}
	l.Add(m.Payload.Units)
	if err := flush(tx, l.Changes()); err != nil {
		return err
	}

	m.Status = model.StatusDone
	m.UpdatedAt = now
	if err := tx.UpdateMovement(m); err != nil {
		return err
	}
	if err := syncWave(tx, m); err != nil {
		return err
	}

	if m.ParentID != "" {
		parent, err := tx.GetMovement(m.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return model.NotFoundErrorf("parent movement %s of return %s", m.ParentID, m.ID)
		}
		if err != nil {
			return err
		}
		parent.Status = model.StatusDone
		parent.UpdatedAt = now
		if err := tx.UpdateMovement(parent); err != nil {
			return err
		}
		if err := syncWave(tx, parent); err != nil {
			return err
		}
	}

	e.log.Info().Str("movement", m.ID).Str("mission", string(m.Mission)).
		Str("village", m.TargetVillageID).Int64("units", m.Payload.Units.Total()).
		Msg("movement arrived")
	return nil
}

// resolveBattle runs traps, combat and siege for a hostile arrival,
// writes the defender's garrison and buildings, sends survivors home and
// files the report.
func (e *Engine) resolveBattle(tx store.Tx, m *model.Movement, now time.Time) error {
	target, err := tx.GetVillage(m.TargetVillageID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFoundErrorf("target village %s of movement %s", m.TargetVillageID, m.ID)
	}
	if err != nil {
		return err
	}
	origin, err := tx.GetVillage(m.OriginVillageID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFoundErrorf("origin village %s of movement %s", m.OriginVillageID, m.ID)
	}
	if err != nil {
		return err
	}
	snap, err := tx.GetSiegeSnapshot(target.ID)
	if err != nil {
		return err
	}
	battleAt := m.ArriveAt

	captured, err := e.springTraps(tx, m, target.ID, snap.Level(model.BuildingTrapper), battleAt)
	if err != nil {
		return err
	}

	defenders, err := tx.ListGarrisonAll(target.ID)
	if err != nil {
		return err
	}
	rp, err := rallyPoint(tx, origin.ID)
	if err != nil {
		return err
	}
	res, err := combat.ResolveWith(combat.Input{
		Mission:         m.Mission,
		Attacker:        captured.Remaining,
		Defenders:       defenders,
		WallLevel:       snap.Level(model.BuildingWall),
		WallType:        target.WallType,
		RallyPointLevel: rp.Level,
		CatapultTargets: m.Payload.CatapultTargets,
	}, e.cat, e.cfg.Combat)
	if err != nil {
		return err
	}

	if err := writeDefenders(tx, target.ID, defenders, res.DefenderRemaining); err != nil {
		return err
	}
	if err := applySiege(tx, target.ID, snap, &res); err != nil {
		return err
	}

	if res.AttackerSurvivors.IsEmpty() {
		m.Status = model.StatusResolved
	} else {
		ret := &model.Movement{
			ID:              e.newID(),
			Mission:         model.MissionReturn,
			OwnerID:         m.OwnerID,
			OriginVillageID: target.ID,
			TargetVillageID: origin.ID,
			TargetCoords:    origin.Coords,
			DepartAt:        battleAt,
			ArriveAt:        battleAt.Add(m.Duration()),
			Payload:         model.Payload{Units: res.AttackerSurvivors.Clone()},
			Status:          model.StatusEnRoute,
			IdempotencyKey:  "return:" + m.ID,
			ParentID:        m.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateMovement(ret); err != nil {
			return err
		}
		m.Status = model.StatusReturning
		m.Payload.ReturnMovementID = ret.ID
	}
	m.UpdatedAt = now
	if err := tx.UpdateMovement(m); err != nil {
		return err
	}

	report := &model.MovementReport{
		ID:              e.newID(),
		MovementID:      m.ID,
		Mission:         m.Mission,
		AttackerID:      m.OwnerID,
		DefenderID:      target.OwnerID,
		OriginVillageID: origin.ID,
		TargetVillageID: target.ID,
		Sent:            m.Payload.Units.Clone(),
		Trapped:         captured.Captured,
		Resolution:      res,
		OccurredAt:      battleAt,
	}
	if err := tx.SaveReport(report); err != nil {
		return err
	}
	if err := syncWave(tx, m); err != nil {
		return err
	}

	e.log.Info().Str("movement", m.ID).Str("mission", string(m.Mission)).Str("target", target.ID).
		Float64("attacker_loss", res.AttackerLossRate).Float64("defender_loss", res.DefenderLossRate).
		Int64("trapped", captured.CapturedTotal()).Int64("survivors", res.AttackerSurvivors.Total()).
		Msg("battle resolved")
	return nil
}

// springTraps captures attackers up to the village's free trap capacity
// and records them as prisoners.
func (e *Engine) springTraps(tx store.Tx, m *model.Movement, villageID string, trapperLevel int, at time.Time) (trap.Result, error) {
	capacity := e.cfg.TrapCapacity(trapperLevel)
	if capacity <= 0 {
		return trap.Result{Remaining: m.Payload.Units.Clone()}, nil
	}
	held, err := tx.ListTrapPrisoners(villageID)
	if err != nil {
		return trap.Result{}, err
	}
	free := capacity
	for _, p := range held {
		free -= p.Count
	}
	res, err := trap.Capture(m.Payload.Units, free, e.cat, e.cfg.Trapper)
	if err != nil {
		return trap.Result{}, err
	}

	for _, c := range res.Captured {
		var existing *model.TrapPrisoner
		for i := range held {
			p := &held[i]
			if p.OwnerID == m.OwnerID && p.OriginVillageID == m.OriginVillageID && p.UnitID == c.UnitID {
				existing = p
				break
			}
		}
		if existing != nil {
			existing.Count += c.Count
			if err := tx.UpdateTrapPrisonerCount(existing.ID, existing.Count); err != nil {
				return trap.Result{}, err
			}
			continue
		}
		p := model.TrapPrisoner{
			ID:              e.newID(),
			VillageID:       villageID,
			OwnerID:         m.OwnerID,
			OriginVillageID: m.OriginVillageID,
			UnitID:          c.UnitID,
			Count:           c.Count,
			CapturedAt:      at,
		}
		if err := tx.CreateTrapPrisoner(&p); err != nil {
			return trap.Result{}, err
		}
		held = append(held, p)
	}
	return res, nil
}

// writeDefenders sets every stack that stood in the battle to its
// surviving count. Stacks with no survivors are written as zero.
func writeDefenders(tx store.Tx, villageID string, before, after []model.GarrisonStack) error {
	type key struct{ owner, unit string }
	final := make(map[key]int64)
	var order []key
	for _, s := range before {
		k := key{s.OwnerID, s.UnitID}
		if _, ok := final[k]; !ok {
			order = append(order, k)
		}
		final[k] = 0
	}
	for _, s := range after {
		k := key{s.OwnerID, s.UnitID}
		if _, ok := final[k]; !ok {
			order = append(order, k)
		}
		final[k] = s.Count
	}
	for _, k := range order {
		if err := tx.SetUnitCount(villageID, k.owner, k.unit, final[k]); err != nil {
			return err
		}
	}
	return nil
}

// applySiege lowers the wall and the hit buildings, clamped at zero, and
// fills in the from/to levels of each hit.
func applySiege(tx store.Tx, villageID string, snap *model.SiegeSnapshot, res *model.CombatResolution) error {
	if res.Wall != nil && res.Wall.Drop > 0 {
		if err := tx.SetBuildingLevel(villageID, model.BuildingWall, res.Wall.ToLevel); err != nil {
			return err
		}
	}
	levels := make(map[string]int)
	for _, b := range snap.Buildings {
		levels[b.Kind] = b.Level
	}
	for i := range res.BuildingHits {
		h := &res.BuildingHits[i]
		from := levels[h.Target]
		if h.Target == model.BuildingWall && res.Wall != nil {
			from = res.Wall.ToLevel
		}
		to := from - h.Drop
		if to < 0 {
			to = 0
		}
		h.FromLevel, h.ToLevel = from, to
		levels[h.Target] = to
		if from == to {
			continue
		}
		if err := tx.SetBuildingLevel(villageID, h.Target, to); err != nil {
			return err
		}
	}
	return nil
}
