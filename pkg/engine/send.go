package engine

import (
	"context"
	"errors"
	"time"

	"github.com/daviddao/rallypoint/pkg/clock"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
	"github.com/daviddao/rallypoint/pkg/timing"
)

// SendRequest asks for one movement out of a village.
//
// The target is TargetVillageID when set, otherwise the village standing
// on TargetCoords. At most one of DepartAt and ArriveAt is usually given;
// with neither the movement leaves now.
type SendRequest struct {
	IdempotencyKey  string
	OwnerID         string
	OriginVillageID string
	Mission         model.Mission
	TargetVillageID string
	TargetCoords    *model.Coordinates
	Units           model.Units
	CatapultTargets []string
	DepartAt        *time.Time
	ArriveAt        *time.Time
}

// SendMission debits the origin garrison and schedules a movement. A
// replayed idempotency key returns the movement created the first time
// without touching the garrison again.
func (e *Engine) SendMission(ctx context.Context, req SendRequest) (*model.Movement, error) {
	if req.IdempotencyKey == "" {
		return nil, model.InputErrorf("idempotency key is required")
	}
	if err := e.validateComposition(req.Mission, req.Units); err != nil {
		return nil, err
	}

	var (
		out      *model.Movement
		replayed bool
	)
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		out, replayed = nil, false
		existing, err := tx.FindMovementByKey(req.IdempotencyKey)
		if err == nil {
			out, replayed = existing, true
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := e.now()
		origin, err := e.originVillage(tx, req.OriginVillageID, req.OwnerID)
		if err != nil {
			return err
		}
		target, err := e.resolveTarget(tx, req.TargetVillageID, req.TargetCoords)
		if err != nil {
			return err
		}
		if err := checkTarget(req.Mission, req.OwnerID, origin, target); err != nil {
			return err
		}
		rp, err := rallyPoint(tx, origin.ID)
		if err != nil {
			return err
		}
		travel, err := timing.Route(origin.Coords, target.Coords, req.Units, e.cat, e.cfg.ServerSpeed)
		if err != nil {
			return err
		}
		depart, arrive, err := schedule(now, travel, e.cfg.PrecisionMs(rp.Level), req.DepartAt, req.ArriveAt)
		if err != nil {
			return err
		}

		l, err := loadLedger(tx, origin.ID, req.OwnerID)
		if err != nil {
			return err
		}
		if err := l.Consume(req.Units); err != nil {
			return err
		}

		m := &model.Movement{
			ID:              e.newID(),
			Mission:         req.Mission,
			OwnerID:         req.OwnerID,
			OriginVillageID: origin.ID,
			TargetVillageID: target.ID,
			TargetCoords:    target.Coords,
			DepartAt:        depart,
			ArriveAt:        arrive,
			Payload: model.Payload{
				Units:           req.Units.Clone(),
				CatapultTargets: req.CatapultTargets,
			},
			Status:         model.StatusEnRoute,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := flush(tx, l.Changes()); err != nil {
			return err
		}
		if err := tx.CreateMovement(m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		e.log.Info().Str("movement", out.ID).Str("mission", string(out.Mission)).
			Str("origin", out.OriginVillageID).Str("target", out.TargetVillageID).
			Time("arrive_at", out.ArriveAt).Msg("movement sent")
	}
	return out, nil
}

// validateComposition checks a composition against the catalog and the
// mission's role whitelist.
func (e *Engine) validateComposition(m model.Mission, units model.Units) error {
	switch m {
	case model.MissionAttack, model.MissionRaid, model.MissionSiege, model.MissionReinforce:
	case model.MissionReturn:
		return model.InputErrorf("return movements are created by recall or battle, not sent")
	default:
		return model.InputErrorf("unknown mission %q", m)
	}
	for id, n := range units {
		if n < 0 {
			return model.InputErrorf("negative count %d for %s", n, id)
		}
	}
	if units.IsEmpty() {
		return model.InputErrorf("empty composition")
	}
	hasSiege := false
	for _, id := range units.IDs() {
		u, ok := e.cat.Lookup(id)
		if !ok {
			return model.InputErrorf("unknown unit %q", id)
		}
		if !e.cfg.RoleAllowed(m, u.Role) {
			return model.InputErrorf("%s (%s) cannot join a %s", id, u.Role, m)
		}
		if u.Siege == model.SiegeRam || u.Siege == model.SiegeCatapult {
			hasSiege = true
		}
	}
	if m == model.MissionSiege && !hasSiege {
		return model.InputErrorf("siege requires at least one ram or catapult")
	}
	return nil
}

// originVillage loads the sending village and checks it belongs to owner.
func (e *Engine) originVillage(tx store.Tx, villageID, ownerID string) (*model.Village, error) {
	v, err := tx.GetVillage(villageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.TargetErrorf("origin village %s not found", villageID)
	}
	if err != nil {
		return nil, err
	}
	if v.OwnerID != ownerID {
		return nil, model.InputErrorf("village %s does not belong to %s", villageID, ownerID)
	}
	return v, nil
}

// resolveTarget finds the destination village by id or by tile.
func (e *Engine) resolveTarget(tx store.Tx, villageID string, coords *model.Coordinates) (*model.Village, error) {
	var (
		v   *model.Village
		err error
	)
	switch {
	case villageID != "":
		v, err = tx.GetVillage(villageID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.TargetErrorf("target village %s not found", villageID)
		}
	case coords != nil:
		v, err = tx.FindVillageAt(*coords)
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.TargetErrorf("no village at (%d|%d)", coords.X, coords.Y)
		}
	default:
		return nil, model.InputErrorf("no target given")
	}
	return v, err
}

// checkTarget rejects self-targeting and protected targets. Reinforcing
// is allowed against both, but never against the origin itself.
func checkTarget(m model.Mission, ownerID string, origin, target *model.Village) error {
	if origin.ID == target.ID {
		return model.TargetErrorf("village %s cannot target itself", origin.ID)
	}
	if m == model.MissionReinforce {
		return nil
	}
	if target.OwnerID == ownerID {
		return model.TargetErrorf("cannot %s own village %s", m, target.ID)
	}
	if target.BeginnerProtection {
		return model.TargetErrorf("village %s is under beginner protection", target.ID)
	}
	return nil
}

// schedule returns the departure and arrival of a movement with the given
// travel time. A requested arrival is computed backwards; a departure that
// would already have happened is accepted up to precisionMs late and then
// clamped to now.
func schedule(now time.Time, travel time.Duration, precisionMs int64, departAt, arriveAt *time.Time) (time.Time, time.Time, error) {
	tolerance := time.Duration(precisionMs) * time.Millisecond
	earliest := now.Add(-tolerance)

	var depart time.Time
	switch {
	case arriveAt != nil:
		arrive := clock.Truncate(*arriveAt)
		depart = arrive.Add(-travel)
		if departAt != nil {
			d := clock.Truncate(*departAt)
			if arrive.Before(d.Add(travel)) {
				return time.Time{}, time.Time{}, model.TimingErrorf(
					"arrival %s is before departure %s plus travel %s", arrive.Format(time.RFC3339), d.Format(time.RFC3339), travel)
			}
		}
		if depart.Before(earliest) {
			return time.Time{}, time.Time{}, model.TimingErrorf(
				"arrival %s needs departure at %s, already past", arrive.Format(time.RFC3339), depart.Format(time.RFC3339))
		}
	case departAt != nil:
		depart = clock.Truncate(*departAt)
		if depart.Before(earliest) {
			return time.Time{}, time.Time{}, model.TimingErrorf("departure %s already past", depart.Format(time.RFC3339))
		}
	default:
		depart = now
	}
	if depart.Before(now) {
		depart = now
	}
	return depart, depart.Add(travel), nil
}
