package engine

import (
	"context"
	"errors"

	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
	"github.com/daviddao/rallypoint/pkg/timing"
)

// CancelMovement calls a movement back before it gets far. It succeeds
// only while the movement is en route, for its owner, inside the grace
// period after creation; the units go straight back into the origin
// garrison. Every refused case returns false without an error.
func (e *Engine) CancelMovement(ctx context.Context, movementID, requesterID string) (bool, error) {
	var (
		cancelled bool
		reason    string
	)
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		cancelled, reason = false, ""
		m, err := tx.GetMovement(movementID)
		if errors.Is(err, store.ErrNotFound) {
			reason = "not found"
			return nil
		}
		if err != nil {
			return err
		}
		now := e.now()
		switch {
		case m.Status != model.StatusEnRoute:
			reason = "status " + string(m.Status)
			return nil
		case m.OwnerID != requesterID:
			reason = "not the owner"
			return nil
		case m.ParentID != "":
			reason = "battle return"
			return nil
		case now.Sub(m.CreatedAt) > e.cfg.CancelGrace():
			reason = "grace period elapsed"
			return nil
		}

		l, err := loadLedger(tx, m.OriginVillageID, m.OwnerID)
		if err != nil {
			return err
		}
		l.Add(m.Payload.Units)
		if err := flush(tx, l.Changes()); err != nil {
			return err
		}
		m.Status = model.StatusCancelled
		m.UpdatedAt = now
		if err := tx.UpdateMovement(m); err != nil {
			return err
		}
		if err := syncWave(tx, m); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if cancelled {
		e.log.Info().Str("movement", movementID).Msg("movement cancelled")
	} else {
		e.log.Debug().Str("movement", movementID).Str("reason", reason).Msg("cancel refused")
	}
	return cancelled, nil
}

// RecallRequest brings one owner's reinforcements home from a host
// village. An empty Units recalls the whole stack.
type RecallRequest struct {
	IdempotencyKey string
	OwnerID        string
	HostVillageID  string
	HomeVillageID  string
	Units          model.Units
}

// RecallReinforcements debits the owner's stack at the host village and
// sends it home as a return movement. Replays of the key return the
// original return movement.
func (e *Engine) RecallReinforcements(ctx context.Context, req RecallRequest) (*model.Movement, error) {
	if req.IdempotencyKey == "" {
		return nil, model.InputErrorf("idempotency key is required")
	}
	for id, n := range req.Units {
		if n < 0 {
			return nil, model.InputErrorf("negative count %d for %s", n, id)
		}
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
		host, err := e.resolveTarget(tx, req.HostVillageID, nil)
		if err != nil {
			return err
		}
		home, err := e.originVillage(tx, req.HomeVillageID, req.OwnerID)
		if err != nil {
			return err
		}
		if host.ID == home.ID {
			return model.TargetErrorf("units at %s are already home", home.ID)
		}

		l, err := loadLedger(tx, host.ID, req.OwnerID)
		if err != nil {
			return err
		}
		units := req.Units.Clone()
		if units.IsEmpty() {
			units = l.Units()
		}
		if units.IsEmpty() {
			return model.ResourceErrorf("%s has no units at %s", req.OwnerID, host.ID)
		}
		travel, err := timing.Route(host.Coords, home.Coords, units, e.cat, e.cfg.ServerSpeed)
		if err != nil {
			return err
		}
		if err := l.Consume(units); err != nil {
			return err
		}
		if err := flush(tx, l.Changes()); err != nil {
			return err
		}

		m := &model.Movement{
			ID:              e.newID(),
			Mission:         model.MissionReturn,
			OwnerID:         req.OwnerID,
			OriginVillageID: host.ID,
			TargetVillageID: home.ID,
			TargetCoords:    home.Coords,
			DepartAt:        now,
			ArriveAt:        now.Add(travel),
			Payload:         model.Payload{Units: units},
			Status:          model.StatusEnRoute,
			IdempotencyKey:  req.IdempotencyKey,
			CreatedAt:       now,
			UpdatedAt:       now,
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
		e.log.Info().Str("movement", out.ID).Str("host", out.OriginVillageID).
			Str("home", out.TargetVillageID).Int64("units", out.Payload.Units.Total()).
			Msg("reinforcements recalled")
	}
	return out, nil
}
