package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/daviddao/rallypoint/pkg/clock"
	"github.com/daviddao/rallypoint/pkg/ledger"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
	"github.com/daviddao/rallypoint/pkg/timing"
)

// WaveMemberRequest is one origin's contribution to a wave group.
type WaveMemberRequest struct {
	OriginVillageID string
	Units           model.Units
	CatapultTargets []string
}

// WaveRequest asks for a synchronized strike: every member lands on the
// same target around ArriveAt.
type WaveRequest struct {
	IdempotencyKey  string
	OwnerID         string
	Name            string
	Mission         model.Mission
	TargetVillageID string
	TargetCoords    *model.Coordinates
	ArriveAt        time.Time
	Members         []WaveMemberRequest
}

// WaveResult is a wave group with its members and their movements, in
// member order.
type WaveResult struct {
	Group     *model.WaveGroup
	Members   []model.WaveMember
	Movements []model.Movement
}

// WaveOffsets spreads n arrivals symmetrically over a window:
// offset(i) = round(i*window/(n-1) - window/2). A single member lands on
// time.
func WaveOffsets(n int, windowMs int64) []int64 {
	if n <= 0 {
		return nil
	}
	out := make([]int64, n)
	if n == 1 {
		return out
	}
	w := float64(windowMs)
	for i := range out {
		out[i] = int64(math.Round(float64(i)*w/float64(n-1) - w/2))
	}
	return out
}

// waveWindow is the lesser of the rally point's wave window (or the
// configured default) and its precision.
func (e *Engine) waveWindow(rp *model.RallyPointState) int64 {
	w := rp.WaveWindowMs
	if w <= 0 {
		w = e.cfg.DefaultWaveWindowMs
	}
	if p := e.cfg.PrecisionMs(rp.Level); p < w {
		w = p
	}
	return w
}

// SendWaveGroup schedules every member of a wave. All members are checked
// against one ledger snapshot per origin before anything is written, so
// the group is sent whole or not at all.
func (e *Engine) SendWaveGroup(ctx context.Context, req WaveRequest) (*WaveResult, error) {
	if req.IdempotencyKey == "" {
		return nil, model.InputErrorf("idempotency key is required")
	}
	if len(req.Members) == 0 {
		return nil, model.InputErrorf("wave group has no members")
	}
	mission := req.Mission
	if mission == "" {
		mission = model.MissionAttack
	}
	for i, mr := range req.Members {
		if err := e.validateComposition(mission, mr.Units); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
	}

	var (
		out      *WaveResult
		replayed bool
	)
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		out, replayed = nil, false
		existing, err := tx.FindWaveGroupByKey(req.IdempotencyKey)
		if err == nil {
			out, err = loadWave(tx, existing)
			replayed = true
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := e.now()
		arriveAt := clock.Truncate(req.ArriveAt)
		target, err := e.resolveTarget(tx, req.TargetVillageID, req.TargetCoords)
		if err != nil {
			return err
		}

		origins := make([]*model.Village, len(req.Members))
		for i, mr := range req.Members {
			v, err := e.originVillage(tx, mr.OriginVillageID, req.OwnerID)
			if err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			if err := checkTarget(mission, req.OwnerID, v, target); err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			origins[i] = v
		}
		lead, err := rallyPoint(tx, origins[0].ID)
		if err != nil {
			return err
		}
		window := e.waveWindow(lead)
		offsets := WaveOffsets(len(req.Members), window)

		group := &model.WaveGroup{
			ID:              e.newID(),
			OwnerID:         req.OwnerID,
			Name:            req.Name,
			TargetVillageID: target.ID,
			ArriveAt:        arriveAt,
			WindowMs:        window,
			Status:          model.WaveActive,
			IdempotencyKey:  req.IdempotencyKey,
			CreatedAt:       now,
		}
		res := &WaveResult{Group: group}
		ledgers := ledger.NewSet()
		for i, mr := range req.Members {
			origin := origins[i]
			travel, err := timing.Route(origin.Coords, target.Coords, mr.Units, e.cat, e.cfg.ServerSpeed)
			if err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			arrive := arriveAt.Add(time.Duration(offsets[i]) * time.Millisecond)
			depart := arrive.Add(-travel)
			if depart.Before(now) {
				return model.TimingErrorf("member %d from %s would have departed at %s, already past",
					i, origin.ID, depart.Format(time.RFC3339Nano))
			}

			l := ledgers.Get(origin.ID, req.OwnerID)
			if l == nil {
				if l, err = loadLedger(tx, origin.ID, req.OwnerID); err != nil {
					return err
				}
				ledgers.Put(l)
			}
			if err := l.Consume(mr.Units); err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}

			m := model.Movement{
				ID:              e.newID(),
				Mission:         mission,
				OwnerID:         req.OwnerID,
				OriginVillageID: origin.ID,
				TargetVillageID: target.ID,
				TargetCoords:    target.Coords,
				DepartAt:        depart,
				ArriveAt:        arrive,
				Payload: model.Payload{
					Units:           mr.Units.Clone(),
					CatapultTargets: mr.CatapultTargets,
					WaveGroupID:     group.ID,
					WaveIndex:       i,
				},
				Status:         model.StatusEnRoute,
				IdempotencyKey: fmt.Sprintf("%s:%d", req.IdempotencyKey, i),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			res.Movements = append(res.Movements, m)
			res.Members = append(res.Members, model.WaveMember{
				GroupID:         group.ID,
				Index:           i,
				MovementID:      m.ID,
				OriginVillageID: origin.ID,
				OffsetMs:        offsets[i],
				DepartAt:        depart,
				ArriveAt:        arrive,
				Status:          model.StatusEnRoute,
			})
		}

		if err := flush(tx, ledgers.Changes()); err != nil {
			return err
		}
		if err := tx.CreateWaveGroup(group); err != nil {
			return err
		}
		for i := range res.Movements {
			if err := tx.CreateMovement(&res.Movements[i]); err != nil {
				return err
			}
			if err := tx.CreateWaveMember(&res.Members[i]); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		e.log.Info().Str("group", out.Group.ID).Str("target", out.Group.TargetVillageID).
			Int("members", len(out.Members)).Int64("window_ms", out.Group.WindowMs).
			Time("arrive_at", out.Group.ArriveAt).Msg("wave group sent")
	}
	return out, nil
}

func loadWave(tx store.Tx, g *model.WaveGroup) (*WaveResult, error) {
	members, err := tx.ListWaveMembers(g.ID)
	if err != nil {
		return nil, err
	}
	res := &WaveResult{Group: g, Members: members}
	for _, mb := range members {
		m, err := tx.GetMovement(mb.MovementID)
		if err != nil {
			return nil, fmt.Errorf("wave %s member %d: %w", g.ID, mb.Index, err)
		}
		res.Movements = append(res.Movements, *m)
	}
	return res, nil
}

// syncWave mirrors a movement's status onto its wave member and closes
// the group once every member is terminal.
func syncWave(tx store.Tx, m *model.Movement) error {
	gid := m.Payload.WaveGroupID
	if gid == "" {
		return nil
	}
	if err := tx.UpdateWaveMemberStatus(gid, m.Payload.WaveIndex, m.Status); err != nil {
		return err
	}
	members, err := tx.ListWaveMembers(gid)
	if err != nil {
		return err
	}
	for _, mb := range members {
		if !mb.Status.Terminal() {
			return nil
		}
	}
	return tx.UpdateWaveGroupStatus(gid, model.WaveDone)
}
