package engine

import (
	"context"
	"errors"

	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
)

// VillageStatus is a read-only view of one village.
type VillageStatus struct {
	Village    *model.Village         `json:"village"`
	RallyPoint *model.RallyPointState `json:"rally_point"`
	Garrison   []model.GarrisonStack  `json:"garrison"`
	Buildings  []model.Building       `json:"buildings"`
	Movements  []model.Movement       `json:"movements"`
	Prisoners  []model.TrapPrisoner   `json:"prisoners"`
}

// Status returns a village with its garrison, buildings, recent movements
// and held prisoners.
func (e *Engine) Status(ctx context.Context, villageID string, movementLimit int) (*VillageStatus, error) {
	var out *VillageStatus
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillage(villageID)
		if errors.Is(err, store.ErrNotFound) {
			return model.NotFoundErrorf("village %s", villageID)
		}
		if err != nil {
			return err
		}
		st := &VillageStatus{Village: v}
		if st.RallyPoint, err = rallyPoint(tx, villageID); err != nil {
			return err
		}
		if st.Garrison, err = tx.ListGarrisonAll(villageID); err != nil {
			return err
		}
		snap, err := tx.GetSiegeSnapshot(villageID)
		if err != nil {
			return err
		}
		st.Buildings = snap.Buildings
		if st.Movements, err = tx.ListMovementsForVillage(villageID, movementLimit); err != nil {
			return err
		}
		if st.Prisoners, err = tx.ListTrapPrisoners(villageID); err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// Reports returns battle reports involving a village, newest first.
func (e *Engine) Reports(ctx context.Context, villageID string, limit int) ([]model.MovementReport, error) {
	var out []model.MovementReport
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListReports(villageID, limit)
		return err
	})
	return out, err
}

// DismissPrisoners frees the village's trap capacity by dropping every
// held prisoner. Only the village owner may do this; the units are not
// returned to anyone. It returns how many units were dismissed.
func (e *Engine) DismissPrisoners(ctx context.Context, villageID, requesterID string) (int64, error) {
	var dismissed int64
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		dismissed = 0
		v, err := tx.GetVillage(villageID)
		if errors.Is(err, store.ErrNotFound) {
			return model.NotFoundErrorf("village %s", villageID)
		}
		if err != nil {
			return err
		}
		if v.OwnerID != requesterID {
			return model.InputErrorf("village %s does not belong to %s", villageID, requesterID)
		}
		held, err := tx.ListTrapPrisoners(villageID)
		if err != nil {
			return err
		}
		for _, p := range held {
			if err := tx.DeleteTrapPrisoner(p.ID); err != nil {
				return err
			}
			dismissed += p.Count
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().Str("village", villageID).Int64("units", dismissed).Msg("prisoners dismissed")
	return dismissed, nil
}

// Wave returns a wave group with its members and their movements.
func (e *Engine) Wave(ctx context.Context, groupID string) (*WaveResult, error) {
	var out *WaveResult
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		g, err := tx.GetWaveGroup(groupID)
		if errors.Is(err, store.ErrNotFound) {
			return model.NotFoundErrorf("wave group %s", groupID)
		}
		if err != nil {
			return err
		}
		out, err = loadWave(tx, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
