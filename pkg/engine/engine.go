// Package engine is the rally point: it owns the movement lifecycle and
// coordinates timing, ledgers, traps and combat inside repository
// transactions.
//
// The engine holds no state of its own. Every public operation is one
// call to Repository.WithTx, so it is safe to share one Engine between
// request handlers and scheduler workers.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/clock"
	"github.com/daviddao/rallypoint/pkg/config"
	"github.com/daviddao/rallypoint/pkg/ledger"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
)

// Engine runs rally point operations against a repository.
type Engine struct {
	repo  store.Repository
	cat   catalog.Catalog
	cfg   config.Config
	clock clock.Clock
	log   zerolog.Logger
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the time source. The default is the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator replaces the UUID generator used for new records.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New returns an engine over repo.
func New(repo store.Repository, cat catalog.Catalog, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		repo:  repo,
		cat:   cat,
		cfg:   cfg,
		clock: clock.System{},
		log:   zerolog.Nop(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config { return e.cfg }

func (e *Engine) now() time.Time { return clock.Truncate(e.clock.Now()) }

// loadLedger reads one owner's stacks at a village into a ledger.
func loadLedger(tx store.Tx, villageID, ownerID string) (*ledger.Ledger, error) {
	stacks, err := tx.ListGarrison(villageID, ownerID)
	if err != nil {
		return nil, err
	}
	return ledger.New(villageID, ownerID, stacks), nil
}

// flush writes final stack counts back through the repository.
func flush(tx store.Tx, changes []model.GarrisonStack) error {
	for _, c := range changes {
		if err := tx.SetUnitCount(c.VillageID, c.OwnerID, c.UnitID, c.Count); err != nil {
			return err
		}
	}
	return nil
}

// rallyPoint returns a village's rally point, or a level 0 rally point
// when none has been configured.
func rallyPoint(tx store.Tx, villageID string) (*model.RallyPointState, error) {
	rp, err := tx.GetRallyPoint(villageID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.RallyPointState{VillageID: villageID}, nil
	}
	return rp, err
}

// ConfigureRallyPoint sets a village's rally point level and wave window.
// A zero window falls back to the configured default.
func (e *Engine) ConfigureRallyPoint(ctx context.Context, villageID string, level int, waveWindowMs int64) (*model.RallyPointState, error) {
	if level < 0 || level > e.cfg.MaxRallyPointLevel {
		return nil, model.InputErrorf("rally point level %d out of range [0, %d]", level, e.cfg.MaxRallyPointLevel)
	}
	if waveWindowMs < 0 {
		return nil, model.InputErrorf("wave window must not be negative, got %d", waveWindowMs)
	}
	var out *model.RallyPointState
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetVillage(villageID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.NotFoundErrorf("village %s", villageID)
			}
			return err
		}
		rp, err := rallyPoint(tx, villageID)
		if err != nil {
			return err
		}
		rp.Level = level
		rp.WaveWindowMs = waveWindowMs
		if err := tx.UpsertRallyPoint(rp); err != nil {
			return err
		}
		out = rp
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("village", villageID).Int("level", level).Int64("wave_window_ms", waveWindowMs).
		Msg("rally point configured")
	return out, nil
}
