// iface.go defines the Repository and Tx interfaces the engine depends on.
//
// The concrete *Store type satisfies Repository with SQLite. The engine
// only ever sees these interfaces, so every public operation is exactly
// one call to WithTx: read, decide, write, commit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/daviddao/rallypoint/pkg/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Repository runs functions inside atomic transactions.
type Repository interface {
	// WithTx runs fn in one transaction: commit if fn returns nil,
	// roll back otherwise. fn may be invoked more than once when the
	// database reports transient contention, so it must not have side
	// effects outside tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying database.
	Close() error
}

// Tx is the full set of storage operations available inside a transaction.
type Tx interface {
	// --- Villages ---

	// GetVillage returns a village by id, or ErrNotFound.
	GetVillage(id string) (*model.Village, error)

	// FindVillageAt returns the village at the given tile, or ErrNotFound.
	FindVillageAt(c model.Coordinates) (*model.Village, error)

	// CreateVillage inserts or replaces a village.
	CreateVillage(v *model.Village) error

	// --- Rally points ---

	// GetRallyPoint returns a village's rally point, or ErrNotFound.
	GetRallyPoint(villageID string) (*model.RallyPointState, error)

	// UpsertRallyPoint writes a rally point state.
	UpsertRallyPoint(rp *model.RallyPointState) error

	// --- Garrisons ---

	// ListGarrison returns one owner's positive stacks at a village.
	ListGarrison(villageID, ownerID string) ([]model.GarrisonStack, error)

	// ListGarrisonAll returns every owner's positive stacks at a village.
	ListGarrisonAll(villageID string) ([]model.GarrisonStack, error)

	// SetUnitCount sets one (village, owner, unit) stack. Zero clears it.
	SetUnitCount(villageID, ownerID, unitID string, count int64) error

	// --- Movements ---

	// CreateMovement inserts a movement. The idempotency key is unique.
	CreateMovement(m *model.Movement) error

	// UpdateMovement rewrites status, payload and updated_at.
	UpdateMovement(m *model.Movement) error

	// GetMovement returns a movement by id, or ErrNotFound.
	GetMovement(id string) (*model.Movement, error)

	// FindMovementByKey returns the client movement created under an
	// idempotency key, or ErrNotFound. Keys are unique per
	// model.KeyScope, and only the client scope is searched.
	FindMovementByKey(key string) (*model.Movement, error)

	// ListDueMovements returns en_route movements with arrive_at <= now,
	// ordered by arrival, then friendly before hostile, then id.
	ListDueMovements(now time.Time, limit int) ([]model.Movement, error)

	// ListMovementsForVillage returns movements leaving or targeting a
	// village, most recent arrival first.
	ListMovementsForVillage(villageID string, limit int) ([]model.Movement, error)

	// --- Wave groups ---

	CreateWaveGroup(g *model.WaveGroup) error
	GetWaveGroup(id string) (*model.WaveGroup, error)
	FindWaveGroupByKey(key string) (*model.WaveGroup, error)
	UpdateWaveGroupStatus(id string, status model.WaveGroupStatus) error
	CreateWaveMember(m *model.WaveMember) error
	ListWaveMembers(groupID string) ([]model.WaveMember, error)
	UpdateWaveMemberStatus(groupID string, index int, status model.MovementStatus) error

	// --- Reports ---

	// SaveReport inserts an immutable battle report.
	SaveReport(r *model.MovementReport) error

	// ListReports returns reports involving a village, newest first.
	ListReports(villageID string, limit int) ([]model.MovementReport, error)

	// --- Siege ---

	// GetSiegeSnapshot returns a village's building levels (possibly empty).
	GetSiegeSnapshot(villageID string) (*model.SiegeSnapshot, error)

	// SetBuildingLevel writes one building level.
	SetBuildingLevel(villageID, kind string, level int) error

	// --- Trap prisoners ---

	ListTrapPrisoners(villageID string) ([]model.TrapPrisoner, error)
	CreateTrapPrisoner(p *model.TrapPrisoner) error
	UpdateTrapPrisonerCount(id string, count int64) error
	DeleteTrapPrisoner(id string) error
}

// Compile-time check that *Store implements Repository.
var _ Repository = (*Store)(nil)
