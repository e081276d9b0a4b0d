// Package ledger is the transaction-scoped accounting view of one owner's
// unit stacks at one village.
//
// A Ledger is loaded from the repository at the start of a transaction,
// debited and credited in memory, and flushed back as final per-unit
// counts before commit. It never touches storage itself, so a failed
// assertion leaves nothing to undo.
package ledger

import (
	"sort"

	"github.com/daviddao/rallypoint/pkg/model"
)

// Ledger holds one (village, owner) garrison snapshot.
type Ledger struct {
	VillageID string
	OwnerID   string

	counts  map[string]int64
	touched map[string]bool
}

// New builds a ledger from the stacks of one owner at one village. Stacks
// belonging to other villages or owners are ignored.
func New(villageID, ownerID string, stacks []model.GarrisonStack) *Ledger {
	l := &Ledger{
		VillageID: villageID,
		OwnerID:   ownerID,
		counts:    make(map[string]int64),
		touched:   make(map[string]bool),
	}
	for _, s := range stacks {
		if s.VillageID != villageID || s.OwnerID != ownerID {
			continue
		}
		l.counts[s.UnitID] += s.Count
	}
	return l
}

// Count returns the on-hand count of one unit type.
func (l *Ledger) Count(unitID string) int64 { return l.counts[unitID] }

// Units returns a copy of all positive counts.
func (l *Ledger) Units() model.Units {
	return model.Units(l.counts).Clone()
}

// AssertAvailability fails with a resource error if any requested count
// exceeds what is on hand.
func (l *Ledger) AssertAvailability(units model.Units) error {
	for _, id := range units.IDs() {
		if have := l.counts[id]; units[id] > have {
			return model.ResourceErrorf("village %s: need %d %s, have %d", l.VillageID, units[id], id, have)
		}
	}
	for id, c := range units {
		if c < 0 {
			return model.InputErrorf("negative count %d for %s", c, id)
		}
	}
	return nil
}

// Consume asserts availability and then subtracts units.
func (l *Ledger) Consume(units model.Units) error {
	if err := l.AssertAvailability(units); err != nil {
		return err
	}
	for _, id := range units.IDs() {
		l.counts[id] -= units[id]
		l.touched[id] = true
	}
	return nil
}

// Add credits units, merging into existing stacks.
func (l *Ledger) Add(units model.Units) {
	for _, id := range units.IDs() {
		l.counts[id] += units[id]
		l.touched[id] = true
	}
}

// Changes returns the final stack of every unit type touched since the
// ledger was loaded, in unit id order. Zero counts are included so the
// repository can clear emptied stacks.
func (l *Ledger) Changes() []model.GarrisonStack {
	ids := make([]string, 0, len(l.touched))
	for id := range l.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.GarrisonStack, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.GarrisonStack{
			VillageID: l.VillageID,
			OwnerID:   l.OwnerID,
			UnitID:    id,
			Count:     l.counts[id],
		})
	}
	return out
}

// Dirty reports whether any stack was touched.
func (l *Ledger) Dirty() bool { return len(l.touched) > 0 }

// Key identifies a ledger within a transaction.
type Key struct {
	VillageID string
	OwnerID   string
}

// Set keeps one ledger per (village, owner) so several debits against the
// same garrison within a transaction see each other.
type Set struct {
	ledgers map[Key]*Ledger
	order   []Key
}

// NewSet returns an empty ledger set.
func NewSet() *Set {
	return &Set{ledgers: make(map[Key]*Ledger)}
}

// Get returns the ledger for key, or nil if it has not been loaded.
func (s *Set) Get(villageID, ownerID string) *Ledger {
	return s.ledgers[Key{villageID, ownerID}]
}

// Put registers a loaded ledger.
func (s *Set) Put(l *Ledger) {
	k := Key{l.VillageID, l.OwnerID}
	if _, ok := s.ledgers[k]; !ok {
		s.order = append(s.order, k)
	}
	s.ledgers[k] = l
}

// Changes concatenates the changes of every dirty ledger in load order.
// Ledgers that were only loaded for an availability check contribute
// nothing.
func (s *Set) Changes() []model.GarrisonStack {
	var out []model.GarrisonStack
	for _, k := range s.order {
		if l := s.ledgers[k]; l.Dirty() {
			out = append(out, l.Changes()...)
		}
	}
	return out
}
