package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/rallypoint/pkg/model"
)

func stacks() []model.GarrisonStack {
	return []model.GarrisonStack{
		{VillageID: "v1", OwnerID: "alice", UnitID: "legionnaire", Count: 100},
		{VillageID: "v1", OwnerID: "alice", UnitID: "battering_ram", Count: 5},
		{VillageID: "v1", OwnerID: "bob", UnitID: "legionnaire", Count: 40},
		{VillageID: "v2", OwnerID: "alice", UnitID: "legionnaire", Count: 7},
	}
}

func TestNewScopesToVillageAndOwner(t *testing.T) {
	l := New("v1", "alice", stacks())
	require.Equal(t, int64(100), l.Count("legionnaire"))
	require.Equal(t, int64(5), l.Count("battering_ram"))
	require.Equal(t, model.Units{"legionnaire": 100, "battering_ram": 5}, l.Units())
	require.False(t, l.Dirty())
}

func TestConsumeThenAddRestores(t *testing.T) {
	for _, x := range []model.Units{
		{},
		{"legionnaire": 1},
		{"legionnaire": 100, "battering_ram": 5},
		{"battering_ram": 3, "legionnaire": 0},
	} {
		l := New("v1", "alice", stacks())
		before := l.Units()
		require.NoError(t, l.Consume(x))
		l.Add(x)
		require.Equal(t, before, l.Units())
	}
}

func TestConsumeInsufficient(t *testing.T) {
	l := New("v1", "alice", stacks())
	err := l.Consume(model.Units{"legionnaire": 50, "battering_ram": 6})
	require.True(t, errors.Is(err, model.ErrResource))
	// Nothing was debited.
	require.Equal(t, int64(100), l.Count("legionnaire"))
	require.Equal(t, int64(5), l.Count("battering_ram"))
	require.False(t, l.Dirty())
}

func TestConsumeUnknownUnitIsResourceError(t *testing.T) {
	l := New("v1", "alice", stacks())
	err := l.Consume(model.Units{"praetorian": 1})
	require.True(t, errors.Is(err, model.ErrResource))
}

func TestAssertAvailabilityRejectsNegative(t *testing.T) {
	l := New("v1", "alice", stacks())
	err := l.AssertAvailability(model.Units{"legionnaire": -1})
	require.True(t, errors.Is(err, model.ErrInput))
}

func TestChangesIncludesZeroedStacks(t *testing.T) {
	l := New("v1", "alice", stacks())
	require.NoError(t, l.Consume(model.Units{"battering_ram": 5}))
	l.Add(model.Units{"praetorian": 3})

	require.Equal(t, []model.GarrisonStack{
		{VillageID: "v1", OwnerID: "alice", UnitID: "battering_ram", Count: 0},
		{VillageID: "v1", OwnerID: "alice", UnitID: "praetorian", Count: 3},
	}, l.Changes())
}

func TestSetSharesLedgerPerKey(t *testing.T) {
	s := NewSet()
	require.Nil(t, s.Get("v1", "alice"))

	s.Put(New("v1", "alice", stacks()))
	s.Put(New("v2", "alice", stacks()))

	// Two debits against one snapshot see each other.
	require.NoError(t, s.Get("v1", "alice").Consume(model.Units{"legionnaire": 60}))
	err := s.Get("v1", "alice").Consume(model.Units{"legionnaire": 60})
	require.True(t, errors.Is(err, model.ErrResource))

	require.NoError(t, s.Get("v2", "alice").Consume(model.Units{"legionnaire": 7}))
	require.Equal(t, []model.GarrisonStack{
		{VillageID: "v1", OwnerID: "alice", UnitID: "legionnaire", Count: 40},
		{VillageID: "v2", OwnerID: "alice", UnitID: "legionnaire", Count: 0},
	}, s.Changes())
}

func TestSetChangesSkipsCleanLedgers(t *testing.T) {
	s := NewSet()
	s.Put(New("v1", "alice", stacks()))
	s.Put(New("v1", "bob", stacks()))

	require.NoError(t, s.Get("v1", "alice").AssertAvailability(model.Units{"legionnaire": 10}))
	require.Empty(t, s.Changes())

	s.Get("v1", "bob").Add(model.Units{"legionnaire": 2})
	require.False(t, s.Get("v1", "alice").Dirty())
	require.Equal(t, []model.GarrisonStack{
		{VillageID: "v1", OwnerID: "bob", UnitID: "legionnaire", Count: 42},
	}, s.Changes())
}
