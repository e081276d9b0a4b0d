// Package catalog is the static unit-type table: role, speed, carry,
// attack, defense and siege kind per unit id.
//
// The engine only consumes the Catalog interface. Default returns the
// built-in balance; LoadFile replaces it with a YAML table so a server can
// run its own unit set without a rebuild.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/rallypoint/pkg/model"
)

// Catalog resolves unit type ids to their stats.
type Catalog interface {
	Lookup(unitID string) (model.UnitStats, bool)
}

// Static is an in-memory catalog keyed by unit id.
type Static map[string]model.UnitStats

// Lookup implements Catalog.
func (s Static) Lookup(unitID string) (model.UnitStats, bool) {
	u, ok := s[unitID]
	return u, ok
}

// IDs returns all unit ids in lexical order.
func (s Static) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New builds a Static catalog from a list, rejecting duplicates and
// entries that could never move.
func New(units []model.UnitStats) (Static, error) {
	s := make(Static, len(units))
	for _, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("catalog: unit with empty id")
		}
		if _, dup := s[u.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate unit %q", u.ID)
		}
		if u.Speed <= 0 {
			return nil, fmt.Errorf("catalog: unit %q has non-positive speed %v", u.ID, u.Speed)
		}
		if u.Attack < 0 || u.Defense < 0 || u.Carry < 0 {
			return nil, fmt.Errorf("catalog: unit %q has negative stats", u.ID)
		}
		s[u.ID] = u
	}
	return s, nil
}

type catalogFile struct {
	Units []model.UnitStats `yaml:"units"`
}

// LoadFile reads a YAML unit table of the form
//
//	units:
//	  - id: legionnaire
//	    role: infantry
//	    speed: 6
//	    ...
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return New(f.Units)
}

// Default returns the built-in unit table. Defense is a single blended
// value; speeds are tiles per hour at server speed 1.
func Default() Static {
	s, err := New(defaultUnits)
	if err != nil {
		panic(err)
	}
	return s
}

var defaultUnits = []model.UnitStats{
	// Legion
	{ID: "legionnaire", Role: model.RoleInfantry, Speed: 6, Carry: 50, Attack: 40, Defense: 42},
	{ID: "praetorian", Role: model.RoleInfantry, Speed: 5, Carry: 20, Attack: 30, Defense: 65},
	{ID: "imperian", Role: model.RoleInfantry, Speed: 7, Carry: 50, Attack: 70, Defense: 35},
	{ID: "equites_legati", Role: model.RoleScout, Speed: 16, Carry: 0, Attack: 0, Defense: 20},
	{ID: "equites_imperatoris", Role: model.RoleCavalry, Speed: 14, Carry: 100, Attack: 120, Defense: 58},
	{ID: "equites_caesaris", Role: model.RoleCavalry, Speed: 10, Carry: 70, Attack: 180, Defense: 95},
	{ID: "battering_ram", Role: model.RoleSiege, Speed: 4, Carry: 0, Attack: 60, Defense: 52, Siege: model.SiegeRam},
	{ID: "fire_catapult", Role: model.RoleSiege, Speed: 3, Carry: 0, Attack: 75, Defense: 30, Siege: model.SiegeCatapult},
	{ID: "senator", Role: model.RoleAdministrator, Speed: 4, Carry: 0, Attack: 50, Defense: 35, IsAdministrator: true},
	{ID: "legion_settler", Role: model.RoleSettler, Speed: 5, Carry: 3000, Attack: 0, Defense: 80},

	// Clans
	{ID: "clubswinger", Role: model.RoleInfantry, Speed: 7, Carry: 60, Attack: 40, Defense: 10},
	{ID: "spearman", Role: model.RoleInfantry, Speed: 7, Carry: 40, Attack: 10, Defense: 48},
	{ID: "axeman", Role: model.RoleInfantry, Speed: 6, Carry: 50, Attack: 60, Defense: 30},
	{ID: "pathfinder", Role: model.RoleScout, Speed: 9, Carry: 0, Attack: 0, Defense: 8},
	{ID: "paladin", Role: model.RoleCavalry, Speed: 10, Carry: 110, Attack: 55, Defense: 70},
	{ID: "war_knight", Role: model.RoleCavalry, Speed: 9, Carry: 80, Attack: 150, Defense: 62},
	{ID: "thunder_rider", Role: model.RoleCavalry, Speed: 19, Carry: 75, Attack: 90, Defense: 32},
	{ID: "chieftain", Role: model.RoleAdministrator, Speed: 4, Carry: 0, Attack: 40, Defense: 60, IsAdministrator: true},

	{ID: "hero", Role: model.RoleHero, Speed: 7, Carry: 0, Attack: 100, Defense: 100},
}
