package combat

import (
	"math"
	"sort"

	"github.com/daviddao/rallypoint/pkg/model"
)

// SiegeParams shape the ram and catapult damage curves.
//
// Rams: drop = floor(Alpha * ln(1 + effective/(Beta + Gamma*wall))),
// where effective = rams / WallResistance[wallType], clamped to the wall.
// Catapults: each target drops max(MinDrop, floor(shots * BaseDropPerShot)).
type SiegeParams struct {
	Alpha           float64            `yaml:"alpha"`
	Beta            float64            `yaml:"beta"`
	Gamma           float64            `yaml:"gamma"`
	BaseDropPerShot float64            `yaml:"base_drop_per_shot"`
	MinDrop         int                `yaml:"min_drop"`
	WallResistance  map[string]float64 `yaml:"wall_resistance"`
}

// DefaultSiegeParams returns the current siege balance.
func DefaultSiegeParams() SiegeParams {
	return SiegeParams{
		Alpha:           5,
		Beta:            10,
		Gamma:           2,
		BaseDropPerShot: 0.1,
		MinDrop:         1,
		WallResistance: map[string]float64{
			"city_wall":  1.0,
			"palisade":   1.5,
			"earth_wall": 2.0,
			"stone_wall": 1.8,
		},
	}
}

// Resistance returns the ram resistance multiplier of a wall type.
// Unknown types resist like a plain wall.
func (p SiegeParams) Resistance(wallType string) float64 {
	if m, ok := p.WallResistance[wallType]; ok && m > 0 {
		return m
	}
	return 1
}

// WallDrop returns how many wall levels the surviving rams knock down.
func WallDrop(rams int64, wallLevel int, wallType string, p SiegeParams) int {
	if rams <= 0 || wallLevel <= 0 {
		return 0
	}
	effective := float64(rams) / p.Resistance(wallType)
	denom := p.Beta + p.Gamma*float64(wallLevel)
	if denom <= 0 {
		return wallLevel
	}
	drop := int(math.Floor(p.Alpha * math.Log(1+effective/denom)))
	if drop < 0 {
		return 0
	}
	if drop > wallLevel {
		return wallLevel
	}
	return drop
}

// TargetingMode is how many buildings catapults may aim at.
type TargetingMode string

const (
	TargetingLocked TargetingMode = "locked"
	TargetingOne    TargetingMode = "one"
	TargetingTwo    TargetingMode = "two"
)

// TargetingLevel unlocks a mode from a rally point level upwards.
type TargetingLevel struct {
	MinLevel int           `yaml:"min_level"`
	Mode     TargetingMode `yaml:"mode"`
}

// DefaultTargeting locks targeting below level 3 and allows two targets
// from level 20.
func DefaultTargeting() []TargetingLevel {
	return []TargetingLevel{
		{MinLevel: 3, Mode: TargetingOne},
		{MinLevel: 20, Mode: TargetingTwo},
	}
}

// ModeForLevel picks the mode of the highest threshold not above level.
func ModeForLevel(level int, table []TargetingLevel) TargetingMode {
	sorted := append([]TargetingLevel(nil), table...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinLevel < sorted[j].MinLevel })
	mode := TargetingLocked
	for _, t := range sorted {
		if level >= t.MinLevel {
			mode = t.Mode
		}
	}
	return mode
}

// BuildingHits splits catapult shots across the requested targets. A
// locked mode or an empty target list deals no damage.
func BuildingHits(catapults int64, targets []string, mode TargetingMode, p SiegeParams) []model.BuildingHit {
	if catapults <= 0 || len(targets) == 0 {
		return nil
	}
	var shots []int64
	switch mode {
	case TargetingOne:
		shots = []int64{catapults}
	case TargetingTwo:
		if len(targets) == 1 || targets[0] == targets[1] {
			shots = []int64{catapults}
		} else {
			shots = []int64{(catapults + 1) / 2, catapults / 2}
		}
	default:
		return nil
	}
	var hits []model.BuildingHit
	for i, n := range shots {
		if n <= 0 {
			continue
		}
		drop := int(math.Floor(float64(n)*p.BaseDropPerShot + casualtyEpsilon))
		if drop < p.MinDrop {
			drop = p.MinDrop
		}
		hits = append(hits, model.BuildingHit{Target: targets[i], Shots: n, Drop: drop})
	}
	return hits
}
