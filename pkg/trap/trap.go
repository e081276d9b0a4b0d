// Package trap removes a prioritized subset of an attacking force before
// combat, up to the defender's free trap capacity.
//
// Units are sorted into tiers; tiers are drained in policy order and,
// within a tier, the largest stacks go first (ties by unit id). Captured
// units never fight and are never returned to the attacker.
package trap

import (
	"sort"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/model"
)

// Tier is one capture-priority class.
type Tier string

const (
	TierFastCavalry      Tier = "fast_cavalry"
	TierInfantry         Tier = "infantry"
	TierDefensiveCavalry Tier = "defensive_cavalry"
	TierCavalry          Tier = "cavalry"
	TierSiege            Tier = "siege"
	TierHero             Tier = "hero"
	TierAdministrator    Tier = "administrator"
	TierSettler          Tier = "settler"
)

// DefaultOrder is the capture priority used when a policy names none.
var DefaultOrder = []Tier{
	TierFastCavalry,
	TierInfantry,
	TierDefensiveCavalry,
	TierCavalry,
	TierSiege,
	TierHero,
	TierAdministrator,
	TierSettler,
}

// Policy controls which tiers a trapper may take and in what order.
type Policy struct {
	Order                 []Tier  `yaml:"order"`
	CaptureSiege          bool    `yaml:"capture_siege"`
	CaptureHeroes         bool    `yaml:"capture_heroes"`
	CaptureAdministrators bool    `yaml:"capture_administrators"`
	CaptureSettlers       bool    `yaml:"capture_settlers"`
	FastCavalrySpeed      float64 `yaml:"fast_cavalry_speed"`
}

// DefaultPolicy captures every tier in DefaultOrder.
func DefaultPolicy() Policy {
	return Policy{
		Order:                 append([]Tier(nil), DefaultOrder...),
		CaptureSiege:          true,
		CaptureHeroes:         true,
		CaptureAdministrators: true,
		CaptureSettlers:       true,
		FastCavalrySpeed:      16,
	}
}

func (p Policy) enabled(t Tier) bool {
	switch t {
	case TierSiege:
		return p.CaptureSiege
	case TierHero:
		return p.CaptureHeroes
	case TierAdministrator:
		return p.CaptureAdministrators
	case TierSettler:
		return p.CaptureSettlers
	}
	return true
}

func (p Policy) order() []Tier {
	if len(p.Order) == 0 {
		return DefaultOrder
	}
	return p.Order
}

// Classify places a unit type in exactly one tier.
func (p Policy) Classify(u model.UnitStats) Tier {
	fast := p.FastCavalrySpeed
	if fast <= 0 {
		fast = 16
	}
	switch {
	case u.Role == model.RoleHero:
		return TierHero
	case u.Role == model.RoleSettler:
		return TierSettler
	case u.Role == model.RoleAdministrator || u.IsAdministrator:
		return TierAdministrator
	case u.Role == model.RoleSiege || u.Siege != model.SiegeNone:
		return TierSiege
	case u.Role == model.RoleCavalry && u.Speed >= fast:
		return TierFastCavalry
	case u.Role == model.RoleInfantry || u.Role == model.RoleScout:
		return TierInfantry
	case u.Role == model.RoleCavalry && u.Defense-u.Attack > 1:
		return TierDefensiveCavalry
	default:
		return TierCavalry
	}
}

// Result is the outcome of a capture pass.
type Result struct {
	Remaining model.Units
	Captured  []model.TrapCapture
}

// CapturedTotal is the number of units taken.
func (r Result) CapturedTotal() int64 {
	var n int64
	for _, c := range r.Captured {
		n += c.Count
	}
	return n
}

// Capture takes up to freeTraps units out of attacker. Unknown unit ids
// are an input error; attacker is not modified.
func Capture(attacker model.Units, freeTraps int64, cat catalog.Catalog, policy Policy) (Result, error) {
	remaining := attacker.Clone()
	res := Result{Remaining: remaining}
	if freeTraps <= 0 || remaining.IsEmpty() {
		return res, nil
	}

	byTier := make(map[Tier][]string)
	for _, id := range remaining.IDs() {
		stats, ok := cat.Lookup(id)
		if !ok {
			return Result{}, model.InputErrorf("unknown unit %q", id)
		}
		t := policy.Classify(stats)
		byTier[t] = append(byTier[t], id)
	}

	left := freeTraps
	for _, tier := range policy.order() {
		if left == 0 {
			break
		}
		if !policy.enabled(tier) {
			continue
		}
		ids := byTier[tier]
		sort.SliceStable(ids, func(i, j int) bool {
			if remaining[ids[i]] != remaining[ids[j]] {
				return remaining[ids[i]] > remaining[ids[j]]
			}
			return ids[i] < ids[j]
		})
		for _, id := range ids {
			if left == 0 {
				break
			}
			take := remaining[id]
			if take == 0 {
				continue
			}
			if take > left {
				take = left
			}
			left -= take
			remaining[id] -= take
			if remaining[id] == 0 {
				delete(remaining, id)
			}
			res.Captured = append(res.Captured, model.TrapCapture{UnitID: id, Count: take})
		}
	}
	return res, nil
}
