// Package combat resolves one battle between an attacking composition and
// every stack garrisoned at the target village.
//
// Resolution is a pure function of its inputs: no randomness, no storage.
// Losses are applied per unit-type stack so compositions keep their
// ratios, and siege damage is computed from the surviving rams and
// catapults only.
package combat

import (
	"math"
	"sort"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/model"
)

// Params are the balance constants of the resolver.
type Params struct {
	// With r = attack/defense >= 1 the defender loses min(1, Major*r)
	// and the attacker min(AttackerCap, Minor/r). Below 1 the roles
	// flip: the attacker loses min(1, AttackerCap/r) and the defender
	// min(Major, Minor*r).
	Major       float64 `yaml:"major_loss"`
	Minor       float64 `yaml:"minor_loss"`
	AttackerCap float64 `yaml:"attacker_cap"`

	// RaidLethality scales both loss rates of a raid.
	RaidLethality float64 `yaml:"raid_lethality"`

	Siege     SiegeParams      `yaml:"siege"`
	Targeting []TargetingLevel `yaml:"targeting"`
}

// DefaultParams returns the current balance.
func DefaultParams() Params {
	return Params{
		Major:         0.6,
		Minor:         0.4,
		AttackerCap:   0.8,
		RaidLethality: 0.5,
		Siege:         DefaultSiegeParams(),
		Targeting:     DefaultTargeting(),
	}
}

// Input is everything a battle depends on.
type Input struct {
	Mission         model.Mission
	Attacker        model.Units
	Defenders       []model.GarrisonStack
	WallLevel       int
	WallType        string
	RallyPointLevel int
	CatapultTargets []string
}

// casualtyEpsilon absorbs float error in count*rate before flooring, so
// 10*0.3 yields 3 casualties rather than 2.
const casualtyEpsilon = 1e-9

// LossRates returns the attacker and defender loss rates for the given
// powers.
func LossRates(attackPower, defensePower int64, mission model.Mission, p Params) (attacker, defender float64) {
	switch {
	case attackPower <= 0:
		return 1, 0
	case defensePower <= 0:
		return 0, 1
	}
	r := float64(attackPower) / float64(defensePower)
	if r >= 1 {
		defender = math.Min(1, p.Major*r)
		attacker = math.Min(p.AttackerCap, p.Minor/r)
	} else {
		attacker = math.Min(1, p.AttackerCap/r)
		defender = math.Min(p.Major, p.Minor*r)
	}
	if mission == model.MissionRaid {
		attacker *= p.RaidLethality
		defender *= p.RaidLethality
	}
	return attacker, defender
}

func casualties(count int64, rate float64) int64 {
	if count <= 0 || rate <= 0 {
		return 0
	}
	c := int64(math.Floor(float64(count)*rate + casualtyEpsilon))
	if c > count {
		c = count
	}
	return c
}

// Resolve computes the outcome of one battle.
func Resolve(in Input, cat catalog.Catalog) (model.CombatResolution, error) {
	return ResolveWith(in, cat, DefaultParams())
}

// ResolveWith is Resolve with explicit balance constants.
func ResolveWith(in Input, cat catalog.Catalog, p Params) (model.CombatResolution, error) {
	var res model.CombatResolution

	attackerStats := make(map[string]model.UnitStats)
	for _, id := range in.Attacker.IDs() {
		u, ok := cat.Lookup(id)
		if !ok {
			return res, model.InputErrorf("unknown attacker unit %q", id)
		}
		attackerStats[id] = u
		res.AttackPower += in.Attacker[id] * u.Attack
	}
	defenderStats := make(map[string]model.UnitStats)
	for _, s := range in.Defenders {
		if s.Count <= 0 {
			continue
		}
		u, ok := cat.Lookup(s.UnitID)
		if !ok {
			return res, model.InputErrorf("unknown defender unit %q", s.UnitID)
		}
		defenderStats[s.UnitID] = u
		res.DefensePower += s.Count * u.Defense
	}

	res.AttackerLossRate, res.DefenderLossRate = LossRates(res.AttackPower, res.DefensePower, in.Mission, p)

	res.AttackerSurvivors = model.Units{}
	res.AttackerCasualties = model.Units{}
	for _, id := range in.Attacker.IDs() {
		n := in.Attacker[id]
		dead := casualties(n, res.AttackerLossRate)
		if dead > 0 {
			res.AttackerCasualties[id] = dead
		}
		if n-dead > 0 {
			res.AttackerSurvivors[id] = n - dead
			res.CarryCapacity += (n - dead) * attackerStats[id].Carry
		}
	}

	defenders := append([]model.GarrisonStack(nil), in.Defenders...)
	sort.SliceStable(defenders, func(i, j int) bool {
		if defenders[i].OwnerID != defenders[j].OwnerID {
			return defenders[i].OwnerID < defenders[j].OwnerID
		}
		return defenders[i].UnitID < defenders[j].UnitID
	})
	for _, s := range defenders {
		if s.Count <= 0 {
			continue
		}
		dead := casualties(s.Count, res.DefenderLossRate)
		if dead > 0 {
			c := s
			c.Count = dead
			res.DefenderCasualties = append(res.DefenderCasualties, c)
		}
		if s.Count-dead > 0 {
			r := s
			r.Count = s.Count - dead
			res.DefenderRemaining = append(res.DefenderRemaining, r)
		}
	}

	if in.Mission == model.MissionRaid {
		return res, nil
	}

	var rams, catapults int64
	for id, n := range res.AttackerSurvivors {
		switch attackerStats[id].Siege {
		case model.SiegeRam:
			rams += n
		case model.SiegeCatapult:
			catapults += n
		}
	}
	if rams > 0 && in.WallLevel > 0 {
		drop := WallDrop(rams, in.WallLevel, in.WallType, p.Siege)
		res.Wall = &model.WallDamage{
			Drop:      drop,
			FromLevel: in.WallLevel,
			ToLevel:   in.WallLevel - drop,
		}
	}
	if catapults > 0 {
		mode := ModeForLevel(in.RallyPointLevel, p.Targeting)
		res.BuildingHits = BuildingHits(catapults, in.CatapultTargets, mode, p.Siege)
	}
	return res, nil
}
