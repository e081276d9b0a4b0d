// Package model defines the core domain types for rallypoint.
//
// Rallypoint moves troops between villages of a persistent strategy world
// and resolves what happens when they arrive. Two ideas shape the model:
//
//   - Movements are timestamped, not ticked. A movement records when it
//     departs and when it arrives; an external scheduler polls for due
//     arrivals and the engine resolves each one in its own transaction.
//
//   - Units in transit belong to no garrison. Sending debits the origin
//     garrison immediately; the destination is credited only on arrival.
package model

import (
	"sort"
	"time"
)

// Coordinates are integer tile coordinates on the world map.
type Coordinates struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Units maps a unit type id to a nonnegative count.
type Units map[string]int64

// Total returns the sum of all counts.
func (u Units) Total() int64 {
	var n int64
	for _, c := range u {
		n += c
	}
	return n
}

// IsEmpty reports whether no unit type has a positive count.
func (u Units) IsEmpty() bool {
	for _, c := range u {
		if c > 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy without zero or negative entries.
func (u Units) Clone() Units {
	out := make(Units, len(u))
	for id, c := range u {
		if c > 0 {
			out[id] = c
		}
	}
	return out
}

// Add returns u + other as a new composition.
func (u Units) Add(other Units) Units {
	out := u.Clone()
	for id, c := range other {
		if c > 0 {
			out[id] += c
		}
	}
	return out
}

// IDs returns the unit ids with a positive count in lexical order.
func (u Units) IDs() []string {
	ids := make([]string, 0, len(u))
	for id, c := range u {
		if c > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Role classifies what a unit type does on the battlefield.
type Role string

const (
	RoleInfantry      Role = "infantry"
	RoleCavalry       Role = "cavalry"
	RoleScout         Role = "scout"
	RoleSiege         Role = "siege"
	RoleHero          Role = "hero"
	RoleAdministrator Role = "administrator"
	RoleSettler       Role = "settler"
)

// SiegeKind distinguishes wall breakers from building breakers.
type SiegeKind string

const (
	SiegeNone     SiegeKind = ""
	SiegeRam      SiegeKind = "ram"
	SiegeCatapult SiegeKind = "catapult"
)

// UnitStats is one entry of the unit catalog.
type UnitStats struct {
	ID              string    `json:"id" yaml:"id"`
	Role            Role      `json:"role" yaml:"role"`
	Speed           float64   `json:"speed" yaml:"speed"` // tiles per hour
	Carry           int64     `json:"carry" yaml:"carry"`
	Attack          int64     `json:"attack" yaml:"attack"`
	Defense         int64     `json:"defense" yaml:"defense"`
	Siege           SiegeKind `json:"siege,omitempty" yaml:"siege"`
	IsAdministrator bool      `json:"is_administrator,omitempty" yaml:"is_administrator"`
}

// Mission is the purpose of a movement.
type Mission string

const (
	MissionAttack    Mission = "attack"
	MissionRaid      Mission = "raid"
	MissionReinforce Mission = "reinforce"
	MissionSiege     Mission = "siege"
	MissionReturn    Mission = "return"
)

// Valid reports whether m is one of the known missions.
func (m Mission) Valid() bool {
	switch m {
	case MissionAttack, MissionRaid, MissionReinforce, MissionSiege, MissionReturn:
		return true
	}
	return false
}

// IsHostile reports whether the mission ends in combat.
func (m Mission) IsHostile() bool {
	switch m {
	case MissionAttack, MissionRaid, MissionSiege:
		return true
	case MissionReinforce, MissionReturn:
		return false
	}
	return false
}

// ArrivalPriority orders movements that land at the same instant:
// friendly arrivals first so defenders are credited before being hit.
func (m Mission) ArrivalPriority() int {
	switch m {
	case MissionReinforce, MissionReturn:
		return 0
	case MissionAttack, MissionRaid, MissionSiege:
		return 1
	}
	return 2
}

// MovementStatus is a movement's position in its lifecycle:
//
//	scheduled -> en_route -> resolved -> [returning -> done]
//	en_route -> cancelled
//	en_route (reinforce|return) -> done
//
// The engine debits the garrison in the same transaction that stores the
// movement, so the scheduled step is never persisted: movements are
// written en_route.
type MovementStatus string

const (
	StatusScheduled MovementStatus = "scheduled"
	StatusEnRoute   MovementStatus = "en_route"
	StatusResolved  MovementStatus = "resolved"
	StatusReturning MovementStatus = "returning"
	StatusDone      MovementStatus = "done"
	StatusCancelled MovementStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s MovementStatus) Terminal() bool {
	return s == StatusResolved || s == StatusDone || s == StatusCancelled
}

// Village is a settlement on the map.
type Village struct {
	ID                 string      `json:"id" yaml:"id"`
	OwnerID            string      `json:"owner_id" yaml:"owner_id"`
	Name               string      `json:"name" yaml:"name"`
	Coords             Coordinates `json:"coords" yaml:"coords"`
	WallType           string      `json:"wall_type,omitempty" yaml:"wall_type"`
	BeginnerProtection bool        `json:"beginner_protection,omitempty" yaml:"beginner_protection"`
}

// GarrisonStack is one owner's units of one type physically present at a
// village. A village may host stacks of several owners at once.
type GarrisonStack struct {
	VillageID string `json:"village_id"`
	OwnerID   string `json:"owner_id"`
	UnitID    string `json:"unit_id"`
	Count     int64  `json:"count"`
}

// RallyPointState gates wave precision and catapult targeting.
type RallyPointState struct {
	VillageID    string            `json:"village_id"`
	Level        int               `json:"level"`
	WaveWindowMs int64             `json:"wave_window_ms"`
	Options      map[string]string `json:"options,omitempty"`
}

// Movement is a scheduled or active troop movement.
type Movement struct {
	ID              string         `json:"id"`
	Mission         Mission        `json:"mission"`
	OwnerID         string         `json:"owner_id"`
	OriginVillageID string         `json:"origin_village_id"`
	TargetVillageID string         `json:"target_village_id,omitempty"`
	TargetCoords    Coordinates    `json:"target_coords"`
	DepartAt        time.Time      `json:"depart_at"`
	ArriveAt        time.Time      `json:"arrive_at"`
	Payload         Payload        `json:"payload"`
	Status          MovementStatus `json:"status"`
	IdempotencyKey  string         `json:"idempotency_key"`
	ParentID        string         `json:"parent_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Duration is the travel time of the movement.
func (m *Movement) Duration() time.Duration { return m.ArriveAt.Sub(m.DepartAt) }

// KeyScope namespaces idempotency keys. A client key only ever replays a
// client request; keys the engine derives for wave members and battle
// returns live in their own scopes.
type KeyScope string

const (
	ScopeClient KeyScope = "client"
	ScopeWave   KeyScope = "wave"
	ScopeReturn KeyScope = "return"
)

// KeyScope reports which namespace the movement's key belongs to.
func (m *Movement) KeyScope() KeyScope {
	switch {
	case m.Payload.WaveGroupID != "":
		return ScopeWave
	case m.ParentID != "":
		return ScopeReturn
	}
	return ScopeClient
}

// Payload is what a movement carries.
type Payload struct {
	Units            Units    `json:"units"`
	CatapultTargets  []string `json:"catapult_targets,omitempty"`
	WaveGroupID      string   `json:"wave_group_id,omitempty"`
	WaveIndex        int      `json:"wave_index,omitempty"`
	ReturnMovementID string   `json:"return_movement_id,omitempty"`
}

// WaveGroupStatus tracks a wave group as a whole.
type WaveGroupStatus string

const (
	WaveActive WaveGroupStatus = "active"
	WaveDone   WaveGroupStatus = "done"
)

// WaveGroup is a named strike whose members share one arrival time.
type WaveGroup struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	TargetVillageID string          `json:"target_village_id"`
	ArriveAt        time.Time       `json:"arrive_at"`
	WindowMs        int64           `json:"window_ms"`
	Status          WaveGroupStatus `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WaveMember links one movement into its wave group.
type WaveMember struct {
	GroupID         string         `json:"group_id"`
	Index           int            `json:"index"`
	MovementID      string         `json:"movement_id"`
	OriginVillageID string         `json:"origin_village_id"`
	OffsetMs        int64          `json:"offset_ms"`
	DepartAt        time.Time      `json:"depart_at"`
	ArriveAt        time.Time      `json:"arrive_at"`
	Status          MovementStatus `json:"status"`
}

// BuildingHit is catapult damage dealt to one building.
type BuildingHit struct {
	Target    string `json:"target"`
	Shots     int64  `json:"shots"`
	Drop      int    `json:"drop"`
	FromLevel int    `json:"from_level,omitempty"`
	ToLevel   int    `json:"to_level,omitempty"`
}

// WallDamage is ram damage dealt to the wall.
type WallDamage struct {
	Drop      int `json:"drop"`
	FromLevel int `json:"from_level"`
	ToLevel   int `json:"to_level"`
}

// CombatResolution is the outcome of one resolved attack.
type CombatResolution struct {
	AttackerLossRate   float64         `json:"attacker_loss_rate"`
	DefenderLossRate   float64         `json:"defender_loss_rate"`
	AttackPower        int64           `json:"attack_power"`
	DefensePower       int64           `json:"defense_power"`
	AttackerSurvivors  Units           `json:"attacker_survivors"`
	AttackerCasualties Units           `json:"attacker_casualties"`
	DefenderRemaining  []GarrisonStack `json:"defender_remaining"`
	DefenderCasualties []GarrisonStack `json:"defender_casualties"`
	Wall               *WallDamage     `json:"wall,omitempty"`
	BuildingHits       []BuildingHit   `json:"building_hits,omitempty"`
	CarryCapacity      int64           `json:"carry_capacity"`
}

// TrapCapture is one (unit, count) pair removed before combat.
type TrapCapture struct {
	UnitID string `json:"unit_id"`
	Count  int64  `json:"count"`
}

// MovementReport is the immutable battle report of a resolved attack.
type MovementReport struct {
	ID              string           `json:"id"`
	MovementID      string           `json:"movement_id"`
	Mission         Mission          `json:"mission"`
	AttackerID      string           `json:"attacker_id"`
	DefenderID      string           `json:"defender_id"`
	OriginVillageID string           `json:"origin_village_id"`
	TargetVillageID string           `json:"target_village_id"`
	Sent            Units            `json:"sent"`
	Trapped         []TrapCapture    `json:"trapped,omitempty"`
	Resolution      CombatResolution `json:"resolution"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// TrapPrisoner is a stack of attacker units held by a defender's traps.
type TrapPrisoner struct {
	ID              string    `json:"id"`
	VillageID       string    `json:"village_id"`
	OwnerID         string    `json:"owner_id"`
	OriginVillageID string    `json:"origin_village_id"`
	UnitID          string    `json:"unit_id"`
	Count           int64     `json:"count"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Building is one building level in a siege snapshot.
type Building struct {
	Kind  string `json:"kind" yaml:"kind"`
	Level int    `json:"level" yaml:"level"`
}

// Building kinds the engine reads from the siege snapshot.
const (
	BuildingWall    = "wall"
	BuildingTrapper = "trapper"
)

// SiegeSnapshot lists the buildings and resource fields of a village.
type SiegeSnapshot struct {
	VillageID string     `json:"village_id"`
	Buildings []Building `json:"buildings"`
}

// Level returns the level of the named building (0 when absent).
func (s *SiegeSnapshot) Level(kind string) int {
	if s == nil {
		return 0
	}
	for _, b := range s.Buildings {
		if b.Kind == kind {
			return b.Level
		}
	}
	return 0
}
