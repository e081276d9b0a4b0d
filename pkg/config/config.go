// Package config holds the tunables of the movement engine. Default
// returns the current balance; Load overlays a YAML file on top of it.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/rallypoint/pkg/combat"
	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/trap"
)

// PrecisionLevel sets the timing tolerance from a rally point level up.
type PrecisionLevel struct {
	MinLevel    int   `yaml:"min_level"`
	PrecisionMs int64 `yaml:"precision_ms"`
}

// Config is every value the engine consumes.
type Config struct {
	CancelGraceMs       int64                         `yaml:"cancel_grace_ms"`
	ServerSpeed         float64                       `yaml:"server_speed"`
	DefaultWaveWindowMs int64                         `yaml:"default_wave_window_ms"`
	AllowedRoles        map[model.Mission][]model.Role `yaml:"allowed_roles"`
	Precision           []PrecisionLevel              `yaml:"precision"`
	TrapsPerLevel       int64                         `yaml:"traps_per_level"`
	MaxRallyPointLevel  int                           `yaml:"max_rally_point_level"`
	Combat              combat.Params                 `yaml:"combat"`
	Trapper             trap.Policy                   `yaml:"trapper"`
}

// Default returns the current balance.
func Default() Config {
	return Config{
		CancelGraceMs:       90_000,
		ServerSpeed:         1,
		DefaultWaveWindowMs: 1_000,
		AllowedRoles: map[model.Mission][]model.Role{
			model.MissionAttack: {
				model.RoleInfantry, model.RoleCavalry, model.RoleScout,
				model.RoleSiege, model.RoleHero, model.RoleAdministrator,
			},
			model.MissionSiege: {
				model.RoleInfantry, model.RoleCavalry, model.RoleScout,
				model.RoleSiege, model.RoleHero, model.RoleAdministrator,
			},
			model.MissionRaid: {
				model.RoleInfantry, model.RoleCavalry, model.RoleScout, model.RoleHero,
			},
			model.MissionReinforce: {
				model.RoleInfantry, model.RoleCavalry, model.RoleScout,
				model.RoleSiege, model.RoleHero, model.RoleAdministrator,
			},
		},
		Precision: []PrecisionLevel{
			{MinLevel: 0, PrecisionMs: 10_000},
			{MinLevel: 5, PrecisionMs: 5_000},
			{MinLevel: 10, PrecisionMs: 2_000},
			{MinLevel: 15, PrecisionMs: 1_000},
			{MinLevel: 20, PrecisionMs: 500},
		},
		TrapsPerLevel:      20,
		MaxRallyPointLevel: 20,
		Combat:             combat.DefaultParams(),
		Trapper:            trap.DefaultPolicy(),
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot work with.
func (c Config) Validate() error {
	if c.ServerSpeed <= 0 {
		return fmt.Errorf("server_speed must be positive, got %v", c.ServerSpeed)
	}
	if c.CancelGraceMs < 0 {
		return fmt.Errorf("cancel_grace_ms must not be negative")
	}
	if c.DefaultWaveWindowMs < 0 {
		return fmt.Errorf("default_wave_window_ms must not be negative")
	}
	if c.Combat.RaidLethality <= 0 || c.Combat.RaidLethality > 1 {
		return fmt.Errorf("combat.raid_lethality must be in (0, 1], got %v", c.Combat.RaidLethality)
	}
	if c.Combat.Major <= 0 || c.Combat.Minor <= 0 || c.Combat.AttackerCap <= 0 {
		return fmt.Errorf("combat loss constants must be positive")
	}
	for m := range c.AllowedRoles {
		if !m.Valid() || m == model.MissionReturn {
			return fmt.Errorf("allowed_roles: %q is not a sendable mission", m)
		}
	}
	return nil
}

// CancelGrace is the cancellation window as a duration.
func (c Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMs) * time.Millisecond
}

// RoleAllowed reports whether a unit role may join a mission.
func (c Config) RoleAllowed(m model.Mission, r model.Role) bool {
	for _, allowed := range c.AllowedRoles[m] {
		if allowed == r {
			return true
		}
	}
	return false
}

// PrecisionMs returns the timing tolerance of a rally point level: the
// entry with the highest MinLevel not above level.
func (c Config) PrecisionMs(level int) int64 {
	table := append([]PrecisionLevel(nil), c.Precision...)
	sort.Slice(table, func(i, j int) bool { return table[i].MinLevel < table[j].MinLevel })
	var p int64
	for i, t := range table {
		if i == 0 || level >= t.MinLevel {
			p = t.PrecisionMs
		}
	}
	return p
}

// TrapCapacity is the total trap count of a trapper at level.
func (c Config) TrapCapacity(trapperLevel int) int64 {
	if trapperLevel <= 0 {
		return 0
	}
	return int64(trapperLevel) * c.TrapsPerLevel
}
