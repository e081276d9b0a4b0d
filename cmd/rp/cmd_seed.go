package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/rallypoint/pkg/model"
	"github.com/daviddao/rallypoint/pkg/store"
)

// worldFile is the YAML layout read by seed.
type worldFile struct {
	Villages []worldVillage `yaml:"villages"`
}

type worldVillage struct {
	ID         string                 `yaml:"id"`
	Owner      string                 `yaml:"owner"`
	Name       string                 `yaml:"name"`
	X          int                    `yaml:"x"`
	Y          int                    `yaml:"y"`
	WallType   string                 `yaml:"wall_type"`
	Protected  bool                   `yaml:"protected"`
	RallyPoint *worldRallyPoint       `yaml:"rally_point"`
	Buildings  map[string]int         `yaml:"buildings"`
	Garrison   map[string]model.Units `yaml:"garrison"` // owner -> units
}

type worldRallyPoint struct {
	Level        int               `yaml:"level"`
	WaveWindowMs int64             `yaml:"wave_window_ms"`
	Options      map[string]string `yaml:"options"`
}

const exampleWorld = `# rallypoint world file: rp seed world.yaml
villages:
  - id: rome
    owner: alice
    name: Roma
    x: 0
    y: 0
    wall_type: city_wall
    rally_point: {level: 10, wave_window_ms: 1000}
    buildings: {wall: 5}
    garrison:
      alice: {legionnaire: 200, equites_imperatoris: 50, battering_ram: 20, fire_catapult: 10}
  - id: ostia
    owner: alice
    x: 0
    y: 4
    garrison:
      alice: {praetorian: 100}
  - id: teuton-camp
    owner: bob
    x: 12
    y: 5
    wall_type: earth_wall
    buildings: {wall: 8, granary: 10}
    garrison:
      bob: {spearman: 150, paladin: 20}
  - id: gaul-farm
    owner: carol
    x: -6
    y: 9
    buildings: {trapper: 3}
    garrison:
      carol: {clubswinger: 60}
`

func loadWorld(path string) (*worldFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world: %w", err)
	}
	var w worldFile
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse world %s: %w", path, err)
	}
	seen := make(map[string]bool)
	for _, v := range w.Villages {
		if v.ID == "" || v.Owner == "" {
			return nil, fmt.Errorf("world %s: every village needs an id and an owner", path)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("world %s: duplicate village %q", path, v.ID)
		}
		seen[v.ID] = true
	}
	return &w, nil
}

// seedWorld writes every village of w in one transaction.
func seedWorld(ctx context.Context, repo store.Repository, w *worldFile) error {
	return repo.WithTx(ctx, func(tx store.Tx) error {
		for _, v := range w.Villages {
			if err := tx.CreateVillage(&model.Village{
				ID:                 v.ID,
				OwnerID:            v.Owner,
				Name:               v.Name,
				Coords:             model.Coordinates{X: v.X, Y: v.Y},
				WallType:           v.WallType,
				BeginnerProtection: v.Protected,
			}); err != nil {
				return err
			}
			if rp := v.RallyPoint; rp != nil {
				if err := tx.UpsertRallyPoint(&model.RallyPointState{
					VillageID: v.ID, Level: rp.Level, WaveWindowMs: rp.WaveWindowMs, Options: rp.Options,
				}); err != nil {
					return err
				}
			}
			kinds := make([]string, 0, len(v.Buildings))
			for k := range v.Buildings {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				if err := tx.SetBuildingLevel(v.ID, k, v.Buildings[k]); err != nil {
					return err
				}
			}
			for owner, units := range v.Garrison {
				for id, n := range units {
					if n < 0 {
						return fmt.Errorf("village %s: negative %s count for %s", v.ID, id, owner)
					}
					if err := tx.SetUnitCount(v.ID, owner, id, n); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (a *app) cmdSeed(args []string) int {
	flags := flag.NewFlagSet("seed", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rp seed <world.yaml> [--json]")
		return 1
	}

	w, err := loadWorld(pos[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rp: seed: %v\n", err)
		return 1
	}
	if err := seedWorld(context.Background(), a.store, w); err != nil {
		fmt.Fprintf(os.Stderr, "rp: seed: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"villages": len(w.Villages), "file": pos[0]})
	} else {
		fmt.Printf("seeded %d village(s) from %s\n", len(w.Villages), pos[0])
	}
	return 0
}

func (a *app) cmdInit(args []string) int {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	example := flags.String("example", "", "write an example world file to this path")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	wrote := false
	if *example != "" {
		if _, err := os.Stat(*example); err == nil {
			fmt.Fprintf(os.Stderr, "rp: init: %s already exists, not overwriting\n", *example)
		} else if err := os.WriteFile(*example, []byte(exampleWorld), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "rp: init: %v\n", err)
			return 1
		} else {
			wrote = true
		}
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"db": a.dbPath, "example": *example, "example_written": wrote})
		return 0
	}
	fmt.Printf("initialized rallypoint (db: %s)\n", a.dbPath)
	if wrote {
		fmt.Printf("  wrote example world to %s\n", *example)
	}
	fmt.Println()
	fmt.Println("next steps:")
	if wrote {
		fmt.Printf("  rp seed %s\n", *example)
	} else {
		fmt.Println("  rp seed <world.yaml>")
	}
	fmt.Println("  rp send --owner <id> --from <village> --to <village> --units id=n")
	fmt.Println("  rp watch       # resolve movements as they arrive")
	return 0
}
