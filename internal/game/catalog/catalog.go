// Package catalog provides the static ship type catalog loaded from YAML.
// Combat power, cargo capacity and the miner flag live here; per-commander
// counts live in the database.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ShipType is one entry of the ship catalog.
type ShipType struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	// CombatPower is the per-unit strength used by battle resolution.
	CombatPower int64 `yaml:"combat_power"`
	// Cargo is the per-unit cargo capacity in resource units.
	Cargo int64 `yaml:"cargo"`
	// Miner marks dedicated mining units; a fleet without one mines at
	// reduced efficiency.
	Miner bool `yaml:"miner"`
	// UnlockedByDefault marks ships every commander starts with; the rest
	// require research.
	UnlockedByDefault bool `yaml:"unlocked_by_default"`
	// ResearchPoints is the cost to unlock this type, zero for defaults.
	ResearchPoints int64 `yaml:"research_points"`
}

// yamlCatalogFile is the top-level YAML structure for the ship catalog.
type yamlCatalogFile struct {
	Ships []ShipType `yaml:"ships"`
}

// Catalog is the loaded, validated ship type registry.
type Catalog struct {
	byID  map[int64]ShipType
	order []int64
}

// Load reads and validates the ship catalog from a YAML file.
//
// Precondition: path must point to a valid catalog YAML file.
// Postcondition: Returns a catalog with at least one ship type, unique IDs
// and names, or a non-nil error.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ship catalog %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates a ship catalog from YAML bytes.
func LoadBytes(data []byte) (*Catalog, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing ship catalog YAML: %w", err)
	}
	if len(file.Ships) == 0 {
		return nil, fmt.Errorf("ship catalog contains no ship types")
	}

	c := &Catalog{byID: make(map[int64]ShipType, len(file.Ships))}
	names := make(map[string]bool, len(file.Ships))
	for _, s := range file.Ships {
		if s.ID <= 0 {
			return nil, fmt.Errorf("ship type %q: id must be > 0, got %d", s.Name, s.ID)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("ship type %d: name must not be empty", s.ID)
		}
		if s.CombatPower < 0 || s.Cargo < 0 || s.ResearchPoints < 0 {
			return nil, fmt.Errorf("ship type %q: negative attribute", s.Name)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate ship type id %d", s.ID)
		}
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate ship type name %q", s.Name)
		}
		names[s.Name] = true
		c.byID[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	return c, nil
}

// Get returns the ship type for id.
func (c *Catalog) Get(id int64) (ShipType, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// All returns every ship type in file order.
func (c *Catalog) All() []ShipType {
	out := make([]ShipType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of ship types.
func (c *Catalog) Len() int {
	return len(c.byID)
}

// CargoCapacity returns the total cargo capacity of the given unit counts
// and whether the fleet includes a dedicated miner.
func (c *Catalog) CargoCapacity(units map[int64]int64) (capacity int64, hasMiner bool) {
	for typeID, count := range units {
		s, ok := c.byID[typeID]
		if !ok {
			continue
		}
		capacity += s.Cargo * count
		if s.Miner && count > 0 {
			hasMiner = true
		}
	}
	return capacity, hasMiner
}
