package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/account-service/internal/model"
)

//go:embed default.yaml
var defaultConfig []byte

// GroupRoleDef describes one role available inside a group.
type GroupRoleDef struct {
	Name        string `yaml:"name"`
	Default     bool   `yaml:"default"`
	Weight      int    `yaml:"weight"`
	Description string `yaml:"description"`
}

// GroupDef is the catalogue entry for a group.
type GroupDef struct {
	Description string         `yaml:"description"`
	Roles       []GroupRoleDef `yaml:"roles"`
}

// Config is the on-disk shape of the access-control file.
type Config struct {
	Roles  map[string]RoleDef  `yaml:"roles"`
	Groups map[string]GroupDef `yaml:"groups"`
}

// Parse decodes a YAML access-control document and builds its graph.
func Parse(data []byte) (*Config, *Graph, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("rbac: decode config: %w", err)
	}
	if len(cfg.Roles) == 0 {
		return nil, nil, fmt.Errorf("rbac: config defines no roles")
	}
	for group, def := range cfg.Groups {
		defaults := 0
		for _, r := range def.Roles {
			if r.Default {
				defaults++
			}
		}
		if defaults > 1 {
			return nil, nil, fmt.Errorf("rbac: group %q has %d default roles", group, defaults)
		}
	}
	g, err := NewGraph(cfg.Roles)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, g, nil
}

// LoadFile reads path, or the built-in configuration when path is empty.
func LoadFile(path string) (*Config, *Graph, error) {
	if path == "" {
		return Parse(defaultConfig)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("rbac: read %s: %w", path, err)
	}
	return Parse(data)
}

// GroupRoles flattens the group catalogue into table rows, ordered by
// group then descending weight.
func (c *Config) GroupRoles() []model.GroupRole {
	var rows []model.GroupRole
	for group, def := range c.Groups {
		for _, r := range def.Roles {
			rows = append(rows, model.GroupRole{
				Group:       group,
				RoleName:    r.Name,
				IsDefault:   r.Default,
				Weight:      r.Weight,
				Description: r.Description,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Group != rows[j].Group {
			return rows[i].Group < rows[j].Group
		}
		if rows[i].Weight != rows[j].Weight {
			return rows[i].Weight > rows[j].Weight
		}
		return rows[i].RoleName < rows[j].RoleName
	})
	return rows
}
