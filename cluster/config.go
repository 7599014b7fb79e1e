// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package cluster

import (
	"fmt"
	"os"

	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/lower"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"

	"sigs.k8s.io/yaml"
)

// Config is the configuration file of a node.
// Every node of a cluster shares the table list.
type Config struct {
	// Listen is the address of this node,
	// which is also its Location.
	Listen job.Location `json:"listen"`
	// Workers bounds the worker pool;
	// zero means unbounded.
	Workers int `json:"workers,omitempty"`
	// Compression names the codec for exchanged
	// frames ("zstd", "s2" or "none").
	Compression string `json:"compression,omitempty"`
	// BatchSize is the number of rows per frame.
	BatchSize int `json:"batchSize,omitempty"`
	// Timeout bounds each query, e.g. "30s".
	Timeout string  `json:"timeout,omitempty"`
	Tables  []Table `json:"tables"`
}

// Table is the catalog entry of one table.
type Table struct {
	Name       string            `json:"name"`
	Schema     types.Schema      `json:"schema"`
	Keys       []int             `json:"keys"`
	Partitions []lower.Partition `json:"partitions"`
}

// LoadConfig reads and checks the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and checks a YAML config.
func ParseConfig(data []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if _, _, err := c.Catalog(); err != nil {
		return nil, err
	}
	return c, nil
}

// Catalog returns the tables of c
// and the resolver of their partitions.
func (c *Config) Catalog() (map[string]*physical.Table, lower.Static, error) {
	tables := make(map[string]*physical.Table, len(c.Tables))
	parts := make(lower.Static, len(c.Tables))
	owner := make(map[string]string)
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.Name == "" {
			return nil, nil, fmt.Errorf("table %d has no name", i)
		}
		if tables[t.Name] != nil {
			return nil, nil, fmt.Errorf("table %s defined twice", t.Name)
		}
		if len(t.Schema) == 0 || len(t.Keys) == 0 || len(t.Partitions) == 0 {
			return nil, nil, fmt.Errorf("table %s needs a schema, keys and partitions", t.Name)
		}
		for _, k := range t.Keys {
			if k < 0 || k >= len(t.Schema) {
				return nil, nil, fmt.Errorf("table %s: key column %d out of range", t.Name, k)
			}
		}
		// partitions share one store per node
		for _, p := range t.Partitions {
			if o, ok := owner[string(p.ID)]; ok {
				return nil, nil, fmt.Errorf("partition %s used by tables %s and %s", p.ID, o, t.Name)
			}
			owner[string(p.ID)] = t.Name
		}
		tables[t.Name] = &physical.Table{ID: t.Name, Schema: t.Schema, Keys: t.Keys}
		parts[t.Name] = t.Partitions
	}
	return tables, parts, nil
}

// Locations returns every location that
// serves a partition, in first-use order.
func (c *Config) Locations() []job.Location {
	var out []job.Location
	seen := make(map[job.Location]bool)
	for i := range c.Tables {
		for _, p := range c.Tables[i].Partitions {
			if !seen[p.Location] {
				seen[p.Location] = true
				out = append(out, p.Location)
			}
		}
	}
	return out
}
