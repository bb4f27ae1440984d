package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tracksync/tracksync/domain/shard"
)

// ShardsFile is the on-disk shard policy declaration.
//
//	policy: range
//	range:
//	  start: 0
//	  end: 100000000
//
// or
//
//	policy: explicit
//	explicit:
//	  shard_count: 4
//	  replication_factor: 1
//	  owned: [0, 1]
//	  layout:
//	    node1: [0, 1]
//	    node2: [2, 3]
type ShardsFile struct {
	Policy   string        `yaml:"policy"`
	Range    RangeShards   `yaml:"range"`
	Explicit ExplicitShard `yaml:"explicit"`
}

// RangeShards declares an identifier-range policy.
type RangeShards struct {
	Start            int64   `yaml:"start"`
	End              int64   `yaml:"end"`
	MidpointFraction float64 `yaml:"midpoint_fraction"`
	SafeFraction     float64 `yaml:"safe_fraction"`
}

// ExplicitShard declares a static shard assignment.
type ExplicitShard struct {
	ShardCount        int              `yaml:"shard_count"`
	ReplicationFactor int              `yaml:"replication_factor"`
	Owned             []int            `yaml:"owned"`
	Layout            map[string][]int `yaml:"layout"`
}

// LoadShardsFile parses a shard policy YAML file.
func LoadShardsFile(path string) (ShardsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ShardsFile{}, fmt.Errorf("read shards file: %w", err)
	}
	var sf ShardsFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return ShardsFile{}, fmt.Errorf("parse shards file: %w", err)
	}
	return sf, nil
}

// Router builds the declared shard router, validating explicit layouts
// at startup. A file declaring no policy yields a nil router, meaning
// this instance owns everything.
func (sf ShardsFile) Router() (shard.Router, error) {
	switch sf.Policy {
	case "":
		return nil, nil
	case "range":
		p := shard.ReconstructRangePolicy(
			sf.Range.Start, sf.Range.End, false,
			sf.Range.MidpointFraction, sf.Range.SafeFraction,
		)
		return p, nil
	case "explicit":
		if len(sf.Explicit.Layout) > 0 {
			if err := shard.ValidateLayout(sf.Explicit.ShardCount, sf.Explicit.ReplicationFactor, sf.Explicit.Layout); err != nil {
				return nil, err
			}
		}
		return shard.NewExplicitPolicy(sf.Explicit.ShardCount, sf.Explicit.Owned)
	default:
		return nil, fmt.Errorf("unknown shard policy %q", sf.Policy)
	}
}
