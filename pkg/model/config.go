package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VectorParams describes one named vector's fixed shape within a collection
// (spec.md §3, §6).
type VectorParams struct {
	Size                    uint32   `yaml:"size" json:"size"`
	Distance                Distance `yaml:"-" json:"distance"`
	DistanceName            string   `yaml:"distance" json:"-"`
	Multivector             bool     `yaml:"multivector" json:"multivector"`
	MultivectorAggregation  string   `yaml:"multivector_aggregation" json:"multivector_aggregation"`
}

// HnswConfig holds the graph-build/search parameters of spec.md §6.
type HnswConfig struct {
	M                   uint32  `yaml:"m" json:"m"`
	EfConstruct         uint32  `yaml:"ef_construct" json:"ef_construct"`
	Ef                  uint32  `yaml:"ef" json:"ef"`
	FullScanThresholdKB uint32  `yaml:"full_scan_threshold_kb" json:"full_scan_threshold_kb"`
	MaxIndexingThreads  uint32  `yaml:"max_indexing_threads" json:"max_indexing_threads"`
	PayloadM            *uint32 `yaml:"payload_m,omitempty" json:"payload_m,omitempty"`
	PayloadM0           *uint32 `yaml:"payload_m0,omitempty" json:"payload_m0,omitempty"`
	IndexedVectorCount  uint32  `yaml:"-" json:"indexed_vector_count"`
}

// DefaultHnswConfig mirrors the widely used production defaults: m=16,
// ef_construct=100, a 20KB full-scan threshold.
func DefaultHnswConfig() HnswConfig {
	return HnswConfig{
		M:                   16,
		EfConstruct:         100,
		Ef:                  128,
		FullScanThresholdKB: 20,
		MaxIndexingThreads:  0, // 0 = use all available
	}
}

// FullScanThresholdPoints converts the configured KB threshold into a point
// count using the average vector size in bytes (spec.md §6).
func (c HnswConfig) FullScanThresholdPoints(avgVectorBytes uint32) uint32 {
	if avgVectorBytes == 0 {
		return c.FullScanThresholdKB * 1024
	}
	return (c.FullScanThresholdKB * 1024) / avgVectorBytes
}

// QuantizationConfig controls lossy vector compression and its optional
// rescore pass over raw vectors (spec.md §3, §4.2).
type QuantizationConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	Bits            int     `yaml:"bits" json:"bits"` // 8 (scalar) or 1 (binary)
	Rescore         bool    `yaml:"rescore" json:"rescore"`
	Oversampling    float64 `yaml:"oversampling" json:"oversampling"`
	IgnoreByDefault bool    `yaml:"ignore_by_default" json:"ignore_by_default"`
}

// CollectionConfig is a collection's vector schema, HNSW parameters,
// quantization, and shard/replication layout (spec.md §3).
type CollectionConfig struct {
	Name               string                  `yaml:"name" json:"name"`
	Vectors            map[VectorName]VectorParams `yaml:"vectors" json:"vectors"`
	Hnsw               HnswConfig              `yaml:"hnsw" json:"hnsw"`
	Quantization       *QuantizationConfig     `yaml:"quantization,omitempty" json:"quantization,omitempty"`
	ShardCount         uint32                  `yaml:"shard_count" json:"shard_count"`
	ReplicationFactor  uint32                  `yaml:"replication_factor" json:"replication_factor"`
	RingScale          uint32                  `yaml:"ring_scale" json:"ring_scale"` // fair-ring replicas per shard; 0 -> 100 default
}

func distanceFromName(name string) (Distance, error) {
	switch name {
	case "cosine", "":
		return DistanceCosine, nil
	case "dot":
		return DistanceDot, nil
	case "euclid":
		return DistanceEuclid, nil
	case "manhattan":
		return DistanceManhattan, nil
	default:
		return 0, fmt.Errorf("unknown distance %q", name)
	}
}

// Validate checks structural invariants of a collection configuration and
// resolves string-encoded distance names into the Distance enum.
func (c *CollectionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	if len(c.Vectors) == 0 {
		return fmt.Errorf("collection %q must declare at least one named vector", c.Name)
	}
	for name, vp := range c.Vectors {
		if vp.Size == 0 {
			return fmt.Errorf("vector %q: size must be > 0", name)
		}
		d, err := distanceFromName(vp.DistanceName)
		if err != nil {
			return fmt.Errorf("vector %q: %w", name, err)
		}
		vp.Distance = d
		c.Vectors[name] = vp
	}
	if c.ShardCount == 0 {
		c.ShardCount = 1
	}
	if c.RingScale == 0 {
		c.RingScale = 100
	}
	if c.Hnsw.M == 0 {
		c.Hnsw = DefaultHnswConfig()
	}
	return nil
}

// LoadCollectionConfigYAML loads a declarative collection manifest, in the
// style of the teacher's cmd/warren/apply.go YAML manifests.
func LoadCollectionConfigYAML(path string) (*CollectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collection manifest: %w", err)
	}
	var cfg CollectionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse collection manifest: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
