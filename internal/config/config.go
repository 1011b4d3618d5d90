// Package config loads the process-level configuration the teacher repo
// hardcodes inline in cmd/main.go (net.New("0.0.0.0", 9001, eng)): listen
// and multicast addresses, ring and arena sizing, the data directory, and
// the snapshot interval. Grounded on the teacher's call sites, generalized
// into a typed struct loaded from YAML via gopkg.in/yaml.v3, promoted here
// from an indirect to a direct dependency.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full set of knobs the supervisor needs to wire a runnable
// process: gateway transports, ring/arena sizing, and persistence paths.
type Config struct {
	// ListenAddr is the TCP address the gateway accepts the single client
	// connection on, e.g. "0.0.0.0:9001".
	ListenAddr string `yaml:"listen_addr"`

	// MulticastAddr is the UDP multicast group execution reports are
	// published to, e.g. "239.0.0.1:9002".
	MulticastAddr string `yaml:"multicast_addr"`

	// RingCapacity is the SPSC ring's slot count. Must be a power of two.
	RingCapacity uint64 `yaml:"ring_capacity"`

	// ArenaCapacity is the order book's arena slot count.
	ArenaCapacity uint32 `yaml:"arena_capacity"`

	// DataDir holds wal.bin and the snapshots/ directory.
	DataDir string `yaml:"data_dir"`

	// SnapshotInterval is the number of WAL records between automatic
	// snapshot captures. Zero disables automatic snapshotting.
	SnapshotInterval uint64 `yaml:"snapshot_interval"`

	// WorkerPoolSize bounds the gateway's connection-handling pool.
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// Default returns the configuration used when no file is supplied,
// matching the teacher's own hardcoded "0.0.0.0", 9001 call site.
func Default() Config {
	return Config{
		ListenAddr:       "0.0.0.0:9001",
		MulticastAddr:    "239.0.0.1:9002",
		RingCapacity:     1 << 14,
		ArenaCapacity:    1 << 20,
		DataDir:          "./data",
		SnapshotInterval: 10_000,
		WorkerPoolSize:   10,
	}
}

// Load reads and parses a YAML config file at path on top of Default:
// fields absent from the file keep their Default values, so a partial
// file is valid. A field set explicitly in the file, even to zero,
// overrides the default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants Load and Default both must satisfy: the
// ring capacity is a power of two and every size is positive.
func (c Config) Validate() error {
	if c.RingCapacity == 0 || c.RingCapacity&(c.RingCapacity-1) != 0 {
		return fmt.Errorf("config: ring_capacity must be a power of two, got %d", c.RingCapacity)
	}
	if c.ArenaCapacity == 0 {
		return fmt.Errorf("config: arena_capacity must be greater than zero")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.MulticastAddr == "" {
		return fmt.Errorf("config: multicast_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: worker_pool_size must be greater than zero")
	}
	return nil
}
