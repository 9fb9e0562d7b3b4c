package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPort             = 9321
	DefaultHotspotTolerance = 5
	DefaultCollection       = 5 * time.Second
	DefaultWarmup           = 3 * time.Second
)

// Config is everything a scenario run needs to reach and judge a target.
type Config struct {
	TargetIP          string `toml:"target_ip"`
	TargetPort        int    `toml:"target_port"`
	Profile           string `toml:"profile"`
	ProtocolVersion   uint32 `toml:"protocol_version"`
	CoreCount         int    `toml:"core_count"`
	HotspotAddress    uint64 `toml:"hotspot_address"`
	HotspotTolerance  uint64 `toml:"hotspot_tolerance"`
	ModuleOfInterest  string `toml:"module_of_interest"`
	UncoreSupported   bool   `toml:"uncore_supported"`
	CaptureDir        string `toml:"capture_dir"`
	ECBFile           string `toml:"ecb_file"`
	UncoreECBFile     string `toml:"uncore_ecb_file"`
	WarmupSeconds     int    `toml:"warmup_seconds"`
	CollectionSeconds int    `toml:"collection_seconds"`
}

// Load reads a TOML file. A named profile is applied first and every key the
// file sets explicitly overrides it.
func Load(path string) (Config, error) {
	var probe Config
	if _, err := toml.DecodeFile(path, &probe); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	var cfg Config
	if probe.Profile != "" {
		p, ok := LookupProfile(probe.Profile)
		if !ok {
			return Config{}, fmt.Errorf("config %s: unknown profile %q", path, probe.Profile)
		}
		cfg = p.Apply(cfg)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg = WithDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefaults fills every unset field that has a fixed default.
func WithDefaults(cfg Config) Config {
	if cfg.TargetPort == 0 {
		cfg.TargetPort = DefaultPort
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = 6
	}
	if cfg.HotspotTolerance == 0 {
		cfg.HotspotTolerance = DefaultHotspotTolerance
	}
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = "."
	}
	if cfg.ECBFile == "" {
		cfg.ECBFile = fmt.Sprintf("bin_ecb.config_%d_0_CPU_CLK_UNHALTED.REF_TSC", cfg.ProtocolVersion)
	}
	if cfg.UncoreECBFile == "" {
		cfg.UncoreECBFile = fmt.Sprintf("bin_ecb.config_%d_0_UNC_IMC_DRAM_RW_SLICE0_UNC_IMC_DRAM_RW_SLICE1", cfg.ProtocolVersion)
	}
	if cfg.WarmupSeconds == 0 {
		cfg.WarmupSeconds = int(DefaultWarmup / time.Second)
	}
	if cfg.CollectionSeconds == 0 {
		cfg.CollectionSeconds = int(DefaultCollection / time.Second)
	}
	return cfg
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.TargetIP) == "" {
		return fmt.Errorf("config missing target_ip")
	}
	if cfg.TargetPort <= 0 || cfg.TargetPort > 65535 {
		return fmt.Errorf("config target_port %d out of range", cfg.TargetPort)
	}
	if cfg.ProtocolVersion != 3 && cfg.ProtocolVersion != 6 {
		return fmt.Errorf("config protocol_version %d unsupported (want 3 or 6)", cfg.ProtocolVersion)
	}
	if cfg.CoreCount < 0 {
		return fmt.Errorf("config core_count %d is negative", cfg.CoreCount)
	}
	if cfg.WarmupSeconds < 0 || cfg.CollectionSeconds < 0 {
		return fmt.Errorf("config durations must not be negative")
	}
	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(c.TargetIP, fmt.Sprint(c.TargetPort))
}

func (c Config) Warmup() time.Duration {
	return time.Duration(c.WarmupSeconds) * time.Second
}

func (c Config) Collection() time.Duration {
	return time.Duration(c.CollectionSeconds) * time.Second
}
