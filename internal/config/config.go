package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vigil-backend/internal/cache"
)

type CacheConfig struct {
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttlHours"`
}

type WorkerConfig struct {
	PacketSubject  string      `yaml:"packetSubject"`
	ResultsSubject string      `yaml:"resultsSubject"`
	Cache          CacheConfig `yaml:"cache"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PacketSubject:  "packets.>",
		ResultsSubject: "detector.results",
		Cache: CacheConfig{
			Backend:  "memory",
			TTLHours: 168,
		},
	}
}

func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerConfig{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.PacketSubject == "" {
		return WorkerConfig{}, fmt.Errorf("packetSubject is required")
	}
	return cfg, nil
}

func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 168 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// BuildCache constructs the configured state cache backend.
func (c CacheConfig) BuildCache() (cache.Cache, error) {
	switch strings.ToLower(c.Backend) {
	case "redis":
		if c.Addr == "" {
			return nil, fmt.Errorf("redis addr required")
		}
		return cache.NewRedisCache(c.Addr, c.Password, c.DB)
	case "memory", "":
		return cache.NewMemoryCache(c.TTL()), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", c.Backend)
	}
}
