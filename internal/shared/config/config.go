package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"

	"socks5_inspector/internal/shared/types"
)

const (
	DefaultConcurrency    = 20
	MinConcurrency        = 1
	MaxConcurrency        = 100
	DefaultTimeoutSeconds = 15
	MinTimeoutSeconds     = 1
	MaxTimeoutSeconds     = 30
	DefaultProbeURL       = "http://cp.cloudflare.com/generate_204"
	DefaultGeoURL         = "http://ip-api.com/json/?lang=zh-CN"
	DefaultStoreBackend   = "file"
	DefaultStorePath      = "valid_proxies.txt"
	DefaultRedisKey       = "socks5_inspector:records"

	envPrefix = "INSPECTOR"
)

// Default 返回带有全部默认值的配置。
func Default() *types.Config {
	return &types.Config{
		CheckerConf: types.CheckerConf{
			Concurrency:    DefaultConcurrency,
			TimeoutSeconds: DefaultTimeoutSeconds,
			ProbeURL:       DefaultProbeURL,
			GeoURL:         DefaultGeoURL,
		},
		StoreConf: types.StoreConf{
			Backend:  DefaultStoreBackend,
			Path:     DefaultStorePath,
			RedisKey: DefaultRedisKey,
		},
		LogConf: types.LogConf{Level: "info"},
	}
}

// Load 读取 inspector.ini（可缺失），再叠加 .env 与环境变量，最后校验取值范围。
func Load(fileName string) (*types.Config, error) {
	cfg := Default()
	if err := LoadIni(cfg, fileName); err != nil {
		return nil, err
	}
	// Silently ignore if .env is missing (production might use real ENV vars)
	_ = godotenv.Load()
	if err := OverrideFromEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIni 将 ini 文件映射到 cfg 上。文件不存在时保留 cfg 原值。
func LoadIni(cfg *types.Config, fileName string) error {
	if fileName == "" {
		return nil
	}
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map config file '%s': %w", fileName, err)
	}
	return nil
}

// OverrideFromEnv applies INSPECTOR_<SECTION>_<KEY> variables on top of cfg.
func OverrideFromEnv(cfg *types.Config) error {
	sections := []struct {
		name   string
		target interface{}
	}{
		{"CHECKER", &cfg.CheckerConf},
		{"STORE", &cfg.StoreConf},
		{"WEB", &cfg.WebConf},
		{"LOG", &cfg.LogConf},
	}
	for _, s := range sections {
		if err := envconfig.Process(envPrefix+"_"+s.name, s.target); err != nil {
			return fmt.Errorf("failed to read %s_%s environment: %w", envPrefix, s.name, err)
		}
	}
	return nil
}

func applyDefaults(cfg *types.Config) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if strings.TrimSpace(cfg.ProbeURL) == "" {
		cfg.ProbeURL = DefaultProbeURL
	}
	if strings.TrimSpace(cfg.GeoURL) == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	if cfg.Backend == "" {
		cfg.Backend = DefaultStoreBackend
	}
	if cfg.RedisKey == "" {
		cfg.RedisKey = DefaultRedisKey
	}
}

// Validate checks the enumerated ranges of the checker options.
func Validate(cfg *types.Config) error {
	if cfg.Concurrency < MinConcurrency || cfg.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency_cap must be within %d-%d, got %d", MinConcurrency, MaxConcurrency, cfg.Concurrency)
	}
	if cfg.TimeoutSeconds < MinTimeoutSeconds || cfg.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("probe_timeout_seconds must be within %d-%d, got %d", MinTimeoutSeconds, MaxTimeoutSeconds, cfg.TimeoutSeconds)
	}
	if cfg.GeoRatePerMinute < 0 {
		return fmt.Errorf("geo_rate_per_minute must not be negative, got %d", cfg.GeoRatePerMinute)
	}
	switch strings.ToLower(cfg.Backend) {
	case "file", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	return nil
}
