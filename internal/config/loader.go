package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment knobs read before anything else.
const (
	EnvPrefix  = "FORECAST_"
	EnvConfig  = "FORECAST_CONFIG"
	EnvDotFile = "FORECAST_ENV_FILE"
)

// Lists that replace the defaults wholesale when present in a layer.
var replacedLists = []string{
	"kpis",
	"engine.confidence.accuracy_bands",
	"engine.confidence.pipeline_bands",
}

// Load builds a Config by layering defaults, .env, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. .env file (FORECAST_ENV_FILE, default ".env"); never overrides the real environment
//  3. YAML file if FORECAST_CONFIG is set
//  4. env (prefix FORECAST_, "__" separates nested keys)
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// FORECAST_QUEUE_SIZE -> queue_size, FORECAST_ENGINE__CONVERSION_RATE -> engine.conversion_rate
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvConfig || s == EnvDotFile {
			return ""
		}
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	for _, key := range replacedLists {
		if k.Exists(key) {
			clearList(&cfg, key)
		}
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv(EnvDotFile)
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func clearList(cfg *Config, key string) {
	switch key {
	case "kpis":
		cfg.KPIs = nil
	case "engine.confidence.accuracy_bands":
		cfg.Engine.Confidence.AccuracyBands = nil
	case "engine.confidence.pipeline_bands":
		cfg.Engine.Confidence.PipelineBands = nil
	}
}
