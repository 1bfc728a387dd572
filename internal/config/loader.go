package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PREFSTUDY_"
	// EnvConfigFile names the optional YAML config file.
	EnvConfigFile = EnvPrefix + "CONFIG"
)

var validate = validator.New(validator.WithRequiredStructEnabled()) //nolint:gochecknoglobals // validators cache struct metadata

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PREFSTUDY_CONFIG is set
//  3. env (prefix PREFSTUDY_)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// Map env keys like PREFSTUDY_QUEUE_SIZE -> queue_size (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.SyncMode = strings.ToLower(strings.TrimSpace(cfg.SyncMode))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// catalogEntry is one item of a catalog manifest.
type catalogEntry struct {
	ID       string  `koanf:"id" validate:"required"`
	Filename string  `koanf:"filename" validate:"required"`
	ImageURL string  `koanf:"image_url"`
	Rating   float64 `koanf:"elo_rating" validate:"gte=0"`
}

type catalogFile struct {
	Items []catalogEntry `koanf:"items" validate:"required,min=1,dive"`
}

// LoadCatalog reads a YAML item manifest:
//
//	items:
//	  - id: img-001
//	    filename: image_1.jpg
//
// A missing image_url defaults to /images/<filename>; a missing rating to
// the baseline. Ids must be unique.
func LoadCatalog(_ context.Context, path string) ([]model.Item, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}

	var cf catalogFile
	if err := k.UnmarshalWithConf("", &cf, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, path, err)
	}
	if err := validate.Struct(cf); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, path, err)
	}

	seen := make(map[string]struct{}, len(cf.Items))
	items := make([]model.Item, 0, len(cf.Items))
	for _, e := range cf.Items {
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate id %q", ErrInvalidCatalog, path, e.ID)
		}
		seen[e.ID] = struct{}{}

		it := model.Item{ID: e.ID, Filename: e.Filename, ImageURL: e.ImageURL, Rating: e.Rating}
		if it.ImageURL == "" {
			it.ImageURL = "/images/" + it.Filename
		}
		if it.Rating == 0 {
			it.Rating = elo.BaselineRating
		}
		items = append(items, it)
	}
	return items, nil
}
