// Package config loads the host configuration from a YAML or TOML file,
// applies EXTRUNNER_* environment overrides and validates the result.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/infrastructure/parser"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXTRUNNER_"

// Extension names an extension to load and the files to launch from it.
type Extension struct {
	Type    entities.OriginType `yaml:"type" toml:"type" validate:"required,oneof=github npm"`
	Name    string              `yaml:"name" toml:"name" validate:"required"`
	Version string              `yaml:"version" toml:"version" validate:"required"`
	Launch  []string            `yaml:"launch" toml:"launch"`
}

// Ref returns the module reference of the extension.
func (e Extension) Ref() entities.ModuleRef {
	return entities.ModuleRef{Type: e.Type, Name: e.Name, Version: e.Version}
}

// File is the host configuration document.
type File struct {
	// CDNURL overrides the base URL package files are fetched from.
	CDNURL     string          `yaml:"cdn_url" toml:"cdn_url" env:"CDN_URL" validate:"omitempty,url"`
	LogFormat  string          `yaml:"log_format" toml:"log_format" env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
	Extensions []Extension     `yaml:"extensions" toml:"extensions" validate:"dive"`
	Host       entities.Config `yaml:"host" toml:"host"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{Host: entities.DefaultConfig(), LogFormat: "text"}
}

var validate = validator.New()

// Load reads path (when not empty), applies environment overrides and
// validates the result. Zero timeouts fall back to their defaults.
func Load(path string) (File, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("read config: %w", err)
		}
		p, err := parser.ForPath(path, true)
		if err != nil {
			return File{}, err
		}
		if err := p.Parse(data, &cfg); err != nil {
			return File{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return File{}, err
	}
	cfg.Host = cfg.Host.Normalize()

	if err := validate.Struct(cfg); err != nil {
		return File{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with EXTRUNNER_* environment variables.
func ApplyEnv(cfg *File) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
