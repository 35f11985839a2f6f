// Package parser implements ports.ConfigParser for the host configuration
// formats.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/reglet-dev/extrunner/domain/ports"
	"gopkg.in/yaml.v3"
)

// YAMLParser decodes YAML documents.
type YAMLParser struct {
	// Strict rejects unknown fields.
	Strict bool
}

// Parse implements ports.ConfigParser.
func (p YAMLParser) Parse(data []byte, target any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(p.Strict)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// TOMLParser decodes TOML documents.
type TOMLParser struct {
	// Strict rejects unknown keys.
	Strict bool
}

// Parse implements ports.ConfigParser.
func (p TOMLParser) Parse(data []byte, target any) error {
	md, err := toml.Decode(string(data), target)
	if err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	if p.Strict {
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("parse toml: unknown keys %v", undecoded)
		}
	}
	return nil
}

// ForPath picks a parser from the file extension of path.
func ForPath(path string, strict bool) (ports.ConfigParser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLParser{Strict: strict}, nil
	case ".toml":
		return TOMLParser{Strict: strict}, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (expected .yaml, .yml or .toml)", filepath.Ext(path))
	}
}
