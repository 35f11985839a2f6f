package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name    string        `yaml:"name" toml:"name"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

func TestYAMLParser(t *testing.T) {
	var d doc
	require.NoError(t, YAMLParser{}.Parse([]byte("name: widgets\ntimeout: 250ms\n"), &d))
	assert.Equal(t, doc{Name: "widgets", Timeout: 250 * time.Millisecond}, d)

	require.NoError(t, YAMLParser{}.Parse(nil, &d))

	err := YAMLParser{Strict: true}.Parse([]byte("name: x\nextra: 1\n"), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

func TestTOMLParser(t *testing.T) {
	var d doc
	require.NoError(t, TOMLParser{}.Parse([]byte("name = \"widgets\"\ntimeout = \"2s\"\n"), &d))
	assert.Equal(t, doc{Name: "widgets", Timeout: 2 * time.Second}, d)

	err := TOMLParser{Strict: true}.Parse([]byte("name = \"x\"\nextra = 1\n"), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")

	require.Error(t, TOMLParser{}.Parse([]byte("name = "), &d))
}

func TestForPath(t *testing.T) {
	p, err := ForPath("host.YAML", false)
	require.NoError(t, err)
	assert.IsType(t, YAMLParser{}, p)

	p, err = ForPath("/etc/extrunner/host.toml", true)
	require.NoError(t, err)
	assert.Equal(t, TOMLParser{Strict: true}, p)

	_, err = ForPath("host.json", false)
	require.Error(t, err)
}
