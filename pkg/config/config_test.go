package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
)

func TestDefaults(t *testing.T) {
	tf.UnitTest(t)

	cfg := NewDefaultConfig()

	assert.Equal(t, uint32(4096), cfg.MaxCallDepth)
	assert.Equal(t, uint32(0), cfg.InitialPages)
	assert.Equal(t, uint32(1024), cfg.MaxPages)
	assert.False(t, cfg.Debug)
	assert.NoError(t, cfg.Validate())
}

func TestConfigRoundtrip(t *testing.T) {
	tf.UnitTest(t)

	dir := t.TempDir()
	cfgpath := filepath.Join(dir, "config.toml")

	cfg := NewDefaultConfig()
	cfg.MaxPages = 2048
	cfg.Debug = true
	require.NoError(t, cfg.WriteFile(cfgpath))

	cfgout, err := ReadFile(cfgpath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfgout)
}

func TestReadFilePartial(t *testing.T) {
	tf.UnitTest(t)

	dir := t.TempDir()
	cfgpath := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(cfgpath, []byte("maxCallDepth = 12\n"), 0644))

	cfg, err := ReadFile(cfgpath)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), cfg.MaxCallDepth)
	assert.Equal(t, uint32(1024), cfg.MaxPages)
}

func TestReadFileInvalid(t *testing.T) {
	tf.UnitTest(t)

	dir := t.TempDir()
	cfgpath := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(cfgpath, []byte("initialPages = 10\nmaxPages = 1\n"), 0644))

	_, err := ReadFile(cfgpath)
	assert.Error(t, err)

	_, err = ReadFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestGetSet(t *testing.T) {
	tf.UnitTest(t)

	cfg := NewDefaultConfig()

	v, err := cfg.Set("maxPages", "16")
	require.NoError(t, err)
	assert.Equal(t, uint32(16), v)
	assert.Equal(t, uint32(16), cfg.MaxPages)

	_, err = cfg.Set("debug", "true")
	require.NoError(t, err)
	got, err := cfg.Get("debug")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	_, err = cfg.Set("maxPages", "lots")
	assert.Error(t, err)
	_, err = cfg.Get("nope")
	assert.Error(t, err)
}
