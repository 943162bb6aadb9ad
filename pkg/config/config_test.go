package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

var errMissingRegistry = errors.New("registry path is required")

type healthSection struct {
	Interval     models.Duration `json:"interval"`
	Concurrency  int             `json:"concurrency"`
	ProbeTimeout models.Duration `json:"probe_timeout"`
}

type testConfig struct {
	RegistryPath string            `json:"registry_path"`
	Roles        []string          `json:"roles"`
	Debug        bool              `json:"debug"`
	Dialect      models.Dialect    `json:"dialect"`
	Health       healthSection     `json:"health"`
	Sweep        *healthSection    `json:"sweep,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`

	validated bool
}

func (c *testConfig) Validate() error {
	c.validated = true

	if c.RegistryPath == "" {
		return errMissingRegistry
	}

	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "posedge.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{"registry_path":"/etc/posedge/devices.json","health":{"interval":"45s","concurrency":8}}`)

	var cfg testConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.True(t, cfg.validated)
	assert.Equal(t, "/etc/posedge/devices.json", cfg.RegistryPath)
	assert.Equal(t, models.Duration(45*time.Second), cfg.Health.Interval)
	assert.Equal(t, 8, cfg.Health.Concurrency)
}

func TestLoadFromFileRejectsUnknownKeys(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeConfig(t, `{"registry_path":"x","helth":{}}`)

	var cfg testConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helth")
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	var cfg testConfig

	loader := NewConfig(logger.NewTestLogger())

	require.ErrorIs(t, loader.LoadAndValidate(context.Background(), "", &cfg), errEmptyPath)
	require.ErrorIs(t, loader.LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "missing.json"), &cfg), os.ErrNotExist)

	path := writeConfig(t, `{"health":{}}`)
	require.ErrorIs(t, loader.LoadAndValidate(context.Background(), path, &cfg), errMissingRegistry)
}

func TestLoadFromEnvVariables(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("POSEDGE_REGISTRY_PATH", "/data/devices.json")
	t.Setenv("POSEDGE_ROLES", "kitchen, bar")
	t.Setenv("POSEDGE_DEBUG", "true")
	t.Setenv("POSEDGE_DIALECT", "label")
	t.Setenv("POSEDGE_HEALTH_INTERVAL", "1m")
	t.Setenv("POSEDGE_HEALTH_CONCURRENCY", "4")
	t.Setenv("POSEDGE_SWEEP_INTERVAL", "15s")

	var cfg testConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "/data/devices.json", cfg.RegistryPath)
	assert.Equal(t, []string{"kitchen", "bar"}, cfg.Roles)
	assert.True(t, cfg.Debug)
	assert.Equal(t, models.DialectLabel, cfg.Dialect)
	assert.Equal(t, models.Duration(time.Minute), cfg.Health.Interval)
	assert.Equal(t, 4, cfg.Health.Concurrency)
	require.NotNil(t, cfg.Sweep)
	assert.Equal(t, models.Duration(15*time.Second), cfg.Sweep.Interval)
}

func TestEnvLoaderLeavesUnsetSectionsNil(t *testing.T) {
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("POSEDGE_REGISTRY_PATH", "/data/devices.json")
	t.Setenv("POSEDGE_HEADERS", "x-tenant = till-1, x-env=prod")

	cfg := testConfig{Roles: []string{"kitchen"}}
	require.NoError(t, NewEnvConfigLoader(logger.NewTestLogger(), "").Load(context.Background(), "", &cfg))

	assert.Nil(t, cfg.Sweep)
	assert.Equal(t, []string{"kitchen"}, cfg.Roles, "unset variables keep existing values")
	assert.Equal(t, map[string]string{"x-tenant": "till-1", "x-env": "prod"}, cfg.Headers)
}

func TestEnvLoaderPrefix(t *testing.T) {
	t.Setenv("CONFIG_ENV_PREFIX", "")
	assert.Equal(t, DefaultEnvPrefix, NewEnvConfigLoader(nil, "").Prefix())

	t.Setenv("CONFIG_ENV_PREFIX", "TILL_")
	assert.Equal(t, "TILL_", NewEnvConfigLoader(nil, "").Prefix())
	assert.Equal(t, "X_", NewEnvConfigLoader(nil, "X_").Prefix())
}

func TestEnvLoaderRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{name: "duration", env: "T_HEALTH_INTERVAL", value: "soon"},
		{name: "int", env: "T_HEALTH_CONCURRENCY", value: "many"},
		{name: "bool", env: "T_DEBUG", value: "perhaps"},
		{name: "dialect", env: "T_DIALECT", value: "dotmatrix"},
		{name: "pairs", env: "T_HEADERS", value: "novalue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)

			err := NewEnvConfigLoader(logger.NewTestLogger(), "T_").Load(context.Background(), "", &testConfig{})
			require.ErrorIs(t, err, errInvalidEnvValue)
			assert.Contains(t, err.Error(), tt.env)
		})
	}
}

func TestEnvLoaderUnsupportedKind(t *testing.T) {
	t.Setenv("T_RATIO", "0.5")

	var cfg struct {
		Ratio float64 `json:"ratio"`
	}

	err := NewEnvConfigLoader(nil, "T_").Load(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errUnsupportedFieldKind)

	require.ErrorIs(t, NewEnvConfigLoader(nil, "T_").Load(context.Background(), "", cfg), ErrDstMustBePointerToStruct)
}

func TestLoadFromEnvJSONDocument(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "EDGE_")
	t.Setenv("EDGE_CONFIG_JSON", `{"registry_path":"/json/devices.json","health":{"probe_timeout":"2s"}}`)
	t.Setenv("EDGE_REGISTRY_PATH", "/ignored.json")

	var cfg testConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "/json/devices.json", cfg.RegistryPath)
	assert.Equal(t, models.Duration(2*time.Second), cfg.Health.ProbeTimeout)
}

func TestLoadFromKVOverlaysFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	ctx := context.Background()
	path := writeConfig(t, `{"registry_path":"/file/devices.json","health":{"interval":"45s","concurrency":8}}`)

	store := kv.NewMemoryStore()
	require.NoError(t, store.Put(ctx, KeyFor(path), []byte(`{"health":{"interval":"10s"}}`)))

	loader := NewConfig(logger.NewTestLogger())

	var cfg testConfig
	require.ErrorIs(t, loader.LoadAndValidate(ctx, path, &cfg), errKVStoreNotSet)

	loader.SetKVStore(store)
	require.NoError(t, loader.LoadAndValidate(ctx, path, &cfg))

	assert.Equal(t, "/file/devices.json", cfg.RegistryPath)
	assert.Equal(t, models.Duration(10*time.Second), cfg.Health.Interval)
	assert.Equal(t, 8, cfg.Health.Concurrency)
}

func TestLoadFromKVFallsBackToFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	ctx := context.Background()
	path := writeConfig(t, `{"registry_path":"/file/devices.json"}`)

	loader := NewConfig(logger.NewTestLogger())
	loader.SetKVStore(kv.NewMemoryStore())

	var cfg testConfig
	require.NoError(t, loader.LoadAndValidate(ctx, path, &cfg))
	assert.Equal(t, "/file/devices.json", cfg.RegistryPath)

	err := loader.LoadAndValidate(ctx, filepath.Join(t.TempDir(), "missing.json"), &testConfig{})
	require.ErrorIs(t, err, errLoadConfigFailed)
	assert.ErrorIs(t, err, errKVKeyNotFound)
}

func TestInvalidConfigSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "x.json", &testConfig{})
	assert.ErrorIs(t, err, errInvalidConfigSource)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "config/posedge.json", KeyFor("/etc/posedge/posedge.json"))
	assert.Equal(t, "config/posedge.json", KeyFor("posedge.json"))
}
