package stubgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

func TestConfigValidate(t *testing.T) {
	base := Config{SourceWitRoot: "wit", TargetRoot: "out"}.WithDefaults()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing source", mutate: func(c *Config) { c.SourceWitRoot = "" }, wantErr: "source WIT root"},
		{name: "missing target", mutate: func(c *Config) { c.TargetRoot = "" }, wantErr: "target root"},
		{name: "bad stub version", mutate: func(c *Config) { c.StubVersion = "one" }, wantErr: "stub version"},
		{
			name: "both overrides",
			mutate: func(c *Config) {
				c.Transport = TransportOverride{Path: "/src/cm", Version: "0.3.0"}
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "relative path override",
			mutate:  func(c *Config) { c.Transport = TransportOverride{Path: "cm"} },
			wantErr: "absolute path",
		},
		{
			name:    "bad version override",
			mutate:  func(c *Config) { c.Transport = TransportOverride{Version: "latest"} },
			wantErr: "semantic version",
		},
		{name: "version override", mutate: func(c *Config) { c.Transport = TransportOverride{Version: "0.3.0"} }},
		{name: "path override", mutate: func(c *Config) { c.Transport = TransportOverride{Path: "/src/cm"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput})
		})
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, DefaultStubVersion, cfg.StubVersion)

	cfg = Config{StubVersion: "1.2.3"}.WithDefaults()
	assert.Equal(t, "1.2.3", cfg.StubVersion)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("TinyGo")
	require.NoError(t, err)
	assert.Equal(t, BackendTinyGo, b)
	assert.Equal(t, "tinygo", b.String())

	_, err = ParseBackend("rust")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rust")
}
