package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/pipes-go/cbor"
)

func TestLoadDefaults(t *testing.T) {
	v := NewViper()
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("does-not-exist")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Protocol.PrivateEncoding)
	assert.False(t, cfg.Protocol.DrainUnread)
	assert.Equal(t, cbor.DefaultMaxFrame, cfg.Limits().MaxFrame)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  format: json
  level: debug
transport:
  down_file: /tmp/down
  up_file: /tmp/up
protocol:
  private_encoding: false
  max_frame: 4096
`), 0o600))

	v := NewViper()
	v.SetConfigFile(path)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/down", cfg.Transport.DownFile)
	assert.Equal(t, "/tmp/up", cfg.Transport.UpFile)
	assert.False(t, cfg.Protocol.PrivateEncoding)
	assert.Equal(t, 4096, cfg.Limits().MaxFrame)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PIPES_TRANSPORT_ADDRESS", "127.0.0.1:5555")
	t.Setenv("PIPES_LOG_LEVEL", "warn")

	v := NewViper()
	v.AddConfigPath(t.TempDir())
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5555", cfg.Transport.Address)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsAddressWithFilePair(t *testing.T) {
	t.Setenv("PIPES_TRANSPORT_ADDRESS", "127.0.0.1:5555")
	t.Setenv("PIPES_TRANSPORT_DOWN_FILE", "/tmp/down")
	t.Setenv("PIPES_TRANSPORT_UP_FILE", "/tmp/up")

	v := NewViper()
	v.AddConfigPath(t.TempDir())
	_, err := Load(v)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o600))

	v := NewViper()
	v.SetConfigFile(path)
	_, err := Load(v)
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Log:      LogConfig{Format: "text", Level: "info"},
			Protocol: ProtocolConfig{PrivateEncoding: true, MaxFrame: 1024},
		}
	}

	require.NoError(t, valid().Validate())

	withFiles := valid()
	withFiles.Transport = TransportConfig{DownFile: "/tmp/down", UpFile: "/tmp/up"}
	require.NoError(t, withFiles.Validate())

	withAddress := valid()
	withAddress.Transport = TransportConfig{Address: "127.0.0.1:9000"}
	require.NoError(t, withAddress.Validate())

	tests := map[string]func(c *Config){
		"bad_format":      func(c *Config) { c.Log.Format = "xml" },
		"bad_level":       func(c *Config) { c.Log.Level = "loud" },
		"tiny_frame":      func(c *Config) { c.Protocol.MaxFrame = 8 },
		"huge_frame":      func(c *Config) { c.Protocol.MaxFrame = cbor.MaxFrameHardLimit + 1 },
		"down_without_up": func(c *Config) { c.Transport.DownFile = "/tmp/down" },
		"up_without_down": func(c *Config) { c.Transport.UpFile = "/tmp/up" },
		"address_and_files": func(c *Config) {
			c.Transport = TransportConfig{Address: "127.0.0.1:9000", DownFile: "/tmp/down", UpFile: "/tmp/up"}
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			err := cfg.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Details)
		})
	}
}
