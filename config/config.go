// Package config resolves the runtime settings of a task process from flags,
// PIPES_* environment variables and an optional pipes.yaml.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"

	"github.com/machinefabric/pipes-go/cbor"
)

//go:embed schema.json
var schema []byte

const (
	LogFormatKey       = "log.format"
	LogLevelKey        = "log.level"
	AddressKey         = "transport.address"
	DownFileKey        = "transport.down_file"
	UpFileKey          = "transport.up_file"
	PrivateEncodingKey = "protocol.private_encoding"
	MaxFrameKey        = "protocol.max_frame"
	DrainUnreadKey     = "protocol.drain_unread"
)

type LogConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// TransportConfig selects the channel to the framework: a TCP address, or a
// down/up file pair.
type TransportConfig struct {
	Address  string `json:"address,omitempty" mapstructure:"address"`
	DownFile string `json:"down_file,omitempty" mapstructure:"down_file"`
	UpFile   string `json:"up_file,omitempty" mapstructure:"up_file"`
}

type ProtocolConfig struct {
	PrivateEncoding bool `json:"private_encoding" mapstructure:"private_encoding"`
	MaxFrame        int  `json:"max_frame" mapstructure:"max_frame"`
	DrainUnread     bool `json:"drain_unread" mapstructure:"drain_unread"`
}

type Config struct {
	Log       LogConfig       `json:"log" mapstructure:"log"`
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	Protocol  ProtocolConfig  `json:"protocol" mapstructure:"protocol"`
}

// Limits returns the codec limits derived from the protocol settings
func (c *Config) Limits() cbor.Limits {
	return cbor.Limits{MaxFrame: c.Protocol.MaxFrame}
}

// ValidationError lists every schema violation found in a config
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  - " + strings.Join(e.Details, "\n  - ")
}

// NewViper returns a viper instance with the pipes defaults, env binding and
// config search path applied. The config file itself is read by Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("pipes")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PIPES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, path := range []string{"/etc/pipes", "$HOME/.pipes", "."} {
		v.AddConfigPath(path)
	}

	v.SetDefault(LogFormatKey, "text")
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(AddressKey, "")
	v.SetDefault(DownFileKey, "")
	v.SetDefault(UpFileKey, "")
	v.SetDefault(PrivateEncodingKey, true)
	v.SetDefault(MaxFrameKey, cbor.DefaultMaxFrame)
	v.SetDefault(DrainUnreadKey, false)
	return v
}

// Load reads the config file (a missing file is fine), unmarshals the merged
// settings and validates them.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config against the embedded JSON schema
func (c *Config) Validate() error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ValidationError{Details: details}
}
