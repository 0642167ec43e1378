package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/digimodem/modem/psk"
	"github.com/cwsl/digimodem/modem/rtty"
)

// Config represents the complete server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	RTTY       RTTYConfig       `yaml:"rtty"`
	PSK        PSKConfig        `yaml:"psk"`
	Engine     EngineConfig     `yaml:"engine"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	DecodeLog  DecodeLogConfig  `yaml:"decode_log"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Listen string `yaml:"listen"` // Address to listen on (e.g., :8073)
}

// AudioConfig contains RTP audio input settings
type AudioConfig struct {
	Group           string  `yaml:"group"`             // RTP group to join (addr:port, multicast or unicast)
	Interface       string  `yaml:"interface"`         // Network interface for the multicast join (optional)
	PayloadType     int     `yaml:"payload_type"`      // RTP payload type carrying 16-bit big-endian PCM
	OpusPayloadType int     `yaml:"opus_payload_type"` // RTP payload type carrying Opus (needs the opus build tag)
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate of the incoming stream in Hz
	BufferBlocks    int     `yaml:"buffer_blocks"`     // Block queue depth between the receiver and the engine
}

// RTTYConfig contains the RTTY demodulator band settings
type RTTYConfig struct {
	Enabled         bool    `yaml:"enabled"`          // Enable/disable the RTTY band
	Preset          string  `yaml:"preset"`           // Mode preset: standard, baud50, baud75, baud100, wide425, wide850
	StartMark       float64 `yaml:"start_mark"`       // Mark frequency of the first channel in Hz
	Channels        int     `yaml:"channels"`         // Number of channels in the band layout
	Spacing         float64 `yaml:"spacing"`          // Channel spacing in Hz
	AFC             bool    `yaml:"afc"`              // Enable automatic frequency tracking per channel
	MinConfidence   float64 `yaml:"min_confidence"`   // Soft-decision confidence floor [0,1]
	SquelchOverride float64 `yaml:"squelch_override"` // Fixed squelch threshold (0 = adaptive)
	InvertPolarity  bool    `yaml:"invert_polarity"`  // Swap mark/space decision sense
	AutoPlace       bool    `yaml:"auto_place"`       // Place channels on spectrum peaks instead of the fixed ladder
}

// PSKConfig contains the PSK demodulator band settings
type PSKConfig struct {
	Enabled         bool    `yaml:"enabled"`          // Enable/disable the PSK band
	Preset          string  `yaml:"preset"`           // Mode preset: psk31, bpsk63, qpsk31, qpsk63
	StartFrequency  float64 `yaml:"start_frequency"`  // Center frequency of the first channel in Hz
	Channels        int     `yaml:"channels"`         // Number of channels in the band layout
	Spacing         float64 `yaml:"spacing"`          // Channel spacing in Hz
	SquelchOverride float64 `yaml:"squelch_override"` // Fixed power squelch threshold (0 = adaptive)
	AutoPlace       bool    `yaml:"auto_place"`       // Place channels on spectrum peaks instead of the fixed ladder
}

// EngineConfig contains decode engine settings
type EngineConfig struct {
	LineLength    int `yaml:"line_length"`     // Flush a channel's line buffer at this many characters
	LineIdleFlush int `yaml:"line_idle_flush"` // Flush a pending line after this many seconds without a decode
	RecentDecodes int `yaml:"recent_decodes"`  // Number of recent decoded lines kept for the API
}

// PrometheusConfig contains metrics endpoint settings
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"` // Enable/disable the /metrics endpoint
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`          // Enable/disable MQTT publishing
	Broker          string        `yaml:"broker"`           // MQTT broker URL (e.g., tcp://mqtt.example.com:1883)
	Username        string        `yaml:"username"`         // MQTT authentication username
	Password        string        `yaml:"password"`         // MQTT authentication password
	TopicPrefix     string        `yaml:"topic_prefix"`     // Topic prefix for all messages
	MetricsInterval int           `yaml:"metrics_interval"` // Metrics snapshot interval in seconds (0 disables)
	QoS             byte          `yaml:"qos"`              // MQTT Quality of Service level (0, 1, or 2)
	Retain          bool          `yaml:"retain"`           // Retain flag for MQTT messages
	TLS             MQTTTLSConfig `yaml:"tls"`              // TLS/SSL settings
}

// MQTTTLSConfig contains MQTT TLS/SSL settings
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Enable/disable TLS
	CACert     string `yaml:"ca_cert"`     // Path to CA certificate file
	ClientCert string `yaml:"client_cert"` // Path to client certificate file (optional)
	ClientKey  string `yaml:"client_key"`  // Path to client key file (optional)
}

// DecodeLogConfig contains transcript log settings
type DecodeLogConfig struct {
	Enabled   bool   `yaml:"enabled"`   // Enable/disable the on-disk decode transcript
	Directory string `yaml:"directory"` // Directory for daily decode logs
}

// MCPConfig contains Model Context Protocol server settings
type MCPConfig struct {
	Enabled bool `yaml:"enabled"` // Enable/disable MCP endpoint
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// DefaultConfig returns a runnable configuration without a config file:
// both bands enabled at their standard layouts, no external outputs.
func DefaultConfig() *Config {
	config := &Config{}
	config.RTTY.Enabled = true
	config.PSK.Enabled = true
	config.Prometheus.Enabled = true
	config.applyDefaults()
	return config
}

// applyDefaults fills zero-valued fields with working defaults
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8073"
	}
	if c.Audio.PayloadType == 0 {
		c.Audio.PayloadType = 122 // ka9q-radio PCM16 mono
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 12000
	}
	if c.Audio.BufferBlocks == 0 {
		c.Audio.BufferBlocks = 64
	}
	if c.RTTY.StartMark == 0 {
		c.RTTY.StartMark = 1000
	}
	if c.RTTY.Channels == 0 {
		c.RTTY.Channels = rtty.DefaultChannelCount
	}
	if c.RTTY.Spacing == 0 {
		c.RTTY.Spacing = rtty.DefaultChannelSpacing
	}
	if c.PSK.StartFrequency == 0 {
		c.PSK.StartFrequency = 500
	}
	if c.PSK.Channels == 0 {
		c.PSK.Channels = psk.DefaultChannelCount
	}
	if c.PSK.Spacing == 0 {
		c.PSK.Spacing = psk.DefaultChannelSpacing
	}
	if c.Engine.LineLength == 0 {
		c.Engine.LineLength = 72
	}
	if c.Engine.LineIdleFlush == 0 {
		c.Engine.LineIdleFlush = 3
	}
	if c.Engine.RecentDecodes == 0 {
		c.Engine.RecentDecodes = 200
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "digimodem"
	}
	if c.MQTT.MetricsInterval == 0 {
		c.MQTT.MetricsInterval = 60
	}
	if c.DecodeLog.Directory == "" {
		c.DecodeLog.Directory = "decodes"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !c.RTTY.Enabled && !c.PSK.Enabled {
		return fmt.Errorf("at least one of rtty.enabled or psk.enabled is required")
	}
	if c.Audio.Group != "" {
		if c.Audio.SampleRate < 8000 {
			return fmt.Errorf("audio.sample_rate must be at least 8000")
		}
		if c.Audio.PayloadType < 0 || c.Audio.PayloadType > 127 {
			return fmt.Errorf("audio.payload_type must be in 0-127")
		}
		if c.Audio.OpusPayloadType < 0 || c.Audio.OpusPayloadType > 127 {
			return fmt.Errorf("audio.opus_payload_type must be in 0-127")
		}
	}
	if c.RTTY.Enabled {
		if c.RTTY.Channels < 1 {
			return fmt.Errorf("rtty.channels must be at least 1")
		}
		if c.RTTY.Spacing <= 0 {
			return fmt.Errorf("rtty.spacing must be positive")
		}
		if _, err := c.RTTY.ModemConfig(c.Audio.SampleRate); err != nil {
			return fmt.Errorf("invalid rtty settings: %w", err)
		}
	}
	if c.PSK.Enabled {
		if c.PSK.Channels < 1 {
			return fmt.Errorf("psk.channels must be at least 1")
		}
		if c.PSK.Spacing <= 0 {
			return fmt.Errorf("psk.spacing must be positive")
		}
		if _, err := c.PSK.ModemConfig(c.Audio.SampleRate); err != nil {
			return fmt.Errorf("invalid psk settings: %w", err)
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2")
		}
	}
	if c.DecodeLog.Enabled && c.DecodeLog.Directory == "" {
		return fmt.Errorf("decode_log.directory is required when decode_log.enabled is true")
	}
	return nil
}

// ModemConfig resolves the RTTY section to a demodulator configuration
// for the first channel of the band.
func (rc *RTTYConfig) ModemConfig(sampleRate float64) (rtty.Config, error) {
	cfg, err := rtty.PresetConfig(rc.Preset)
	if err != nil {
		return rtty.Config{}, err
	}
	cfg = cfg.WithMarkFrequency(rc.StartMark)
	if sampleRate > 0 {
		cfg = cfg.WithSampleRate(sampleRate)
	}
	cfg.AFCEnabled = rc.AFC
	cfg.InvertPolarity = rc.InvertPolarity
	if rc.MinConfidence > 0 {
		cfg.MinConfidence = rc.MinConfidence
	}
	if rc.SquelchOverride > 0 {
		cfg.SquelchOverride = rc.SquelchOverride
	}
	if err := cfg.Validate(); err != nil {
		return rtty.Config{}, err
	}
	return cfg, nil
}

// ModemConfig resolves the PSK section to a demodulator configuration
// for the first channel of the band.
func (pc *PSKConfig) ModemConfig(sampleRate float64) (psk.Config, error) {
	cfg, err := psk.PresetConfig(pc.Preset)
	if err != nil {
		return psk.Config{}, err
	}
	cfg = cfg.WithCenterFrequency(pc.StartFrequency)
	if sampleRate > 0 {
		cfg = cfg.WithSampleRate(sampleRate)
	}
	if pc.SquelchOverride > 0 {
		cfg.SquelchOverride = pc.SquelchOverride
	}
	if err := cfg.Validate(); err != nil {
		return psk.Config{}, err
	}
	return cfg, nil
}
