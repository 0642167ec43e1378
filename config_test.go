package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/digimodem/modem/psk"
	"github.com/cwsl/digimodem/modem/rtty"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
rtty:
  enabled: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8073", cfg.Server.Listen)
	assert.Equal(t, 122, cfg.Audio.PayloadType)
	assert.Equal(t, 12000.0, cfg.Audio.SampleRate)
	assert.Equal(t, 64, cfg.Audio.BufferBlocks)
	assert.Equal(t, 1000.0, cfg.RTTY.StartMark)
	assert.Equal(t, rtty.DefaultChannelCount, cfg.RTTY.Channels)
	assert.Equal(t, rtty.DefaultChannelSpacing, cfg.RTTY.Spacing)
	assert.Equal(t, 500.0, cfg.PSK.StartFrequency)
	assert.Equal(t, psk.DefaultChannelCount, cfg.PSK.Channels)
	assert.Equal(t, 72, cfg.Engine.LineLength)
	assert.Equal(t, 3, cfg.Engine.LineIdleFlush)
	assert.Equal(t, 200, cfg.Engine.RecentDecodes)
	assert.Equal(t, "digimodem", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 60, cfg.MQTT.MetricsInterval)
	assert.Equal(t, "decodes", cfg.DecodeLog.Directory)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
audio:
  group: "239.1.2.3:5004"
  sample_rate: 24000
rtty:
  enabled: true
  preset: baud75
  start_mark: 1500
  channels: 4
  spacing: 200
  afc: true
psk:
  enabled: true
  preset: qpsk63
  start_frequency: 600
mqtt:
  enabled: true
  broker: "tcp://broker:1883"
  qos: 1
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 24000.0, cfg.Audio.SampleRate)
	assert.Equal(t, 4, cfg.RTTY.Channels)
	assert.True(t, cfg.RTTY.AFC)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultConfigIsRunnable(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RTTY.Enabled)
	assert.True(t, cfg.PSK.Enabled)
	assert.True(t, cfg.Prometheus.Enabled)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no bands", func(c *Config) {
			c.RTTY.Enabled = false
			c.PSK.Enabled = false
		}},
		{"unknown rtty preset", func(c *Config) {
			c.RTTY.Preset = "baud9600"
		}},
		{"unknown psk preset", func(c *Config) {
			c.PSK.Preset = "psk3000"
		}},
		{"negative rtty spacing", func(c *Config) {
			c.RTTY.Spacing = -10
		}},
		{"low sample rate", func(c *Config) {
			c.Audio.Group = "239.1.2.3:5004"
			c.Audio.SampleRate = 4000
		}},
		{"payload type out of range", func(c *Config) {
			c.Audio.Group = "239.1.2.3:5004"
			c.Audio.PayloadType = 200
		}},
		{"mqtt without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = ""
		}},
		{"mqtt bad qos", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = "tcp://broker:1883"
			c.MQTT.QoS = 3
		}},
		{"decode log without directory", func(c *Config) {
			c.DecodeLog.Enabled = true
			c.DecodeLog.Directory = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRTTYModemConfigResolution(t *testing.T) {
	rc := &RTTYConfig{
		Preset:        "baud75",
		StartMark:     1500,
		AFC:           true,
		MinConfidence: 0.5,
	}
	cfg, err := rc.ModemConfig(24000)
	require.NoError(t, err)

	assert.Equal(t, 75.0, cfg.BaudRate)
	assert.Equal(t, 1500.0, cfg.MarkFrequency)
	assert.Equal(t, 24000.0, cfg.SampleRate)
	assert.True(t, cfg.AFCEnabled)
	assert.Equal(t, 0.5, cfg.MinConfidence)

	// Unset knobs keep the preset values.
	assert.Equal(t, 170.0, cfg.Shift)
	assert.Zero(t, cfg.SquelchOverride)
}

func TestPSKModemConfigResolution(t *testing.T) {
	pc := &PSKConfig{
		Preset:          "qpsk63",
		StartFrequency:  800,
		SquelchOverride: 0.01,
	}
	cfg, err := pc.ModemConfig(12000)
	require.NoError(t, err)

	assert.Equal(t, psk.QPSK, cfg.Modulation)
	assert.Equal(t, 62.5, cfg.BaudRate)
	assert.Equal(t, 800.0, cfg.CenterFrequency)
	assert.Equal(t, 12000.0, cfg.SampleRate)
	assert.Equal(t, 0.01, cfg.SquelchOverride)
}
