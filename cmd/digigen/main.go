// Command digigen generates RTTY or PSK audio as a WAV file. The output
// is suitable for feeding straight back into digidecode or any other
// decoder.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gopkg.in/yaml.v3"

	"github.com/cwsl/digimodem/modem/psk"
	"github.com/cwsl/digimodem/modem/rtty"
)

func main() {
	mode := flag.String("mode", "rtty", "Modulation family: rtty or psk")
	preset := flag.String("preset", "", "Mode preset (empty for the mode default)")
	freq := flag.Float64("freq", 0, "Mark frequency (rtty) or carrier center (psk) in Hz, 0 for the preset default")
	rate := flag.Float64("rate", 12000, "Sample rate in Hz")
	text := flag.String("text", "CQ CQ CQ DE DIGIMODEM DIGIMODEM K", "Text to transmit")
	idle := flag.Float64("idle", 1.0, "Idle carrier before and after the text in seconds")
	out := flag.String("out", "digimodem.wav", "Output WAV file")
	list := flag.Bool("list", false, "List available presets and exit")
	flag.Parse()

	if *list {
		listPresets()
		return
	}

	idleDur := time.Duration(*idle * float64(time.Second))

	var samples []float32
	var carrier float64
	switch *mode {
	case "rtty":
		cfg, err := rtty.PresetConfig(*preset)
		if err != nil {
			log.Fatalf("Invalid preset: %v", err)
		}
		if *freq > 0 {
			cfg = cfg.WithMarkFrequency(*freq)
		}
		cfg = cfg.WithSampleRate(*rate)
		mod, err := rtty.NewModulator(cfg)
		if err != nil {
			log.Fatalf("Invalid settings: %v", err)
		}
		samples = mod.EncodeWithIdle(*text, idleDur, idleDur)
		carrier = cfg.MarkFrequency
	case "psk":
		cfg, err := psk.PresetConfig(*preset)
		if err != nil {
			log.Fatalf("Invalid preset: %v", err)
		}
		if *freq > 0 {
			cfg = cfg.WithCenterFrequency(*freq)
		}
		cfg = cfg.WithSampleRate(*rate)
		mod, err := psk.NewModulator(cfg)
		if err != nil {
			log.Fatalf("Invalid settings: %v", err)
		}
		samples = mod.EncodeWithEnvelope(*text, idleDur, idleDur)
		carrier = cfg.CenterFrequency
	default:
		log.Fatalf("Unknown mode %q (want rtty or psk)", *mode)
	}

	if err := writeWAV(*out, samples, int(*rate)); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}

	duration := float64(len(samples)) / *rate
	fmt.Printf("Wrote %s: %s at %.1f Hz, %.1f s (%d samples, %.0f Hz sample rate)\n",
		*out, *mode, carrier, duration, len(samples), *rate)
}

// writeWAV stores samples as 16-bit mono PCM
func writeWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		v := int(s * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		buf.Data[i] = v
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// listPresets dumps every preset with its resolved parameters as YAML,
// in the same shape the server config file uses.
func listPresets() {
	type rttyPreset struct {
		BaudRate      float64 `yaml:"baud_rate"`
		Shift         float64 `yaml:"shift"`
		MarkFrequency float64 `yaml:"mark_frequency"`
	}
	type pskPreset struct {
		Modulation      string  `yaml:"modulation"`
		BaudRate        float64 `yaml:"baud_rate"`
		CenterFrequency float64 `yaml:"center_frequency"`
	}
	table := struct {
		RTTY map[string]rttyPreset `yaml:"rtty"`
		PSK  map[string]pskPreset  `yaml:"psk"`
	}{
		RTTY: make(map[string]rttyPreset),
		PSK:  make(map[string]pskPreset),
	}
	for _, name := range rtty.Presets() {
		cfg, _ := rtty.PresetConfig(name)
		table.RTTY[name] = rttyPreset{
			BaudRate:      cfg.BaudRate,
			Shift:         cfg.Shift,
			MarkFrequency: cfg.MarkFrequency,
		}
	}
	for _, name := range psk.Presets() {
		cfg, _ := psk.PresetConfig(name)
		table.PSK[name] = pskPreset{
			Modulation:      cfg.Modulation.String(),
			BaudRate:        cfg.BaudRate,
			CenterFrequency: cfg.CenterFrequency,
		}
	}
	data, err := yaml.Marshal(table)
	if err != nil {
		log.Fatalf("Failed to render presets: %v", err)
	}
	os.Stdout.Write(data)
}
