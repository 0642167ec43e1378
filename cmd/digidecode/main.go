// Command digidecode runs the RTTY or PSK demodulator over a WAV file
// and prints the text recovered on each channel. With -channels it
// monitors a ladder of frequencies the way the server does.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/psk"
	"github.com/cwsl/digimodem/modem/rtty"
)

// demodBank is the slice of a multi-channel demodulator this command
// drives; both the RTTY and PSK banks satisfy it.
type demodBank interface {
	Process(samples []float32)
	Channels() []modem.Channel
	AddChannel(frequency float64) (int, error)
}

func main() {
	mode := flag.String("mode", "rtty", "Modulation family: rtty or psk")
	preset := flag.String("preset", "", "Mode preset (empty for the mode default)")
	freq := flag.Float64("freq", 0, "Frequency of the first channel in Hz, 0 for the preset default")
	channels := flag.Int("channels", 1, "Number of channels to monitor")
	spacing := flag.Float64("spacing", 0, "Channel spacing in Hz, 0 for the mode default")
	afc := flag.Bool("afc", false, "Enable automatic frequency tracking (rtty)")
	invert := flag.Bool("invert", false, "Swap mark/space polarity (rtty)")
	in := flag.String("in", "", "Input WAV file")
	flag.Parse()

	if *in == "" {
		if flag.NArg() == 1 {
			*in = flag.Arg(0)
		} else {
			fmt.Fprintf(os.Stderr, "Usage: %s [options] -in file.wav\n", os.Args[0])
			flag.PrintDefaults()
			os.Exit(2)
		}
	}

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		log.Fatalf("%s is not a valid WAV file", *in)
	}
	format := decoder.Format()
	sampleRate := float64(format.SampleRate)

	texts := make(map[int]*strings.Builder)
	var bank demodBank
	handler := modem.ChannelHandlerFuncs{
		HandlerFuncs: modem.HandlerFuncs{
			Decode: func(char rune, frequency float64) {
				id := nearestChannel(bank, frequency)
				if texts[id] == nil {
					texts[id] = &strings.Builder{}
				}
				texts[id].WriteRune(char)
			},
		},
	}

	switch *mode {
	case "rtty":
		cfg, err := rtty.PresetConfig(*preset)
		if err != nil {
			log.Fatalf("Invalid preset: %v", err)
		}
		if *freq > 0 {
			cfg = cfg.WithMarkFrequency(*freq)
		}
		cfg = cfg.WithSampleRate(sampleRate)
		cfg.AFCEnabled = *afc
		cfg.InvertPolarity = *invert
		if *spacing == 0 {
			*spacing = rtty.DefaultChannelSpacing
		}
		bank, err = rtty.NewMultiDemodulator(cfg, handler)
		if err != nil {
			log.Fatalf("Invalid settings: %v", err)
		}
		*freq = cfg.MarkFrequency
	case "psk":
		cfg, err := psk.PresetConfig(*preset)
		if err != nil {
			log.Fatalf("Invalid preset: %v", err)
		}
		if *freq > 0 {
			cfg = cfg.WithCenterFrequency(*freq)
		}
		cfg = cfg.WithSampleRate(sampleRate)
		if *spacing == 0 {
			*spacing = psk.DefaultChannelSpacing
		}
		bank, err = psk.NewMultiDemodulator(cfg, handler)
		if err != nil {
			log.Fatalf("Invalid settings: %v", err)
		}
		*freq = cfg.CenterFrequency
	default:
		log.Fatalf("Unknown mode %q (want rtty or psk)", *mode)
	}

	for i := 0; i < *channels; i++ {
		if _, err := bank.AddChannel(*freq + float64(i)**spacing); err != nil {
			log.Fatalf("Failed to add channel at %.1f Hz: %v", *freq+float64(i)**spacing, err)
		}
	}

	fmt.Fprintf(os.Stderr, "Decoding %s: %.0f Hz, %d audio channel(s), %d %s channel(s) from %.1f Hz\n",
		*in, sampleRate, format.NumChannels, *channels, *mode, *freq)

	total, err := processFile(decoder, format, bank)
	if err != nil {
		log.Fatalf("Failed to read audio: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Processed %.1f s of audio\n\n", float64(total)/sampleRate)

	report(bank, texts)
}

// processFile streams the WAV through the bank in blocks, downmixing
// multi-channel audio to mono. Returns the mono sample count.
func processFile(decoder *wav.Decoder, format *audio.Format, bank demodBank) (int, error) {
	numCh := format.NumChannels
	if numCh < 1 {
		numCh = 1
	}
	buf := &audio.IntBuffer{Format: format, Data: make([]int, 4096*numCh)}

	total := 0
	for {
		n, err := decoder.PCMBuffer(buf)
		if n == 0 {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		depth := buf.SourceBitDepth
		if depth == 0 {
			depth = 16
		}
		scale := float32(int(1) << (depth - 1))

		frames := n / numCh
		block := make([]float32, frames)
		for i := 0; i < frames; i++ {
			sum := 0
			for c := 0; c < numCh; c++ {
				sum += buf.Data[i*numCh+c]
			}
			block[i] = float32(sum) / float32(numCh) / scale
		}

		bank.Process(block)
		total += frames
	}
}

// nearestChannel maps a decode event's frequency back to a channel ID.
// Events carry the tuned frequency, which AFC may have moved, so the
// nearest channel is the one that produced the event.
func nearestChannel(bank demodBank, frequency float64) int {
	id := 0
	best := -1.0
	for _, ch := range bank.Channels() {
		d := ch.Frequency - frequency
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
			id = ch.ID
		}
	}
	return id
}

func report(bank demodBank, texts map[int]*strings.Builder) {
	for _, ch := range bank.Channels() {
		text := "(no decode)"
		if b := texts[ch.ID]; b != nil && b.Len() > 0 {
			text = strings.TrimSpace(b.String())
		}
		fmt.Printf("ch %d (%.1f Hz): %s\n", ch.ID, ch.Frequency, text)
	}
}
