package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/psk"
	"github.com/cwsl/digimodem/modem/rtty"
	"github.com/cwsl/digimodem/modem/spectrum"
)

// scanPlaceFrames is how many spectrum frames auto-placement averages
// before committing channels to the strongest peaks.
const scanPlaceFrames = 12

// autoPlaceMinSNR is the peak SNR floor in dB for auto-placed channels.
const autoPlaceMinSNR = 6.0

// DecodeEvent is a single decoded character with its channel context
type DecodeEvent struct {
	Mode      string    `json:"mode"`
	Channel   int       `json:"channel"`
	Char      string    `json:"char"`
	Frequency float64   `json:"frequency"`
	Time      time.Time `json:"time"`
}

// SignalEvent reports a squelch transition on one channel
type SignalEvent struct {
	Mode      string    `json:"mode"`
	Channel   int       `json:"channel"`
	Detected  bool      `json:"detected"`
	Frequency float64   `json:"frequency"`
	Time      time.Time `json:"time"`
}

// DecodedLine is one completed line of text from a channel
type DecodedLine struct {
	Mode      string    `json:"mode"`
	Channel   int       `json:"channel"`
	Frequency float64   `json:"frequency"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// ChannelInfo is the JSON view of one demodulator channel
type ChannelInfo struct {
	Mode         string    `json:"mode"`
	ID           int       `json:"id"`
	Frequency    float64   `json:"frequency"`
	Strength     float64   `json:"strength"`
	Detected     bool      `json:"detected"`
	LastChar     string    `json:"last_char,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// demodBank is the slice of a multi-channel demodulator the engine
// drives; both the RTTY and PSK banks satisfy it.
type demodBank interface {
	Process(samples []float32)
	Channels() []modem.Channel
	ChannelCount() int
	AddChannel(freq float64) (int, error)
	RemoveChannel(id int) bool
	RemoveAllChannels()
	RetuneChannel(id int, freq float64) error
	SetChannelSquelch(id int, level float64) error
	SetSquelchAll(level float64)
}

// bandState is one demodulator bank plus its placement policy
type bandState struct {
	mode    string
	bank    demodBank
	scanner *spectrum.Scanner // nil once channels are placed
	placed  bool

	// Fixed ladder fallback for auto-placement
	startFreq float64
	count     int
	spacing   float64
}

// lineBuffer assembles decoded characters into lines for one channel
type lineBuffer struct {
	mode      string
	channel   int
	frequency float64
	runes     []rune
	lastAt    time.Time
}

// Engine owns the demodulator banks and runs all demodulation on a
// single goroutine. Decoded characters are assembled into lines and
// fanned out to the WebSocket hub, MQTT, the transcript log, and
// metrics.
type Engine struct {
	cfg     *Config
	metrics *Metrics

	hub  *DecodeHub
	mqtt *MQTTPublisher
	dlog *DecodeLogger

	mu    sync.RWMutex // guards bands and lines
	bands []*bandState
	lines map[string]*lineBuffer

	recentMu sync.RWMutex
	recent   []DecodedLine
}

// NewEngine builds the demodulator banks described by the configuration
func NewEngine(cfg *Config, metrics *Metrics) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		metrics: metrics,
		lines:   make(map[string]*lineBuffer),
	}

	if cfg.RTTY.Enabled {
		base, err := cfg.RTTY.ModemConfig(cfg.Audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to build rtty config: %w", err)
		}
		b := &bandState{
			mode:      "rtty",
			startFreq: cfg.RTTY.StartMark,
			count:     cfg.RTTY.Channels,
			spacing:   cfg.RTTY.Spacing,
		}
		bank, err := rtty.NewMultiDemodulator(base, &bandHandler{e: e, b: b})
		if err != nil {
			return nil, fmt.Errorf("failed to build rtty bank: %w", err)
		}
		b.bank = bank
		if err := e.initPlacement(b, cfg.RTTY.AutoPlace, cfg.Audio.SampleRate); err != nil {
			return nil, err
		}
		e.bands = append(e.bands, b)
	}

	if cfg.PSK.Enabled {
		base, err := cfg.PSK.ModemConfig(cfg.Audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to build psk config: %w", err)
		}
		b := &bandState{
			mode:      pskModeLabel(cfg.PSK.Preset),
			startFreq: cfg.PSK.StartFrequency,
			count:     cfg.PSK.Channels,
			spacing:   cfg.PSK.Spacing,
		}
		bank, err := psk.NewMultiDemodulator(base, &bandHandler{e: e, b: b})
		if err != nil {
			return nil, fmt.Errorf("failed to build psk bank: %w", err)
		}
		b.bank = bank
		if err := e.initPlacement(b, cfg.PSK.AutoPlace, cfg.Audio.SampleRate); err != nil {
			return nil, err
		}
		e.bands = append(e.bands, b)
	}

	if len(e.bands) == 0 {
		return nil, fmt.Errorf("no demodulator bands enabled")
	}
	return e, nil
}

// pskModeLabel maps a preset name to the mode label used in events,
// topics, and metrics
func pskModeLabel(preset string) string {
	if preset == "" {
		return "psk31"
	}
	return preset
}

// initPlacement either fills the band's fixed channel ladder or arms a
// spectrum scanner that will place channels on the strongest carriers.
func (e *Engine) initPlacement(b *bandState, autoPlace bool, sampleRate float64) error {
	if !autoPlace {
		for i := 0; i < b.count; i++ {
			if _, err := b.bank.AddChannel(b.startFreq + float64(i)*b.spacing); err != nil {
				return fmt.Errorf("failed to add %s channel: %w", b.mode, err)
			}
		}
		b.placed = true
		return nil
	}

	lo := b.startFreq - b.spacing
	if lo < 50 {
		lo = 50
	}
	hi := b.startFreq + float64(b.count)*b.spacing
	scanner, err := spectrum.NewScanner(sampleRate, lo, hi)
	if err != nil {
		return fmt.Errorf("failed to build %s placement scanner: %w", b.mode, err)
	}
	scanner.SetMinSpacing(b.spacing)
	b.scanner = scanner
	log.Printf("[engine] %s: scanning %.0f-%.0f Hz for carriers before placing channels", b.mode, lo, hi)
	return nil
}

// AttachOutputs wires the optional output sinks. Any of them may be nil.
func (e *Engine) AttachOutputs(hub *DecodeHub, mqtt *MQTTPublisher, dlog *DecodeLogger) {
	e.hub = hub
	e.mqtt = mqtt
	e.dlog = dlog
}

// Run consumes audio blocks until the context is cancelled or the input
// channel closes. All demodulation happens here, on this goroutine.
func (e *Engine) Run(ctx context.Context, blocks <-chan []float32) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Printf("[engine] decode engine running (%d bands)", len(e.bands))

	for {
		select {
		case <-ctx.Done():
			e.FlushLines()
			return
		case block, ok := <-blocks:
			if !ok {
				e.FlushLines()
				return
			}
			e.ProcessBlock(block)
		case <-ticker.C:
			e.flushIdleLines()
			e.publishChannelSnapshots()
		}
	}
}

// ProcessBlock feeds one block of samples through every band
func (e *Engine) ProcessBlock(samples []float32) {
	start := time.Now()

	e.mu.Lock()
	for _, b := range e.bands {
		if b.scanner != nil && !b.placed {
			e.feedScanner(b, samples)
		}
		b.bank.Process(samples)
	}
	e.mu.Unlock()

	e.metrics.RecordSamples(len(samples))
	e.metrics.RecordBlock(time.Since(start))
}

// feedScanner accumulates spectrum frames during the placement phase
// and commits channels once enough frames are averaged
func (e *Engine) feedScanner(b *bandState, samples []float32) {
	b.scanner.Feed(samples)
	if b.scanner.Frames() < scanPlaceFrames {
		return
	}

	peaks := b.scanner.Peaks(b.count, autoPlaceMinSNR)
	if len(peaks) == 0 {
		log.Printf("[engine] %s: no carriers found, falling back to the fixed ladder", b.mode)
		for i := 0; i < b.count; i++ {
			if _, err := b.bank.AddChannel(b.startFreq + float64(i)*b.spacing); err != nil {
				log.Printf("[engine] %s: failed to add channel: %v", b.mode, err)
			}
		}
	} else {
		for _, p := range peaks {
			id, err := b.bank.AddChannel(p.Frequency)
			if err != nil {
				log.Printf("[engine] %s: failed to place channel at %.1f Hz: %v", b.mode, p.Frequency, err)
				continue
			}
			log.Printf("[engine] %s: placed channel %d at %.1f Hz (%.1f dB SNR)", b.mode, id, p.Frequency, p.SNR)
		}
	}
	b.placed = true
	b.scanner = nil
}

// bandHandler forwards one band's demodulator events into the engine
type bandHandler struct {
	e *Engine
	b *bandState
}

func (h *bandHandler) OnDecode(ch rune, freq float64) {
	h.e.handleDecode(h.b, ch, freq)
}

func (h *bandHandler) OnSignal(detected bool, freq float64) {
	h.e.handleSignal(h.b, detected, freq)
}

func (h *bandHandler) OnChannels(channels []modem.Channel) {
	if h.e.hub != nil {
		h.e.hub.PublishChannels(bandChannelInfo(h.b.mode, channels))
	}
}

// channelIDNear resolves an event frequency to the closest channel id.
// AFC keeps a channel within a fraction of the spacing of its slot, so
// nearest-match is unambiguous.
func channelIDNear(bank demodBank, freq float64) int {
	bestID := 0
	bestDiff := 0.0
	for _, ch := range bank.Channels() {
		diff := ch.Frequency - freq
		if diff < 0 {
			diff = -diff
		}
		if bestID == 0 || diff < bestDiff {
			bestID = ch.ID
			bestDiff = diff
		}
	}
	return bestID
}

// handleDecode runs on the engine goroutine, called from inside
// ProcessBlock while the engine lock is held
func (e *Engine) handleDecode(b *bandState, ch rune, freq float64) {
	id := channelIDNear(b.bank, freq)
	now := time.Now()

	e.metrics.RecordDecode(b.mode, strconv.Itoa(id))
	if e.hub != nil {
		e.hub.PublishDecode(DecodeEvent{
			Mode:      b.mode,
			Channel:   id,
			Char:      string(ch),
			Frequency: freq,
			Time:      now,
		})
	}

	key := lineKey(b.mode, id)
	lb := e.lines[key]
	if lb == nil {
		lb = &lineBuffer{mode: b.mode, channel: id}
		e.lines[key] = lb
	}
	lb.frequency = freq
	lb.lastAt = now

	switch ch {
	case '\r':
		// carriage returns pair with line feeds; the line feed flushes
	case '\n':
		e.flushLine(lb, now)
	default:
		lb.runes = append(lb.runes, ch)
		if len(lb.runes) >= e.cfg.Engine.LineLength {
			e.flushLine(lb, now)
		}
	}
}

// handleSignal runs on the engine goroutine during ProcessBlock
func (e *Engine) handleSignal(b *bandState, detected bool, freq float64) {
	id := channelIDNear(b.bank, freq)

	e.metrics.RecordSignal(b.mode, strconv.Itoa(id), detected)
	if e.hub != nil {
		e.hub.PublishSignal(SignalEvent{
			Mode:      b.mode,
			Channel:   id,
			Detected:  detected,
			Frequency: freq,
			Time:      time.Now(),
		})
	}
	if DebugMode {
		state := "lost"
		if detected {
			state = "acquired"
		}
		log.Printf("DEBUG: %s channel %d signal %s at %.1f Hz", b.mode, id, state, freq)
	}
}

func lineKey(mode string, id int) string {
	return mode + "/" + strconv.Itoa(id)
}

// flushLine completes a pending line and fans it out. Empty buffers
// flush to nothing.
func (e *Engine) flushLine(lb *lineBuffer, now time.Time) {
	if len(lb.runes) == 0 {
		return
	}
	line := DecodedLine{
		Mode:      lb.mode,
		Channel:   lb.channel,
		Frequency: lb.frequency,
		Text:      string(lb.runes),
		Time:      now,
	}
	lb.runes = lb.runes[:0]

	e.recentMu.Lock()
	e.recent = append(e.recent, line)
	if over := len(e.recent) - e.cfg.Engine.RecentDecodes; over > 0 {
		e.recent = e.recent[over:]
	}
	e.recentMu.Unlock()

	e.metrics.RecordLine(line.Mode, strconv.Itoa(line.Channel))
	if e.hub != nil {
		e.hub.PublishLine(line)
	}
	if e.mqtt != nil {
		e.mqtt.PublishLine(line)
	}
	if e.dlog != nil {
		if err := e.dlog.LogLine(line); err != nil {
			log.Printf("[engine] failed to log decode: %v", err)
		}
	}
	log.Printf("[decode] %s ch%d %.1f Hz: %s", line.Mode, line.Channel, line.Frequency, line.Text)
}

// flushIdleLines completes lines that stopped growing. A station that
// stops sending mid-line still gets its text delivered.
func (e *Engine) flushIdleLines() {
	idle := time.Duration(e.cfg.Engine.LineIdleFlush) * time.Second
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, lb := range e.lines {
		if len(lb.runes) > 0 && now.Sub(lb.lastAt) > idle {
			e.flushLine(lb, now)
		}
	}
}

// FlushLines completes every pending line immediately
func (e *Engine) FlushLines() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, lb := range e.lines {
		e.flushLine(lb, now)
	}
}

// publishChannelSnapshots pushes per-band channel state to the hub and
// refreshes the channel gauges
func (e *Engine) publishChannelSnapshots() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, b := range e.bands {
		channels := b.bank.Channels()
		detected := 0
		for _, ch := range channels {
			if ch.Detected {
				detected++
			}
		}
		e.metrics.SetChannelCounts(b.mode, len(channels), detected)
		if e.hub != nil {
			e.hub.PublishChannels(bandChannelInfo(b.mode, channels))
		}
	}
}

// bandChannelInfo converts core channel records to their JSON view
func bandChannelInfo(mode string, channels []modem.Channel) []ChannelInfo {
	out := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		info := ChannelInfo{
			Mode:         mode,
			ID:           ch.ID,
			Frequency:    ch.Frequency,
			Strength:     ch.Strength,
			Detected:     ch.Detected,
			LastActivity: ch.LastActivity,
		}
		if ch.LastChar != 0 {
			info.LastChar = string(ch.LastChar)
		}
		out = append(out, info)
	}
	return out
}

// ChannelList returns the JSON view of every channel across all bands
func (e *Engine) ChannelList() []ChannelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []ChannelInfo
	for _, b := range e.bands {
		out = append(out, bandChannelInfo(b.mode, b.bank.Channels())...)
	}
	return out
}

// Modes returns the active band labels
func (e *Engine) Modes() []string {
	modes := make([]string, 0, len(e.bands))
	for _, b := range e.bands {
		modes = append(modes, b.mode)
	}
	return modes
}

// RecentLines returns up to limit recent decoded lines, newest last
func (e *Engine) RecentLines(limit int) []DecodedLine {
	e.recentMu.RLock()
	defer e.recentMu.RUnlock()

	n := len(e.recent)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]DecodedLine, n)
	copy(out, e.recent[len(e.recent)-n:])
	return out
}

func (e *Engine) bandByMode(mode string) (*bandState, error) {
	for _, b := range e.bands {
		if b.mode == mode {
			return b, nil
		}
	}
	return nil, fmt.Errorf("unknown mode %q (active: %v)", mode, e.Modes())
}

// SetSquelch overrides squelch on one channel, or on every channel of
// the band when channel is 0. Level 0 restores adaptive squelch.
func (e *Engine) SetSquelch(mode string, channel int, level float64) error {
	if level < 0 {
		return fmt.Errorf("squelch level must not be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.bandByMode(mode)
	if err != nil {
		return err
	}
	if channel == 0 {
		b.bank.SetSquelchAll(level)
		return nil
	}
	return b.bank.SetChannelSquelch(channel, level)
}

// Retune moves one channel to a new frequency
func (e *Engine) Retune(mode string, channel int, freq float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.bandByMode(mode)
	if err != nil {
		return err
	}
	return b.bank.RetuneChannel(channel, freq)
}
