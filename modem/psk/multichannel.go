package psk

import (
	"fmt"
	"sort"
	"time"

	"github.com/cwsl/digimodem/modem"
)

// DefaultChannelCount is how many channels NewStandardBand creates.
const DefaultChannelCount = 16

// DefaultChannelSpacing separates adjacent standard-band channels.
// PSK31 occupies about 31 Hz, so 50 Hz leaves a guard band.
const DefaultChannelSpacing = 50.0

// MultiDemodulator runs several independent PSK demodulators over the
// same audio stream. Synchronous and single-threaded, like the
// single-channel demodulator.
type MultiDemodulator struct {
	base    Config
	handler modem.ChannelHandler

	slots  map[int]*channelSlot
	order  []int
	nextID int
}

type channelSlot struct {
	id    int
	demod *Demodulator
	rec   modem.Channel
}

type slotHandler struct {
	m    *MultiDemodulator
	slot *channelSlot
}

func (h slotHandler) OnDecode(ch rune, freq float64) {
	h.slot.rec.LastChar = ch
	h.slot.rec.LastActivity = time.Now()
	h.m.handler.OnDecode(ch, freq)
}

func (h slotHandler) OnSignal(detected bool, freq float64) {
	h.slot.rec.Detected = detected
	if detected {
		h.slot.rec.LastActivity = time.Now()
	}
	h.m.handler.OnSignal(detected, freq)
}

// NewMultiDemodulator returns an empty channel bank. base supplies
// every per-channel parameter except the carrier frequency, which
// AddChannel sets.
func NewMultiDemodulator(base Config, handler modem.ChannelHandler) (*MultiDemodulator, error) {
	base = base.normalized()
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = modem.ChannelHandlerFuncs{}
	}
	return &MultiDemodulator{
		base:    base,
		handler: handler,
		slots:   make(map[int]*channelSlot),
		nextID:  1,
	}, nil
}

// NewStandardBand returns a bank of DefaultChannelCount channels at
// DefaultChannelSpacing intervals, the lowest carrier at startFreq.
func NewStandardBand(base Config, startFreq float64, handler modem.ChannelHandler) (*MultiDemodulator, error) {
	m, err := NewMultiDemodulator(base, handler)
	if err != nil {
		return nil, err
	}
	for i := 0; i < DefaultChannelCount; i++ {
		if _, err := m.AddChannel(startFreq + float64(i)*DefaultChannelSpacing); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddChannel starts monitoring a carrier frequency and returns the new
// channel's id.
func (m *MultiDemodulator) AddChannel(freq float64) (int, error) {
	slot := &channelSlot{
		id: m.nextID,
		rec: modem.Channel{
			ID:        m.nextID,
			Frequency: freq,
		},
	}
	demod, err := NewDemodulator(m.base.WithCenterFrequency(freq), slotHandler{m: m, slot: slot})
	if err != nil {
		return 0, err
	}
	slot.demod = demod

	m.slots[slot.id] = slot
	m.order = append(m.order, slot.id)
	m.nextID++
	m.notifyChannels()
	return slot.id, nil
}

// RemoveChannel stops monitoring the channel with the given id.
func (m *MultiDemodulator) RemoveChannel(id int) bool {
	if _, ok := m.slots[id]; !ok {
		return false
	}
	delete(m.slots, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.notifyChannels()
	return true
}

// RemoveAllChannels empties the bank.
func (m *MultiDemodulator) RemoveAllChannels() {
	m.slots = make(map[int]*channelSlot)
	m.order = m.order[:0]
	m.notifyChannels()
}

// Process feeds the same block to every channel in ascending id order.
func (m *MultiDemodulator) Process(samples []float32) {
	for _, id := range m.order {
		slot := m.slots[id]
		slot.demod.Process(samples)
		slot.rec.Strength = slot.demod.SignalStrength()
		slot.rec.Detected = slot.demod.SignalDetected()
	}
}

// Channels returns a snapshot of every channel's state, ordered by id.
func (m *MultiDemodulator) Channels() []modem.Channel {
	out := make([]modem.Channel, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.slots[id].rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChannelCount returns how many channels are active.
func (m *MultiDemodulator) ChannelCount() int { return len(m.slots) }

// SetSquelchAll applies one fixed power threshold to every channel.
// Zero restores adaptive detection everywhere.
func (m *MultiDemodulator) SetSquelchAll(level float64) {
	for _, slot := range m.slots {
		slot.demod.SetSquelch(level)
	}
}

// SetChannelSquelch overrides squelch on one channel.
func (m *MultiDemodulator) SetChannelSquelch(id int, level float64) error {
	slot, ok := m.slots[id]
	if !ok {
		return fmt.Errorf("psk: no channel %d", id)
	}
	slot.demod.SetSquelch(level)
	return nil
}

// RetuneChannel moves a channel to a new carrier frequency. The
// channel's demodulator is rebuilt, dropping its decode state.
func (m *MultiDemodulator) RetuneChannel(id int, freq float64) error {
	slot, ok := m.slots[id]
	if !ok {
		return fmt.Errorf("psk: no channel %d", id)
	}
	squelch := slot.demod.squelchOverride
	demod, err := NewDemodulator(slot.demod.Config().WithCenterFrequency(freq), slotHandler{m: m, slot: slot})
	if err != nil {
		return err
	}
	demod.SetSquelch(squelch)
	slot.demod = demod
	slot.rec.Frequency = freq
	slot.rec.Detected = false
	slot.rec.Strength = 0
	m.notifyChannels()
	return nil
}

func (m *MultiDemodulator) notifyChannels() {
	m.handler.OnChannels(m.Channels())
}
