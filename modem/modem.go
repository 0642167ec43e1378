// Package modem holds the types shared by the digital-mode modems:
// the event handler interfaces and the per-frequency channel record
// used by the multi-channel demodulators.
package modem

import "time"

// DefaultSampleRate is the nominal audio rate the presets assume.
const DefaultSampleRate = 48000.0

// Handler receives decode events from a modem. Methods are invoked
// synchronously, in order, during Process, before Process returns.
// Implementations must not call back into the modem that invoked them.
type Handler interface {
	// OnDecode delivers one decoded character and the frequency of the
	// demodulator that produced it.
	OnDecode(char rune, frequency float64)

	// OnSignal reports signal-detected transitions. It fires only when
	// the detected state changes, not on every processed block.
	OnSignal(detected bool, frequency float64)
}

// ChannelHandler extends Handler with channel-list change notifications
// from a multi-channel demodulator.
type ChannelHandler interface {
	Handler

	// OnChannels delivers the full channel list after channels are
	// added or removed. The slice is a snapshot owned by the receiver.
	OnChannels(channels []Channel)
}

// Channel describes one monitored frequency inside a multi-channel
// demodulator. Records are owned by the demodulator that created them
// and are mutated only by the goroutine driving Process.
type Channel struct {
	ID           int
	Frequency    float64
	Strength     float64 // 0..1
	Detected     bool
	LastChar     rune
	LastActivity time.Time
}

// HandlerFuncs adapts plain functions to the Handler interface.
// Nil fields are ignored.
type HandlerFuncs struct {
	Decode func(char rune, frequency float64)
	Signal func(detected bool, frequency float64)
}

func (h HandlerFuncs) OnDecode(char rune, frequency float64) {
	if h.Decode != nil {
		h.Decode(char, frequency)
	}
}

func (h HandlerFuncs) OnSignal(detected bool, frequency float64) {
	if h.Signal != nil {
		h.Signal(detected, frequency)
	}
}

// ChannelHandlerFuncs adapts plain functions to the ChannelHandler
// interface. Nil fields are ignored.
type ChannelHandlerFuncs struct {
	HandlerFuncs
	Channels func(channels []Channel)
}

func (h ChannelHandlerFuncs) OnChannels(channels []Channel) {
	if h.Channels != nil {
		h.Channels(channels)
	}
}
