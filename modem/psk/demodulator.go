package psk

import (
	"math"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/varicode"
)

const (
	// iqAlpha is the single-pole lowpass coefficient applied to the
	// mixed I/Q streams.
	iqAlpha = 0.1

	// snrThreshold is the normalized SNR a symbol must clear, on top of
	// the power floor, to count as signal.
	snrThreshold = 0.1

	floorAlpha = 0.01
	floorMin   = 1e-6
	floorMax   = 0.25
)

// grayRegionToDibit maps a quantized phase-difference region
// (multiples of 90 degrees) back to the transmitted dibit.
var grayRegionToDibit = [4]byte{0b00, 0b01, 0b11, 0b10}

// Demodulator recovers text from a PSK signal. Process is synchronous
// and single-threaded, matching the FSK demodulator's contract.
//
// Symbol windows are offset half a symbol from the transmitter's, so
// the on-time gate integrates across a symbol boundary where the
// raised-cosine transition leaves the phase flattest. The early/late
// gates produce a timing-error estimate that is currently advisory
// only; it is reported by TimingError but not fed back into the
// sampling position.
type Demodulator struct {
	cfg     Config
	handler modem.Handler
	decoder *varicode.Decoder

	loPhase float64
	loStep  float64

	iFilt, qFilt float64

	symbolLen int
	skip      int
	n         int

	earlyI, earlyQ float64
	onI, onQ       float64
	lateI, lateQ   float64

	prevI, prevQ float64
	havePrev     bool

	power           float64
	noiseFloor      float64
	squelchOverride float64
	detected        bool
	timingError     float64
	symbolCount     int64
}

// NewDemodulator returns a demodulator for cfg delivering events to
// handler. A nil handler discards events.
func NewDemodulator(cfg Config, handler modem.Handler) (*Demodulator, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = modem.HandlerFuncs{}
	}
	d := &Demodulator{
		cfg:             cfg,
		handler:         handler,
		decoder:         varicode.NewDecoder(),
		loStep:          2 * math.Pi * cfg.CenterFrequency / cfg.SampleRate,
		symbolLen:       cfg.SamplesPerSymbol(),
		noiseFloor:      cfg.PowerFloor,
		squelchOverride: cfg.SquelchOverride,
	}
	d.skip = d.symbolLen / 2
	return d, nil
}

// Process consumes a block of samples, firing handler callbacks inline
// as characters complete.
func (d *Demodulator) Process(samples []float32) {
	for _, s := range samples {
		i := float64(s) * math.Cos(d.loPhase)
		q := -float64(s) * math.Sin(d.loPhase)
		d.loPhase += d.loStep
		if d.loPhase >= 2*math.Pi {
			d.loPhase -= 2 * math.Pi
		}

		d.iFilt += iqAlpha * (i - d.iFilt)
		d.qFilt += iqAlpha * (q - d.qFilt)

		if d.skip > 0 {
			d.skip--
			continue
		}

		half := d.symbolLen / 2
		quarter := d.symbolLen / 4
		if d.n < half {
			d.earlyI += d.iFilt
			d.earlyQ += d.qFilt
		} else {
			d.lateI += d.iFilt
			d.lateQ += d.qFilt
		}
		if d.n >= quarter && d.n < quarter+half {
			d.onI += d.iFilt
			d.onQ += d.qFilt
		}

		d.n++
		if d.n >= d.symbolLen {
			d.endSymbol()
		}
	}
}

func (d *Demodulator) endSymbol() {
	norm := float64(d.symbolLen) / 2
	curI := d.onI / norm
	curQ := d.onQ / norm
	d.power = curI*curI + curQ*curQ
	d.symbolCount++

	earlyMag := math.Hypot(d.earlyI, d.earlyQ) / norm
	lateMag := math.Hypot(d.lateI, d.lateQ) / norm
	if sum := earlyMag + lateMag; sum > 0 {
		d.timingError = (earlyMag - lateMag) / sum
	} else {
		d.timingError = 0
	}

	d.updateDetected()
	if d.detected && d.havePrev {
		d.decide(curI, curQ)
	}

	d.prevI, d.prevQ = curI, curQ
	d.havePrev = true

	d.earlyI, d.earlyQ = 0, 0
	d.onI, d.onQ = 0, 0
	d.lateI, d.lateQ = 0, 0
	d.n = 0
}

func (d *Demodulator) updateDetected() {
	if !d.detected {
		d.noiseFloor += (d.power - d.noiseFloor) * floorAlpha
		if d.noiseFloor < floorMin {
			d.noiseFloor = floorMin
		}
		if d.noiseFloor > floorMax {
			d.noiseFloor = floorMax
		}
	}

	var now bool
	if d.squelchOverride > 0 {
		now = d.power > d.squelchOverride
	} else {
		snr := (d.power - d.noiseFloor) / (d.power + d.noiseFloor)
		now = d.power > d.cfg.PowerFloor && snr > snrThreshold
	}

	if now != d.detected {
		d.detected = now
		if !now {
			d.decoder.Reset()
			d.havePrev = false
		}
		d.handler.OnSignal(now, d.cfg.CenterFrequency)
	}
}

// decide turns the phase step since the previous symbol into bits and
// feeds them to the Varicode decoder.
func (d *Demodulator) decide(curI, curQ float64) {
	dot := curI*d.prevI + curQ*d.prevQ

	if d.cfg.Modulation == BPSK {
		var bit byte
		if dot < 0 {
			bit = 1
		}
		d.feed(bit)
		return
	}

	cross := curQ*d.prevI - curI*d.prevQ
	dphi := math.Atan2(cross, dot)
	if dphi < 0 {
		dphi += 2 * math.Pi
	}
	region := int(math.Floor(dphi/(math.Pi/2)+0.5)) % 4
	dibit := grayRegionToDibit[region]
	d.feed(dibit >> 1 & 1)
	d.feed(dibit & 1)
}

func (d *Demodulator) feed(bit byte) {
	if ch, ok := d.decoder.DecodeBit(bit); ok {
		d.handler.OnDecode(ch, d.cfg.CenterFrequency)
	}
}

// SignalStrength returns the last symbol power scaled so a full-scale
// carrier reads 1.0.
func (d *Demodulator) SignalStrength() float64 {
	s := 4 * d.power
	if s > 1 {
		return 1
	}
	return s
}

// SignalDetected reports whether the last symbol cleared detection.
func (d *Demodulator) SignalDetected() bool { return d.detected }

// TimingError returns the advisory early/late gate imbalance in
// [-1, 1]; positive means the gates lead the incoming symbols.
func (d *Demodulator) TimingError() float64 { return d.timingError }

// Frequency returns the configured carrier frequency.
func (d *Demodulator) Frequency() float64 { return d.cfg.CenterFrequency }

// SymbolCount returns how many symbol windows have completed.
func (d *Demodulator) SymbolCount() int64 { return d.symbolCount }

// Config returns the configuration the demodulator was built from.
func (d *Demodulator) Config() Config { return d.cfg }

// SetSquelch replaces adaptive detection with a fixed power threshold.
// Zero restores adaptive behavior.
func (d *Demodulator) SetSquelch(level float64) {
	if level < 0 {
		level = 0
	}
	d.squelchOverride = level
}

// Reset returns the demodulator to its initial state.
func (d *Demodulator) Reset() {
	d.decoder.Reset()
	d.loPhase = 0
	d.iFilt, d.qFilt = 0, 0
	d.skip = d.symbolLen / 2
	d.n = 0
	d.earlyI, d.earlyQ = 0, 0
	d.onI, d.onQ = 0, 0
	d.lateI, d.lateQ = 0, 0
	d.prevI, d.prevQ = 0, 0
	d.havePrev = false
	d.power = 0
	d.noiseFloor = d.cfg.PowerFloor
	d.detected = false
	d.timingError = 0
	d.symbolCount = 0
}
