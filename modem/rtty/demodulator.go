package rtty

import (
	"math"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/baudot"
	"github.com/cwsl/digimodem/modem/dsp"
)

// State is the bit-timing automaton position of a Demodulator.
type State int

const (
	StateWaitingForStart State = iota
	StateInStartBit
	StateReceivingData
	StateInStopBits
)

func (s State) String() string {
	switch s {
	case StateWaitingForStart:
		return "waiting"
	case StateInStartBit:
		return "start"
	case StateReceivingData:
		return "data"
	case StateInStopBits:
		return "stop"
	}
	return "unknown"
}

const (
	// stepsPerBit fixes the decision cadence at a quarter bit.
	stepsPerBit = 4
	// dataSamplePhase places the data-bit decision at 75% of the bit
	// period, clear of both transition edges.
	dataSamplePhase = 3
	// startOffsetSteps is how far into the start bit the correlator
	// threshold crossing typically lands, given the half-bit analysis
	// window. The bit clock is back-dated by this amount.
	startOffsetSteps = 2

	// decisionThreshold is the correlation magnitude below which a bit
	// decision carries zero confidence.
	decisionThreshold = 0.2
	// confidenceFull is the correlation magnitude treated as a fully
	// confident decision.
	confidenceFull = 0.5

	agcAttack  = 0.01
	agcDecay   = 0.0001
	agcMinGain = 0.1
	agcMaxGain = 10

	strengthHistoryLen = 8

	defaultNoiseFloor = 0.002
	floorTrackIdle    = 0.005
	floorTrackBusy    = 0.00005
	floorMin          = 1e-4
	floorMax          = 0.5
	squelchRatio      = 3.0
	hysteresisRatio   = 0.7

	afcInterval        = 8
	afcAlpha           = 0.1
	afcRetuneThreshold = 5.0

	// resyncErrorLimit framing errors in a row reset the Baudot shift
	// state, since a missed shift code garbles everything after it.
	resyncErrorLimit = 3
)

// afcOffsets is the probe grid scanned for mark/space separation.
var afcOffsets = [5]float64{-50, -25, 0, 25, 50}

type afcProbe struct {
	offset   float64
	detector *dsp.FSKDetector
}

type bitDecision struct {
	mark       bool
	confidence float64
}

// Demodulator decodes one RTTY signal from an audio stream. Process
// is synchronous: decode and signal callbacks fire inline before it
// returns. Instances are not safe for concurrent use; the caller
// serializes access.
type Demodulator struct {
	cfg     Config
	handler modem.Handler
	codec   *baudot.Codec

	// tuning, including any AFC correction
	tunedMark  float64
	tunedSpace float64

	filter   *dsp.CascadedBandpassFilter
	agc      *dsp.AGC
	detector *dsp.FSKDetector
	afcBank  [len(afcOffsets)]afcProbe

	window     []float32
	ordered    []float32
	windowPos  int
	windowFull bool

	samplesPerBit float64
	stepSize      float64
	clock         int64
	nextStep      float64

	corr        float64
	strength    float64
	history     [strengthHistoryLen]float64
	historyPos  int
	historyFill int

	noiseFloor      float64
	squelchOverride float64
	detected        bool

	afcCounter  int
	afcSmoothed float64

	st        State
	charStep  int
	bits      [5]bitDecision
	errorRun  int
	charCount int64
}

// NewDemodulator returns a demodulator for cfg delivering events to
// handler. A nil handler discards events; strength and detection are
// still tracked and readable through the accessors.
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
		codec:           baudot.NewCodec(),
		agc:             dsp.NewAGC(agcAttack, agcDecay, agcMinGain, agcMaxGain),
		samplesPerBit:   cfg.SamplesPerBit(),
		noiseFloor:      defaultNoiseFloor,
		squelchOverride: cfg.SquelchOverride,
	}
	d.stepSize = d.samplesPerBit / stepsPerBit
	d.nextStep = d.stepSize

	windowSize := int(d.samplesPerBit / 2)
	if windowSize < 4 {
		windowSize = 4
	}
	d.window = make([]float32, windowSize)
	d.ordered = make([]float32, windowSize)

	d.tune(cfg.MarkFrequency)
	return d, nil
}

// Process consumes a block of samples, firing handler callbacks inline
// as characters complete.
func (d *Demodulator) Process(samples []float32) {
	for _, raw := range samples {
		s := d.agc.Process(d.filter.Process(raw))
		d.window[d.windowPos] = s
		d.windowPos++
		if d.windowPos == len(d.window) {
			d.windowPos = 0
			d.windowFull = true
		}
		d.clock++
		if float64(d.clock) >= d.nextStep {
			d.nextStep += d.stepSize
			d.step()
		}
	}
}

func (d *Demodulator) step() {
	if !d.windowFull {
		return
	}
	w := d.orderedWindow()

	corr, total := d.detector.Measure(w)
	if d.cfg.InvertPolarity {
		corr = -corr
	}
	d.corr = corr

	d.updateStrength(total)
	d.updateNoiseFloor()
	d.updateDetected()
	if d.cfg.AFCEnabled {
		d.runAFC(w)
	}
	d.advanceState()
}

// orderedWindow linearizes the ring buffer so the correlators see the
// samples in arrival order.
func (d *Demodulator) orderedWindow() []float32 {
	n := copy(d.ordered, d.window[d.windowPos:])
	copy(d.ordered[n:], d.window[:d.windowPos])
	return d.ordered
}

func (d *Demodulator) updateStrength(total float64) {
	d.history[d.historyPos] = total
	d.historyPos = (d.historyPos + 1) % strengthHistoryLen
	if d.historyFill < strengthHistoryLen {
		d.historyFill++
	}

	// Weighted average, newest sample heaviest.
	sum, weights := 0.0, 0.0
	for i := 0; i < d.historyFill; i++ {
		idx := (d.historyPos - 1 - i + 2*strengthHistoryLen) % strengthHistoryLen
		w := float64(d.historyFill - i)
		sum += d.history[idx] * w
		weights += w
	}
	if weights > 0 {
		d.strength = sum / weights
	}
}

func (d *Demodulator) updateNoiseFloor() {
	rate := floorTrackIdle
	if d.detected {
		rate = floorTrackBusy
	}
	d.noiseFloor += (d.strength - d.noiseFloor) * rate
	if d.noiseFloor < floorMin {
		d.noiseFloor = floorMin
	}
	if d.noiseFloor > floorMax {
		d.noiseFloor = floorMax
	}
}

func (d *Demodulator) effectiveSquelch() float64 {
	if d.squelchOverride > 0 {
		return d.squelchOverride
	}
	return d.noiseFloor * squelchRatio
}

func (d *Demodulator) updateDetected() {
	sq := d.effectiveSquelch()
	switch {
	case !d.detected && d.strength >= sq:
		d.detected = true
		d.handler.OnSignal(true, d.tunedMark)
	case d.detected && d.strength < sq*hysteresisRatio:
		d.detected = false
		d.handler.OnSignal(false, d.tunedMark)
	}
}

func (d *Demodulator) runAFC(w []float32) {
	d.afcCounter++
	if d.afcCounter < afcInterval {
		return
	}
	d.afcCounter = 0
	if !d.detected {
		return
	}

	// Raw separation, not the normalized correlation: during mark-only
	// idle every probe's correlation saturates near 1.0 regardless of
	// offset, while the absolute mark/space power difference still
	// peaks at the true tuning.
	bestOffset, bestSep := 0.0, -1.0
	for _, p := range d.afcBank {
		corr, total := p.detector.Measure(w)
		sep := math.Abs(corr) * total
		if sep > bestSep {
			bestSep = sep
			bestOffset = p.offset
		}
	}

	d.afcSmoothed += afcAlpha * (bestOffset - d.afcSmoothed)
	if math.Abs(d.afcSmoothed) > afcRetuneThreshold {
		d.tune(d.tunedMark + d.afcSmoothed)
	}
}

// tune rebuilds the filter, detector and AFC bank at a new mark
// frequency and restarts the bit clock. The analysis window is cleared
// because its contents were filtered at the old tuning.
func (d *Demodulator) tune(markFreq float64) {
	d.tunedMark = markFreq
	d.tunedSpace = markFreq + d.cfg.Shift

	d.filter = dsp.NewCascadedBandpassForTones(
		d.cfg.FilterSections, d.tunedMark, d.tunedSpace, d.cfg.FilterMargin, d.cfg.SampleRate)
	windowSize := len(d.window)
	d.detector = dsp.NewFSKDetector(d.tunedMark, d.tunedSpace, d.cfg.SampleRate, windowSize)
	for i, off := range afcOffsets {
		d.afcBank[i] = afcProbe{
			offset:   off,
			detector: dsp.NewFSKDetector(d.tunedMark+off, d.tunedSpace+off, d.cfg.SampleRate, windowSize),
		}
	}

	d.afcSmoothed = 0
	d.windowPos = 0
	d.windowFull = false
	for i := range d.window {
		d.window[i] = 0
	}
	d.st = StateWaitingForStart
}

func (d *Demodulator) advanceState() {
	switch d.st {
	case StateWaitingForStart:
		if d.corr < -decisionThreshold {
			d.st = StateInStartBit
			d.charStep = startOffsetSteps
		}

	case StateInStartBit:
		d.charStep++
		switch {
		case d.charStep == dataSamplePhase:
			if d.corr >= 0 {
				d.st = StateWaitingForStart // false start
			}
		case d.charStep >= stepsPerBit:
			d.st = StateReceivingData
		}

	case StateReceivingData:
		d.charStep++
		rel := d.charStep - stepsPerBit
		if rel%stepsPerBit == dataSamplePhase {
			bit := rel / stepsPerBit
			if bit >= 0 && bit < 5 {
				d.bits[bit] = bitDecision{
					mark:       d.corr > 0,
					confidence: bitConfidence(d.corr),
				}
			}
		}
		if d.charStep >= stepsPerBit*6 {
			d.st = StateInStopBits
		}

	case StateInStopBits:
		d.charStep++
		if d.charStep == stepsPerBit*6+dataSamplePhase {
			d.finishCharacter()
			if d.st == StateWaitingForStart {
				return // framing error resync
			}
		}
		if d.charStep >= stepsPerBit*6+stepsPerBit*3/2 {
			d.st = StateWaitingForStart
		}
	}
}

// finishCharacter validates the stop bit and, if the frame and the
// squelch agree, decodes and emits the character.
func (d *Demodulator) finishCharacter() {
	if d.corr <= 0 {
		// Stop bit did not read as mark: framing error. Hunt for the
		// next start edge immediately rather than waiting out the
		// frame.
		d.errorRun++
		if d.errorRun >= resyncErrorLimit {
			d.codec.Reset()
			d.errorRun = 0
		}
		d.st = StateWaitingForStart
		return
	}

	var code byte
	confidence := 1.0
	for i, b := range d.bits {
		if b.mark {
			code |= 1 << uint(i)
		}
		if b.confidence < confidence {
			confidence = b.confidence
		}
	}

	if d.strength < d.effectiveSquelch() || confidence < d.cfg.MinConfidence {
		return
	}

	d.errorRun = 0
	d.charCount++
	if ch, ok := d.codec.Decode(code); ok {
		d.handler.OnDecode(ch, d.tunedMark)
	}
}

func bitConfidence(corr float64) float64 {
	m := math.Abs(corr)
	switch {
	case m <= decisionThreshold:
		return 0
	case m >= confidenceFull:
		return 1
	default:
		return (m - decisionThreshold) / (confidenceFull - decisionThreshold)
	}
}

// SignalStrength returns the smoothed in-band power, clamped to 0..1.
func (d *Demodulator) SignalStrength() float64 {
	if d.strength < 0 {
		return 0
	}
	if d.strength > 1 {
		return 1
	}
	return d.strength
}

// SignalDetected reports whether strength currently clears the squelch.
func (d *Demodulator) SignalDetected() bool { return d.detected }

// Correlation returns the most recent mark/space correlation.
func (d *Demodulator) Correlation() float64 { return d.corr }

// Frequency returns the current mark frequency, including AFC drift.
func (d *Demodulator) Frequency() float64 { return d.tunedMark }

// State returns the bit-timing automaton position.
func (d *Demodulator) State() State { return d.st }

// Config returns the configuration the demodulator was built from.
func (d *Demodulator) Config() Config { return d.cfg }

// SetSquelch replaces the adaptive squelch with a fixed strength
// threshold. Zero restores adaptive behavior.
func (d *Demodulator) SetSquelch(level float64) {
	if level < 0 {
		level = 0
	}
	d.squelchOverride = level
}

// Squelch returns the strength threshold currently gating output.
func (d *Demodulator) Squelch() float64 { return d.effectiveSquelch() }

// CharacterCount returns how many frames passed validation, including
// shift codes that produced no visible character.
func (d *Demodulator) CharacterCount() int64 { return d.charCount }

// Reset returns the demodulator to its initial state at the original
// configured tuning, dropping any AFC correction.
func (d *Demodulator) Reset() {
	d.agc.Reset()
	d.codec.Reset()
	d.clock = 0
	d.nextStep = d.stepSize
	d.corr = 0
	d.strength = 0
	d.history = [strengthHistoryLen]float64{}
	d.historyPos = 0
	d.historyFill = 0
	d.noiseFloor = defaultNoiseFloor
	d.detected = false
	d.afcCounter = 0
	d.errorRun = 0
	d.charCount = 0
	d.tune(d.cfg.MarkFrequency)
}
