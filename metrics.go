package main

import (
	"context"
	"log"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics holds all Prometheus metric collectors for decode and system metrics
type Metrics struct {
	// Decode metrics (mode is "rtty" or "psk31"/"bpsk63"/..., channel is the channel ID)
	charactersDecoded *prometheus.CounterVec // Characters decoded per mode and channel
	linesDecoded      *prometheus.CounterVec // Completed lines per mode and channel
	signalAcquired    *prometheus.CounterVec // Squelch-open transitions per mode and channel
	signalLost        *prometheus.CounterVec // Squelch-close transitions per mode and channel
	channelsActive    *prometheus.GaugeVec   // Configured channels per mode
	channelsDetected  *prometheus.GaugeVec   // Channels currently holding a signal per mode

	// Audio input metrics
	rtpPackets      prometheus.Counter // RTP packets accepted
	rtpDropped      prometheus.Counter // RTP packets dropped (queue full or wrong payload)
	rtpSequenceGaps prometheus.Counter // Detected gaps in the RTP sequence numbers
	samplesIn       prometheus.Counter // PCM samples handed to the engine

	// Engine metrics
	blocksProcessed  prometheus.Counter // Audio blocks run through the demodulators
	blockProcessTime prometheus.Gauge   // Seconds spent on the most recent block

	// Output metrics
	wsClients     prometheus.Gauge   // Connected WebSocket clients
	mqttPublishes prometheus.Counter // Messages published to MQTT

	// System resource metrics
	goroutineCount   prometheus.Gauge // Number of goroutines
	memoryAllocBytes prometheus.Gauge // Currently allocated heap bytes
	cpuPercent       prometheus.Gauge // CPU utilisation percent
	memoryPercent    prometheus.Gauge // System memory utilisation percent
	loadAverage1m    prometheus.Gauge // 1-minute load average
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		charactersDecoded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digimodem_characters_decoded_total",
				Help: "Characters decoded, by mode and channel",
			},
			[]string{"mode", "channel"},
		),
		linesDecoded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digimodem_lines_decoded_total",
				Help: "Completed text lines, by mode and channel",
			},
			[]string{"mode", "channel"},
		),
		signalAcquired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digimodem_signal_acquired_total",
				Help: "Squelch-open transitions, by mode and channel",
			},
			[]string{"mode", "channel"},
		),
		signalLost: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digimodem_signal_lost_total",
				Help: "Squelch-close transitions, by mode and channel",
			},
			[]string{"mode", "channel"},
		),
		channelsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digimodem_channels_active",
				Help: "Configured demodulator channels, by mode",
			},
			[]string{"mode"},
		),
		channelsDetected: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digimodem_channels_detected",
				Help: "Channels currently holding a detected signal, by mode",
			},
			[]string{"mode"},
		),
		rtpPackets: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digimodem_rtp_packets_total",
				Help: "RTP packets accepted from the audio group",
			},
		),
		rtpDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digimodem_rtp_dropped_total",
				Help: "RTP packets dropped (full queue or unexpected payload type)",
			},
		),
		rtpSequenceGaps: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digimodem_rtp_sequence_gaps_total",
				Help: "Gaps observed in RTP sequence numbers",
			},
		),
		samplesIn: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digimodem_samples_in_total",
				Help: "PCM samples delivered to the decode engine",
			},
		),
		blocksProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digimodem_blocks_processed_total",
				Help: "Audio blocks run through the demodulator banks",
			},
		),
		blockProcessTime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_block_process_seconds",
				Help: "Wall time spent demodulating the most recent audio block",
			},
		),
		wsClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_websocket_clients",
				Help: "Connected WebSocket decode stream clients",
			},
		),
		mqttPublishes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digimodem_mqtt_publishes_total",
				Help: "Messages published to the MQTT broker",
			},
		),
		goroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_memory_alloc_bytes",
				Help: "Currently allocated heap bytes",
			},
		),
		cpuPercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_cpu_percent",
				Help: "System CPU utilisation percent",
			},
		),
		memoryPercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_memory_percent",
				Help: "System memory utilisation percent",
			},
		),
		loadAverage1m: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digimodem_load_average_1m",
				Help: "System 1-minute load average",
			},
		),
	}

	return m
}

// RecordDecode counts one decoded character
func (m *Metrics) RecordDecode(mode, channel string) {
	if m == nil {
		return
	}
	m.charactersDecoded.WithLabelValues(mode, channel).Inc()
}

// RecordLine counts one completed text line
func (m *Metrics) RecordLine(mode, channel string) {
	if m == nil {
		return
	}
	m.linesDecoded.WithLabelValues(mode, channel).Inc()
}

// RecordSignal counts a squelch transition
func (m *Metrics) RecordSignal(mode, channel string, detected bool) {
	if m == nil {
		return
	}
	if detected {
		m.signalAcquired.WithLabelValues(mode, channel).Inc()
	} else {
		m.signalLost.WithLabelValues(mode, channel).Inc()
	}
}

// SetChannelCounts updates the per-mode channel gauges
func (m *Metrics) SetChannelCounts(mode string, active, detected int) {
	if m == nil {
		return
	}
	m.channelsActive.WithLabelValues(mode).Set(float64(active))
	m.channelsDetected.WithLabelValues(mode).Set(float64(detected))
}

// RecordRTPPacket counts one accepted RTP packet
func (m *Metrics) RecordRTPPacket() {
	if m == nil {
		return
	}
	m.rtpPackets.Inc()
}

// RecordRTPDrop counts one dropped RTP packet
func (m *Metrics) RecordRTPDrop() {
	if m == nil {
		return
	}
	m.rtpDropped.Inc()
}

// RecordRTPSequenceGap counts one sequence number discontinuity
func (m *Metrics) RecordRTPSequenceGap() {
	if m == nil {
		return
	}
	m.rtpSequenceGaps.Inc()
}

// RecordSamples counts PCM samples delivered to the engine
func (m *Metrics) RecordSamples(n int) {
	if m == nil {
		return
	}
	m.samplesIn.Add(float64(n))
}

// RecordBlock records one processed audio block and its wall time
func (m *Metrics) RecordBlock(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
	m.blockProcessTime.Set(elapsed.Seconds())
}

// RecordWSConnection tracks a WebSocket client connect
func (m *Metrics) RecordWSConnection() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

// RecordWSDisconnect tracks a WebSocket client disconnect
func (m *Metrics) RecordWSDisconnect() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

// RecordMQTTPublish counts one published MQTT message
func (m *Metrics) RecordMQTTPublish() {
	if m == nil {
		return
	}
	m.mqttPublishes.Inc()
}

// updateResourceMetrics refreshes runtime and system resource gauges
func (m *Metrics) updateResourceMetrics() {
	if m == nil {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goroutineCount.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(ms.Alloc))

	// interval 0 compares against the previous call instead of blocking
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.cpuPercent.Set(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.memoryPercent.Set(vm.UsedPercent)
	}
	if avg, err := load.Avg(); err == nil {
		m.loadAverage1m.Set(avg.Load1)
	}
}

// StartSystemMetrics periodically refreshes resource gauges until the
// context is cancelled
func (m *Metrics) StartSystemMetrics(ctx context.Context) {
	if m == nil {
		return
	}

	m.updateResourceMetrics()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.updateResourceMetrics()
				if DebugMode {
					log.Printf("DEBUG: refreshed system metrics (%d goroutines)", runtime.NumGoroutine())
				}
			}
		}
	}()
}
