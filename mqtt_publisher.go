package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MQTTPublisher publishes decoded lines and metric snapshots to a broker
type MQTTPublisher struct {
	client  mqtt.Client
	config  *MQTTConfig
	metrics *Metrics
}

// MetricPayload represents a metric message for MQTT
type MetricPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// generateClientID creates a random client ID for the MQTT connection
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "digimodem_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the broker and returns a publisher
func NewMQTTPublisher(config *MQTTConfig, metrics *Metrics) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("MQTT: Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client:  client,
		config:  config,
		metrics: metrics,
	}, nil
}

// StartPublisher starts the background metrics snapshot goroutine
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	if mp == nil || mp.config.MetricsInterval <= 0 {
		return
	}
	go mp.startMetricsPublisher(ctx)
}

// startMetricsPublisher publishes metric snapshots at the configured interval
func (mp *MQTTPublisher) startMetricsPublisher(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(mp.config.MetricsInterval) * time.Second)
	defer ticker.Stop()

	log.Printf("MQTT: Metrics publisher started with %d second interval", mp.config.MetricsInterval)

	// Publish immediately on start
	mp.publishMetricsSnapshot()

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT: Metrics publisher stopped")
			return
		case <-ticker.C:
			mp.publishMetricsSnapshot()
		}
	}
}

// PublishLine publishes one decoded line to {prefix}/decode/{mode}/{channel}
func (mp *MQTTPublisher) PublishLine(line DecodedLine) {
	if mp == nil || !mp.client.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/decode/%s/%d", mp.config.TopicPrefix, line.Mode, line.Channel)

	data, err := json.Marshal(line)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal decoded line: %v", err)
		return
	}

	// Publish asynchronously so a slow broker never stalls the engine
	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	mp.metrics.RecordMQTTPublish()

	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to publish decode to %s: %v", topic, token.Error())
		}
	}()
}

// publishMetricsSnapshot gathers the Prometheus registry and publishes
// per-channel, per-band, and system metric groups
func (mp *MQTTPublisher) publishMetricsSnapshot() {
	timestamp := time.Now().Unix()

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("MQTT ERROR: Failed to gather Prometheus metrics: %v", err)
		return
	}

	channelMetrics := make(map[string]map[string]float64) // mode/channel -> name -> value
	bandMetrics := make(map[string]map[string]float64)    // mode -> name -> value
	systemMetrics := make(map[string]float64)

	for _, mf := range metricFamilies {
		metricName := mf.GetName()
		if !strings.HasPrefix(metricName, "digimodem_") {
			continue
		}

		for _, m := range mf.GetMetric() {
			value := extractMetricValue(m)
			if value == nil {
				continue
			}

			labels := make(map[string]string)
			for _, label := range m.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}

			switch {
			case labels["channel"] != "":
				key := labels["mode"] + "/" + labels["channel"]
				if channelMetrics[key] == nil {
					channelMetrics[key] = make(map[string]float64)
				}
				channelMetrics[key][metricName] = *value
			case labels["mode"] != "":
				if bandMetrics[labels["mode"]] == nil {
					bandMetrics[labels["mode"]] = make(map[string]float64)
				}
				bandMetrics[labels["mode"]][metricName] = *value
			default:
				systemMetrics[metricName] = *value
			}
		}
	}

	for key, metrics := range channelMetrics {
		parts := strings.SplitN(key, "/", 2)
		topic := fmt.Sprintf("%s/metrics/channel/%s/%s", mp.config.TopicPrefix, parts[0], parts[1])
		mp.publish(topic, MetricPayload{
			Timestamp: timestamp,
			Metrics:   metrics,
			Labels:    map[string]string{"mode": parts[0], "channel": parts[1]},
		})
	}
	for mode, metrics := range bandMetrics {
		topic := fmt.Sprintf("%s/metrics/band/%s", mp.config.TopicPrefix, mode)
		mp.publish(topic, MetricPayload{
			Timestamp: timestamp,
			Metrics:   metrics,
			Labels:    map[string]string{"mode": mode},
		})
	}
	if len(systemMetrics) > 0 {
		topic := fmt.Sprintf("%s/metrics/system", mp.config.TopicPrefix)
		mp.publish(topic, MetricPayload{
			Timestamp: timestamp,
			Metrics:   systemMetrics,
		})
	}

	if DebugMode {
		log.Printf("DEBUG: MQTT published %d channel, %d band metric groups", len(channelMetrics), len(bandMetrics))
	}
}

// extractMetricValue extracts the numeric value from a Prometheus metric
func extractMetricValue(m *dto.Metric) *float64 {
	if m.GetGauge() != nil {
		v := m.GetGauge().GetValue()
		return &v
	}
	if m.GetCounter() != nil {
		v := m.GetCounter().GetValue()
		return &v
	}
	if m.GetHistogram() != nil {
		v := m.GetHistogram().GetSampleSum()
		return &v
	}
	if m.GetSummary() != nil {
		v := m.GetSummary().GetSampleSum()
		return &v
	}
	return nil
}

// publish sends one metric payload without blocking the caller
func (mp *MQTTPublisher) publish(topic string, payload MetricPayload) {
	if !mp.client.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal payload for %s: %v", topic, err)
		return
	}

	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	mp.metrics.RecordMQTTPublish()

	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to publish to %s: %v", topic, token.Error())
		}
	}()
}

// Disconnect closes the broker connection
func (mp *MQTTPublisher) Disconnect() {
	if mp == nil {
		return
	}
	if mp.client != nil && mp.client.IsConnected() {
		mp.client.Disconnect(250)
		log.Println("MQTT: Disconnected from broker")
	}
}
