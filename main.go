package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const appVersion = "1.0.0"

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

func main() {
	// Record start time for uptime tracking
	StartTime = time.Now()

	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("digimodem %s\n", appVersion)
		return
	}

	// Set global debug mode - check environment variable first, then CLI flag
	DebugMode = *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		// Environment variable takes precedence
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if DebugMode {
		log.Println("Debug mode enabled")
	}

	// Load configuration. A missing config file is not an error: the
	// defaults give a runnable decoder on both bands.
	config, err := LoadConfig(*configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("No config file at %s, using defaults", *configFile)
			config = DefaultConfig()
		} else {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting digimodem server...")
	log.Printf("Server listen: %s", config.Server.Listen)
	if config.Audio.Group != "" {
		log.Printf("Audio input: %s (payload type %d, %.0f Hz)",
			config.Audio.Group, config.Audio.PayloadType, config.Audio.SampleRate)
	} else {
		log.Printf("Audio input: none configured (control surface only)")
	}

	// Initialize Prometheus metrics
	metrics := NewMetrics()

	// Initialize the decode engine with its demodulator banks
	engine, err := NewEngine(config, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize decode engine: %v", err)
	}

	// Initialize the WebSocket decode hub
	hub := NewDecodeHub(engine, metrics)

	// Initialize MQTT publisher if enabled
	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPublisher, err = NewMQTTPublisher(&config.MQTT, metrics)
		if err != nil {
			log.Printf("Warning: Failed to initialize MQTT publisher: %v", err)
			log.Printf("Continuing without MQTT support")
			mqttPublisher = nil
		}
	}

	// Initialize the decode transcript logger
	decodeLogger, err := NewDecodeLogger(config.DecodeLog.Directory, config.DecodeLog.Enabled)
	if err != nil {
		log.Fatalf("Failed to initialize decode logger: %v", err)
	}

	engine.AttachOutputs(hub, mqttPublisher, decodeLogger)

	// Initialize the RTP audio input if a group is configured
	var audioInput *AudioInput
	if config.Audio.Group != "" {
		audioInput, err = NewAudioInput(&config.Audio, metrics)
		if err != nil {
			log.Fatalf("Failed to initialize audio input: %v", err)
		}
	}

	// Create context for graceful shutdown (used by system metrics,
	// MQTT publisher, and the engine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.StartSystemMetrics(ctx)

	if mqttPublisher != nil {
		mqttPublisher.StartPublisher(ctx)
	}

	// Start the decode engine. A nil block channel leaves the engine
	// idle but keeps the control surface and periodic flushes alive.
	var blocks <-chan []float32
	if audioInput != nil {
		audioInput.Start()
		blocks = audioInput.Blocks()
	}
	engineDone := make(chan struct{})
	go func() {
		engine.Run(ctx, blocks)
		close(engineDone)
	}()

	// Register HTTP handlers
	http.HandleFunc("/ws", hub.HandleWebSocket)
	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(w, r, engine, hub)
	})
	http.HandleFunc("/api/channels", func(w http.ResponseWriter, r *http.Request) {
		handleChannels(w, r, engine)
	})
	http.HandleFunc("/api/decodes", func(w http.ResponseWriter, r *http.Request) {
		handleDecodes(w, r, engine)
	})

	// Register Prometheus metrics endpoint
	// Path is hardcoded to /metrics
	if config.Prometheus.Enabled {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("Prometheus metrics enabled at /metrics")
	}

	// Register MCP endpoint
	if config.MCP.Enabled {
		mcpServer := NewMCPServer(engine, config)
		http.HandleFunc("/mcp", mcpServer.HandleMCP)
		log.Printf("MCP server enabled at /mcp")
	}

	// Start HTTP server
	server := &http.Server{
		Addr: config.Server.Listen,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")

		// Stop the audio input first so the engine drains its queue
		if audioInput != nil {
			audioInput.Stop()
		}
		cancel()

		// Then close the HTTP server
		if err := server.Close(); err != nil {
			log.Printf("Error closing server: %v", err)
		}
	}()

	// Start server
	log.Printf("Server listening on %s", config.Server.Listen)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	// Wait for the engine to flush pending lines before closing the
	// outputs it writes to
	<-engineDone
	if err := decodeLogger.Close(); err != nil {
		log.Printf("Error closing decode logger: %v", err)
	}
	if mqttPublisher != nil {
		mqttPublisher.Disconnect()
	}

	log.Println("Server stopped")
}

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStatus serves server identity and runtime counters
func handleStatus(w http.ResponseWriter, r *http.Request, engine *Engine, hub *DecodeHub) {
	w.Header().Set("Content-Type", "application/json")

	status := map[string]interface{}{
		"version":        appVersion,
		"uptime_seconds": int(time.Since(StartTime).Seconds()),
		"modes":          engine.Modes(),
		"channels":       len(engine.ChannelList()),
		"ws_clients":     hub.ClientCount(),
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("Error encoding status response: %v", err)
	}
}

// handleChannels serves the current channel table across all bands
func handleChannels(w http.ResponseWriter, r *http.Request, engine *Engine) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(engine.ChannelList()); err != nil {
		log.Printf("Error encoding channels response: %v", err)
	}
}

// handleDecodes serves recent decoded lines, newest last. Optional
// query parameters: mode (filter) and limit (default 50, max 500).
func handleDecodes(w http.ResponseWriter, r *http.Request, engine *Engine) {
	w.Header().Set("Content-Type", "application/json")

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	mode := r.URL.Query().Get("mode")
	lines := engine.RecentLines(0)
	filtered := make([]DecodedLine, 0, len(lines))
	for _, line := range lines {
		if mode != "" && line.Mode != mode {
			continue
		}
		filtered = append(filtered, line)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	if err := json.NewEncoder(w).Encode(filtered); err != nil {
		log.Printf("Error encoding decodes response: %v", err)
	}
}
