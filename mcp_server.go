package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the decode engine over the Model Context Protocol
type MCPServer struct {
	engine     *Engine
	config     *Config
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(engine *Engine, cfg *Config) *MCPServer {
	m := &MCPServer{
		engine: engine,
		config: cfg,
	}

	m.mcpServer = server.NewMCPServer(
		"digimodem",
		appVersion,
		server.WithToolCapabilities(true),
	)

	m.registerTools()

	m.httpServer = server.NewStreamableHTTPServer(m.mcpServer)

	return m
}

// registerTools registers all available MCP tools
func (m *MCPServer) registerTools() {
	// Tool: list_channels
	m.mcpServer.AddTool(
		mcp.NewTool("list_channels",
			mcp.WithDescription("List every demodulator channel with its mode (rtty, psk31, ...), frequency in Hz, signal strength (0-1), squelch state, and last activity. Use this to see which frequencies currently carry a decodable signal."),
			mcp.WithString("format",
				mcp.Description("Output format: 'json' for structured data or 'text' for human-readable summary"),
				mcp.DefaultString("json"),
			),
		),
		m.handleListChannels,
	)

	// Tool: get_recent_decodes
	m.mcpServer.AddTool(
		mcp.NewTool("get_recent_decodes",
			mcp.WithDescription("Get recently decoded text lines from the RTTY and PSK demodulators, newest last. Each line carries its mode, channel, frequency, and timestamp. Use this to read what stations have been sending."),
			mcp.WithString("mode",
				mcp.Description("Mode filter (e.g., 'rtty', 'psk31') or empty for all modes"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of lines to return (default: 25, max: 200)"),
				mcp.DefaultNumber(25.0),
			),
			mcp.WithString("format",
				mcp.Description("Output format: 'json' for structured data or 'text' for human-readable summary"),
				mcp.DefaultString("json"),
			),
		),
		m.handleGetRecentDecodes,
	)

	// Tool: set_squelch
	m.mcpServer.AddTool(
		mcp.NewTool("set_squelch",
			mcp.WithDescription("Override the squelch threshold on one channel, or on every channel of a band when channel is 0. A level of 0 restores the adaptive squelch that tracks the noise floor. Use this when a channel is decoding noise (raise the level) or missing weak signals (lower it)."),
			mcp.WithString("mode",
				mcp.Description("Band to adjust (e.g., 'rtty', 'psk31')"),
			),
			mcp.WithNumber("channel",
				mcp.Description("Channel ID, or 0 to apply to the whole band"),
				mcp.DefaultNumber(0.0),
			),
			mcp.WithNumber("level",
				mcp.Description("Squelch threshold, 0 to restore adaptive squelch"),
				mcp.DefaultNumber(0.0),
			),
		),
		m.handleSetSquelch,
	)

	// Tool: tune_channel
	m.mcpServer.AddTool(
		mcp.NewTool("tune_channel",
			mcp.WithDescription("Move one demodulator channel to a new audio frequency in Hz. For RTTY the frequency is the mark tone; for PSK it is the carrier center. Retuning drops the channel's decode state and restarts signal acquisition."),
			mcp.WithString("mode",
				mcp.Description("Band containing the channel (e.g., 'rtty', 'psk31')"),
			),
			mcp.WithNumber("channel",
				mcp.Description("Channel ID to retune"),
			),
			mcp.WithNumber("frequency",
				mcp.Description("New frequency in Hz"),
			),
		),
		m.handleTuneChannel,
	)
}

// HandleMCP handles MCP protocol requests over HTTP
func (m *MCPServer) HandleMCP(w http.ResponseWriter, r *http.Request) {
	m.httpServer.ServeHTTP(w, r)
}

// Tool handlers

func (m *MCPServer) handleListChannels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")

	channels := m.engine.ChannelList()

	if format == "text" {
		text := fmt.Sprintf("Demodulator Channels: %d\n\n", len(channels))
		for _, ch := range channels {
			state := "quiet"
			if ch.Detected {
				state = "signal"
			}
			text += fmt.Sprintf("%s ch%d: %.1f Hz | strength %.2f | %s", ch.Mode, ch.ID, ch.Frequency, ch.Strength, state)
			if ch.LastChar != "" {
				text += fmt.Sprintf(" | last char %q", ch.LastChar)
			}
			if !ch.LastActivity.IsZero() {
				text += fmt.Sprintf(" | active %s ago", time.Since(ch.LastActivity).Round(time.Second))
			}
			text += "\n"
		}
		return mcp.NewToolResultText(text), nil
	}

	jsonData, err := json.MarshalIndent(channels, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleGetRecentDecodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := request.GetString("mode", "")
	limitFloat := request.GetFloat("limit", 25.0)
	format := request.GetString("format", "json")

	limit := int(limitFloat)
	if limit <= 0 {
		limit = 25
	}
	if limit > 200 {
		limit = 200
	}

	lines := m.engine.RecentLines(0)
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

	result := map[string]interface{}{
		"lines": filtered,
		"count": len(filtered),
		"mode":  mode,
	}

	if format == "text" {
		text := fmt.Sprintf("Recent Decodes: %d line(s)\n", len(filtered))
		if mode != "" {
			text += fmt.Sprintf("Mode: %s\n", mode)
		}
		text += "\n"
		for _, line := range filtered {
			text += fmt.Sprintf("%s | %s ch%d | %.1f Hz | %s\n",
				line.Time.Format("15:04:05"), line.Mode, line.Channel, line.Frequency, line.Text)
		}
		return mcp.NewToolResultText(text), nil
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleSetSquelch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := request.GetString("mode", "")
	channel := int(request.GetFloat("channel", 0.0))
	level := request.GetFloat("level", 0.0)

	if mode == "" {
		return mcp.NewToolResultError(fmt.Sprintf("mode is required (active: %v)", m.engine.Modes())), nil
	}

	if err := m.engine.SetSquelch(mode, channel, level); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set squelch: %v", err)), nil
	}

	scope := fmt.Sprintf("channel %d", channel)
	if channel == 0 {
		scope = "all channels"
	}
	if level == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Restored adaptive squelch on %s of %s", scope, mode)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Squelch on %s of %s set to %.3f", scope, mode, level)), nil
}

func (m *MCPServer) handleTuneChannel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := request.GetString("mode", "")
	channel := int(request.GetFloat("channel", 0.0))
	frequency := request.GetFloat("frequency", 0.0)

	if mode == "" {
		return mcp.NewToolResultError(fmt.Sprintf("mode is required (active: %v)", m.engine.Modes())), nil
	}
	if channel <= 0 {
		return mcp.NewToolResultError("channel must be a positive channel ID"), nil
	}
	if frequency <= 0 {
		return mcp.NewToolResultError("frequency must be positive"), nil
	}

	if err := m.engine.Retune(mode, channel, frequency); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to retune: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Retuned %s channel %d to %.1f Hz", mode, channel, frequency)), nil
}
