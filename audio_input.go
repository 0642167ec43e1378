package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"

	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// AudioInput receives PCM audio over RTP, typically from a ka9q-radio
// multicast group, and hands float32 blocks to the decode engine.
type AudioInput struct {
	group       *net.UDPAddr
	iface       *net.Interface
	payloadType uint8
	opusPayload uint8 // 0 disables the Opus path
	conn        *net.UDPConn
	blocks      chan []float32
	metrics     *Metrics
	opus        *OpusDecoderWrapper

	running bool
	mu      sync.RWMutex

	lastSSRC uint32
	lastSeq  uint16
	haveSeq  bool
}

// NewAudioInput creates an RTP receiver bound to the configured group
func NewAudioInput(cfg *AudioConfig, metrics *Metrics) (*AudioInput, error) {
	addr, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audio group %s: %w", cfg.Group, err)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", cfg.Interface, err)
		}
	}

	conn, err := setupAudioSocket(addr, iface)
	if err != nil {
		return nil, fmt.Errorf("failed to setup audio socket: %w", err)
	}

	ai := &AudioInput{
		group:       addr,
		iface:       iface,
		payloadType: uint8(cfg.PayloadType),
		opusPayload: uint8(cfg.OpusPayloadType),
		conn:        conn,
		blocks:      make(chan []float32, cfg.BufferBlocks),
		metrics:     metrics,
	}
	if ai.opusPayload != 0 {
		ai.opus = NewOpusDecoder(int(cfg.SampleRate))
	}

	log.Printf("[RTP] listening on %s (iface: %v, payload type %d)", addr.String(), cfg.Interface, cfg.PayloadType)
	return ai, nil
}

// setupAudioSocket creates a UDP socket for receiving the RTP stream.
// SO_REUSEPORT lets other consumers of the same group coexist.
func setupAudioSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	udpConn := conn.(*net.UDPConn)

	if err := udpConn.SetReadBuffer(1024 * 1024); err != nil {
		log.Printf("Warning: failed to set read buffer size: %v", err)
	}

	if addr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(udpConn)
		if iface != nil {
			if err := p.JoinGroup(iface, addr); err != nil {
				log.Printf("Warning: failed to join multicast group on %s: %v", iface.Name, err)
			}
		}
		// Local radiod traffic arrives on loopback
		if loopback, err := getLoopbackInterface(); err == nil && loopback != nil {
			if err := p.JoinGroup(loopback, addr); err != nil {
				log.Printf("Warning: failed to join multicast group on loopback: %v", err)
			}
		}
	}

	return udpConn, nil
}

func getLoopbackInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			return &iface, nil
		}
	}
	return nil, fmt.Errorf("loopback interface not found")
}

// Start begins the receive loop
func (ai *AudioInput) Start() {
	ai.mu.Lock()
	if ai.running {
		ai.mu.Unlock()
		return
	}
	ai.running = true
	ai.mu.Unlock()

	go ai.receiveLoop()
	log.Println("[RTP] audio input started")
}

// Stop stops the receive loop and closes the block channel
func (ai *AudioInput) Stop() {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	if !ai.running {
		return
	}
	ai.running = false
	if ai.conn != nil {
		ai.conn.Close()
	}

	log.Println("[RTP] audio input stopped")
}

// Blocks returns the channel of decoded sample blocks
func (ai *AudioInput) Blocks() <-chan []float32 {
	return ai.blocks
}

// receiveLoop reads RTP packets, filters by payload type, and converts
// payloads to float32 blocks for the engine
func (ai *AudioInput) receiveLoop() {
	buffer := make([]byte, 65536)
	packetCount := 0

	for {
		ai.mu.RLock()
		running := ai.running
		ai.mu.RUnlock()
		if !running {
			break
		}

		n, _, err := ai.conn.ReadFromUDP(buffer)
		if err != nil {
			if !ai.running {
				break
			}
			log.Printf("Error reading UDP packet: %v", err)
			continue
		}

		// Minimum RTP header
		if n < 12 {
			if DebugMode {
				log.Printf("DEBUG: received packet too small (%d bytes), skipping", n)
			}
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			if ai.running {
				log.Printf("Error parsing RTP packet: %v", err)
			}
			continue
		}

		samples := ai.decodePayload(packet)
		if samples == nil {
			ai.metrics.RecordRTPDrop()
			continue
		}

		ai.trackSequence(packet.SSRC, packet.SequenceNumber)
		ai.metrics.RecordRTPPacket()
		packetCount++

		select {
		case ai.blocks <- samples:
		default:
			// Engine is behind; shedding packets beats unbounded latency
			ai.metrics.RecordRTPDrop()
		}
	}

	close(ai.blocks)
	if DebugMode {
		log.Printf("DEBUG: audio receive loop exited after %d packets", packetCount)
	}
}

// decodePayload converts an accepted packet payload to float32 samples,
// or returns nil for payload types this input does not carry
func (ai *AudioInput) decodePayload(packet *rtp.Packet) []float32 {
	switch packet.PayloadType {
	case ai.payloadType:
		if len(packet.Payload) < 2 {
			return nil
		}
		return pcmBigEndianToFloat32(packet.Payload)
	case ai.opusPayload:
		if ai.opus == nil || !ai.opus.IsEnabled() {
			return nil
		}
		samples, err := ai.opus.Decode(packet.Payload)
		if err != nil {
			if DebugMode {
				log.Printf("DEBUG: opus decode error: %v", err)
			}
			return nil
		}
		return samples
	default:
		if DebugMode {
			log.Printf("DEBUG: ignoring RTP payload type %d", packet.PayloadType)
		}
		return nil
	}
}

// trackSequence counts discontinuities in the RTP sequence numbers.
// An SSRC change restarts tracking rather than counting a gap.
func (ai *AudioInput) trackSequence(ssrc uint32, seq uint16) {
	if !ai.haveSeq || ssrc != ai.lastSSRC {
		ai.lastSSRC = ssrc
		ai.lastSeq = seq
		ai.haveSeq = true
		return
	}
	if seq != ai.lastSeq+1 {
		ai.metrics.RecordRTPSequenceGap()
		if DebugMode {
			log.Printf("DEBUG: RTP sequence gap: %d -> %d", ai.lastSeq, seq)
		}
	}
	ai.lastSeq = seq
}

// pcmBigEndianToFloat32 converts big-endian int16 PCM to float32 in [-1, 1)
func pcmBigEndianToFloat32(pcm []byte) []float32 {
	sampleCount := len(pcm) / 2
	samples := make([]float32, sampleCount)
	for i := 0; i < sampleCount; i++ {
		v := int16(pcm[i*2])<<8 | int16(pcm[i*2+1])
		samples[i] = float32(v) / 32768.0
	}
	return samples
}
