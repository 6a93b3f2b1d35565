package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/lipsync-audio-service/internal/config"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/protocol"
)

const (
	numWorkers       = 4
	workerQueueSize  = 256
	readPollInterval = time.Second
)

// UDPServer receives audio packets and feeds them to analyzers
type UDPServer struct {
	conn              *net.UDPConn
	config            *config.ServerConfig
	defaultSampleRate int
	logger            *slog.Logger
	manager           *lipsync.Manager
	metrics           *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// receiving and processing stop in two phases so queues close only after the last send
	recvWG   sync.WaitGroup
	workerWG sync.WaitGroup
	stopOnce sync.Once

	// Packets of one stream always land on the same worker, preserving their order
	queues []chan *incomingPacket

	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	parseErrors      atomic.Uint64
	packetsDropped   atomic.Uint64
	packetsLost      atomic.Uint64
	packetsLate      atomic.Uint64
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// streamState is owned by a single worker
type streamState struct {
	lastSequence uint32
	seen         bool
}

// NewUDPServer creates a new UDP server instance.
// defaultSampleRate is used for streams that send audio without a start packet.
func NewUDPServer(cfg *config.ServerConfig, defaultSampleRate int, logger *slog.Logger,
	mgr *lipsync.Manager, m *metrics.Metrics) *UDPServer {

	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]chan *incomingPacket, numWorkers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, workerQueueSize)
	}

	return &UDPServer{
		config:            cfg,
		defaultSampleRate: defaultSampleRate,
		logger:            logger,
		manager:           mgr,
		metrics:           m,
		ctx:               ctx,
		cancel:            cancel,
		queues:            queues,
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", numWorkers),
	)

	for i := range s.queues {
		s.workerWG.Add(1)
		go s.packetProcessor(i)
	}

	s.recvWG.Add(1)
	go s.receiveLoop()

	return nil
}

// LocalAddr returns the bound address, or nil before Start
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server.
// Queued packets are still delivered to their analyzers.
func (s *UDPServer) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping UDP server...")

		s.cancel()

		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
			}
		}

		s.recvWG.Wait()
		for _, q := range s.queues {
			close(q)
		}
		s.workerWG.Wait()

		stats := s.GetStatistics()
		s.logger.Info("UDP server stopped",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("parse_errors", stats.ParseErrors),
			slog.Uint64("packets_dropped", stats.PacketsDropped),
		)
	})
	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.recvWG.Done()

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Periodic deadline lets the loop notice cancellation
		if err := s.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.packetsReceived.Add(1)
		s.metrics.RecordPacketReceived()

		// Buffer is reused, so the packet gets its own copy
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		worker := workerFor(packetData, len(s.queues))
		select {
		case s.queues[worker] <- packet:
			s.metrics.SetQueueSize(s.queueSize())
		default:
			s.packetsDropped.Add(1)
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
				slog.Int("worker_id", worker),
			)
		}
	}
}

// workerFor shards by stream ID. Packets too short to carry one go to worker 0 and fail parsing there.
func workerFor(data []byte, workers int) int {
	if len(data) < protocol.HeaderSize {
		return 0
	}
	return int(binary.BigEndian.Uint32(data[3:7]) % uint32(workers))
}

// packetProcessor processes packets from one worker queue
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.workerWG.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	streams := make(map[uint32]*streamState)
	for packet := range s.queues[workerID] {
		s.handlePacket(packet, workerID, streams)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int, streams map[uint32]*streamState) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.parseErrors.Add(1)
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.packetsProcessed.Add(1)
	s.metrics.RecordPacketProcessed()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeStart:
		s.processStartPacket(parsed.Header, parsed.Start, workerID, streams)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsed.Header, parsed.Audio, workerID, streams)
	case protocol.PacketTypeStop:
		s.processStopPacket(parsed.Header, workerID, streams)
	}
}

// processStartPacket creates the stream's analyzer, or renames an existing one
func (s *UDPServer) processStartPacket(header *protocol.Header, payload *protocol.StartPayload,
	workerID int, streams map[uint32]*streamState) {

	a, err := s.manager.CreateAnalyzer(AnalyzerID(header.StreamID), payload.GetName(), int(payload.SampleRate))
	if err != nil {
		s.logger.Error("Failed to create analyzer",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}
	streams[header.StreamID] = &streamState{}

	s.logger.Info("Start packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("name", a.Name()),
		slog.Int("sample_rate", a.SampleRate()),
		slog.Int("channels", int(header.Channels)),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket feeds samples to the stream's analyzer.
// A stream that never sent a start packet gets an analyzer at the default sample rate.
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload,
	workerID int, streams map[uint32]*streamState) {

	id := AnalyzerID(header.StreamID)
	a, exists := s.manager.GetAnalyzer(id)
	if !exists {
		var err error
		a, err = s.manager.CreateAnalyzer(id, "", s.defaultSampleRate)
		if err != nil {
			s.logger.Warn("Dropping audio for stream without analyzer",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.Uint64("sequence", uint64(payload.Sequence)),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
			)
			return
		}
		s.logger.Info("Audio for unannounced stream, analyzer created",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("sample_rate", s.defaultSampleRate),
		)
	}

	state, ok := streams[header.StreamID]
	if !ok {
		state = &streamState{}
		streams[header.StreamID] = state
	}
	if state.seen {
		// Serial number arithmetic so the sequence may wrap
		switch diff := int32(payload.Sequence - state.lastSequence); {
		case diff == 1:
		case diff > 1:
			lost := uint32(diff - 1)
			s.packetsLost.Add(uint64(lost))
			s.metrics.RecordPacketsLost(lost)
			s.logger.Debug("Audio sequence gap",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.Uint64("expected", uint64(state.lastSequence+1)),
				slog.Uint64("sequence", uint64(payload.Sequence)),
				slog.Uint64("lost", uint64(lost)),
			)
		default:
			// The ring buffer only moves forward, so late audio would land out of place
			s.packetsLate.Add(1)
			s.metrics.RecordPacketLate()
			s.logger.Debug("Dropping late audio packet",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.Uint64("last_sequence", uint64(state.lastSequence)),
				slog.Uint64("sequence", uint64(payload.Sequence)),
			)
			return
		}
	}
	state.lastSequence = payload.Sequence
	state.seen = true

	a.Ingest(payload.Samples, int(header.Channels))
}

// processStopPacket removes the stream's analyzer
func (s *UDPServer) processStopPacket(header *protocol.Header, workerID int, streams map[uint32]*streamState) {
	delete(streams, header.StreamID)

	if !s.manager.RemoveAnalyzer(AnalyzerID(header.StreamID)) {
		s.logger.Warn("Stop packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("worker_id", workerID),
		)
	}
}

func (s *UDPServer) queueSize() int {
	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	return ServerStatistics{
		PacketsReceived:  s.packetsReceived.Load(),
		PacketsProcessed: s.packetsProcessed.Load(),
		ParseErrors:      s.parseErrors.Load(),
		PacketsDropped:   s.packetsDropped.Load(),
		PacketsLost:      s.packetsLost.Load(),
		PacketsLate:      s.packetsLate.Load(),
		ActiveAnalyzers:  uint64(s.manager.ActiveCount()),
		QueueSize:        uint64(s.queueSize()),
		QueueCapacity:    uint64(numWorkers * workerQueueSize),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	PacketsLost      uint64 `json:"packets_lost"`
	PacketsLate      uint64 `json:"packets_late"`
	ActiveAnalyzers  uint64 `json:"active_analyzers"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

// AnalyzerID is the analyzer key used for a packet stream
func AnalyzerID(streamID uint32) string {
	return strconv.FormatUint(uint64(streamID), 10)
}
