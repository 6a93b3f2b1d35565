package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/lipsync-audio-service/internal/config"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

const (
	serviceName    = "lipsync-audio-service"
	serviceVersion = "1.0.0"
)

// HTTPServer provides the monitoring, calibration and result streaming API
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	manager   *lipsync.Manager
	udpServer *UDPServer
	hub       *ResultHub
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server.
// udpServer may be nil when audio is fed in process.
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, mgr *lipsync.Manager,
	udpServer *UDPServer, hub *ResultHub, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		manager:   mgr,
		udpServer: udpServer,
		hub:       hub,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	// No WriteTimeout: websocket connections outlive any single request budget
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("GET /analyzers", h.withMetrics("/analyzers", h.handleAnalyzers))
	mux.HandleFunc("GET /analyzers/{id}", h.withMetrics("/analyzers/{id}", h.handleAnalyzerDetail))
	mux.HandleFunc("DELETE /analyzers/{id}", h.withMetrics("/analyzers/{id}", h.handleAnalyzerDelete))
	mux.HandleFunc("POST /analyzers/{id}/calibrate", h.withMetrics("/analyzers/{id}/calibrate", h.handleCalibrate))
	mux.HandleFunc("PUT /analyzers/{id}/gain", h.withMetrics("/analyzers/{id}/gain", h.handleGain))
	mux.HandleFunc("PUT /analyzers/{id}/window", h.withMetrics("/analyzers/{id}/window", h.handleWindow))

	// The upgrade hijacks the connection, so this route skips the status-capturing wrapper
	mux.HandleFunc("GET /analyzers/{id}/ws", h.handleWebSocket)

	mux.HandleFunc("GET /profile", h.withMetrics("/profile", h.handleProfile))
	mux.HandleFunc("POST /profile/save", h.withMetrics("/profile/save", h.handleProfileSave))
	mux.HandleFunc("DELETE /profile/{vowel}", h.withMetrics("/profile/{vowel}", h.handleProfileReset))

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and disconnects websocket clients
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	err := h.server.Shutdown(ctx)
	if h.hub != nil {
		h.hub.Close()
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// analyzer resolves the {id} path value or writes a 404
func (h *HTTPServer) analyzer(w http.ResponseWriter, r *http.Request) (*lipsync.Analyzer, bool) {
	id := r.PathValue("id")
	a, exists := h.manager.GetAnalyzer(id)
	if !exists {
		writeError(w, http.StatusNotFound, "analyzer not found")
		return nil, false
	}
	return a, true
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"analyzer_manager": map[string]interface{}{
			"status":           "running",
			"active_analyzers": h.manager.ActiveCount(),
			"profile":          h.manager.Profile().Name,
		},
	}
	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}
	if h.hub != nil {
		components["websocket"] = map[string]interface{}{
			"status":  "running",
			"clients": h.hub.ClientCount(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleAnalyzers implements the /analyzers endpoint
func (h *HTTPServer) handleAnalyzers(w http.ResponseWriter, r *http.Request) {
	analyzers := h.manager.All()
	views := make([]AnalyzerView, 0, len(analyzers))
	for _, a := range analyzers {
		views = append(views, newAnalyzerView(a))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_analyzers": len(views),
		"timestamp":       time.Now().UTC(),
		"analyzers":       views,
	})
}

// handleAnalyzerDetail implements GET /analyzers/{id}
func (h *HTTPServer) handleAnalyzerDetail(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analyzer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAnalyzerView(a))
}

// handleAnalyzerDelete implements DELETE /analyzers/{id}
func (h *HTTPServer) handleAnalyzerDelete(w http.ResponseWriter, r *http.Request) {
	if !h.manager.RemoveAnalyzer(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "analyzer not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCalibrate implements POST /analyzers/{id}/calibrate?vowel=A
func (h *HTTPServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analyzer(w, r)
	if !ok {
		return
	}

	v, err := profile.ParseVowel(r.URL.Query().Get("vowel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.Calibrate(v); err != nil {
		switch {
		case errors.Is(err, lipsync.ErrNoFeatures), errors.Is(err, lipsync.ErrStopped):
			writeError(w, http.StatusConflict, calibrationError(err))
		case errors.Is(err, profile.ErrNonFinite):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("Calibration failed",
				slog.String("analyzer_id", a.ID),
				slog.String("vowel", v.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyzer_id": a.ID,
		"vowel":       v.String(),
		"count":       h.manager.Profile().Count(v),
	})
}

// handleGain implements PUT /analyzers/{id}/gain with body {"gain": 1.5}
func (h *HTTPServer) handleGain(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analyzer(w, r)
	if !ok {
		return
	}

	var req struct {
		Gain *float32 `json:"gain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Gain == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"gain\": number}")
		return
	}

	a.SetGain(*req.Gain)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyzer_id": a.ID,
		"gain":        a.Gain(),
	})
}

// handleWindow implements PUT /analyzers/{id}/window.
// The body holds either window_length in samples or frame_duration_ms.
func (h *HTTPServer) handleWindow(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analyzer(w, r)
	if !ok {
		return
	}

	var req struct {
		WindowLength    int `json:"window_length"`
		FrameDurationMs int `json:"frame_duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	length := req.WindowLength
	if length == 0 && req.FrameDurationMs != 0 {
		if req.FrameDurationMs < config.MinFrameDurationMs || req.FrameDurationMs > config.MaxFrameDurationMs {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("frame_duration_ms must be between %d and %d",
				config.MinFrameDurationMs, config.MaxFrameDurationMs))
			return
		}
		length = lipsync.WindowLength(a.SampleRate(), time.Duration(req.FrameDurationMs)*time.Millisecond)
	}

	if err := a.SetWindowLength(length); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"analyzer_id":   a.ID,
		"window_length": length,
	})
}

// handleWebSocket implements GET /analyzers/{id}/ws
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analyzer(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "result streaming disabled")
		return
	}
	h.hub.Serve(w, r, a)
}

// handleProfile implements GET /profile
func (h *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewProfileView(h.manager.Profile()))
}

// handleProfileSave implements POST /profile/save
func (h *HTTPServer) handleProfileSave(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.SaveProfile(); err != nil {
		h.logger.Error("Failed to save profile", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"saved": true,
		"path":  h.manager.Config().ProfilePath,
	})
}

// handleProfileReset implements DELETE /profile/{vowel}
func (h *HTTPServer) handleProfileReset(w http.ResponseWriter, r *http.Request) {
	v, err := profile.ParseVowel(r.PathValue("vowel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.Profile().Reset(v); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Vowel calibration reset", slog.String("vowel", v.String()))
	w.WriteHeader(http.StatusNoContent)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":               c.Server.UDPPort,
			"bind_address":           c.Server.BindAddress,
			"buffer_size":            c.Server.BufferSize,
			"max_concurrent_streams": c.Server.MaxConcurrentStreams,
		},
		"audio": map[string]interface{}{
			"sample_rate":    c.Audio.SampleRate,
			"output_gain":    c.Audio.OutputGain,
			"stream_timeout": c.Audio.StreamTimeout,
		},
		"analysis": map[string]interface{}{
			"frame_duration_ms":  c.Analysis.FrameDurationMs,
			"tick_rate":          c.Analysis.TickRate,
			"min_volume":         c.Analysis.MinVolume,
			"max_distance":       c.Analysis.MaxDistance,
			"suppress_uncertain": c.Analysis.SuppressUncertain,
			"mfcc": map[string]interface{}{
				"num_filters":  c.Analysis.MFCC.NumFilters,
				"low_freq":     c.Analysis.MFCC.LowFreq,
				"high_freq":    c.Analysis.MFCC.HighFreq,
				"pre_emphasis": c.Analysis.MFCC.PreEmphasis,
			},
		},
		"profile": map[string]interface{}{
			"name":         c.Profile.Name,
			"path":         c.Profile.Path,
			"save_on_exit": c.Profile.SaveOnExit,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	var cycles, skipped, extractionErrors, samples uint64
	for _, a := range h.manager.All() {
		s := a.Stats()
		cycles += s.CyclesCompleted
		skipped += s.TicksSkipped
		extractionErrors += s.ExtractionErrors
		samples += s.SamplesIngested
	}

	calibrated := make(map[string]uint64, profile.NumVowels)
	p := h.manager.Profile()
	for _, v := range profile.Vowels() {
		calibrated[v.String()] = p.Count(v)
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"analysis": map[string]interface{}{
			"active_analyzers":  h.manager.ActiveCount(),
			"cycles_completed":  cycles,
			"ticks_skipped":     skipped,
			"extraction_errors": extractionErrors,
			"samples_ingested":  samples,
		},
		"calibration": calibrated,
	}
	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}
	if h.hub != nil {
		stats["websocket_clients"] = h.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Lip-Sync Vowel Analysis Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                          "API documentation",
			"GET /health":                    "Service health check",
			"GET /analyzers":                 "List active analyzers with their latest results",
			"GET /analyzers/{id}":            "Get analyzer details",
			"DELETE /analyzers/{id}":         "Stop and remove an analyzer",
			"POST /analyzers/{id}/calibrate": "Add the latest MFCC vector to ?vowel=A|I|U|E|O",
			"PUT /analyzers/{id}/gain":       "Set the output gain, body {\"gain\": 0..2}",
			"PUT /analyzers/{id}/window":     "Resize the analysis window",
			"GET /analyzers/{id}/ws":         "WebSocket stream of analysis results",
			"GET /profile":                   "Get the calibration profile",
			"POST /profile/save":             "Persist the calibration profile",
			"DELETE /profile/{vowel}":        "Reset one vowel's calibration",
			"GET /config":                    "Get service configuration",
			"GET /stats":                     "Get service statistics",
			"GET /metrics":                   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
