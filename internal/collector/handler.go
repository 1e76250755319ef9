package collector

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
	"go.uber.org/zap"
)

// Collector API paths
const (
	IntelPath     = "/api/intel"
	HeartbeatPath = "/api/heartbeat"
	StatusPath    = "/api/status"
)

const defaultMaxBodyBytes = 64 * 1024

// Handler handles HTTP requests
type Handler struct {
	store        Store
	maxBodyBytes int64
	logger       *zap.Logger
	now          func() time.Time
}

// NewHandler creates a new HTTP handler. maxBodyBytes <= 0 selects 64 KiB.
func NewHandler(store Store, maxBodyBytes int64, logger *zap.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		store:        store,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
		now:          time.Now,
	}
}

// IngestIntel handles intel report submissions
func (h *Handler) IngestIntel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var report models.IntelReport
	if !h.decode(w, r, &report) {
		return
	}

	if err := ValidateReport(&report); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report.ReceivedAt = h.now().UTC()

	err := h.store.InsertReport(r.Context(), report)
	switch {
	case errors.Is(err, ErrDuplicateReport):
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	case err != nil:
		h.logger.Error("Failed to store report", zap.String("channel", report.Channel), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("Intel received",
		zap.String("channel", report.Channel),
		zap.String("system", report.System),
		zap.String("pilot", report.Pilot),
		zap.Float64("confidence", report.Confidence))

	writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

// Heartbeat handles client heartbeats
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var hb models.Heartbeat
	if !h.decode(w, r, &hb) {
		return
	}

	if err := ValidateHeartbeat(&hb); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hb.LastSeen = h.now().UTC()

	if err := h.store.UpsertHeartbeat(r.Context(), hb); err != nil {
		h.logger.Error("Failed to store heartbeat", zap.String("client_id", hb.ClientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Debug("Heartbeat received",
		zap.String("client_id", hb.ClientID),
		zap.String("pilot", hb.Pilot),
		zap.Int("watched_files", hb.Stats.WatchedFiles),
		zap.Uint64("intel_sent", hb.Stats.IntelSent))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles unauthenticated liveness checks
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.logger.Debug("Failed to decode request", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
