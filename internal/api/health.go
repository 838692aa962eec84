package api

import (
	"net/http"
	"time"

	"github.com/snarg/caption-engine/internal/availability"
	"github.com/snarg/caption-engine/internal/transcribe"
)

// AvailabilitySource reports whether the engine and model can be found.
type AvailabilitySource interface {
	Check() availability.Report
}

// StatsSource reports pipeline counters.
type StatsSource interface {
	Stats() transcribe.Stats
}

type HealthResponse struct {
	Status         string           `json:"status"`
	Version        string           `json:"version"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	WhisperBinary  string           `json:"whisper_binary"`
	WhisperFound   bool             `json:"whisper_found"`
	Model          string           `json:"model"`
	ModelFound     bool             `json:"model_found"`
	ModelPath      string           `json:"model_path,omitempty"`
	FFmpegBinary   string           `json:"ffmpeg_binary"`
	FFmpegFound    bool             `json:"ffmpeg_found"`
	Transcriptions transcribe.Stats `json:"transcriptions"`
}

type HealthHandler struct {
	avail     AvailabilitySource
	stats     StatsSource
	version   string
	startTime time.Time
}

func NewHealthHandler(avail AvailabilitySource, stats StatsSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		avail:     avail,
		stats:     stats,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP always answers 200: the process is up even when the engine is
// not, and the found flags say which part is missing.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.avail.Check()
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		WhisperBinary: report.WhisperBinary,
		WhisperFound:  report.WhisperFound,
		Model:         report.Model,
		ModelFound:    report.ModelFound,
		ModelPath:     report.ModelPath,
		FFmpegBinary:  report.FFmpegBinary,
		FFmpegFound:   report.FFmpegFound,
	}
	if h.stats != nil {
		resp.Transcriptions = h.stats.Stats()
	}
	WriteJSON(w, http.StatusOK, resp)
}
