package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/caption-engine/internal/transcribe"
)

// maxMemory is how much of a multipart body is held in memory before parts
// spill to disk. Uploads larger than one staging chunk reach the pipeline as
// a temp file.
const maxMemory = 1 << 20

// Transcriber runs uploads through the caption pipeline.
type Transcriber interface {
	CheckAvailability() error
	Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error)
}

type TranscribeResponse struct {
	Success  bool                 `json:"success"`
	Captions []transcribe.Caption `json:"captions"`
	FullText string               `json:"full_text"`
}

// TranscribeHandler serves caption requests.
type TranscribeHandler struct {
	pipeline       Transcriber
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewTranscribeHandler creates a handler. maxUploadBytes <= 0 disables the
// body size limit.
func NewTranscribeHandler(pipeline Transcriber, maxUploadBytes int64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		pipeline:       pipeline,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the transcription endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

// Transcribe handles POST /transcribe.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	// Nothing touches disk until the engine is known to be runnable.
	if err := h.pipeline.CheckAvailability(); err != nil {
		WritePipelineError(w, err)
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	granularity := transcribe.GranularityWord
	wordTimestamps, err := ParseFormBool(r.FormValue("word_timestamps"), true)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid word_timestamps", err.Error())
		return
	}
	if !wordTimestamps {
		granularity = transcribe.GranularitySegment
	}

	language := strings.TrimSpace(r.FormValue("language"))
	if language == "" {
		language = transcribe.DefaultLanguage
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	res, err := h.pipeline.Transcribe(r.Context(), transcribe.Request{
		ID:          RequestIDFromContext(r.Context()),
		Audio:       file,
		Filename:    header.Filename,
		Language:    language,
		Granularity: granularity,
	})
	if err != nil {
		if k := transcribe.KindOf(err); k == transcribe.KindUnknown || k == transcribe.KindInternal {
			h.log.Error().Err(err).Str("filename", header.Filename).Msg("transcription failed")
		}
		WritePipelineError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, TranscribeResponse{
		Success:  true,
		Captions: res.Captions,
		FullText: res.FullText,
	})
}
