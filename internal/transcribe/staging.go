package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snarg/caption-engine/internal/metrics"
)

const (
	stageChunkSize   = 1 << 20
	requiredExt      = ".wav"
	convertDetailMax = 200
)

// StagedAudio is the request's audio on disk. ConvertedPath is empty when
// the upload was already WAV.
type StagedAudio struct {
	OriginalPath  string
	ConvertedPath string
}

// EnginePath is the file handed to the engine.
func (s StagedAudio) EnginePath() string {
	if s.ConvertedPath != "" {
		return s.ConvertedPath
	}
	return s.OriginalPath
}

// Stager writes uploads to request-unique temp files and converts them to
// WAV when needed.
type Stager struct {
	TempDir        string
	Converter      Converter
	ConvertTimeout time.Duration
}

// Stage persists r to a fresh temp file named after id, keeping filename's
// extension (".wav" when it has none). Every path is tracked in scope before
// it is created.
func (s *Stager) Stage(ctx context.Context, scope *Scope, id string, r io.Reader, filename string) (StagedAudio, error) {
	ext := uploadExt(filename)

	f, err := os.CreateTemp(s.TempDir, "caption-"+safeID(id)+"-*"+ext)
	if err != nil {
		return StagedAudio{}, newError(KindInternal, err, "failed to stage audio")
	}
	staged := StagedAudio{OriginalPath: f.Name()}
	scope.Track(staged.OriginalPath)

	// Wrapping both sides hides ReaderFrom/WriterTo so the copy goes
	// through the fixed-size buffer.
	buf := make([]byte, stageChunkSize)
	dst := &stageWriter{w: f}
	_, copyErr := io.CopyBuffer(dst, struct{ io.Reader }{r}, buf)
	closeErr := f.Close()
	switch {
	case dst.err != nil:
		return staged, newError(KindInternal, dst.err, "failed to stage audio")
	case copyErr != nil:
		return staged, newError(KindInvalidInput, copyErr, "failed to read uploaded audio")
	case closeErr != nil:
		return staged, newError(KindInternal, closeErr, "failed to stage audio")
	}

	if strings.EqualFold(ext, requiredExt) {
		return staged, nil
	}

	staged.ConvertedPath = staged.OriginalPath + requiredExt
	scope.Track(staged.ConvertedPath)
	if err := s.convert(ctx, staged.OriginalPath, staged.ConvertedPath); err != nil {
		return staged, err
	}
	return staged, nil
}

func (s *Stager) convert(ctx context.Context, src, dst string) error {
	if s.Converter == nil {
		return newError(KindInvalidInput, nil, "audio conversion failed: no converter configured")
	}
	if s.ConvertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ConvertTimeout)
		defer cancel()
	}

	err := s.Converter.Convert(ctx, src, dst)
	if err != nil {
		metrics.ConversionsTotal.WithLabelValues("error").Inc()
		e := newError(KindInvalidInput, err, "audio conversion failed")
		var pe *ProcessError
		if errors.As(err, &pe) {
			e.Detail = truncate(strings.TrimSpace(pe.Stderr), convertDetailMax)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			e.Msg = fmt.Sprintf("audio conversion timed out after %s", s.ConvertTimeout)
		}
		return e
	}
	metrics.ConversionsTotal.WithLabelValues("ok").Inc()
	return nil
}

// stageWriter records write failures so they can be told apart from errors
// reading the upload.
type stageWriter struct {
	w   io.Writer
	err error
}

func (s *stageWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}

func uploadExt(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if ext == "" || ext == "." {
		return requiredExt
	}
	// os.CreateTemp treats '*' specially and rejects separators; such an
	// upload still goes through conversion.
	if strings.ContainsAny(ext, `*/\`) {
		return ".audio"
	}
	return ext
}

// safeID keeps request IDs (which may come from a client header) usable in a
// file name.
func safeID(id string) string {
	const maxLen = 36
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
