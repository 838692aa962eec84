package transcribe

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/caption-engine/internal/metrics"
)

const (
	DefaultLanguage = "zh"

	DefaultConvertTimeout = time.Minute
	DefaultEngineTimeout  = 10 * time.Minute

	engineDetailMax = 300
)

// Resources are the engine binary and model file resolved for one request.
type Resources struct {
	EngineBinary string
	ModelPath    string
}

// Resolver locates the engine binary and model. It must be cheap and free of
// side effects; it runs before every transcription.
type Resolver interface {
	Resolve() (Resources, error)
}

// Request is one transcription request. Audio is read exactly once.
type Request struct {
	ID          string
	Audio       io.Reader
	Filename    string
	Language    string
	Granularity Granularity
}

// Result is a successful transcription.
type Result struct {
	ID       string
	Captions []Caption
	FullText string
	// Language is the language the engine reports, when present.
	Language string
	Duration time.Duration
}

// Event summarizes a finished request for external subscribers. It never
// carries transcript text.
type Event struct {
	Type        string    `json:"event"` // "completed" or "failed"
	RequestID   string    `json:"request_id"`
	Language    string    `json:"language"`
	Granularity string    `json:"granularity"`
	Captions    int       `json:"captions"`
	DurationMs  int64     `json:"duration_ms"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventPublishFunc is a callback for publishing request summaries.
type EventPublishFunc func(Event)

// Stats reports pipeline counters.
type Stats struct {
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// PipelineOptions configures the transcription pipeline.
type PipelineOptions struct {
	Resolver       Resolver
	Engine         Engine
	Converter      Converter
	Locator        OutputLocator // defaults to SidecarLocator
	TempDir        string        // defaults to os.TempDir()
	ConvertTimeout time.Duration
	EngineTimeout  time.Duration
	PublishEvent   EventPublishFunc
	Log            zerolog.Logger
}

// Pipeline runs uploads through staging, the engine and caption extraction.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	opts    PipelineOptions
	stager  *Stager
	locator OutputLocator
	log     zerolog.Logger

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPipeline creates a pipeline, filling in defaults for unset options.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.ConvertTimeout <= 0 {
		opts.ConvertTimeout = DefaultConvertTimeout
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = DefaultEngineTimeout
	}
	if opts.Locator == nil {
		opts.Locator = SidecarLocator{}
	}
	return &Pipeline{
		opts: opts,
		stager: &Stager{
			TempDir:        opts.TempDir,
			Converter:      opts.Converter,
			ConvertTimeout: opts.ConvertTimeout,
		},
		locator: opts.Locator,
		log:     opts.Log,
	}
}

// CheckAvailability runs the resolver without touching the filesystem.
func (p *Pipeline) CheckAvailability() error {
	_, err := p.resolve()
	return err
}

// Stats returns current pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// InFlight returns the number of requests currently being processed.
func (p *Pipeline) InFlight() int64 { return p.inFlight.Load() }

// Transcribe runs one request to completion. Every temporary file it creates
// is removed before it returns, whatever the outcome.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = DefaultLanguage
	}
	log := p.log.With().
		Str("request_id", req.ID).
		Str("language", req.Language).
		Stringer("granularity", req.Granularity).
		Logger()

	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.finish(log, req, res, err, time.Since(start))
	}()

	// 1. Engine and model must exist before anything touches disk.
	rsrc, err := p.resolve()
	if err != nil {
		return nil, err
	}

	scope := NewScope(log)
	defer scope.Release()

	// 2. Stage the upload, converting to WAV if needed.
	staged, err := p.stager.Stage(ctx, scope, req.ID, req.Audio, req.Filename)
	if err != nil {
		return nil, err
	}
	audioPath := staged.EnginePath()

	// 3. Run the engine. Its output files belong to this request too.
	scope.Track(p.locator.Candidates(audioPath)...)
	if err := p.invoke(ctx, log, rsrc, audioPath, req.Language); err != nil {
		return nil, err
	}

	// 4. Find the JSON the engine wrote.
	outPath, err := p.locator.Locate(audioPath)
	if err != nil {
		return nil, newError(KindEngineFailure, err, "engine produced no JSON output")
	}

	// 5. Parse and extract captions.
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, newError(KindMalformedOutput, err, "failed to read engine output")
	}
	out, err := ParseEngineOutput(data)
	if err != nil {
		return nil, newError(KindMalformedOutput, err, "failed to parse engine output")
	}
	captions := ExtractCaptions(out, req.Granularity)

	return &Result{
		ID:       req.ID,
		Captions: captions,
		FullText: FullText(captions),
		Language: out.Language,
		Duration: time.Since(start),
	}, nil
}

func (p *Pipeline) resolve() (Resources, error) {
	if p.opts.Resolver == nil {
		return Resources{}, newError(KindUnavailable, nil, "no engine resolver configured")
	}
	rsrc, err := p.opts.Resolver.Resolve()
	if err != nil {
		if KindOf(err) == KindUnknown {
			return Resources{}, newError(KindUnavailable, err, "transcription engine unavailable")
		}
		return Resources{}, err
	}
	return rsrc, nil
}

func (p *Pipeline) invoke(ctx context.Context, log zerolog.Logger, rsrc Resources, audioPath, language string) error {
	if p.opts.Engine == nil {
		return newError(KindEngineFailure, nil, "no engine configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.EngineTimeout)
	defer cancel()

	inv := Invocation{
		Binary:    rsrc.EngineBinary,
		ModelPath: rsrc.ModelPath,
		AudioPath: audioPath,
		Language:  language,
		FullJSON:  true,
	}
	log.Debug().
		Str("binary", inv.Binary).
		Str("model", inv.ModelPath).
		Str("audio", inv.AudioPath).
		Msg("running engine")

	started := time.Now()
	run, err := p.opts.Engine.Run(ctx, inv)
	metrics.EngineRunDuration.Observe(time.Since(started).Seconds())

	detail := truncate(strings.TrimSpace(run.Stderr), engineDetailMax)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e := newError(KindEngineFailure, err, "transcription timed out after %s", p.opts.EngineTimeout)
		e.Detail = detail
		return e
	case err != nil:
		e := newError(KindEngineFailure, err, "transcription failed")
		e.Detail = detail
		return e
	case run.ExitCode != 0:
		e := newError(KindEngineFailure, nil, "transcription failed (exit status %d)", run.ExitCode)
		e.Detail = detail
		return e
	}
	return nil
}

func (p *Pipeline) finish(log zerolog.Logger, req Request, res *Result, err error, elapsed time.Duration) {
	ev := Event{
		RequestID:   req.ID,
		Language:    req.Language,
		Granularity: req.Granularity.String(),
		DurationMs:  elapsed.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
	metrics.TranscriptionDuration.Observe(elapsed.Seconds())

	if err != nil {
		p.failed.Add(1)
		kind := KindOf(err)
		metrics.TranscriptionsTotal.WithLabelValues(kind.String()).Inc()
		ev.Type = "failed"
		ev.ErrorKind = kind.String()
		log.Warn().Err(err).
			Str("kind", kind.String()).
			Int64("duration_ms", ev.DurationMs).
			Msg("transcription failed")
	} else {
		p.completed.Add(1)
		metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
		metrics.CaptionsTotal.Add(float64(len(res.Captions)))
		ev.Type = "completed"
		ev.Captions = len(res.Captions)
		log.Info().
			Int("captions", len(res.Captions)).
			Int("chars", utf8.RuneCountInString(res.FullText)).
			Str("detected_language", res.Language).
			Int64("duration_ms", ev.DurationMs).
			Msg("transcription complete")
	}

	if p.opts.PublishEvent != nil {
		p.opts.PublishEvent(ev)
	}
}
