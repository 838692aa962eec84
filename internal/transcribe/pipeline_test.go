package transcribe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeResolver struct {
	rsrc Resources
	err  error
}

func (r fakeResolver) Resolve() (Resources, error) { return r.rsrc, r.err }

// fakeEngine writes output next to the audio the way whisper.cpp does.
type fakeEngine struct {
	mu       sync.Mutex
	output   string // written to <audio>.json when non-empty
	altOut   bool   // write <audio minus ext>.json instead
	exitCode int
	stderr   string
	err      error
	block    bool
	invs     []Invocation
	// seen records which files existed while the engine ran.
	seen []string
}

func (e *fakeEngine) Run(ctx context.Context, inv Invocation) (RunResult, error) {
	e.mu.Lock()
	e.invs = append(e.invs, inv)
	if _, err := os.Stat(inv.AudioPath); err == nil {
		e.seen = append(e.seen, inv.AudioPath)
	}
	e.mu.Unlock()

	if e.block {
		<-ctx.Done()
		return RunResult{ExitCode: -1, Stderr: e.stderr}, ctx.Err()
	}
	if e.output != "" {
		path := inv.AudioPath + ".json"
		if e.altOut {
			path = strings.TrimSuffix(inv.AudioPath, ".wav") + ".json"
		}
		if err := os.WriteFile(path, []byte(e.output), 0o600); err != nil {
			return RunResult{}, err
		}
	}
	return RunResult{ExitCode: e.exitCode, Stderr: e.stderr}, e.err
}

const segmentOutput = `{"result":{"language":"en"},"transcription":[
	{"text":" Hi ","timestamps":{"from":"00:00:00.000","to":"00:00:01.500"},
	 "tokens":[{"text":" Hi","offsets":{"from":0,"to":1500},"p":0.8}]}
]}`

type pipelineFixture struct {
	dir    string
	engine *fakeEngine
	conv   *fakeConverter
	events []Event
	mu     sync.Mutex
	p      *Pipeline
}

func newPipelineFixture(t *testing.T, resolver Resolver, engine *fakeEngine) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{dir: t.TempDir(), engine: engine, conv: &fakeConverter{}}
	f.p = NewPipeline(PipelineOptions{
		Resolver:  resolver,
		Engine:    engine,
		Converter: f.conv,
		TempDir:   f.dir,
		PublishEvent: func(ev Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		},
		Log: zerolog.Nop(),
	})
	return f
}

func (f *pipelineFixture) assertEmptyDir(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	t.Errorf("temporary files left behind: %v", names)
}

// pipelineError asserts err is an *Error of the given kind and returns it.
func pipelineError(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if e.Kind != want {
		t.Fatalf("kind = %v, want %v (%v)", e.Kind, want, err)
	}
	return e
}

var available = fakeResolver{rsrc: Resources{EngineBinary: "/usr/local/bin/whisper-cli", ModelPath: "/models/ggml-medium.bin"}}

func TestTranscribe_SegmentLevel(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{output: segmentOutput})

	res, err := f.p.Transcribe(context.Background(), Request{
		ID:          "seg",
		Audio:       strings.NewReader("RIFF"),
		Filename:    "hi.wav",
		Granularity: GranularitySegment,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := []Caption{{Text: "Hi", StartMs: 0, EndMs: 1500, Confidence: 1.0}}
	if !reflect.DeepEqual(res.Captions, want) {
		t.Errorf("captions = %+v, want %+v", res.Captions, want)
	}
	if res.FullText != "Hi" || res.Language != "en" || res.ID != "seg" {
		t.Errorf("result = %+v", res)
	}

	if len(f.engine.invs) != 1 {
		t.Fatalf("engine runs = %d, want 1", len(f.engine.invs))
	}
	inv := f.engine.invs[0]
	if inv.Binary != "/usr/local/bin/whisper-cli" || inv.ModelPath != "/models/ggml-medium.bin" {
		t.Errorf("invocation resources = %s, %s", inv.Binary, inv.ModelPath)
	}
	if inv.Language != DefaultLanguage {
		t.Errorf("language = %q, want %q", inv.Language, DefaultLanguage)
	}
	if !inv.FullJSON {
		t.Error("FullJSON = false")
	}
	if !reflect.DeepEqual(f.engine.seen, []string{inv.AudioPath}) {
		t.Errorf("engine saw %v, want the staged audio %s", f.engine.seen, inv.AudioPath)
	}
	if len(f.conv.calls) != 0 {
		t.Errorf("WAV upload was converted: %v", f.conv.calls)
	}

	f.assertEmptyDir(t)
}

func TestTranscribe_WordLevel(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{output: segmentOutput})

	res, err := f.p.Transcribe(context.Background(), Request{
		Audio:    strings.NewReader("RIFF"),
		Filename: "hi.wav",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := []Caption{{Text: "Hi", StartMs: 0, EndMs: 1500, Confidence: 0.8}}
	if !reflect.DeepEqual(res.Captions, want) {
		t.Errorf("captions = %+v, want %+v", res.Captions, want)
	}
	if res.ID == "" {
		t.Error("request ID not generated")
	}
	if got := f.engine.invs[0].Language; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_ConvertsNonWAV(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{output: segmentOutput})

	_, err := f.p.Transcribe(context.Background(), Request{
		Audio:    strings.NewReader("ID3"),
		Filename: "clip.mp3",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(f.conv.calls) != 1 {
		t.Fatalf("conversions = %d, want 1", len(f.conv.calls))
	}
	if got, want := f.engine.invs[0].AudioPath, f.conv.calls[0][1]; got != want {
		t.Errorf("engine audio = %s, want converted %s", got, want)
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_AlternateOutputName(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{output: segmentOutput, altOut: true})

	res, err := f.p.Transcribe(context.Background(), Request{
		Audio:    strings.NewReader("RIFF"),
		Filename: "hi.wav",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Captions) != 1 {
		t.Errorf("captions = %d, want 1", len(res.Captions))
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_Unavailable(t *testing.T) {
	engine := &fakeEngine{output: segmentOutput}
	unavailable := fakeResolver{err: &Error{Kind: KindUnavailable, Msg: "whisper.cpp binary not found: whisper-cli"}}
	f := newPipelineFixture(t, unavailable, engine)

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav"})
	pipelineError(t, err, KindUnavailable)
	if len(engine.invs) != 0 {
		t.Errorf("engine ran %d times", len(engine.invs))
	}
	f.assertEmptyDir(t)
	if k := KindOf(f.p.CheckAvailability()); k != KindUnavailable {
		t.Errorf("CheckAvailability kind = %v", k)
	}
}

func TestTranscribe_UntypedResolverError(t *testing.T) {
	f := newPipelineFixture(t, fakeResolver{err: errors.New("stat failed")}, &fakeEngine{})

	err := f.p.CheckAvailability()
	pipelineError(t, err, KindUnavailable)
	if !strings.Contains(err.Error(), "stat failed") {
		t.Errorf("err = %v, want cause included", err)
	}
}

func TestTranscribe_StagingFaultIsInternal(t *testing.T) {
	engine := &fakeEngine{output: segmentOutput}
	f := newPipelineFixture(t, available, engine)
	f.p.stager.TempDir = f.dir + "/missing"

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav"})
	e := pipelineError(t, err, KindInternal)
	if e.Msg != "failed to stage audio" {
		t.Errorf("msg = %q", e.Msg)
	}
	if len(engine.invs) != 0 {
		t.Errorf("engine ran %d times", len(engine.invs))
	}
	if len(f.events) != 1 || f.events[0].ErrorKind != "internal" {
		t.Errorf("events = %+v, want one with error_kind internal", f.events)
	}
}

func TestTranscribe_EngineNonZeroExit(t *testing.T) {
	stderr := "error: failed to open model\n" + strings.Repeat("x", 400)
	// Output written anyway must still be cleaned up.
	engine := &fakeEngine{output: segmentOutput, exitCode: 3, stderr: stderr}
	f := newPipelineFixture(t, available, engine)

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("ID3"), Filename: "a.ogg"})
	e := pipelineError(t, err, KindEngineFailure)
	if !strings.Contains(e.Msg, "exit status 3") {
		t.Errorf("msg = %q", e.Msg)
	}
	if n := len([]rune(e.Detail)); n != 300 {
		t.Errorf("detail length = %d, want 300", n)
	}
	if !strings.HasPrefix(e.Detail, "error: failed to open model") {
		t.Errorf("detail = %q", e.Detail)
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_EngineStartFailure(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{err: errors.New("exec: permission denied"), exitCode: -1})

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav"})
	pipelineError(t, err, KindEngineFailure)
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("err = %v", err)
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_EngineTimeout(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{block: true, stderr: "whisper_init_from_file"})
	f.p.opts.EngineTimeout = 20 * time.Millisecond

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav"})
	e := pipelineError(t, err, KindEngineFailure)
	if !strings.Contains(e.Msg, "timed out") {
		t.Errorf("msg = %q", e.Msg)
	}
	if e.Detail != "whisper_init_from_file" {
		t.Errorf("detail = %q", e.Detail)
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_NoOutput(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{})

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav"})
	pipelineError(t, err, KindEngineFailure)
	if !errors.Is(err, ErrOutputNotFound) {
		t.Errorf("err = %v, want ErrOutputNotFound", err)
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_MalformedOutput(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{output: `{"transcription": "oops"`})

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav"})
	pipelineError(t, err, KindMalformedOutput)
	f.assertEmptyDir(t)
}

func TestTranscribe_ConversionFailure(t *testing.T) {
	engine := &fakeEngine{output: segmentOutput}
	f := newPipelineFixture(t, available, engine)
	f.conv.err = &ProcessError{Name: "ffmpeg", ExitCode: 1, Stderr: "Invalid data found when processing input"}

	_, err := f.p.Transcribe(context.Background(), Request{Audio: strings.NewReader("junk"), Filename: "a.mp3"})
	e := pipelineError(t, err, KindInvalidInput)
	if e.Detail != "Invalid data found when processing input" {
		t.Errorf("detail = %q", e.Detail)
	}
	if len(engine.invs) != 0 {
		t.Errorf("engine ran %d times", len(engine.invs))
	}
	f.assertEmptyDir(t)
}

func TestTranscribe_StatsAndEvents(t *testing.T) {
	engine := &fakeEngine{output: segmentOutput}
	f := newPipelineFixture(t, available, engine)

	if _, err := f.p.Transcribe(context.Background(), Request{ID: "ok-1", Audio: strings.NewReader("RIFF"), Filename: "a.wav"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	engine.exitCode = 1
	if _, err := f.p.Transcribe(context.Background(), Request{ID: "bad-1", Audio: strings.NewReader("RIFF"), Filename: "a.wav", Granularity: GranularitySegment}); err == nil {
		t.Fatal("expected failure")
	}

	if got, want := f.p.Stats(), (Stats{InFlight: 0, Completed: 1, Failed: 1}); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if f.p.InFlight() != 0 {
		t.Errorf("InFlight() = %d", f.p.InFlight())
	}

	if len(f.events) != 2 {
		t.Fatalf("events = %d, want 2", len(f.events))
	}
	ok, bad := f.events[0], f.events[1]
	if ok.Type != "completed" || ok.RequestID != "ok-1" || ok.Captions != 1 || ok.Granularity != "word" || ok.ErrorKind != "" {
		t.Errorf("completed event = %+v", ok)
	}
	if bad.Type != "failed" || bad.RequestID != "bad-1" || bad.Granularity != "segment" || bad.ErrorKind != "engine_failure" {
		t.Errorf("failed event = %+v", bad)
	}
}

func TestTranscribe_LogsRuneCount(t *testing.T) {
	var buf bytes.Buffer
	output := `{"transcription":[{"text":"你好世界","timestamps":{"from":"00:00:00.000","to":"00:00:01.000"}}]}`
	p := NewPipeline(PipelineOptions{
		Resolver:  available,
		Engine:    &fakeEngine{output: output},
		Converter: &fakeConverter{},
		TempDir:   t.TempDir(),
		Log:       zerolog.New(&buf),
	})

	res, err := p.Transcribe(context.Background(), Request{Audio: strings.NewReader("RIFF"), Filename: "a.wav", Granularity: GranularitySegment})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.FullText != "你好世界" {
		t.Fatalf("full text = %q", res.FullText)
	}
	if !strings.Contains(buf.String(), `"chars":4`) {
		t.Errorf("log should count characters, not bytes:\n%s", buf.String())
	}
}

func TestTranscribe_Concurrent(t *testing.T) {
	f := newPipelineFixture(t, available, &fakeEngine{output: segmentOutput})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.p.Transcribe(context.Background(), Request{
				Audio:    strings.NewReader("RIFF"),
				Filename: "same-name.wav",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Transcribe: %v", err)
		}
	}

	seen := make(map[string]bool)
	for _, inv := range f.engine.invs {
		if seen[inv.AudioPath] {
			t.Errorf("audio path reused: %s", inv.AudioPath)
		}
		seen[inv.AudioPath] = true
	}
	if got := f.p.Stats().Completed; got != 8 {
		t.Errorf("completed = %d, want 8", got)
	}
	f.assertEmptyDir(t)
}

func TestNewPipeline_Defaults(t *testing.T) {
	p := NewPipeline(PipelineOptions{})
	if p.opts.ConvertTimeout != DefaultConvertTimeout {
		t.Errorf("ConvertTimeout = %v", p.opts.ConvertTimeout)
	}
	if p.opts.EngineTimeout != DefaultEngineTimeout {
		t.Errorf("EngineTimeout = %v", p.opts.EngineTimeout)
	}
	if _, ok := p.locator.(SidecarLocator); !ok {
		t.Errorf("locator = %T, want SidecarLocator", p.locator)
	}
	if k := KindOf(p.CheckAvailability()); k != KindUnavailable {
		t.Errorf("CheckAvailability kind = %v, want unavailable", k)
	}
}
