package transcribe

import "context"

// Engine runs the external speech-to-text process against a staged WAV file.
// The engine writes its result to a JSON file next to the input rather than
// returning it, see OutputLocator.
type Engine interface {
	Run(ctx context.Context, inv Invocation) (RunResult, error)
}

// Invocation is the fixed argument shape for one engine run.
type Invocation struct {
	Binary    string
	ModelPath string
	AudioPath string
	Language  string // engine language code, or "auto"
	FullJSON  bool   // request the full JSON document with token timestamps
}

// RunResult reports how the engine process exited. A non-nil error from
// Engine.Run means the process could not be started or was killed.
type RunResult struct {
	ExitCode int
	Stderr   string
}

// Converter rewrites an audio file into the engine's required container
// (16 kHz mono WAV).
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// Granularity selects per-token or per-segment captions.
type Granularity int

const (
	GranularityWord Granularity = iota
	GranularitySegment
)

func (g Granularity) String() string {
	if g == GranularitySegment {
		return "segment"
	}
	return "word"
}

// Caption is one timestamped unit of recognized text.
type Caption struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Confidence float64 `json:"confidence"`
}
