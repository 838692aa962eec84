package availability

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/snarg/caption-engine/internal/transcribe"
)

// Options describes where the engine binary and model live. Empty directory
// fields are skipped during the model search.
type Options struct {
	WhisperBin       string
	Model            string
	ModelsDir        string // operator-configured, searched first
	DefaultModelsDir string // in-tree models directory
	CacheDir         string // per-user cache; defaults to ~/.cache/whisper
	FFmpegBin        string
}

// Checker answers whether the engine can run. It is built once at startup,
// never mutated, and safe for concurrent use.
type Checker struct {
	opts       Options
	searchDirs []string
}

// NewChecker creates a Checker. The model search order is ModelsDir,
// DefaultModelsDir, CacheDir.
func NewChecker(opts Options) *Checker {
	if opts.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.CacheDir = filepath.Join(home, ".cache", "whisper")
		}
	}
	var dirs []string
	seen := make(map[string]bool)
	for _, d := range []string{opts.ModelsDir, opts.DefaultModelsDir, opts.CacheDir} {
		d = strings.TrimSpace(d)
		if d == "" || seen[filepath.Clean(d)] {
			continue
		}
		seen[filepath.Clean(d)] = true
		dirs = append(dirs, d)
	}
	return &Checker{opts: opts, searchDirs: dirs}
}

// ModelFilename is the file name searched for in each directory.
func (c *Checker) ModelFilename() string {
	return "ggml-" + c.opts.Model + ".bin"
}

// SearchDirs returns the model search directories in priority order.
func (c *Checker) SearchDirs() []string {
	return append([]string(nil), c.searchDirs...)
}

// ResolveModel returns the first existing model file in search order.
func (c *Checker) ResolveModel() (string, bool) {
	if strings.TrimSpace(c.opts.Model) == "" {
		return "", false
	}
	name := c.ModelFilename()
	for _, dir := range c.searchDirs {
		full := filepath.Join(dir, name)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full, true
		}
	}
	return "", false
}

// ResolveBinary accepts an existing file path, or a bare command name found
// on PATH. Relative paths are made absolute so exec does not search PATH.
func ResolveBinary(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		if abs, err := filepath.Abs(name); err == nil {
			return abs, true
		}
		return name, true
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		return "", false
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}

// Report is a point-in-time availability snapshot.
type Report struct {
	WhisperBinary string   `json:"whisper_binary"`
	WhisperPath   string   `json:"whisper_path,omitempty"`
	WhisperFound  bool     `json:"whisper_found"`
	Model         string   `json:"model"`
	ModelFound    bool     `json:"model_found"`
	ModelPath     string   `json:"model_path,omitempty"`
	SearchDirs    []string `json:"model_search_dirs"`
	FFmpegBinary  string   `json:"ffmpeg_binary"`
	FFmpegFound   bool     `json:"ffmpeg_found"`
}

// Check resolves everything without side effects.
func (c *Checker) Check() Report {
	r := Report{
		WhisperBinary: c.opts.WhisperBin,
		Model:         c.opts.Model,
		SearchDirs:    c.SearchDirs(),
		FFmpegBinary:  c.opts.FFmpegBin,
	}
	r.WhisperPath, r.WhisperFound = ResolveBinary(c.opts.WhisperBin)
	r.ModelPath, r.ModelFound = c.ResolveModel()
	_, r.FFmpegFound = ResolveBinary(c.opts.FFmpegBin)
	return r
}

// Err reports why the engine cannot run, or nil. A missing converter is not
// an error here: WAV uploads never need it.
func (r Report) Err() error {
	switch {
	case !r.WhisperFound:
		return &transcribe.Error{
			Kind: transcribe.KindUnavailable,
			Msg:  fmt.Sprintf("whisper.cpp binary not found: %s", r.WhisperBinary),
		}
	case !r.ModelFound:
		return &transcribe.Error{
			Kind: transcribe.KindUnavailable,
			Msg: fmt.Sprintf("whisper model not found: ggml-%s.bin (searched in %s)",
				r.Model, strings.Join(r.SearchDirs, ", ")),
		}
	}
	return nil
}

// Resolve implements transcribe.Resolver.
func (c *Checker) Resolve() (transcribe.Resources, error) {
	bin, ok := ResolveBinary(c.opts.WhisperBin)
	if !ok {
		return transcribe.Resources{}, Report{WhisperBinary: c.opts.WhisperBin}.Err()
	}
	model, ok := c.ResolveModel()
	if !ok {
		return transcribe.Resources{}, Report{
			WhisperFound: true,
			Model:        c.opts.Model,
			SearchDirs:   c.searchDirs,
		}.Err()
	}
	return transcribe.Resources{EngineBinary: bin, ModelPath: model}, nil
}

// EngineAvailable reports whether the engine binary resolves.
func (c *Checker) EngineAvailable() bool {
	_, ok := ResolveBinary(c.opts.WhisperBin)
	return ok
}

// ModelAvailable reports whether the model file exists.
func (c *Checker) ModelAvailable() bool {
	_, ok := c.ResolveModel()
	return ok
}
