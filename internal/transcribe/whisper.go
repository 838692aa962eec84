package transcribe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CLIEngine runs the whisper.cpp command-line binary.
type CLIEngine struct{}

// NewCLIEngine returns an Engine backed by the whisper.cpp CLI.
func NewCLIEngine() *CLIEngine { return &CLIEngine{} }

// Run executes the binary named in inv. With FullJSON the CLI writes
// "<audio>.json" next to the input.
func (e *CLIEngine) Run(ctx context.Context, inv Invocation) (RunResult, error) {
	return runProcess(ctx, inv.Binary, whisperArgs(inv)...)
}

func whisperArgs(inv Invocation) []string {
	lang := inv.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", inv.ModelPath,
		"-f", inv.AudioPath,
		"-l", lang,
	}
	if inv.FullJSON {
		args = append(args, "--output-json-full")
	}
	return append(args, "--no-prints")
}

// ErrOutputNotFound is returned by OutputLocator.Locate when the engine left
// no JSON file behind.
var ErrOutputNotFound = errors.New("engine output not found")

// OutputLocator finds the JSON artifact the engine wrote for an input file.
type OutputLocator interface {
	// Candidates lists every path the engine might write, in lookup order.
	Candidates(audioPath string) []string
	Locate(audioPath string) (string, error)
}

// SidecarLocator looks for "<audio>.json", then "<audio minus extension>.json".
type SidecarLocator struct{}

func (SidecarLocator) Candidates(audioPath string) []string {
	primary := audioPath + ".json"
	alt := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
	if alt == primary {
		return []string{primary}
	}
	return []string{primary, alt}
}

func (l SidecarLocator) Locate(audioPath string) (string, error) {
	for _, p := range l.Candidates(audioPath) {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", ErrOutputNotFound
}
