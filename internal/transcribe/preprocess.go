package transcribe

import (
	"context"
	"strconv"
)

const (
	// TargetSampleRate and TargetChannels are what whisper.cpp expects.
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// FFmpegConverter resamples any ffmpeg-readable input to 16 kHz mono WAV.
type FFmpegConverter struct {
	Binary string
}

// NewFFmpegConverter returns a converter using binary, or "ffmpeg" from PATH
// when binary is empty.
func NewFFmpegConverter(binary string) *FFmpegConverter {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegConverter{Binary: binary}
}

// Convert writes dst from src. The caller bounds the run with ctx.
func (c *FFmpegConverter) Convert(ctx context.Context, src, dst string) error {
	res, err := runProcess(ctx, c.Binary, ffmpegArgs(src, dst)...)
	if err != nil || res.ExitCode != 0 {
		return &ProcessError{Name: "ffmpeg", ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	return nil
}

func ffmpegArgs(src, dst string) []string {
	return []string{
		"-y",
		"-i", src,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		"-f", "wav",
		dst,
	}
}
