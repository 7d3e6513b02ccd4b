package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// DefaultFFmpegBinary is the ffmpeg executable looked up on PATH.
const DefaultFFmpegBinary = "ffmpeg"

// FFmpegConverter shells out to ffmpeg to convert voice notes (typically
// OGG/Opus) into 16 kHz mono WAV PCM, the format recognizers expect.
type FFmpegConverter struct {
	binary string
}

// NewFFmpegConverter creates a converter using the ffmpeg binary on PATH.
func NewFFmpegConverter() *FFmpegConverter {
	return &FFmpegConverter{binary: DefaultFFmpegBinary}
}

// NewFFmpegConverterWithBinary creates a converter with an explicit binary path.
func NewFFmpegConverterWithBinary(binary string) *FFmpegConverter {
	return &FFmpegConverter{binary: binary}
}

// ToWAV converts the audio blob via ffmpeg stdin/stdout pipes. The command is
// bounded by ctx; cancellation kills the process.
func (c *FFmpegConverter) ToWAV(ctx context.Context, audio []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ar", "16000", "-ac", "1",
		"-f", "wav", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(audio)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Error("FFmpegConverter run failed", "error", err, "stderr", stderr.String())
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	slog.Debug("FFmpegConverter conversion succeeded", "input_bytes", len(audio), "output_bytes", out.Len())
	return out.Bytes(), nil
}
