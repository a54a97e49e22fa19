package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"Fanvault/logger"
	"Fanvault/model"
)

const (
	audioBitrate = "128k"
	// maxBufsizeKbps caps the rate-control buffer regardless of rung.
	maxBufsizeKbps = 4000
)

// FFmpegEncoder implements Encoder using ffmpeg and ffprobe.
type FFmpegEncoder struct {
	ffmpegPath string
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	return &FFmpegEncoder{ffmpegPath: ffmpegPath}
}

// FFmpegPath returns the configured binary.
func (e *FFmpegEncoder) FFmpegPath() string {
	return e.ffmpegPath
}

func (e *FFmpegEncoder) ffprobePath() string {
	return strings.Replace(e.ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the first video stream's dimensions and the container duration.
func (e *FFmpegEncoder) Probe(ctx context.Context, inputFile string) (ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height:format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath(), args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}
	return parseProbe(out.Bytes())
}

func parseProbe(raw []byte) (ProbeResult, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(raw, &probeData); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if len(probeData.Streams) == 0 {
		return ProbeResult{}, fmt.Errorf("no video streams found in file")
	}

	stream := probeData.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return ProbeResult{}, fmt.Errorf("invalid video dimensions %dx%d", stream.Width, stream.Height)
	}

	result := ProbeResult{Width: stream.Width, Height: stream.Height, Codec: stream.CodecName}
	if probeData.Format.Duration != "" {
		d, err := strconv.ParseFloat(probeData.Format.Duration, 64)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("failed to parse duration string %q: %w", probeData.Format.Duration, err)
		}
		result.Duration = d
	}
	return result, nil
}

// encodeArgs pins ffmpeg to one decode and one encode thread with the
// fastest preset and a capped rate-control buffer.
func encodeArgs(inputFile, outputFile string, spec model.RenditionSpec) []string {
	bufsize := spec.BitrateKbps * 2
	if bufsize > maxBufsizeKbps {
		bufsize = maxBufsizeKbps
	}

	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-threads", "1",
		"-i", inputFile,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height),
		"-filter_threads", "1",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", strconv.Itoa(spec.CRF),
		"-maxrate", fmt.Sprintf("%dk", spec.BitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", bufsize),
		"-pix_fmt", "yuv420p",
		"-threads", "1",
		"-c:a", "aac", "-b:a", audioBitrate, "-ac", "2",
		"-movflags", "+faststart",
		outputFile,
	}
}

// Encode renders one rendition to outputFile.
func (e *FFmpegEncoder) Encode(ctx context.Context, inputFile, outputFile string, spec model.RenditionSpec) error {
	args := encodeArgs(inputFile, outputFile, spec)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("Executing FFmpeg command",
		logger.String("label", spec.Label),
		logger.String("cmd", e.ffmpegPath+" "+strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", spec.Label, err, tail(stderr.String(), 2048))
	}
	return nil
}

// tail keeps the last n bytes of s; ffmpeg puts the reason at the end.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
