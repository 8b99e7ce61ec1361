package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Prober wraps the ffprobe and ffmpeg binaries for muxed subtitle streams.
type Prober struct {
	ffprobePath string
	ffmpegPath  string
}

// NewProber locates ffprobe and ffmpeg, honoring explicit paths first.
func NewProber(ffprobePath, ffmpegPath string) *Prober {
	return &Prober{
		ffprobePath: findExecutable("ffprobe", ffprobePath),
		ffmpegPath:  findExecutable("ffmpeg", ffmpegPath),
	}
}

// Available reports whether both binaries were found.
func (p *Prober) Available() bool {
	return p.ffprobePath != "" && p.ffmpegPath != ""
}

// SubtitleStream is one text subtitle stream inside a container.
type SubtitleStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codecName"`
	Language  string `json:"language"`
	Title     string `json:"title"`
	Forced    bool   `json:"forced"`
}

// IsASS reports whether the stream carries ASS/SSA content.
func (s SubtitleStream) IsASS() bool {
	return s.CodecName == "ass" || s.CodecName == "ssa"
}

// IsText reports whether the stream is text-based and extractable. Bitmap
// formats (PGS, VobSub) cannot be converted without OCR.
func (s SubtitleStream) IsText() bool {
	switch s.CodecName {
	case "ass", "ssa", "subrip", "srt", "webvtt", "mov_text", "text":
		return true
	}
	return false
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index       int    `json:"index"`
	CodecType   string `json:"codec_type"`
	CodecName   string `json:"codec_name"`
	Disposition struct {
		Forced int `json:"forced"`
	} `json:"disposition"`
	Tags struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

// ProbeSubtitleStreams lists the subtitle streams in a video container.
func (p *Prober) ProbeSubtitleStreams(ctx context.Context, videoPath string) ([]SubtitleStream, error) {
	if p.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		videoPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, stderr.String())
	}

	var output ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	streams := make([]SubtitleStream, 0, len(output.Streams))
	for _, s := range output.Streams {
		if s.CodecType != "subtitle" {
			continue
		}
		streams = append(streams, SubtitleStream{
			Index:     s.Index,
			CodecName: s.CodecName,
			Language:  strings.ToLower(s.Tags.Language),
			Title:     s.Tags.Title,
			Forced:    s.Disposition.Forced == 1,
		})
	}
	return streams, nil
}

// FindStream returns the first text stream matching the language. ASS
// streams win over other text formats; assOnly drops non-ASS entirely.
// Returns nil when no stream matches.
func FindStream(streams []SubtitleStream, language string, assOnly bool) *SubtitleStream {
	var fallback *SubtitleStream
	for i := range streams {
		s := &streams[i]
		if !s.IsText() || s.Forced {
			continue
		}
		if s.Language != "" && !SameLanguage(s.Language, language) {
			continue
		}
		if s.IsASS() {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	if assOnly {
		return nil
	}
	return fallback
}

// ExtractStream demuxes one subtitle stream to a temporary file and returns
// its path. The caller owns the file and must remove it.
func (p *Prober) ExtractStream(ctx context.Context, videoPath string, stream SubtitleStream) (string, error) {
	if p.ffmpegPath == "" {
		return "", fmt.Errorf("ffmpeg not available")
	}

	ext := ".srt"
	codec := "srt"
	if stream.IsASS() {
		ext = ".ass"
		codec = "ass"
	}

	tmp, err := os.CreateTemp("", "sublarr-extract-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y",
		"-v", "quiet",
		"-i", videoPath,
		"-map", fmt.Sprintf("0:%d", stream.Index),
		"-c:s", codec,
		tmpPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ffmpeg extraction failed: %w: %s", err, stderr.String())
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		os.Remove(tmpPath)
		return "", fmt.Errorf("extracted stream %d is empty", stream.Index)
	}
	return tmpPath, nil
}

// ExtractAudio demuxes the first audio stream to a 16 kHz mono WAV tempfile,
// the input format speech recognizers want. The caller owns the file and
// must remove it.
func (p *Prober) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	if p.ffmpegPath == "" {
		return "", fmt.Errorf("ffmpeg not available")
	}

	tmp, err := os.CreateTemp("", "sublarr-audio-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y",
		"-v", "quiet",
		"-i", videoPath,
		"-map", "0:a:0",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		tmpPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ffmpeg audio extraction failed: %w: %s", err, stderr.String())
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		os.Remove(tmpPath)
		return "", fmt.Errorf("extracted audio is empty")
	}
	return tmpPath, nil
}

// findExecutable finds a binary by explicit path, PATH lookup, then common
// install locations.
func findExecutable(name, explicitPath string) string {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "darwin":
		commonPaths = []string{
			"/usr/local/bin/" + name,
			"/opt/homebrew/bin/" + name,
		}
	case "linux":
		commonPaths = []string{
			"/usr/bin/" + name,
			"/usr/local/bin/" + name,
		}
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
