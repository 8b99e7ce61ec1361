package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Embedded is a sentinel provider for subtitle streams muxed into the video
// container. Search reports a candidate when the video file exists; Download
// returns an empty payload, the actual extraction happens in the translator
// against the video stream.
type Embedded struct {
	logger zerolog.Logger
}

// NewEmbedded creates the sentinel provider.
func NewEmbedded(logger zerolog.Logger) *Embedded {
	return &Embedded{logger: logger.With().Str("provider", "embedded").Logger()}
}

func (e *Embedded) Name() string                         { return "embedded" }
func (e *Embedded) DisplayName() string                  { return "Embedded streams" }
func (e *Embedded) Initialize(ctx context.Context) error { return nil }
func (e *Embedded) Terminate(ctx context.Context) error  { return nil }

// Search offers one candidate per requested language when the video file is
// present. Stream probing is deferred to the consumer, which has ffprobe.
func (e *Embedded) Search(ctx context.Context, query VideoQuery) ([]Candidate, error) {
	if query.FilePath == "" {
		return nil, nil
	}
	if _, err := os.Stat(query.FilePath); err != nil {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(query.Languages))
	for _, lang := range query.Languages {
		c := Candidate{
			ProviderName: e.Name(),
			SubtitleID:   fmt.Sprintf("embedded:%s:%s", query.FilePath, lang),
			Filename:     filepath.Base(query.FilePath),
			Language:     lang,
			Format:       FormatUnknown,
			ProviderData: map[string]string{"video_path": query.FilePath},
		}
		// An embedded stream belongs to the exact file by construction.
		c.AddMatch(MatchHash)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// Download is a no-op by contract; the translator extracts the stream.
func (e *Embedded) Download(ctx context.Context, candidate Candidate) (*Payload, error) {
	return &Payload{Data: nil, Format: candidate.Format, Filename: candidate.Filename}, nil
}
