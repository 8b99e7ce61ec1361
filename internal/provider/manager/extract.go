package manager

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode/v2"

	"github.com/sublarr/sublarr/internal/provider"
)

// maxExtractedSize bounds a single extracted subtitle file.
const maxExtractedSize = 20 << 20

var (
	zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}
	rarMagic = []byte{0x52, 0x61, 0x72, 0x21, 0x1a}
)

// extractArchive unpacks a zip or rar payload and returns a payload for the
// best subtitle file inside. Returns nil when the payload is not an archive.
func extractArchive(payload *provider.Payload) (*provider.Payload, error) {
	switch {
	case bytes.HasPrefix(payload.Data, zipMagic):
		return extractZip(payload.Data)
	case bytes.HasPrefix(payload.Data, rarMagic):
		return extractRar(payload.Data)
	default:
		return nil, nil
	}
}

func extractZip(data []byte) (*provider.Payload, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	var best *zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !isSubtitleFile(f.Name) {
			continue
		}
		if best == nil || subtitleRank(f.Name) < subtitleRank(best.Name) {
			best = f
		}
	}
	if best == nil {
		return nil, fmt.Errorf("archive contains no subtitle file")
	}

	rc, err := best.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in zip: %w", best.Name, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxExtractedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from zip: %w", best.Name, err)
	}
	return payloadFor(best.Name, body), nil
}

func extractRar(data []byte) (*provider.Payload, error) {
	reader, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open rar: %w", err)
	}

	var bestName string
	var bestBody []byte
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rar entry: %w", err)
		}
		if header.IsDir || !isSubtitleFile(header.Name) {
			continue
		}
		if bestName != "" && subtitleRank(header.Name) >= subtitleRank(bestName) {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(reader, maxExtractedSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from rar: %w", header.Name, err)
		}
		bestName = header.Name
		bestBody = body
	}
	if bestName == "" {
		return nil, fmt.Errorf("archive contains no subtitle file")
	}
	return payloadFor(bestName, bestBody), nil
}

func payloadFor(name string, body []byte) *provider.Payload {
	format := provider.FormatUnknown
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ass":
		format = provider.FormatASS
	case ".ssa":
		format = provider.FormatSSA
	case ".srt":
		format = provider.FormatSRT
	case ".vtt":
		format = provider.FormatVTT
	}
	return &provider.Payload{Data: body, Format: format, Filename: filepath.Base(name)}
}

func isSubtitleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ass", ".ssa", ".srt", ".vtt":
		return true
	}
	return false
}

// subtitleRank orders archive members so ASS beats SSA beats SRT beats VTT.
func subtitleRank(name string) int {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ass":
		return 0
	case ".ssa":
		return 1
	case ".srt":
		return 2
	case ".vtt":
		return 3
	}
	return 4
}
