// Package translator turns source-language subtitle material into
// target-language subtitle files. It prefers existing local material over
// anything that costs a network call: existing target files win, then
// embedded streams, then external source files, with ASR transcription as
// the last resort.
package translator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asticode/go-astisub"
	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/translation"
)

// Outcome classifies what TranslateFile did.
type Outcome string

const (
	OutcomeSkipped             Outcome = "skipped"
	OutcomeTranslated          Outcome = "translated"
	OutcomeUpgraded            Outcome = "upgraded"
	OutcomeQueuedTranscription Outcome = "transcription_queued"
	OutcomeNoMaterial          Outcome = "no_material"
)

// Request describes one file translation.
type Request struct {
	VideoPath      string
	SourceLanguage string
	TargetLanguage string
	Chain          []string
	Glossary       []translation.Term
	RemoveHI       bool
	Transcription  bool
}

// Result reports what was produced and how.
type Result struct {
	Outcome      Outcome  `json:"outcome"`
	Reason       string   `json:"reason"`
	OutputPath   string   `json:"outputPath,omitempty"`
	RemovedPath  string   `json:"removedPath,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	QualityScore int      `json:"qualityScore,omitempty"`
	MemoryHits   int      `json:"memoryHits"`
	Warnings     []string `json:"warnings,omitempty"`
	JobID        string   `json:"jobId,omitempty"`
	ConfigHash   string   `json:"configHash,omitempty"`
}

// TranscriptionQueue enqueues ASR jobs for videos with no subtitle material.
type TranscriptionQueue interface {
	EnqueueTranscription(ctx context.Context, videoPath, sourceLang, targetLang string) (string, error)
}

// Translator executes file translations through the configured backends.
type Translator struct {
	manager *translation.Manager
	prober  *Prober
	queue   TranscriptionQueue
	logger  zerolog.Logger
}

// New creates a Translator. queue may be nil when transcription is disabled.
func New(manager *translation.Manager, prober *Prober, queue TranscriptionQueue, logger zerolog.Logger) *Translator {
	return &Translator{
		manager: manager,
		prober:  prober,
		queue:   queue,
		logger:  logger.With().Str("component", "translator").Logger(),
	}
}

// TranslateFile runs the local-material waterfall for one video and target
// language. Provider searches happen upstream; by the time this runs, only
// embedded streams, external source files, and transcription remain.
func (t *Translator) TranslateFile(ctx context.Context, req Request) (*Result, error) {
	if _, err := os.Stat(req.VideoPath); err != nil {
		return nil, fmt.Errorf("video file missing: %w", err)
	}

	target, err := FindExternalSubtitle(req.VideoPath, req.TargetLanguage, false)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for existing subtitles: %w", err)
	}
	if target != nil && target.IsASS {
		return &Result{Outcome: OutcomeSkipped, Reason: "target ASS already present", OutputPath: target.Path}, nil
	}

	var streams []SubtitleStream
	if t.prober != nil && t.prober.Available() {
		streams, err = t.prober.ProbeSubtitleStreams(ctx, req.VideoPath)
		if err != nil {
			t.logger.Warn().Err(err).Str("video", req.VideoPath).Msg("Stream probe failed, continuing without embedded streams")
			streams = nil
		}
	}

	if s := FindStream(streams, req.TargetLanguage, true); s != nil {
		return &Result{Outcome: OutcomeSkipped, Reason: "muxed target ASS stream present"}, nil
	}

	if target != nil {
		// A target SRT exists. The only local upgrade path is an embedded
		// source ASS stream.
		if s := FindStream(streams, req.SourceLanguage, true); s != nil {
			result, err := t.translateExtracted(ctx, req, *s)
			if err != nil {
				return nil, err
			}
			result.Outcome = OutcomeUpgraded
			result.Reason = "embedded source ASS upgraded existing SRT"
			t.removeReplaced(target.Path)
			result.RemovedPath = target.Path
			return result, nil
		}
		return &Result{Outcome: OutcomeSkipped, Reason: "existing SRT kept, no ASS material", OutputPath: target.Path}, nil
	}

	// Nothing in the target language yet. Embedded ASS, then embedded text,
	// then an external source-language file.
	if s := FindStream(streams, req.SourceLanguage, true); s != nil {
		result, err := t.translateExtracted(ctx, req, *s)
		if err != nil {
			return nil, err
		}
		result.Reason = "embedded source ASS stream"
		return result, nil
	}
	if s := FindStream(streams, req.SourceLanguage, false); s != nil {
		result, err := t.translateExtracted(ctx, req, *s)
		if err != nil {
			return nil, err
		}
		result.Reason = "embedded source text stream"
		return result, nil
	}

	source, err := FindExternalSubtitle(req.VideoPath, req.SourceLanguage, false)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for source subtitles: %w", err)
	}
	if source != nil {
		result, err := t.translateLocalFile(ctx, req, source.Path, source.IsASS)
		if err != nil {
			return nil, err
		}
		result.Reason = "external source subtitle"
		return result, nil
	}

	if req.Transcription && t.queue != nil {
		jobID, err := t.queue.EnqueueTranscription(ctx, req.VideoPath, req.SourceLanguage, req.TargetLanguage)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue transcription: %w", err)
		}
		return &Result{Outcome: OutcomeQueuedTranscription, Reason: "no subtitle material, transcription queued", JobID: jobID}, nil
	}

	return &Result{Outcome: OutcomeNoMaterial, Reason: "no local subtitle material"}, nil
}

// translateExtracted demuxes a stream to a tempfile, translates it, and
// removes the tempfile on every path.
func (t *Translator) translateExtracted(ctx context.Context, req Request, stream SubtitleStream) (*Result, error) {
	tmpPath, err := t.prober.ExtractStream(ctx, req.VideoPath, stream)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	return t.translateLocalFile(ctx, req, tmpPath, stream.IsASS())
}

func (t *Translator) translateLocalFile(ctx context.Context, req Request, srcPath string, isASS bool) (*Result, error) {
	ext := ".srt"
	if isASS {
		ext = ".ass"
	}
	dstPath := SubtitlePath(req.VideoPath, req.TargetLanguage, false, ext)

	if isASS {
		return t.TranslateASS(ctx, req, srcPath, dstPath)
	}
	return t.TranslateSRT(ctx, req, srcPath, dstPath)
}

// TranslateASS translates an ASS file, preserving signs/songs events and
// override tags, and writes the result to dstPath.
func (t *Translator) TranslateASS(ctx context.Context, req Request, srcPath, dstPath string) (*Result, error) {
	if err := CheckDiskSpace(filepath.Dir(dstPath)); err != nil {
		return nil, err
	}

	subs, err := astisub.OpenFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", srcPath, err)
	}

	signs := classifyStyles(subs)

	type pendingEvent struct {
		item     *astisub.Item
		cleanLen int
		tags     []overrideTag
	}
	var pending []pendingEvent
	var batch []string

	for _, item := range subs.Items {
		if signs[itemStyleName(item)] {
			continue
		}
		raw := itemRawText(item)
		clean, tags := splitTags(raw)
		if req.RemoveHI {
			clean = StripHearingImpaired(clean)
		}
		// Batch with real newlines; the \N convention is restored after
		// translation.
		batch = append(batch, strings.ReplaceAll(clean, `\N`, "\n"))
		pending = append(pending, pendingEvent{item: item, cleanLen: len([]rune(clean)), tags: tags})
	}

	translated, result, warnings := t.translateValidated(ctx, req, batch)
	if result != nil && !result.Success {
		return nil, fmt.Errorf("translation failed: %s", result.Error)
	}

	for i, p := range pending {
		text := strings.ReplaceAll(translated[i], "\n", `\N`)
		text = reinsertTags(text, p.cleanLen, p.tags)
		setItemText(p.item, text)
	}
	prefixTitle(subs, req.TargetLanguage)

	if err := subs.Write(dstPath); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", dstPath, err)
	}

	return t.finishResult(ctx, req, dstPath, batch, translated, result, warnings), nil
}

// TranslateSRT translates an SRT file line by line and writes the result to
// dstPath.
func (t *Translator) TranslateSRT(ctx context.Context, req Request, srcPath, dstPath string) (*Result, error) {
	if err := CheckDiskSpace(filepath.Dir(dstPath)); err != nil {
		return nil, err
	}

	subs, err := astisub.OpenFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", srcPath, err)
	}

	type pendingLine struct {
		item int
		line int
	}
	var pending []pendingLine
	var batch []string

	for i, item := range subs.Items {
		for j, line := range item.Lines {
			var sb strings.Builder
			for _, li := range line.Items {
				sb.WriteString(li.Text)
			}
			text := StripMarkup(sb.String())
			if req.RemoveHI {
				text = StripHearingImpaired(text)
			}
			batch = append(batch, text)
			pending = append(pending, pendingLine{item: i, line: j})
		}
	}

	translated, result, warnings := t.translateValidated(ctx, req, batch)
	if result != nil && !result.Success {
		return nil, fmt.Errorf("translation failed: %s", result.Error)
	}

	for k, p := range pending {
		subs.Items[p.item].Lines[p.line] = astisub.Line{
			Items: []astisub.LineItem{{Text: translated[k]}},
		}
	}

	if err := subs.Write(dstPath); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", dstPath, err)
	}

	return t.finishResult(ctx, req, dstPath, batch, translated, result, warnings), nil
}

// translateValidated runs a batch through the chain, re-trying up to two
// times when the output fails validation, then accepting with warnings.
func (t *Translator) translateValidated(ctx context.Context, req Request, batch []string) ([]string, *translation.Result, []string) {
	var warnings []string
	var result *translation.Result

	for attempt := 0; attempt <= 2; attempt++ {
		result = t.manager.Translate(ctx, batch, req.SourceLanguage, req.TargetLanguage, req.Chain, req.Glossary)
		if !result.Success {
			return nil, result, nil
		}
		ok, reason := translation.ValidateOutput(batch, result.Lines)
		if ok {
			return result.Lines, result, warnings
		}
		t.logger.Warn().Str("reason", reason).Int("attempt", attempt+1).Msg("Translation output failed validation")
		warnings = append(warnings, "output validation: "+reason)
	}
	return result.Lines, result, warnings
}

// finishResult assembles the result, quality heuristics, advisory score,
// and the quality sidecar.
func (t *Translator) finishResult(ctx context.Context, req Request, dstPath string, source, translated []string, result *translation.Result, warnings []string) *Result {
	warnings = append(warnings, QualityWarnings(source, translated, req.SourceLanguage)...)

	score := t.manager.EvaluateQuality(ctx,
		sampleText(source), sampleText(translated),
		req.SourceLanguage, req.TargetLanguage, req.Chain)

	sidecar := &QualitySidecar{
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Backend:        result.Backend,
		Score:          score,
		Warnings:       warnings,
		MemoryHits:     result.MemoryHits,
		TranslatedAt:   nowUTC(),
	}
	if err := WriteSidecar(dstPath, sidecar); err != nil {
		t.logger.Warn().Err(err).Str("path", dstPath).Msg("Failed to write quality sidecar")
	}

	return &Result{
		Outcome:      OutcomeTranslated,
		OutputPath:   dstPath,
		Backend:      result.Backend,
		QualityScore: score,
		MemoryHits:   result.MemoryHits,
		Warnings:     warnings,
		ConfigHash:   t.manager.ConfigHash(req.Chain, req.TargetLanguage, req.Glossary),
	}
}

// removeReplaced deletes a superseded subtitle and its quality sidecar.
func (t *Translator) removeReplaced(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove replaced subtitle")
	}
	if err := os.Remove(SidecarPath(path)); err != nil && !os.IsNotExist(err) {
		t.logger.Debug().Err(err).Str("path", path).Msg("Failed to remove replaced sidecar")
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// sampleText joins the first lines of a batch for quality evaluation,
// bounded so the prompt stays small.
func sampleText(lines []string) string {
	const maxLines = 20
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n")
}
