// Package wanted drives a WantedItem from "wanted" to a subtitle file on
// disk, preferring provider downloads over translation and translation over
// transcription.
package wanted

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/provider"
	providermgr "github.com/sublarr/sublarr/internal/provider/manager"
	"github.com/sublarr/sublarr/internal/scoring"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translation"
	"github.com/sublarr/sublarr/internal/translator"
)

// Config tunes the pipeline.
type Config struct {
	// MaxSearchAttempts caps how often an item is searched before it fails.
	MaxSearchAttempts int
	// BackoffBaseHours and BackoffCapHours shape the retry schedule:
	// base * 2^(attempts-1), capped.
	BackoffBaseHours float64
	BackoffCapHours  float64
	// SkipSRTOnNoASS skips the SRT provider steps when neither ASS step
	// found any ASS at all.
	SkipSRTOnNoASS bool
	// PreferASS enables format upgrades from SRT to ASS.
	PreferASS bool
	// UpgradeMinDelta and UpgradeWindowDays gate score-only upgrades.
	UpgradeMinDelta   int
	UpgradeWindowDays int
	// SourceLanguage is the fallback when no profile names one.
	SourceLanguage string
	// Transcription enables the ASR fall-through.
	Transcription bool
	// DownloadTries bounds candidate download attempts per step.
	DownloadTries int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		MaxSearchAttempts: 5,
		BackoffBaseHours:  4,
		BackoffCapHours:   168,
		SkipSRTOnNoASS:    true,
		PreferASS:         true,
		UpgradeMinDelta:   50,
		UpgradeWindowDays: 7,
		SourceLanguage:    "en",
		DownloadTries:     3,
	}
}

// Notifier receives success callbacks. Implementations must not block long;
// their errors are logged and dropped.
type Notifier interface {
	FileFound(ctx context.Context, item *store.WantedItem, subtitlePath string) error
}

// Result reports how one processing attempt ended.
type Result struct {
	Status     store.WantedStatus `json:"status"`
	OutputPath string             `json:"outputPath,omitempty"`
	Provider   string             `json:"provider,omitempty"`
	Source     string             `json:"source,omitempty"`
	RetryAfter *time.Time         `json:"retryAfter,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	JobID      string             `json:"jobId,omitempty"`
}

// Pipeline processes wanted items.
type Pipeline struct {
	store      *store.Store
	search     *providermgr.Manager
	translator *translator.Translator
	notifier   Notifier
	config     Config
	logger     zerolog.Logger
}

// New creates a pipeline. notifier may be nil.
func New(st *store.Store, search *providermgr.Manager, tr *translator.Translator, notifier Notifier, config Config, logger zerolog.Logger) *Pipeline {
	if config.MaxSearchAttempts <= 0 {
		config.MaxSearchAttempts = DefaultConfig().MaxSearchAttempts
	}
	if config.DownloadTries <= 0 {
		config.DownloadTries = DefaultConfig().DownloadTries
	}
	return &Pipeline{
		store:      st,
		search:     search,
		translator: tr,
		notifier:   notifier,
		config:     config,
		logger:     logger.With().Str("component", "wanted").Logger(),
	}
}

// Backoff computes the advisory retry time after the given attempt number
// (1-based).
func (p *Pipeline) Backoff(attempt int, now time.Time) time.Time {
	base := p.config.BackoffBaseHours
	if base <= 0 {
		base = DefaultConfig().BackoffBaseHours
	}
	capHours := p.config.BackoffCapHours
	if capHours <= 0 {
		capHours = DefaultConfig().BackoffCapHours
	}
	hours := base * math.Pow(2, float64(attempt-1))
	if hours > capHours {
		hours = capHours
	}
	return now.Add(time.Duration(hours * float64(time.Hour)))
}

// Process runs one attempt for an item. The item transitions
// searching -> found | failed | wanted; the returned Result mirrors the
// stored state.
func (p *Pipeline) Process(ctx context.Context, item *store.WantedItem) (*Result, error) {
	log := p.logger.With().Int64("id", item.ID).Str("file", item.FilePath).Str("lang", item.TargetLanguage).Logger()

	if item.Status == store.WantedStatusIgnored {
		return &Result{Status: store.WantedStatusIgnored}, nil
	}
	if _, err := os.Stat(item.FilePath); err != nil {
		return p.fail(ctx, item, "video file missing")
	}
	if item.SearchCount >= p.config.MaxSearchAttempts {
		log.Info().Int("attempts", item.SearchCount).Msg("Max search attempts reached")
		return p.fail(ctx, item, "max search attempts reached")
	}

	if err := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusSearching, ""); err != nil {
		return nil, err
	}
	retryAfter := p.Backoff(item.SearchCount+1, time.Now().UTC())
	if err := p.store.RecordSearchAttempt(ctx, item.ID, &retryAfter); err != nil {
		return nil, err
	}

	var result *Result
	var err error
	if item.SubtitleType == store.SubtitleTypeForced {
		result, err = p.processForced(ctx, item)
	} else {
		result, err = p.processFull(ctx, item)
	}
	if err != nil {
		// Recoverable processing error: back off and stay wanted.
		log.Warn().Err(err).Msg("Processing attempt failed")
		if uerr := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusWanted, err.Error()); uerr != nil {
			return nil, uerr
		}
		return &Result{Status: store.WantedStatusWanted, RetryAfter: &retryAfter, Warnings: []string{err.Error()}}, nil
	}

	switch result.Status {
	case store.WantedStatusFound:
		if uerr := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusFound, ""); uerr != nil {
			return nil, uerr
		}
		p.notify(ctx, item, result.OutputPath)
	case store.WantedStatusFailed:
		if uerr := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusFailed, result.Source); uerr != nil {
			return nil, uerr
		}
	case store.WantedStatusSearching:
		// Transcription is in flight. The item keeps the searching status
		// set above until FinishTranscription settles it.
	default:
		if uerr := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusWanted, ""); uerr != nil {
			return nil, uerr
		}
		result.RetryAfter = &retryAfter
	}
	return result, nil
}

func (p *Pipeline) fail(ctx context.Context, item *store.WantedItem, reason string) (*Result, error) {
	if err := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusFailed, reason); err != nil {
		return nil, err
	}
	return &Result{Status: store.WantedStatusFailed, Source: reason}, nil
}

func (p *Pipeline) notify(ctx context.Context, item *store.WantedItem, path string) {
	if p.notifier == nil || path == "" {
		return
	}
	if err := p.notifier.FileFound(ctx, item, path); err != nil {
		p.logger.Warn().Err(err).Str("file", item.FilePath).Msg("Found-file notification failed")
	}
}

// processForced is download-only: forced tracks are short and positional,
// translating them produces garbage. Preference order is target ASS, target
// SRT, source ASS, source SRT.
func (p *Pipeline) processForced(ctx context.Context, item *store.WantedItem) (*Result, error) {
	sourceLang, _, _ := p.itemContext(ctx, item)

	query := p.buildQuery(item, []string{item.TargetLanguage, sourceLang})
	query.ForcedOnly = true

	searchResult, err := p.search.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	order := []struct {
		lang   string
		format provider.Format
	}{
		{item.TargetLanguage, provider.FormatASS},
		{item.TargetLanguage, provider.FormatSRT},
		{sourceLang, provider.FormatASS},
		{sourceLang, provider.FormatSRT},
	}
	for _, want := range order {
		candidates := pickCandidates(searchResult.Candidates, want.lang, want.format, true)
		path, c, ok := p.downloadFirst(ctx, item, candidates)
		if !ok {
			continue
		}
		return &Result{Status: store.WantedStatusFound, OutputPath: path, Provider: c.ProviderName, Source: "provider forced download"}, nil
	}

	return &Result{Status: store.WantedStatusFailed, Source: "no forced subtitle available"}, nil
}

// processFull walks the ordered attempt sequence: provider target ASS,
// provider source ASS plus translation, provider target SRT, provider source
// SRT plus translation, then local material via the translator.
func (p *Pipeline) processFull(ctx context.Context, item *store.WantedItem) (*Result, error) {
	sourceLang, chain, glossary := p.itemContext(ctx, item)

	languages := []string{item.TargetLanguage}
	if !translator.SameLanguage(sourceLang, item.TargetLanguage) {
		languages = append(languages, sourceLang)
	}
	searchResult, err := p.search.Search(ctx, p.buildQuery(item, languages))
	if err != nil {
		return nil, err
	}

	existing, _ := translator.FindExternalSubtitle(item.FilePath, item.TargetLanguage, false)

	// Step 1: direct target-language ASS.
	targetASS := pickCandidates(searchResult.Candidates, item.TargetLanguage, provider.FormatASS, false)
	if len(targetASS) > 0 {
		if !item.UpgradeCandidate || p.upgradeAccepted(item, existing, targetASS[0]) {
			if path, c, ok := p.downloadFirst(ctx, item, targetASS); ok {
				p.recordUpgrade(ctx, item, existing, c, path)
				return &Result{Status: store.WantedStatusFound, OutputPath: path, Provider: c.ProviderName, Source: "provider target ASS"}, nil
			}
		} else if existing != nil {
			// Upgrade declined: the file on disk stays the best we keep.
			return &Result{Status: store.WantedStatusFound, OutputPath: existing.Path, Source: "existing subtitle retained"}, nil
		}
	}

	// Step 2: source-language ASS, translated.
	sourceASS := pickCandidates(searchResult.Candidates, sourceLang, provider.FormatASS, false)
	if result, ok := p.downloadAndTranslate(ctx, item, sourceASS, sourceLang, chain, glossary, true); ok {
		p.removeReplacedSRT(ctx, item, existing, result)
		return result, nil
	}

	sawASS := len(targetASS) > 0 || len(sourceASS) > 0
	if !sawASS && p.config.SkipSRTOnNoASS {
		p.logger.Debug().Str("file", item.FilePath).Msg("No ASS anywhere, skipping SRT provider steps")
	} else if existing == nil {
		// Step 3: direct target-language SRT. Pointless when a target SRT
		// already exists; ASS was the only upgrade worth making.
		targetSRT := pickCandidates(searchResult.Candidates, item.TargetLanguage, provider.FormatSRT, false)
		if path, c, ok := p.downloadFirst(ctx, item, targetSRT); ok {
			return &Result{Status: store.WantedStatusFound, OutputPath: path, Provider: c.ProviderName, Source: "provider target SRT"}, nil
		}

		// Step 4: source-language SRT, translated.
		sourceSRT := pickCandidates(searchResult.Candidates, sourceLang, provider.FormatSRT, false)
		if result, ok := p.downloadAndTranslate(ctx, item, sourceSRT, sourceLang, chain, glossary, false); ok {
			return result, nil
		}
	}

	// Step 5: local material (embedded streams, external source files,
	// transcription).
	trResult, err := p.translator.TranslateFile(ctx, translator.Request{
		VideoPath:      item.FilePath,
		SourceLanguage: sourceLang,
		TargetLanguage: item.TargetLanguage,
		Chain:          chain,
		Glossary:       glossary,
		RemoveHI:       false,
		Transcription:  p.config.Transcription,
	})
	if err != nil {
		return nil, err
	}

	switch trResult.Outcome {
	case translator.OutcomeSkipped:
		return &Result{Status: store.WantedStatusFound, OutputPath: trResult.OutputPath, Source: trResult.Reason, Warnings: trResult.Warnings}, nil
	case translator.OutcomeTranslated, translator.OutcomeUpgraded:
		p.recordTranslated(ctx, item, trResult)
		return &Result{Status: store.WantedStatusFound, OutputPath: trResult.OutputPath, Source: trResult.Reason, Warnings: trResult.Warnings}, nil
	case translator.OutcomeQueuedTranscription:
		return &Result{Status: store.WantedStatusSearching, Source: trResult.Reason, JobID: trResult.JobID}, nil
	default:
		return &Result{Status: store.WantedStatusWanted, Source: "no subtitle found"}, nil
	}
}

// FinishTranscription re-enters the waterfall once a transcribed source SRT
// is on disk and settles the wanted row parked in searching. Videos
// translated outside the wanted flow have no row; their translation stands
// alone.
func (p *Pipeline) FinishTranscription(ctx context.Context, videoPath, sourceLang, targetLang string) error {
	item, err := p.store.GetWantedByKey(ctx, videoPath, targetLang, store.SubtitleTypeFull)
	if err != nil {
		_, trErr := p.translator.TranslateFile(ctx, translator.Request{
			VideoPath:      videoPath,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
		})
		return trErr
	}

	_, chain, glossary := p.itemContext(ctx, item)
	trResult, err := p.translator.TranslateFile(ctx, translator.Request{
		VideoPath:      videoPath,
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		Chain:          chain,
		Glossary:       glossary,
	})
	if err != nil {
		if uerr := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusWanted, err.Error()); uerr != nil {
			return uerr
		}
		return err
	}

	switch trResult.Outcome {
	case translator.OutcomeTranslated, translator.OutcomeUpgraded, translator.OutcomeSkipped:
		if trResult.Outcome != translator.OutcomeSkipped {
			p.recordTranslated(ctx, item, trResult)
		}
		if uerr := p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusFound, ""); uerr != nil {
			return uerr
		}
		p.notify(ctx, item, trResult.OutputPath)
		return nil
	default:
		return p.store.UpdateWantedStatus(ctx, item.ID, store.WantedStatusWanted, trResult.Reason)
	}
}

// itemContext resolves the profile-driven source language, fallback chain,
// and merged glossary for an item.
func (p *Pipeline) itemContext(ctx context.Context, item *store.WantedItem) (string, []string, []translation.Term) {
	sourceLang := p.config.SourceLanguage
	var chain []string

	itemID := int64(0)
	if item.SeriesID != nil {
		itemID = *item.SeriesID
	} else if item.ExternalID != nil {
		itemID = *item.ExternalID
	}
	if profile, err := p.store.GetAssignedProfile(ctx, item.ItemType, itemID); err == nil {
		if profile.SourceLanguage != "" {
			sourceLang = profile.SourceLanguage
		}
		chain = profile.FallbackChain
	}

	var glossary []translation.Term
	if entries, err := p.store.MergedGlossary(ctx, item.Title); err == nil {
		for _, e := range entries {
			glossary = append(glossary, translation.Term{Source: e.SourceTerm, Target: e.TargetTerm})
		}
	}
	return sourceLang, chain, glossary
}

func (p *Pipeline) buildQuery(item *store.WantedItem, languages []string) provider.VideoQuery {
	query := provider.VideoQuery{
		FilePath:  item.FilePath,
		Title:     item.Title,
		Season:    item.Season,
		Episode:   item.Episode,
		Languages: languages,
	}
	if item.ItemType == "episode" {
		query.Series = item.Title
	}
	return query
}

// pickCandidates filters the scored candidate list to one language and
// format, preserving score order.
func pickCandidates(candidates []provider.Candidate, language string, format provider.Format, forced bool) []provider.Candidate {
	var out []provider.Candidate
	for _, c := range candidates {
		if c.Forced != forced {
			continue
		}
		if c.Format != format {
			continue
		}
		if !translator.SameLanguage(c.Language, language) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// downloadFirst tries candidates in order until one downloads and saves.
func (p *Pipeline) downloadFirst(ctx context.Context, item *store.WantedItem, candidates []provider.Candidate) (string, *provider.Candidate, bool) {
	tries := p.config.DownloadTries
	for i, c := range candidates {
		if i >= tries {
			break
		}
		payload, err := p.search.Download(ctx, c)
		if err != nil {
			p.logger.Warn().Err(err).Str("provider", c.ProviderName).Str("subtitle", c.SubtitleID).Msg("Download failed, trying next candidate")
			continue
		}
		path, err := p.search.Save(ctx, c, payload, item.FilePath)
		if err != nil {
			p.logger.Warn().Err(err).Str("provider", c.ProviderName).Msg("Save failed")
			continue
		}
		return path, &c, true
	}
	return "", nil, false
}

// downloadAndTranslate fetches a source-language candidate to a tempfile and
// runs it through the translator.
func (p *Pipeline) downloadAndTranslate(ctx context.Context, item *store.WantedItem, candidates []provider.Candidate,
	sourceLang string, chain []string, glossary []translation.Term, isASS bool) (*Result, bool) {

	tries := p.config.DownloadTries
	for i, c := range candidates {
		if i >= tries {
			break
		}
		payload, err := p.search.Download(ctx, c)
		if err != nil {
			p.logger.Warn().Err(err).Str("provider", c.ProviderName).Msg("Download failed, trying next candidate")
			continue
		}

		ext := ".srt"
		if isASS {
			ext = ".ass"
		}
		tmp, err := os.CreateTemp("", "sublarr-translate-*"+ext)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to create tempfile")
			return nil, false
		}
		tmpPath := tmp.Name()
		if _, err := tmp.Write(payload.Data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			continue
		}
		tmp.Close()

		req := translator.Request{
			VideoPath:      item.FilePath,
			SourceLanguage: sourceLang,
			TargetLanguage: item.TargetLanguage,
			Chain:          chain,
			Glossary:       glossary,
		}
		dstPath := translator.SubtitlePath(item.FilePath, item.TargetLanguage, false, ext)

		var trResult *translator.Result
		if isASS {
			trResult, err = p.translator.TranslateASS(ctx, req, tmpPath, dstPath)
		} else {
			trResult, err = p.translator.TranslateSRT(ctx, req, tmpPath, dstPath)
		}
		os.Remove(tmpPath)
		if err != nil {
			p.logger.Warn().Err(err).Str("provider", c.ProviderName).Msg("Translation of downloaded subtitle failed")
			continue
		}

		if _, err := p.store.RecordDownload(ctx, store.SubtitleDownload{
			VideoPath:    item.FilePath,
			SubtitlePath: dstPath,
			Language:     item.TargetLanguage,
			Provider:     c.ProviderName,
			ReleaseName:  c.ReleaseInfo,
			Score:        c.Score,
			Format:       string(c.Format),
		}); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record download history")
		}

		source := "provider source SRT translated"
		if isASS {
			source = "provider source ASS translated"
		}
		return &Result{
			Status:     store.WantedStatusFound,
			OutputPath: dstPath,
			Provider:   c.ProviderName,
			Source:     source,
			Warnings:   trResult.Warnings,
		}, true
	}
	return nil, false
}

// upgradeAccepted consults the score-based upgrade decision against the
// existing target subtitle.
func (p *Pipeline) upgradeAccepted(item *store.WantedItem, existing *translator.ExternalSubtitle, candidate provider.Candidate) bool {
	oldFormat := provider.FormatSRT
	existingPath := ""
	if existing != nil {
		existingPath = existing.Path
		if existing.IsASS {
			oldFormat = provider.FormatASS
		}
	}
	return scoring.ShouldUpgrade(oldFormat, item.CurrentScore, candidate.Format, candidate.Score,
		p.config.PreferASS, p.config.UpgradeMinDelta, p.config.UpgradeWindowDays, existingPath)
}

// recordUpgrade logs upgrade provenance and removes the superseded SRT.
func (p *Pipeline) recordUpgrade(ctx context.Context, item *store.WantedItem, existing *translator.ExternalSubtitle, c *provider.Candidate, newPath string) {
	if existing == nil || existing.Path == newPath {
		return
	}

	oldProvider := ""
	if old, err := p.store.LatestDownload(ctx, item.FilePath, item.TargetLanguage, false); err == nil {
		oldProvider = old.Provider
	}
	if err := p.store.RecordUpgrade(ctx, store.UpgradeRecord{
		VideoPath:   item.FilePath,
		Language:    item.TargetLanguage,
		OldProvider: oldProvider,
		NewProvider: c.ProviderName,
		OldScore:    item.CurrentScore,
		NewScore:    c.Score,
		OldPath:     existing.Path,
		NewPath:     newPath,
	}); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record upgrade history")
	}

	if err := os.Remove(existing.Path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn().Err(err).Str("path", existing.Path).Msg("Failed to remove superseded subtitle")
	}
	os.Remove(translator.SidecarPath(existing.Path))
}

// removeReplacedSRT drops a target SRT that a translated ASS just replaced.
func (p *Pipeline) removeReplacedSRT(ctx context.Context, item *store.WantedItem, existing *translator.ExternalSubtitle, result *Result) {
	if existing == nil || existing.IsASS || result.OutputPath == "" || existing.Path == result.OutputPath {
		return
	}
	if err := p.store.RecordUpgrade(ctx, store.UpgradeRecord{
		VideoPath:   item.FilePath,
		Language:    item.TargetLanguage,
		NewProvider: result.Provider,
		OldScore:    item.CurrentScore,
		OldPath:     existing.Path,
		NewPath:     result.OutputPath,
	}); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record upgrade history")
	}
	if err := os.Remove(existing.Path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn().Err(err).Str("path", existing.Path).Msg("Failed to remove superseded subtitle")
	}
	os.Remove(translator.SidecarPath(existing.Path))
}

// recordTranslated logs provenance for files the translator produced from
// local material.
func (p *Pipeline) recordTranslated(ctx context.Context, item *store.WantedItem, trResult *translator.Result) {
	if trResult.OutputPath == "" {
		return
	}
	format := "srt"
	if ext := trResult.OutputPath; len(ext) > 4 && ext[len(ext)-4:] == ".ass" {
		format = "ass"
	}
	if _, err := p.store.RecordDownload(ctx, store.SubtitleDownload{
		VideoPath:    item.FilePath,
		SubtitlePath: trResult.OutputPath,
		Language:     item.TargetLanguage,
		Provider:     "translator",
		Format:       format,
	}); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record download history")
	}
}
