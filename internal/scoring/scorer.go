// Package scoring maps subtitle candidates to deterministic integer scores
// and decides when an existing subtitle should be replaced.
package scoring

import (
	"math"
	"os"
	"sort"
	"time"

	"github.com/sublarr/sublarr/internal/provider"
)

// PerfectThreshold is the score at which a candidate is considered a perfect
// match and provider fan-out may stop early.
const PerfectThreshold = 400

// Scorer calculates desirability scores for subtitle candidates.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer with the given weights.
func NewScorer(config Config) *Scorer {
	return &Scorer{config: config}
}

// NewDefaultScorer creates a scorer with default weights.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultConfig())
}

// Score calculates the score for one candidate against a query. It modifies
// the candidate in place and returns the score.
func (s *Scorer) Score(candidate *provider.Candidate, query provider.VideoQuery, ctx Context) int {
	score := 0.0

	// Primary identifiers dominate everything else.
	if candidate.HasMatch(provider.MatchHash) {
		score += s.config.HashPoints
	}
	if candidate.HasMatch(provider.MatchIMDB) || candidate.HasMatch(provider.MatchTVDB) {
		score += s.config.IDPoints
	}

	if candidate.HasMatch(provider.MatchSeries) {
		score += s.config.SeriesTitlePoints
	}
	if candidate.HasMatch(provider.MatchSeason) {
		score += s.config.SeasonPoints
	}
	if candidate.HasMatch(provider.MatchEpisode) {
		score += s.config.EpisodePoints
	}
	if candidate.HasMatch(provider.MatchYear) {
		score += s.config.YearPoints
	}
	if candidate.HasMatch(provider.MatchResolution) {
		score += s.config.ResolutionPoints
	}
	if candidate.HasMatch(provider.MatchReleaseGroup) {
		score += s.config.ReleaseGroupPoints
	}

	if candidate.HearingImpaired && !ctx.WantHearingImpaired {
		score += s.config.HearingImpairedPenalty
	}

	// Forced cuts both ways depending on what the query wants.
	if candidate.Forced {
		if query.ForcedOnly {
			score += s.config.ForcedBonus
		} else {
			score += s.config.ForcedPenalty
		}
	}

	if candidate.MachineTranslated {
		confidence := candidate.MTConfidence
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}
		score += s.config.MachineTranslatedPenalty * (1 - confidence)
	}

	if candidate.UploaderTrust > 0 {
		bonus := candidate.UploaderTrust * s.config.UploaderTrustScale
		if bonus > s.config.UploaderTrustCap {
			bonus = s.config.UploaderTrustCap
		}
		score += bonus
	}

	// Provider score modifier is an additive bias applied last, clamped.
	modifier := ctx.ProviderModifier(candidate.ProviderName)
	if modifier > 50 {
		modifier = 50
	} else if modifier < -50 {
		modifier = -50
	}
	score += float64(modifier)

	candidate.Score = int(math.Round(score))
	return candidate.Score
}

// ScoreAll scores every candidate and sorts the slice best first: format
// rank ascending (ASS before SSA before SRT), then score descending.
func (s *Scorer) ScoreAll(candidates []provider.Candidate, query provider.VideoQuery, ctx Context) {
	for i := range candidates {
		s.Score(&candidates[i], query, ctx)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Format.Rank(), candidates[j].Format.Rank()
		if ri != rj {
			return ri < rj
		}
		return candidates[i].Score > candidates[j].Score
	})
}

// ShouldUpgrade decides whether a new candidate replaces an existing
// subtitle. A format upgrade (prefer_ass and the new file is ASS where the
// old one is not) always qualifies. A score-only upgrade needs at least
// minDelta, and double that while the existing file is younger than
// windowDays, so freshly downloaded files are not churned for marginal gains.
func ShouldUpgrade(oldFormat provider.Format, oldScore int, newFormat provider.Format, newScore int,
	preferASS bool, minDelta int, windowDays int, existingPath string) bool {

	if preferASS && oldFormat != provider.FormatASS && newFormat == provider.FormatASS {
		return true
	}

	delta := newScore - oldScore
	if delta < minDelta {
		return false
	}

	if windowDays > 0 && existingPath != "" {
		if info, err := os.Stat(existingPath); err == nil {
			age := time.Since(info.ModTime())
			if age < time.Duration(windowDays)*24*time.Hour && delta < 2*minDelta {
				return false
			}
		}
	}
	return true
}
