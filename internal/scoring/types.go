package scoring

// Config holds configurable weights for the scoring algorithm. Every weight
// can be overridden from settings; the defaults keep the invariant that a
// hash match outranks an imdb/tvdb match, which outranks a title match,
// which outranks year, which outranks resolution, and that
// title+season+episode crosses the perfect threshold.
type Config struct {
	// Primary identifiers
	HashPoints float64 // default: 350
	IDPoints   float64 // default: 330 (imdb/tvdb)

	// Release matching
	SeriesTitlePoints  float64 // default: 320
	SeasonPoints       float64 // default: 45
	EpisodePoints      float64 // default: 45
	YearPoints         float64 // default: 30
	ResolutionPoints   float64 // default: 15
	ReleaseGroupPoints float64 // default: 25

	// Attribute adjustments
	HearingImpairedPenalty   float64 // default: -40
	ForcedPenalty            float64 // default: -100 (full-subtitle query)
	ForcedBonus              float64 // default: 60 (forced_only query)
	MachineTranslatedPenalty float64 // default: -120, scaled by (1 - confidence)
	UploaderTrustScale       float64 // default: 20 points per trust unit
	UploaderTrustCap         float64 // default: 40
}

// DefaultConfig returns the default scoring weights.
func DefaultConfig() Config {
	return Config{
		HashPoints: 350,
		IDPoints:   330,

		SeriesTitlePoints:  320,
		SeasonPoints:       45,
		EpisodePoints:      45,
		YearPoints:         30,
		ResolutionPoints:   15,
		ReleaseGroupPoints: 25,

		HearingImpairedPenalty:   -40,
		ForcedPenalty:            -100,
		ForcedBonus:              60,
		MachineTranslatedPenalty: -120,
		UploaderTrustScale:       20,
		UploaderTrustCap:         40,
	}
}

// Context provides per-search scoring inputs beyond the query itself.
type Context struct {
	// WantHearingImpaired suppresses the hearing-impaired penalty.
	WantHearingImpaired bool

	// ProviderModifiers maps provider name to its additive score bias,
	// clamped to [-50, 50] at application time.
	ProviderModifiers map[string]int
}

// ProviderModifier returns the additive bias for a provider, zero when unset.
func (ctx *Context) ProviderModifier(name string) int {
	if ctx.ProviderModifiers == nil {
		return 0
	}
	return ctx.ProviderModifiers[name]
}
