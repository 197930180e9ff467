package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
)

const (
	defaultMaxRecommendations = 5
	defaultExplorationPct     = 0.2

	decayHalfLifeDays = 30.0
	qualityWeight     = 0.7
	decayWeight       = 0.3
	neutralScore      = 0.5
	preferenceNudge   = 0.1

	// at most this much accept+reject evidence still counts as unexplored
	explorationEvidenceMax = 1
)

// Options configures the engine. Now is injectable so scoring is
// reproducible in tests.
type Options struct {
	MaxRecommendations int
	ExplorationPct     float64
	Now                func() time.Time
}

// Engine scores and ranks candidates against per-agent history
type Engine struct {
	maxRecommendations int
	explorationPct     float64
	now                func() time.Time
}

// NewEngine creates an engine, filling zero options with defaults
func NewEngine(opts Options) *Engine {
	observability.EnsureRegistered()

	if opts.MaxRecommendations <= 0 {
		opts.MaxRecommendations = defaultMaxRecommendations
	}
	if opts.ExplorationPct <= 0 || opts.ExplorationPct >= 1 {
		opts.ExplorationPct = defaultExplorationPct
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		maxRecommendations: opts.MaxRecommendations,
		explorationPct:     opts.ExplorationPct,
		now:                opts.Now,
	}
}

// CandidateKey returns the candidate's explicit key, or a content hash of
// its tactic and parameters. json.Marshal sorts map keys, so the hash is
// canonical regardless of parameter insertion order.
func CandidateKey(tactic string, parameters map[string]interface{}) string {
	raw, err := json.Marshal(struct {
		Tactic     string                 `json:"tactic"`
		Parameters map[string]interface{} `json:"parameters"`
	}{tactic, parameters})
	if err != nil {
		raw = []byte(tactic)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func resolveKey(explicit, tactic string, parameters map[string]interface{}) string {
	if explicit != "" {
		return explicit
	}
	return CandidateKey(tactic, parameters)
}

// Recommend replays history into a copy of the agent state, scores and
// ranks the candidates, and returns the ranked selection together with the
// updated state for the caller to persist. The input state is not mutated.
func (e *Engine) Recommend(ctx context.Context, candidates []Candidate, previous []PreviousRun, state *AgentState) (*Result, error) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "outrigger.recommend", "recommend.score")
	defer span.End()

	if state == nil {
		state = NewAgentState()
	}
	next := state.clone()
	if next.Entries == nil {
		next.Entries = make(map[string]*StateEntry)
	}

	historical := e.replayHistory(next, previous)

	now := e.now()
	type scored struct {
		candidate Candidate
		key       string
		entry     *StateEntry
		breakdown ScoreBreakdown
		order     int
	}

	diag := Diagnostics{
		PreviousRuns:    len(previous),
		HistoricalItems: historical,
	}

	seen := make(map[string]bool, len(candidates))
	pending := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		key := resolveKey(c.Key, c.Tactic, c.Parameters)
		if seen[key] {
			continue
		}
		seen[key] = true

		entry := next.entry(key)
		switch entry.Status {
		case EntryStatusAdopted:
			diag.FilteredAdopted++
			continue
		case EntryStatusRejected:
			diag.FilteredRejected++
			continue
		}

		breakdown := e.score(entry, c.Tactic, next.Preferences, now)
		pending = append(pending, scored{candidate: c, key: key, entry: entry, breakdown: breakdown, order: i})
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].breakdown.Score != pending[j].breakdown.Score {
			return pending[i].breakdown.Score > pending[j].breakdown.Score
		}
		return pending[i].order < pending[j].order
	})

	limit := e.maxRecommendations
	if limit > len(pending) {
		limit = len(pending)
	}

	exploitCount := int(math.Round(float64(limit) * (1 - e.explorationPct)))
	if exploitCount > limit {
		exploitCount = limit
	}

	selected := make([]scored, 0, limit)
	picked := make(map[string]bool, limit)
	for _, s := range pending[:exploitCount] {
		selected = append(selected, s)
		picked[s.key] = true
	}

	// exploration draws only from low-evidence or explicitly flagged
	// candidates, best score first
	for _, s := range pending {
		if len(selected) >= limit {
			break
		}
		if picked[s.key] {
			continue
		}
		if s.entry.evidence() > explorationEvidenceMax && !s.candidate.Exploration {
			continue
		}
		selected = append(selected, s)
		picked[s.key] = true
	}

	// top up from the remainder when the exploration pool ran dry
	for _, s := range pending {
		if len(selected) >= limit {
			break
		}
		if picked[s.key] {
			continue
		}
		selected = append(selected, s)
		picked[s.key] = true
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].breakdown.Score != selected[j].breakdown.Score {
			return selected[i].breakdown.Score > selected[j].breakdown.Score
		}
		return selected[i].order < selected[j].order
	})

	explorationCount := 0
	out := make([]Selection, 0, len(selected))
	for rank, s := range selected {
		exploratory := s.entry.evidence() <= explorationEvidenceMax || s.candidate.Exploration
		if exploratory {
			explorationCount++
		}

		hint := s.candidate.Hint
		if hint == nil {
			h := inferExecutionHint(s.candidate.Tactic)
			hint = &h
		}

		out = append(out, Selection{
			Rank:        rank + 1,
			Key:         s.key,
			Tactic:      s.candidate.Tactic,
			Parameters:  s.candidate.Parameters,
			Score:       s.breakdown.Score,
			Adopted:     s.entry.Adopted,
			Rationale:   s.candidate.Rationale,
			NextSteps:   s.candidate.NextSteps,
			Exploration: exploratory,
			Breakdown:   s.breakdown,
			Hint:        *hint,
		})

		suggestedAt := now
		s.entry.LastSuggestedAt = &suggestedAt
		s.entry.Score = s.breakdown.Score
	}

	if len(out) > 0 {
		diag.ExplorationPct = float64(explorationCount) / float64(len(out))
	}
	next.Version++

	observability.RecordRecommendation(time.Since(start), diag.FilteredAdopted, diag.FilteredRejected, len(next.Entries))
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Int("candidates", len(candidates)).
		Int("selected", len(out)).
		Int("filtered_adopted", diag.FilteredAdopted).
		Int("filtered_rejected", diag.FilteredRejected).
		Msg("Recommendations ranked")

	return &Result{Selection: out, Diagnostics: diag, State: next}, nil
}

// replayHistory folds every recorded recommendation of every previous run
// into the state map and returns the number of items evaluated. The replay
// re-derives from the full history each call; it does not remember which
// runs were already folded in, so callers must pass history consistently.
func (e *Engine) replayHistory(state *AgentState, previous []PreviousRun) int {
	items := 0
	for _, run := range previous {
		for _, rec := range run.Recommendations {
			items++
			key := resolveKey(rec.Key, rec.Tactic, rec.Parameters)
			entry := state.entry(key)

			if !rec.SuggestedAt.IsZero() {
				if entry.LastSuggestedAt == nil || rec.SuggestedAt.After(*entry.LastSuggestedAt) {
					t := rec.SuggestedAt
					entry.LastSuggestedAt = &t
				}
			}

			switch {
			case accepted(rec):
				entry.Accepts++
				if !rec.SuggestedAt.IsZero() {
					if entry.LastAcceptedAt == nil || rec.SuggestedAt.After(*entry.LastAcceptedAt) {
						t := rec.SuggestedAt
						entry.LastAcceptedAt = &t
					}
				}
				if explicitlyAdopted(rec) {
					entry.Status = EntryStatusAdopted
					entry.Adopted = true
				}
			case rejected(rec):
				entry.Rejects++
				entry.Status = EntryStatusRejected
			}
		}
	}
	return items
}

func accepted(rec RecordedRecommendation) bool {
	if rec.Feedback != nil && (rec.Feedback.Explicit == FeedbackAccepted || rec.Feedback.Click) {
		return true
	}
	return rec.Status == RecStatusImplemented || rec.Status == RecStatusInExecution
}

func explicitlyAdopted(rec RecordedRecommendation) bool {
	if rec.Feedback != nil && rec.Feedback.Explicit == FeedbackAccepted {
		return true
	}
	return rec.Status == RecStatusImplemented
}

func rejected(rec RecordedRecommendation) bool {
	if rec.Feedback != nil && rec.Feedback.Explicit == FeedbackRejected {
		return true
	}
	switch rec.Status {
	case RecStatusRejected, RecStatusCancelled, RecStatusDiscarded:
		return true
	}
	return false
}

// score computes the blended quality/recency score for one entry
func (e *Engine) score(entry *StateEntry, tactic string, preferences map[string]bool, now time.Time) ScoreBreakdown {
	breakdown := ScoreBreakdown{Accepts: entry.Accepts, Rejects: entry.Rejects}

	if entry.evidence() == 0 {
		breakdown.Score = applyPreferences(neutralScore, tactic, preferences)
		return breakdown
	}

	reference := entry.LastSuggestedAt
	if entry.LastAcceptedAt != nil && (reference == nil || entry.LastAcceptedAt.After(*reference)) {
		reference = entry.LastAcceptedAt
	}

	w := 0.0
	if reference != nil {
		days := now.Sub(*reference).Hours() / 24
		if days < 0 {
			days = 0
		}
		w = math.Exp(-days / decayHalfLifeDays)
	}

	s := float64(entry.Accepts+1) / float64(entry.Accepts+entry.Rejects+2)
	score := clamp01(qualityWeight*s + decayWeight*w)

	breakdown.Decay = w
	breakdown.Quality = s
	breakdown.Score = applyPreferences(score, tactic, preferences)
	return breakdown
}

func applyPreferences(score float64, tactic string, preferences map[string]bool) float64 {
	// sorted iteration keeps the clamped result reproducible
	keys := make([]string, 0, len(preferences))
	for substr := range preferences {
		keys = append(keys, substr)
	}
	sort.Strings(keys)

	for _, substr := range keys {
		if substr == "" || !containsFold(tactic, substr) {
			continue
		}
		if preferences[substr] {
			score += preferenceNudge
		} else {
			score -= preferenceNudge
		}
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
