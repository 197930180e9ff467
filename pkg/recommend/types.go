// Package recommend ranks candidate tactics for an agent from its
// accumulated acceptance history. The engine itself is a pure function over
// candidates, previous-run feedback and persisted per-agent state; callers
// own loading and saving the state through a Store.
package recommend

import (
	"fmt"
	"time"
)

// EntryStatus is the lifecycle of one tracked recommendation key
type EntryStatus string

const (
	EntryStatusPending  EntryStatus = "PENDING"
	EntryStatusAdopted  EntryStatus = "ADOPTED"
	EntryStatusRejected EntryStatus = "REJECTED"
)

// Wire vocabulary used by upstream clients for feedback and run status.
// Kept verbatim; renaming would break recorded history.
const (
	FeedbackAccepted = "aceito"
	FeedbackRejected = "rejeitado"

	RecStatusImplemented = "implementado"
	RecStatusInExecution = "em_execucao"
	RecStatusRejected    = "rejeitado"
	RecStatusCancelled   = "cancelado"
	RecStatusDiscarded   = "descartado"
)

// Scope identifies whose state is being scored
type Scope struct {
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id"`
}

// Key returns the storage key for the scope
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s:%s", s.TenantID, s.WorkspaceID, s.AgentID)
}

// StateEntry tracks the acceptance history of one recommendation key.
// Entries are created lazily on first sighting and persist indefinitely.
type StateEntry struct {
	Accepts         int         `json:"accepts"`
	Rejects         int         `json:"rejects"`
	Adopted         bool        `json:"adopted"`
	Status          EntryStatus `json:"status"`
	LastAcceptedAt  *time.Time  `json:"last_accepted_at,omitempty"`
	LastSuggestedAt *time.Time  `json:"last_suggested_at,omitempty"`
	Score           float64     `json:"score"`
}

func (e *StateEntry) evidence() int {
	return e.Accepts + e.Rejects
}

func (e *StateEntry) clone() *StateEntry {
	out := *e
	if e.LastAcceptedAt != nil {
		t := *e.LastAcceptedAt
		out.LastAcceptedAt = &t
	}
	if e.LastSuggestedAt != nil {
		t := *e.LastSuggestedAt
		out.LastSuggestedAt = &t
	}
	return &out
}

// AgentState is the persisted recommendation state for one scope. The
// preference map holds substrings of tactics the client likes (true) or
// dislikes (false); matches nudge scores by a tenth either way.
type AgentState struct {
	Entries     map[string]*StateEntry `json:"entries"`
	Preferences map[string]bool        `json:"preferences,omitempty"`
	BestTactics []string               `json:"best_tactics,omitempty"`
	Version     int64                  `json:"version"`
}

// NewAgentState returns an empty state
func NewAgentState() *AgentState {
	return &AgentState{Entries: make(map[string]*StateEntry)}
}

func (s *AgentState) clone() *AgentState {
	out := &AgentState{
		Entries:     make(map[string]*StateEntry, len(s.Entries)),
		Preferences: s.Preferences,
		BestTactics: append([]string(nil), s.BestTactics...),
		Version:     s.Version,
	}
	for k, e := range s.Entries {
		out.Entries[k] = e.clone()
	}
	return out
}

func (s *AgentState) entry(key string) *StateEntry {
	e, ok := s.Entries[key]
	if !ok {
		e = &StateEntry{Status: EntryStatusPending}
		s.Entries[key] = e
	}
	return e
}

// Candidate is one tactic proposed for ranking. Key is optional; when empty
// a stable key is derived from the tactic and parameters.
type Candidate struct {
	Key         string                 `json:"key,omitempty"`
	Tactic      string                 `json:"tactic"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Rationale   string                 `json:"rationale,omitempty"`
	NextSteps   string                 `json:"next_steps,omitempty"`
	Exploration bool                   `json:"exploration,omitempty"`
	Hint        *ExecutionHint         `json:"hint,omitempty"`
}

// Feedback is explicit client feedback on a past recommendation
type Feedback struct {
	Explicit string `json:"explicit,omitempty"`
	Click    bool   `json:"click,omitempty"`
}

// RecordedRecommendation is one recommendation from a previous run, with
// whatever outcome the client reported for it
type RecordedRecommendation struct {
	Key         string                 `json:"key,omitempty"`
	Tactic      string                 `json:"tactic"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Feedback    *Feedback              `json:"feedback,omitempty"`
	SuggestedAt time.Time              `json:"suggested_at"`
}

// PreviousRun carries the recommendation history of one earlier run
type PreviousRun struct {
	RunID           string                   `json:"run_id"`
	Recommendations []RecordedRecommendation `json:"recommendations"`
}

// ScoreBreakdown exposes the inputs behind one selection's score
type ScoreBreakdown struct {
	Accepts int     `json:"accepts"`
	Rejects int     `json:"rejects"`
	Decay   float64 `json:"w"`
	Quality float64 `json:"s"`
	Score   float64 `json:"score"`
}

// ExecutionHint suggests how a tactic should be executed
type ExecutionHint struct {
	Model     string `json:"model"`
	TaskType  string `json:"task_type"`
	TokenCost string `json:"token_cost"`
}

// Selection is one ranked recommendation in the engine's output
type Selection struct {
	Rank        int                    `json:"rank"`
	Key         string                 `json:"key"`
	Tactic      string                 `json:"tactic"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Score       float64                `json:"score"`
	Adopted     bool                   `json:"adopted"`
	Rationale   string                 `json:"rationale,omitempty"`
	NextSteps   string                 `json:"next_steps,omitempty"`
	Exploration bool                   `json:"exploration"`
	Breakdown   ScoreBreakdown         `json:"breakdown"`
	Hint        ExecutionHint          `json:"hint"`
}

// Diagnostics summarizes what the engine considered and discarded.
// Field names match the wire format consumed by existing clients.
type Diagnostics struct {
	PreviousRuns     int     `json:"execucoes_anteriores"`
	HistoricalItems  int     `json:"itens_historicos"`
	ExplorationPct   float64 `json:"percentual_exploracao"`
	FilteredAdopted  int     `json:"filtrados_adotados"`
	FilteredRejected int     `json:"filtrados_rejeitados"`
}

// Result is the full output of one engine call
type Result struct {
	Selection   []Selection `json:"recomendacoes"`
	Diagnostics Diagnostics `json:"diagnostico"`
	State       *AgentState `json:"-"`
}
