// Package chat implements the conversational assistant pipeline: intent
// classification, tool execution, context assembly, and response generation.
package chat

import (
	"time"

	"github.com/osscout/scout/internal/domain"
)

// Intent labels what a user message is asking for. Every message resolves to
// exactly one intent; unrecognized requests fall through to IntentGeneral.
type Intent string

const (
	IntentSearchIssues Intent = "search_issues"
	IntentViewHistory  Intent = "view_history"
	IntentGetStats     Intent = "get_stats"
	IntentGetAdvice    Intent = "get_advice"
	IntentGeneral      Intent = "general_question"
)

// Valid reports whether the intent is one of the recognized labels.
func (i Intent) Valid() bool {
	switch i {
	case IntentSearchIssues, IntentViewHistory, IntentGetStats, IntentGetAdvice, IntentGeneral:
		return true
	}
	return false
}

// Entity keys extracted by the classifier. Values are free-form strings
// normalized to canonical names (e.g. "js" becomes "javascript").
const (
	EntityLanguage   = "language"
	EntityDifficulty = "difficulty"
	EntityTopic      = "topic"
	EntityTimePeriod = "time_period"
)

// Classification is the classifier's verdict on a single message.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Entities   map[string]string `json:"entities"`
	Confidence float64           `json:"confidence"`
}

// Tool names the data sources the executor can consult for a turn.
const (
	ToolCache   = "cache"
	ToolGitHub  = "github_api"
	ToolStats   = "stats"
	ToolSimilar = "similar"
	ToolSkill   = "skill"
)

// Freshness of a tool's payload.
const (
	FreshnessCached = "cached"
	FreshnessLive   = "live"
)

// ToolResult carries one tool's contribution to a turn. Failed tools report
// through Err rather than aborting the turn; the generator works with
// whatever subset succeeded.
type ToolResult struct {
	Tool      string
	Freshness string
	Issues    []*domain.Issue
	Solved    []domain.SolvedIssue
	Stats     *domain.UserStats
	Skills    []domain.UserSkill
	Patterns  *SkillSummary
	Similar   []SimilarDoc
	FetchedAt time.Time
	Err       error
}

// SimilarDoc is one past solved issue surfaced by similarity search.
type SimilarDoc struct {
	Title      string
	URL        string
	Language   string
	Similarity float64
}

// SkillSummary condenses a user's solved-history patterns for the advice and
// general intents.
type SkillSummary struct {
	TotalSolved       int
	TopLanguages      []string
	TopRepos          []string
	TypicalDifficulty domain.SkillLevel
	Recommendations   []string
}

// Request is one inbound user message.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the assistant's reply for one turn.
type Response struct {
	Reply     string          `json:"response"`
	Intent    Intent          `json:"intent"`
	Sources   []domain.Source `json:"sources,omitempty"`
	SessionID string          `json:"session_id"`
	Recorded  bool            `json:"recorded"`
}

// HistoryEntry is one persisted turn returned by the history endpoint.
type HistoryEntry struct {
	Role      domain.Role       `json:"role"`
	Content   string            `json:"content"`
	Intent    string            `json:"intent,omitempty"`
	Entities  map[string]string `json:"entities,omitempty"`
	Sources   []domain.Source   `json:"sources,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
