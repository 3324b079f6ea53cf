// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/osscout/scout/internal/domain"
)

// IssueFilter narrows cached-issue queries. Zero values mean "any".
type IssueFilter struct {
	Language   string
	Difficulty domain.SkillLevel
	Query      string // matched against title and body excerpt
	Limit      int
}

// Repository defines the persistence interface for Scout. A single SQLite
// database backs all of it; Get* methods return (nil, nil) when the record
// does not exist.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpdateUserProfile updates the user's preferred languages and level.
	UpdateUserProfile(ctx context.Context, userID string, languages []string, level domain.SkillLevel) error

	// CreateAuthSession stores a login session token.
	CreateAuthSession(ctx context.Context, session *domain.AuthSession) error

	// GetAuthSession retrieves a login session by token.
	GetAuthSession(ctx context.Context, token string) (*domain.AuthSession, error)

	// DeleteAuthSession removes a login session. Missing tokens are not an error.
	DeleteAuthSession(ctx context.Context, token string) error

	// DeleteExpiredAuthSessions removes login sessions past their expiry.
	DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error)

	// CreateChatSession stores a new chat session.
	CreateChatSession(ctx context.Context, session *domain.ChatSession) error

	// GetChatSession retrieves a chat session by ID.
	GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// TouchChatSession updates a session's last-activity timestamp.
	TouchChatSession(ctx context.Context, sessionID string, at time.Time) error

	// AppendMessage appends a message to a session. Appends for the same
	// session are serialized; message order follows insertion order.
	AppendMessage(ctx context.Context, msg *domain.ConversationMessage) error

	// GetMessages returns a session's messages oldest-first. limit <= 0
	// returns all of them.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationMessage, error)

	// CountMessages returns the number of messages in a session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// ClearChatSession deletes a session and all its messages. Clearing a
	// nonexistent or empty session succeeds silently.
	ClearChatSession(ctx context.Context, sessionID string) error

	// UpsertIssues inserts or refreshes cached issues, keyed by URL.
	UpsertIssues(ctx context.Context, issues []*domain.Issue) error

	// SearchCachedIssues returns cached issues matching the filter, newest
	// first by GitHub creation time.
	SearchCachedIssues(ctx context.Context, filter IssueFilter) ([]*domain.Issue, error)

	// CountCachedIssues returns the size of the issue cache.
	CountCachedIssues(ctx context.Context) (int, error)

	// DeleteStaleIssues removes cache rows fetched before the cutoff.
	DeleteStaleIssues(ctx context.Context, fetchedBefore time.Time) (int64, error)

	// AddSolvedIssue appends to a user's solved history. Marking the same
	// issue twice is a no-op.
	AddSolvedIssue(ctx context.Context, solved *domain.SolvedIssue) error

	// GetSolvedIssues returns a user's solved history, newest first.
	GetSolvedIssues(ctx context.Context, userID string, limit int) ([]domain.SolvedIssue, error)

	// GetUserStats aggregates a user's solved history.
	GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error)

	// BumpUserSkill increments the per-language solved counter and rederives
	// the skill level from it.
	BumpUserSkill(ctx context.Context, userID, language string, solvedAt time.Time) error

	// GetUserSkills returns the user's per-language skill rows.
	GetUserSkills(ctx context.Context, userID string) ([]domain.UserSkill, error)

	// UpsertSolvedDocument stores a solved-issue document for similarity
	// search, with or without an embedding.
	UpsertSolvedDocument(ctx context.Context, doc *domain.SolvedDocument) error

	// GetSolvedDocuments returns all of a user's solved documents.
	GetSolvedDocuments(ctx context.Context, userID string) ([]*domain.SolvedDocument, error)

	// SearchSolvedDocumentsKeyword is the embedding-less fallback: substring
	// match over document content.
	SearchSolvedDocumentsKeyword(ctx context.Context, userID, query string, limit int) ([]*domain.SolvedDocument, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
