package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/store"
)

const (
	// defaultTokenBudget bounds one assembled prompt context.
	defaultTokenBudget = 6000

	// historyFetchLimit is how many stored turns BuildContext considers.
	historyFetchLimit = 20

	// historyShare is the fraction of the budget reserved for conversation
	// history; the remainder goes to formatted tool output. Tool output that
	// comes in under its share rolls the surplus over to history.
	historyShare = 0.6
)

// PromptMessage is one turn of bounded context handed to the generator.
type PromptMessage struct {
	Role    domain.Role
	Content string
}

// BoundedContext is the token-budgeted material for one generation call:
// chronological history ending with the current user message, plus the
// formatted tool output that survived its budget share.
type BoundedContext struct {
	Messages   []PromptMessage
	ToolOutput string
	TokensUsed int
}

// Manager owns chat-session lifecycle and context assembly under a fixed
// token budget.
type Manager struct {
	repo   store.Repository
	budget int
}

// NewManager builds a conversation manager. tokenBudget <= 0 uses the
// default.
func NewManager(repo store.Repository, tokenBudget int) *Manager {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	return &Manager{repo: repo, budget: tokenBudget}
}

// Budget returns the configured token budget.
func (m *Manager) Budget() int {
	return m.budget
}

// Resolve returns the caller's session, creating one when sessionID is empty,
// unknown, or belongs to another user.
func (m *Manager) Resolve(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	if sessionID != "" {
		session, err := m.repo.GetChatSession(ctx, sessionID)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "get chat session", Cause: err}
		}
		if session != nil && session.UserID == userID {
			if err := m.repo.TouchChatSession(ctx, sessionID, time.Now()); err != nil {
				return nil, &domain.PersistenceError{Op: "touch chat session", Cause: err}
			}
			return session, nil
		}
	}

	session := &domain.ChatSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := m.repo.CreateChatSession(ctx, session); err != nil {
		return nil, &domain.PersistenceError{Op: "create chat session", Cause: err}
	}
	return session, nil
}

// BuildContext assembles the bounded context for one turn. Tool output takes
// at most its share of the budget (hard-truncated past that); history packs
// newest-first into the rest, dropping the oldest turns. The current user
// message is always present, itself truncated when it alone would blow the
// history share. The assembled total never exceeds the budget.
func (m *Manager) BuildContext(ctx context.Context, sessionID, userMessage, toolOutput string) (*BoundedContext, error) {
	history, err := m.repo.GetMessages(ctx, sessionID, historyFetchLimit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load history", Cause: err}
	}

	historyBudget := int(float64(m.budget) * historyShare)
	toolBudget := m.budget - historyBudget

	if estimateTokens(toolOutput) > toolBudget {
		toolOutput = truncateRunes(toolOutput, toolBudget*4-4)
	}
	toolTokens := estimateTokens(toolOutput)
	historyBudget = m.budget - toolTokens

	current := userMessage
	if estimateTokens(current) > historyBudget {
		current = truncateRunes(current, historyBudget*4-4)
	}
	used := estimateTokens(current)

	// Pack prior turns newest-first until the remaining budget runs out.
	var kept []PromptMessage
	for i := len(history) - 1; i >= 0; i-- {
		msgTokens := estimateTokens(history[i].Content)
		if used+msgTokens > historyBudget {
			break
		}
		kept = append(kept, PromptMessage{Role: history[i].Role, Content: history[i].Content})
		used += msgTokens
	}

	// Restore chronological order and append the current message.
	messages := make([]PromptMessage, 0, len(kept)+1)
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	messages = append(messages, PromptMessage{Role: domain.RoleUser, Content: current})

	return &BoundedContext{
		Messages:   messages,
		ToolOutput: toolOutput,
		TokensUsed: used + toolTokens,
	}, nil
}

// Session returns a stored session by ID, nil when absent.
func (m *Manager) Session(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	session, err := m.repo.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get chat session", Cause: err}
	}
	return session, nil
}

// History returns a session's stored turns for the given user, oldest first.
// A session owned by someone else reads as empty.
func (m *Manager) History(ctx context.Context, userID, sessionID string, limit int) ([]*domain.ConversationMessage, error) {
	session, err := m.repo.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get chat session", Cause: err}
	}
	if session == nil || session.UserID != userID {
		return nil, nil
	}
	messages, err := m.repo.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load history", Cause: err}
	}
	return messages, nil
}

// Append persists one turn and refreshes the session's activity stamp.
func (m *Manager) Append(ctx context.Context, msg *domain.ConversationMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := m.repo.AppendMessage(ctx, msg); err != nil {
		return &domain.PersistenceError{Op: fmt.Sprintf("append %s message", msg.Role), Cause: err}
	}
	if err := m.repo.TouchChatSession(ctx, msg.SessionID, msg.CreatedAt); err != nil {
		return &domain.PersistenceError{Op: "touch chat session", Cause: err}
	}
	return nil
}

// Clear drops a session and all its messages. Clearing an unknown or already
// empty session succeeds.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	if err := m.repo.ClearChatSession(ctx, sessionID); err != nil {
		return &domain.PersistenceError{Op: "clear chat session", Cause: err}
	}
	return nil
}
