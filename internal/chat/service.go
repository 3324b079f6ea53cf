package chat

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/osscout/scout/internal/domain"
)

// defaultMaxMessageRunes bounds one inbound message.
const defaultMaxMessageRunes = 2000

// historyForClassifier is how many prior turns the classifier sees.
const historyForClassifier = 3

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Service orchestrates one chat turn: validate, resolve the session,
// classify, run tools, assemble bounded context, generate, persist.
type Service struct {
	classifier *Classifier
	executor   *Executor
	manager    *Manager
	generator  *Generator
	maxMessage int
	logger     *slog.Logger
}

// NewService wires the chat pipeline. maxMessageRunes <= 0 uses the default.
func NewService(classifier *Classifier, executor *Executor, manager *Manager, generator *Generator, maxMessageRunes int, logger *slog.Logger) *Service {
	if maxMessageRunes <= 0 {
		maxMessageRunes = defaultMaxMessageRunes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classifier: classifier,
		executor:   executor,
		manager:    manager,
		generator:  generator,
		maxMessage: maxMessageRunes,
		logger:     logger,
	}
}

// HandleMessage runs the full pipeline for one user message. Tool and
// history failures degrade the reply; persistence failures surface as
// Recorded=false on an otherwise complete response. Only validation problems
// return an error.
func (s *Service) HandleMessage(ctx context.Context, userID string, req Request) (*Response, error) {
	started := time.Now()

	message, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	recorded := true
	session, err := s.manager.Resolve(ctx, userID, req.SessionID)
	if err != nil {
		// Serve the turn from an ephemeral session; nothing will persist.
		s.logger.Error("Session resolve failed, serving unrecorded turn", "user_id", userID, "error", err)
		now := time.Now()
		session = &domain.ChatSession{ID: req.SessionID, UserID: userID, CreatedAt: now, LastActivity: now}
		if session.ID == "" {
			session.ID = "unrecorded"
		}
		recorded = false
	}

	history, err := s.manager.History(ctx, userID, session.ID, historyForClassifier)
	if err != nil {
		s.logger.Warn("History load for classification failed", "session_id", session.ID, "error", err)
		history = nil
	}

	cls := s.classifier.Classify(ctx, message, history)
	results := s.executor.Execute(ctx, userID, cls, message)
	toolOutput := FormatToolResults(cls.Intent, results)

	bctx, err := s.manager.BuildContext(ctx, session.ID, message, toolOutput)
	if err != nil {
		s.logger.Warn("Context assembly degraded to current message only", "session_id", session.ID, "error", err)
		bctx = &BoundedContext{
			Messages:   []PromptMessage{{Role: domain.RoleUser, Content: message}},
			ToolOutput: toolOutput,
		}
	}

	reply, sources := s.generator.Generate(ctx, bctx, results)

	if recorded {
		recorded = s.persistTurn(ctx, session.ID, message, cls, reply, sources)
	}

	s.logger.Info("Chat turn complete",
		"user_id", userID,
		"session_id", session.ID,
		"intent", cls.Intent,
		"confidence", cls.Confidence,
		"tools", len(results),
		"recorded", recorded,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return &Response{
		Reply:     reply,
		Intent:    cls.Intent,
		Sources:   sources,
		SessionID: session.ID,
		Recorded:  recorded,
	}, nil
}

// persistTurn appends both turns of the exchange. Reports false when either
// write failed; the reply still goes out.
func (s *Service) persistTurn(ctx context.Context, sessionID, message string, cls Classification, reply string, sources []domain.Source) bool {
	userMsg := &domain.ConversationMessage{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   message,
		Intent:    string(cls.Intent),
		Entities:  cls.Entities,
	}
	if err := s.manager.Append(ctx, userMsg); err != nil {
		s.logger.Error("Failed to record user turn", "session_id", sessionID, "error", err)
		return false
	}

	assistantMsg := &domain.ConversationMessage{
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   reply,
		Intent:    string(cls.Intent),
		Sources:   sources,
	}
	if err := s.manager.Append(ctx, assistantMsg); err != nil {
		s.logger.Error("Failed to record assistant turn", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// History returns a session's turns for its owner, oldest first.
func (s *Service) History(ctx context.Context, userID, sessionID string, limit int) ([]HistoryEntry, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, &domain.ValidationError{Field: "session_id", Reason: "invalid format"}
	}
	messages, err := s.manager.History(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, HistoryEntry{
			Role:      msg.Role,
			Content:   msg.Content,
			Intent:    msg.Intent,
			Entities:  msg.Entities,
			Sources:   msg.Sources,
			CreatedAt: msg.CreatedAt,
		})
	}
	return entries, nil
}

// Clear drops a session the caller owns. Clearing an unknown session or one
// owned by someone else succeeds without effect.
func (s *Service) Clear(ctx context.Context, userID, sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return &domain.ValidationError{Field: "session_id", Reason: "invalid format"}
	}
	session, err := s.manager.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if session != nil && session.UserID != userID {
		return nil
	}
	return s.manager.Clear(ctx, sessionID)
}

// validate normalizes and checks one inbound message.
func (s *Service) validate(req Request) (string, error) {
	message := strings.TrimSpace(stripHTML(req.Message))
	if message == "" {
		return "", &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if len([]rune(message)) > s.maxMessage {
		return "", &domain.ValidationError{Field: "message", Reason: "exceeds maximum length"}
	}
	if req.SessionID != "" && !sessionIDPattern.MatchString(req.SessionID) {
		return "", &domain.ValidationError{Field: "session_id", Reason: "invalid format"}
	}
	return message, nil
}
