package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	sessionLocks sync.Map // sessionID -> *sync.Mutex, serializes appends per session
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		password_hash TEXT,
		preferred_languages TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT 'beginner',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email) WHERE email IS NOT NULL;

	CREATE TABLE IF NOT EXISTS auth_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_sessions_expiry ON auth_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		intent TEXT,
		entities_json TEXT,
		sources_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, id);

	CREATE TABLE IF NOT EXISTS issue_cache (
		url TEXT PRIMARY KEY,
		github_id INTEGER,
		title TEXT NOT NULL,
		body_excerpt TEXT,
		repo_name TEXT,
		language TEXT,
		labels TEXT,
		stars INTEGER NOT NULL DEFAULT 0,
		comments INTEGER NOT NULL DEFAULT 0,
		difficulty TEXT,
		created_at INTEGER,
		fetched_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issue_cache_language ON issue_cache(language, fetched_at);

	CREATE TABLE IF NOT EXISTS solved_issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		issue_url TEXT NOT NULL,
		title TEXT NOT NULL,
		language TEXT,
		difficulty TEXT,
		labels TEXT,
		solved_at INTEGER NOT NULL,
		UNIQUE(user_id, issue_url)
	);
	CREATE INDEX IF NOT EXISTS idx_solved_issues_user ON solved_issues(user_id, solved_at);

	CREATE TABLE IF NOT EXISTS user_skills (
		user_id TEXT NOT NULL,
		language TEXT NOT NULL,
		level TEXT NOT NULL,
		solved_count INTEGER NOT NULL DEFAULT 0,
		last_solved_at INTEGER,
		PRIMARY KEY (user_id, language)
	);

	CREATE TABLE IF NOT EXISTS solved_documents (
		doc_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		issue_url TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_solved_documents_user ON solved_documents(user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// joinList serializes a string slice into a comma-separated column value.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

// splitList parses a comma-separated column value back into a slice.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const userColumns = `user_id, username, email, password_hash, preferred_languages,
	       level, last_seen_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var email, passwordHash sql.NullString
	var languages, level string
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Username, &email, &passwordHash,
		&languages, &level, &lastSeen, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Email = email.String
	user.PasswordHash = passwordHash.String
	user.PreferredLanguages = splitList(languages)
	user.Level = domain.SkillLevel(level)
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, userID))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, username))
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, email, password_hash, preferred_languages, level, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		email = COALESCE(excluded.email, users.email),
		password_hash = COALESCE(excluded.password_hash, users.password_hash),
		preferred_languages = excluded.preferred_languages,
		level = excluded.level,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	var email, passwordHash interface{}
	if user.Email != "" {
		email = user.Email
	}
	if user.PasswordHash != "" {
		passwordHash = user.PasswordHash
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, email, passwordHash,
		joinList(user.PreferredLanguages), string(user.Level),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// UpdateUserProfile updates the user's preferred languages and level.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, userID string, languages []string, level domain.SkillLevel) error {
	query := `UPDATE users SET preferred_languages = ?, level = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, joinList(languages), string(level), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// CreateAuthSession stores a login session token.
func (s *SQLiteStore) CreateAuthSession(ctx context.Context, session *domain.AuthSession) error {
	query := `INSERT INTO auth_sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.Token, session.UserID, session.CreatedAt.Unix(), session.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("create auth session: %w", err)
	}
	return nil
}

// GetAuthSession retrieves a login session by token.
func (s *SQLiteStore) GetAuthSession(ctx context.Context, token string) (*domain.AuthSession, error) {
	query := `SELECT token, user_id, created_at, expires_at FROM auth_sessions WHERE token = ?`
	row := s.db.QueryRowContext(ctx, query, token)

	var session domain.AuthSession
	var createdAt, expiresAt int64
	err := row.Scan(&session.Token, &session.UserID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}

// DeleteAuthSession removes a login session.
func (s *SQLiteStore) DeleteAuthSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete auth session: %w", err)
	}
	return nil
}

// DeleteExpiredAuthSessions removes login sessions past their expiry.
func (s *SQLiteStore) DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired auth sessions: %w", err)
	}
	return result.RowsAffected()
}

// CreateChatSession stores a new chat session.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *domain.ChatSession) error {
	query := `INSERT INTO chat_sessions (id, user_id, created_at, last_activity) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.CreatedAt.Unix(), session.LastActivity.Unix())
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

// GetChatSession retrieves a chat session by ID.
func (s *SQLiteStore) GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `SELECT id, user_id, created_at, last_activity FROM chat_sessions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.ChatSession
	var createdAt, lastActivity int64
	err := row.Scan(&session.ID, &session.UserID, &createdAt, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastActivity = time.Unix(lastActivity, 0)
	return &session, nil
}

// TouchChatSession updates a session's last-activity timestamp.
func (s *SQLiteStore) TouchChatSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE chat_sessions SET last_activity = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID); err != nil {
		return fmt.Errorf("touch chat session: %w", err)
	}
	return nil
}

// lockSession acquires the per-session append lock and returns its release.
func (s *SQLiteStore) lockSession(sessionID string) func() {
	v, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AppendMessage appends a message to a session. Appends for the same session
// are serialized so message order matches arrival order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.ConversationMessage) error {
	unlock := s.lockSession(msg.SessionID)
	defer unlock()

	var entitiesJSON, sourcesJSON interface{}
	if len(msg.Entities) > 0 {
		data, err := json.Marshal(msg.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
		entitiesJSON = string(data)
	}
	if len(msg.Sources) > 0 {
		data, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		sourcesJSON = string(data)
	}

	var intent interface{}
	if msg.Intent != "" {
		intent = msg.Intent
	}

	query := `
	INSERT INTO chat_messages (session_id, role, content, intent, entities_json, sources_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := shared.RetryOnBusy(ctx, 3, 100*time.Millisecond, func() error {
		result, execErr := s.db.ExecContext(ctx, query,
			msg.SessionID, string(msg.Role), msg.Content, intent,
			entitiesJSON, sourcesJSON, msg.CreatedAt.Unix())
		if execErr != nil {
			return execErr
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			msg.ID = id
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// GetMessages returns a session's messages oldest-first.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationMessage, error) {
	query := `
		SELECT id, session_id, role, content, intent, entities_json, sources_json, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY id ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		// Keep the most recent N while preserving ascending order.
		query = `
		SELECT id, session_id, role, content, intent, entities_json, sources_json, created_at
		FROM (
			SELECT id, session_id, role, content, intent, entities_json, sources_json, created_at
			FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.ConversationMessage
	for rows.Next() {
		var msg domain.ConversationMessage
		var intent, entitiesJSON, sourcesJSON sql.NullString
		var role string
		var createdAt int64

		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &role, &msg.Content,
			&intent, &entitiesJSON, &sourcesJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Role = domain.Role(role)
		msg.Intent = intent.String
		msg.CreatedAt = time.Unix(createdAt, 0)
		if entitiesJSON.Valid && entitiesJSON.String != "" {
			if err := json.Unmarshal([]byte(entitiesJSON.String), &msg.Entities); err != nil {
				slog.Warn("failed to unmarshal message entities", "message_id", msg.ID, "error", err)
			}
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &msg.Sources); err != nil {
				slog.Warn("failed to unmarshal message sources", "message_id", msg.ID, "error", err)
			}
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of messages in a session.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ClearChatSession deletes a session and all its messages. Idempotent:
// clearing a nonexistent session is not an error.
func (s *SQLiteStore) ClearChatSession(ctx context.Context, sessionID string) error {
	unlock := s.lockSession(sessionID)
	defer unlock()

	err := shared.RetryOnBusy(ctx, 3, 100*time.Millisecond, func() error {
		if _, execErr := s.db.ExecContext(ctx,
			`DELETE FROM chat_messages WHERE session_id = ?`, sessionID); execErr != nil {
			return execErr
		}
		_, execErr := s.db.ExecContext(ctx,
			`DELETE FROM chat_sessions WHERE id = ?`, sessionID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("clear chat session: %w", err)
	}

	s.sessionLocks.Delete(sessionID)
	return nil
}

// UpsertIssues inserts or refreshes cached issues, keyed by URL.
func (s *SQLiteStore) UpsertIssues(ctx context.Context, issues []*domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	query := `
	INSERT INTO issue_cache (url, github_id, title, body_excerpt, repo_name, language, labels, stars, comments, difficulty, created_at, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		title = excluded.title,
		body_excerpt = excluded.body_excerpt,
		labels = excluded.labels,
		stars = excluded.stars,
		comments = excluded.comments,
		difficulty = excluded.difficulty,
		fetched_at = excluded.fetched_at`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin issue upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare issue upsert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close issue upsert statement", "error", closeErr)
		}
	}()

	for _, issue := range issues {
		var createdAt interface{}
		if !issue.CreatedAt.IsZero() {
			createdAt = issue.CreatedAt.Unix()
		}
		if _, err := stmt.ExecContext(ctx,
			issue.URL, issue.GitHubID, issue.Title, issue.BodyExcerpt,
			issue.RepoName, strings.ToLower(issue.Language), joinList(issue.Labels),
			issue.Stars, issue.Comments, string(issue.Difficulty),
			createdAt, issue.FetchedAt.Unix(),
		); err != nil {
			return fmt.Errorf("upsert issue %s: %w", issue.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit issue upsert: %w", err)
	}
	return nil
}

// SearchCachedIssues returns cached issues matching the filter, newest first.
func (s *SQLiteStore) SearchCachedIssues(ctx context.Context, filter IssueFilter) ([]*domain.Issue, error) {
	query := `
		SELECT url, github_id, title, body_excerpt, repo_name, language, labels, stars, comments, difficulty, created_at, fetched_at
		FROM issue_cache WHERE 1=1`
	var args []interface{}

	if filter.Language != "" {
		query += ` AND language = ?`
		args = append(args, strings.ToLower(filter.Language))
	}
	if filter.Difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, string(filter.Difficulty))
	}
	if filter.Query != "" {
		query += ` AND (title LIKE ? OR body_excerpt LIKE ?)`
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}

	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cached issues: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close issue rows", "error", closeErr)
		}
	}()

	var issues []*domain.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached issues: %w", err)
	}
	return issues, nil
}

func scanIssue(rows *sql.Rows) (*domain.Issue, error) {
	var issue domain.Issue
	var githubID sql.NullInt64
	var bodyExcerpt, repoName, language, labels, difficulty sql.NullString
	var createdAt sql.NullInt64
	var fetchedAt int64

	if err := rows.Scan(
		&issue.URL, &githubID, &issue.Title, &bodyExcerpt, &repoName,
		&language, &labels, &issue.Stars, &issue.Comments, &difficulty,
		&createdAt, &fetchedAt,
	); err != nil {
		return nil, fmt.Errorf("scan issue row: %w", err)
	}

	issue.GitHubID = githubID.Int64
	issue.BodyExcerpt = bodyExcerpt.String
	issue.RepoName = repoName.String
	issue.Language = language.String
	issue.Labels = splitList(labels.String)
	issue.Difficulty = domain.SkillLevel(difficulty.String)
	if createdAt.Valid {
		issue.CreatedAt = time.Unix(createdAt.Int64, 0)
	}
	issue.FetchedAt = time.Unix(fetchedAt, 0)
	return &issue, nil
}

// CountCachedIssues returns the size of the issue cache.
func (s *SQLiteStore) CountCachedIssues(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count cached issues: %w", err)
	}
	return count, nil
}

// DeleteStaleIssues removes cache rows fetched before the cutoff.
func (s *SQLiteStore) DeleteStaleIssues(ctx context.Context, fetchedBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM issue_cache WHERE fetched_at < ?`, fetchedBefore.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete stale issues: %w", err)
	}
	return result.RowsAffected()
}

// AddSolvedIssue appends to a user's solved history.
func (s *SQLiteStore) AddSolvedIssue(ctx context.Context, solved *domain.SolvedIssue) error {
	query := `
	INSERT OR IGNORE INTO solved_issues (user_id, issue_url, title, language, difficulty, labels, solved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		solved.UserID, solved.IssueURL, solved.Title,
		strings.ToLower(solved.Language), string(solved.Difficulty),
		joinList(solved.Labels), solved.SolvedAt.Unix())
	if err != nil {
		return fmt.Errorf("add solved issue: %w", err)
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		solved.ID = id
	}
	return nil
}

// GetSolvedIssues returns a user's solved history, newest first.
func (s *SQLiteStore) GetSolvedIssues(ctx context.Context, userID string, limit int) ([]domain.SolvedIssue, error) {
	query := `
		SELECT id, user_id, issue_url, title, language, difficulty, labels, solved_at
		FROM solved_issues WHERE user_id = ? ORDER BY solved_at DESC, id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query solved issues: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close solved issue rows", "error", closeErr)
		}
	}()

	var solved []domain.SolvedIssue
	for rows.Next() {
		var item domain.SolvedIssue
		var language, difficulty, labels sql.NullString
		var solvedAt int64

		if err := rows.Scan(
			&item.ID, &item.UserID, &item.IssueURL, &item.Title,
			&language, &difficulty, &labels, &solvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan solved issue row: %w", err)
		}

		item.Language = language.String
		item.Difficulty = domain.SkillLevel(difficulty.String)
		item.Labels = splitList(labels.String)
		item.SolvedAt = time.Unix(solvedAt, 0)
		solved = append(solved, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solved issues: %w", err)
	}
	return solved, nil
}

// GetUserStats aggregates a user's solved history.
func (s *SQLiteStore) GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	stats := &domain.UserStats{
		ByLanguage:   make(map[string]int),
		ByDifficulty: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT language, difficulty, COUNT(*)
		FROM solved_issues WHERE user_id = ?
		GROUP BY language, difficulty`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stats rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var language, difficulty sql.NullString
		var count int
		if err := rows.Scan(&language, &difficulty, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.TotalSolved += count
		if language.String != "" {
			stats.ByLanguage[language.String] += count
		}
		if difficulty.String != "" {
			stats.ByDifficulty[difficulty.String] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}

	recent, err := s.GetSolvedIssues(ctx, userID, 5)
	if err != nil {
		return nil, err
	}
	stats.RecentSolved = recent

	return stats, nil
}

// skillLevelForCount derives a per-language level from the solved counter.
func skillLevelForCount(count int) domain.SkillLevel {
	switch {
	case count >= 10:
		return domain.LevelAdvanced
	case count >= 3:
		return domain.LevelIntermediate
	default:
		return domain.LevelBeginner
	}
}

// BumpUserSkill increments the per-language solved counter and rederives the
// skill level from it.
func (s *SQLiteStore) BumpUserSkill(ctx context.Context, userID, language string, solvedAt time.Time) error {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return nil
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT solved_count FROM user_skills WHERE user_id = ? AND language = ?`,
		userID, language).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query user skill: %w", err)
	}
	count++

	query := `
	INSERT INTO user_skills (user_id, language, level, solved_count, last_solved_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, language) DO UPDATE SET
		level = excluded.level,
		solved_count = excluded.solved_count,
		last_solved_at = excluded.last_solved_at`

	_, err = s.db.ExecContext(ctx, query,
		userID, language, string(skillLevelForCount(count)), count, solvedAt.Unix())
	if err != nil {
		return fmt.Errorf("bump user skill: %w", err)
	}
	return nil
}

// GetUserSkills returns the user's per-language skill rows.
func (s *SQLiteStore) GetUserSkills(ctx context.Context, userID string) ([]domain.UserSkill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, language, level, solved_count, last_solved_at
		FROM user_skills WHERE user_id = ? ORDER BY solved_count DESC, language ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user skills: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close skill rows", "error", closeErr)
		}
	}()

	var skills []domain.UserSkill
	for rows.Next() {
		var skill domain.UserSkill
		var level string
		var lastSolved sql.NullInt64

		if err := rows.Scan(&skill.UserID, &skill.Language, &level, &skill.SolvedCount, &lastSolved); err != nil {
			return nil, fmt.Errorf("scan skill row: %w", err)
		}
		skill.Level = domain.SkillLevel(level)
		if lastSolved.Valid {
			skill.LastSolvedAt = time.Unix(lastSolved.Int64, 0)
		}
		skills = append(skills, skill)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skill rows: %w", err)
	}
	return skills, nil
}

// UpsertSolvedDocument stores a solved-issue document for similarity search.
func (s *SQLiteStore) UpsertSolvedDocument(ctx context.Context, doc *domain.SolvedDocument) error {
	var embeddingJSON interface{}
	if len(doc.Embedding) > 0 {
		data, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embeddingJSON = string(data)
	}

	var metadataJSON interface{}
	if len(doc.Metadata) > 0 {
		data, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal document metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
	INSERT INTO solved_documents (doc_id, user_id, issue_url, content, embedding, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(doc_id) DO UPDATE SET
		content = excluded.content,
		embedding = COALESCE(excluded.embedding, solved_documents.embedding),
		metadata = excluded.metadata`

	_, err := s.db.ExecContext(ctx, query,
		doc.DocID, doc.UserID, doc.IssueURL, doc.Content,
		embeddingJSON, metadataJSON, doc.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert solved document: %w", err)
	}
	return nil
}

// GetSolvedDocuments returns all of a user's solved documents.
func (s *SQLiteStore) GetSolvedDocuments(ctx context.Context, userID string) ([]*domain.SolvedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, user_id, issue_url, content, embedding, metadata, created_at
		FROM solved_documents WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query solved documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "error", closeErr)
		}
	}()

	var docs []*domain.SolvedDocument
	for rows.Next() {
		doc, err := scanSolvedDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solved documents: %w", err)
	}
	return docs, nil
}

// SearchSolvedDocumentsKeyword is the embedding-less fallback search.
func (s *SQLiteStore) SearchSolvedDocumentsKeyword(ctx context.Context, userID, query string, limit int) ([]*domain.SolvedDocument, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, user_id, issue_url, content, embedding, metadata, created_at
		FROM solved_documents
		WHERE user_id = ? AND content LIKE ?
		ORDER BY created_at DESC LIMIT ?`,
		userID, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search solved documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "error", closeErr)
		}
	}()

	var docs []*domain.SolvedDocument
	for rows.Next() {
		doc, err := scanSolvedDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solved documents: %w", err)
	}
	return docs, nil
}

func scanSolvedDocument(rows *sql.Rows) (*domain.SolvedDocument, error) {
	var doc domain.SolvedDocument
	var embeddingJSON, metadataJSON sql.NullString
	var createdAt int64

	if err := rows.Scan(
		&doc.DocID, &doc.UserID, &doc.IssueURL, &doc.Content,
		&embeddingJSON, &metadataJSON, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("scan solved document row: %w", err)
	}

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &doc.Embedding); err != nil {
			slog.Warn("failed to unmarshal document embedding", "doc_id", doc.DocID, "error", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			slog.Warn("failed to unmarshal document metadata", "doc_id", doc.DocID, "error", err)
		}
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	return &doc, nil
}
