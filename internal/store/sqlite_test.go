package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/osscout/scout/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return repo
}

func testUser(userID string) *domain.User {
	now := time.Now()
	return &domain.User{
		UserID:             userID,
		Username:           "user-" + userID,
		PreferredLanguages: []string{"go", "python"},
		Level:              domain.LevelBeginner,
		LastSeenAt:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if got, err := repo.GetUser(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for missing user, got (%v, %v)", got, err)
	}

	user := testUser("anon_abc123")
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := repo.GetUser(ctx, "anon_abc123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected user, got nil")
	}
	if got.Username != "user-anon_abc123" {
		t.Errorf("expected username user-anon_abc123, got %q", got.Username)
	}
	if len(got.PreferredLanguages) != 2 || got.PreferredLanguages[0] != "go" {
		t.Errorf("expected preferred languages [go python], got %v", got.PreferredLanguages)
	}
	if got.Level != domain.LevelBeginner {
		t.Errorf("expected beginner level, got %q", got.Level)
	}
	if got.IsRegistered() {
		t.Error("anonymous user should not report as registered")
	}

	byName, err := repo.GetUserByUsername(ctx, "user-anon_abc123")
	if err != nil {
		t.Fatalf("get by username failed: %v", err)
	}
	if byName == nil || byName.UserID != "anon_abc123" {
		t.Fatalf("expected user anon_abc123 by username, got %+v", byName)
	}
}

func TestUpsertUserPreservesCredentialsOnRefresh(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	user := testUser("u1")
	user.Email = "dev@example.com"
	user.PasswordHash = "$2a$10$hash"
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("initial upsert failed: %v", err)
	}

	// A later upsert without credentials must not wipe them.
	refresh := testUser("u1")
	if err := repo.UpsertUser(ctx, refresh); err != nil {
		t.Fatalf("refresh upsert failed: %v", err)
	}

	got, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Email != "dev@example.com" {
		t.Errorf("expected email preserved, got %q", got.Email)
	}
	if got.PasswordHash != "$2a$10$hash" {
		t.Errorf("expected password hash preserved, got %q", got.PasswordHash)
	}
	if !got.IsRegistered() {
		t.Error("registered user should report as registered")
	}
}

func TestUpdateUserProfile(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.UpsertUser(ctx, testUser("u1")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := repo.UpdateUserProfile(ctx, "u1", []string{"rust"}, domain.LevelAdvanced); err != nil {
		t.Fatalf("update profile failed: %v", err)
	}

	got, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.PreferredLanguages) != 1 || got.PreferredLanguages[0] != "rust" {
		t.Errorf("expected [rust], got %v", got.PreferredLanguages)
	}
	if got.Level != domain.LevelAdvanced {
		t.Errorf("expected advanced level, got %q", got.Level)
	}

	if err := repo.UpdateUserProfile(ctx, "nobody", nil, domain.LevelBeginner); err == nil {
		t.Error("expected error updating profile for unknown user")
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	session := &domain.AuthSession{
		Token:     "tok-1",
		UserID:    "u1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := repo.CreateAuthSession(ctx, session); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.GetAuthSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.UserID != "u1" {
		t.Fatalf("expected session for u1, got %+v", got)
	}
	if got.Expired(now) {
		t.Error("session should not be expired yet")
	}
	if !got.Expired(now.Add(2 * time.Hour)) {
		t.Error("session should be expired after its deadline")
	}

	if err := repo.DeleteAuthSession(ctx, "tok-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got, err := repo.GetAuthSession(ctx, "tok-1"); err != nil || got != nil {
		t.Fatalf("expected (nil, nil) after delete, got (%v, %v)", got, err)
	}
}

func TestDeleteExpiredAuthSessions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sessions := []*domain.AuthSession{
		{Token: "stale", UserID: "u1", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{Token: "fresh", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	for _, s := range sessions {
		if err := repo.CreateAuthSession(ctx, s); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	deleted, err := repo.DeleteExpiredAuthSessions(ctx, now)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted session, got %d", deleted)
	}

	if got, _ := repo.GetAuthSession(ctx, "fresh"); got == nil {
		t.Error("fresh session should survive cleanup")
	}
	if got, _ := repo.GetAuthSession(ctx, "stale"); got != nil {
		t.Error("stale session should be gone")
	}
}

func TestChatMessagesPreserveOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	session := &domain.ChatSession{ID: "s1", UserID: "u1", CreatedAt: now, LastActivity: now}
	if err := repo.CreateChatSession(ctx, session); err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	contents := []string{"first", "second", "third", "fourth"}
	for i, content := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := &domain.ConversationMessage{
			SessionID: "s1",
			Role:      role,
			Content:   content,
			CreatedAt: now,
		}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %q failed: %v", content, err)
		}
		if msg.ID == 0 {
			t.Errorf("expected assigned ID for %q", content)
		}
	}

	messages, err := repo.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Content != contents[i] {
			t.Errorf("position %d: expected %q, got %q", i, contents[i], msg.Content)
		}
	}

	// Limit keeps the most recent messages but still oldest-first.
	recent, err := repo.GetMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("get limited messages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "third" || recent[1].Content != "fourth" {
		t.Errorf("expected [third fourth], got %v", contents2(recent))
	}

	count, err := repo.CountMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected count 4, got %d", count)
	}
}

func contents2(messages []*domain.ConversationMessage) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func TestChatMessageMetadataRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.CreateChatSession(ctx, &domain.ChatSession{ID: "s1", UserID: "u1", CreatedAt: now, LastActivity: now}); err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	msg := &domain.ConversationMessage{
		SessionID: "s1",
		Role:      domain.RoleAssistant,
		Content:   "Here are some Go issues to try.",
		Intent:    "search_issues",
		Entities:  map[string]string{"language": "go", "difficulty": "beginner"},
		Sources: []domain.Source{
			{URL: "https://github.com/example/repo/issues/1", Title: "Fix flaky test"},
		},
		CreatedAt: now,
	}
	if err := repo.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	messages, err := repo.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	got := messages[0]
	if got.Intent != "search_issues" {
		t.Errorf("expected intent search_issues, got %q", got.Intent)
	}
	if diff := cmp.Diff(msg.Entities, got.Entities); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msg.Sources, got.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestClearChatSessionIsIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.CreateChatSession(ctx, &domain.ChatSession{ID: "s1", UserID: "u1", CreatedAt: now, LastActivity: now}); err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		msg := &domain.ConversationMessage{SessionID: "s1", Role: domain.RoleUser, Content: "hi", CreatedAt: now}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	if err := repo.ClearChatSession(ctx, "s1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	count, err := repo.CountMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 messages after clear, got %d", count)
	}
	if got, err := repo.GetChatSession(ctx, "s1"); err != nil || got != nil {
		t.Fatalf("expected session row deleted, got (%v, %v)", got, err)
	}

	// Clearing again, or clearing a session that never existed, succeeds.
	if err := repo.ClearChatSession(ctx, "s1"); err != nil {
		t.Errorf("second clear should succeed: %v", err)
	}
	if err := repo.ClearChatSession(ctx, "never-existed"); err != nil {
		t.Errorf("clearing unknown session should succeed: %v", err)
	}
}

func TestIssueCacheUpsertAndSearch(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	issues := []*domain.Issue{
		{
			URL:       "https://github.com/alpha/repo/issues/1",
			Title:     "Fix nil pointer in parser",
			RepoName:  "alpha/repo",
			Language:  "Go",
			Labels:    []string{"good first issue", "bug"},
			Stars:     1200,
			CreatedAt: now.Add(-24 * time.Hour),
			FetchedAt: now,
		},
		{
			URL:       "https://github.com/beta/repo/issues/7",
			Title:     "Add type hints to utils",
			RepoName:  "beta/repo",
			Language:  "Python",
			Labels:    []string{"good first issue"},
			Stars:     300,
			CreatedAt: now.Add(-48 * time.Hour),
			FetchedAt: now,
		},
	}
	if err := repo.UpsertIssues(ctx, issues); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	count, err := repo.CountCachedIssues(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 cached issues, got %d", count)
	}

	// Language filter is case-insensitive via normalization.
	goIssues, err := repo.SearchCachedIssues(ctx, IssueFilter{Language: "GO"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(goIssues) != 1 || goIssues[0].Title != "Fix nil pointer in parser" {
		t.Fatalf("expected the Go issue, got %v", goIssues)
	}
	if !goIssues[0].HasLabel("Good First Issue") {
		t.Error("expected case-insensitive label match")
	}

	// Re-upserting the same URL refreshes rather than duplicates.
	issues[0].Stars = 1500
	issues[0].FetchedAt = now.Add(time.Minute)
	if err := repo.UpsertIssues(ctx, issues[:1]); err != nil {
		t.Fatalf("refresh upsert failed: %v", err)
	}
	count, _ = repo.CountCachedIssues(ctx)
	if count != 2 {
		t.Errorf("expected still 2 cached issues after refresh, got %d", count)
	}
	refreshed, _ := repo.SearchCachedIssues(ctx, IssueFilter{Language: "go"})
	if len(refreshed) != 1 || refreshed[0].Stars != 1500 {
		t.Errorf("expected refreshed stars 1500, got %v", refreshed)
	}

	// Text query matches titles.
	matched, err := repo.SearchCachedIssues(ctx, IssueFilter{Query: "type hints"})
	if err != nil {
		t.Fatalf("query search failed: %v", err)
	}
	if len(matched) != 1 || matched[0].Language != "python" {
		t.Fatalf("expected the Python issue, got %v", matched)
	}
}

func TestSearchCachedIssuesNewestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	issues := []*domain.Issue{
		{URL: "https://github.com/a/a/issues/1", Title: "old", Language: "go", CreatedAt: now.Add(-72 * time.Hour), FetchedAt: now},
		{URL: "https://github.com/a/a/issues/2", Title: "new", Language: "go", CreatedAt: now.Add(-1 * time.Hour), FetchedAt: now},
		{URL: "https://github.com/a/a/issues/3", Title: "mid", Language: "go", CreatedAt: now.Add(-24 * time.Hour), FetchedAt: now},
	}
	if err := repo.UpsertIssues(ctx, issues); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := repo.SearchCachedIssues(ctx, IssueFilter{Language: "go", Limit: 2})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 || got[0].Title != "new" || got[1].Title != "mid" {
		titles := make([]string, len(got))
		for i, issue := range got {
			titles[i] = issue.Title
		}
		t.Errorf("expected [new mid], got %v", titles)
	}
}

func TestDeleteStaleIssues(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	issues := []*domain.Issue{
		{URL: "https://github.com/a/a/issues/1", Title: "stale", Language: "go", FetchedAt: now.Add(-48 * time.Hour)},
		{URL: "https://github.com/a/a/issues/2", Title: "fresh", Language: "go", FetchedAt: now},
	}
	if err := repo.UpsertIssues(ctx, issues); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	deleted, err := repo.DeleteStaleIssues(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete stale failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 stale issue deleted, got %d", deleted)
	}
	count, _ := repo.CountCachedIssues(ctx)
	if count != 1 {
		t.Errorf("expected 1 remaining issue, got %d", count)
	}
}

func TestSolvedIssuesAndStats(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	solved := []*domain.SolvedIssue{
		{UserID: "u1", IssueURL: "https://github.com/a/a/issues/1", Title: "one", Language: "go", Difficulty: domain.LevelBeginner, SolvedAt: now.Add(-3 * time.Hour)},
		{UserID: "u1", IssueURL: "https://github.com/a/a/issues/2", Title: "two", Language: "go", Difficulty: domain.LevelIntermediate, SolvedAt: now.Add(-2 * time.Hour)},
		{UserID: "u1", IssueURL: "https://github.com/b/b/issues/9", Title: "three", Language: "python", Difficulty: domain.LevelBeginner, SolvedAt: now.Add(-1 * time.Hour)},
	}
	for _, s := range solved {
		if err := repo.AddSolvedIssue(ctx, s); err != nil {
			t.Fatalf("add solved failed: %v", err)
		}
	}

	// Recording the same issue twice is a no-op.
	dup := &domain.SolvedIssue{UserID: "u1", IssueURL: "https://github.com/a/a/issues/1", Title: "one again", Language: "go", SolvedAt: now}
	if err := repo.AddSolvedIssue(ctx, dup); err != nil {
		t.Fatalf("duplicate add failed: %v", err)
	}

	history, err := repo.GetSolvedIssues(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("get solved failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 solved issues, got %d", len(history))
	}
	if history[0].Title != "three" {
		t.Errorf("expected newest first, got %q", history[0].Title)
	}

	stats, err := repo.GetUserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalSolved != 3 {
		t.Errorf("expected total 3, got %d", stats.TotalSolved)
	}
	if stats.ByLanguage["go"] != 2 || stats.ByLanguage["python"] != 1 {
		t.Errorf("unexpected language breakdown: %v", stats.ByLanguage)
	}
	if stats.ByDifficulty["beginner"] != 2 {
		t.Errorf("unexpected difficulty breakdown: %v", stats.ByDifficulty)
	}
	if len(stats.RecentSolved) != 3 {
		t.Errorf("expected 3 recent solved, got %d", len(stats.RecentSolved))
	}

	// Stats for a user with no history are all zeros, not an error.
	empty, err := repo.GetUserStats(ctx, "nobody")
	if err != nil {
		t.Fatalf("empty stats failed: %v", err)
	}
	if empty.TotalSolved != 0 || len(empty.RecentSolved) != 0 {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}

func TestBumpUserSkillThresholds(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	levelAfter := func(bumps int) domain.SkillLevel {
		t.Helper()
		for i := 0; i < bumps; i++ {
			if err := repo.BumpUserSkill(ctx, "u1", "go", now); err != nil {
				t.Fatalf("bump failed: %v", err)
			}
		}
		skills, err := repo.GetUserSkills(ctx, "u1")
		if err != nil {
			t.Fatalf("get skills failed: %v", err)
		}
		for _, s := range skills {
			if s.Language == "go" {
				return s.Level
			}
		}
		t.Fatal("expected a go skill row")
		return ""
	}

	if level := levelAfter(1); level != domain.LevelBeginner {
		t.Errorf("expected beginner after 1 solve, got %q", level)
	}
	if level := levelAfter(2); level != domain.LevelIntermediate {
		t.Errorf("expected intermediate after 3 solves, got %q", level)
	}
	if level := levelAfter(7); level != domain.LevelAdvanced {
		t.Errorf("expected advanced after 10 solves, got %q", level)
	}

	// Empty language is skipped without error.
	if err := repo.BumpUserSkill(ctx, "u1", "  ", now); err != nil {
		t.Errorf("blank language bump should be a no-op: %v", err)
	}
}

func TestSolvedDocumentsRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	doc := &domain.SolvedDocument{
		DocID:     "doc-1",
		UserID:    "u1",
		IssueURL:  "https://github.com/a/a/issues/1",
		Content:   "Fixed a data race in the worker pool by guarding the queue.",
		Embedding: []float32{0.1, 0.2, 0.3},
		Metadata:  map[string]string{"language": "go"},
		CreatedAt: now,
	}
	if err := repo.UpsertSolvedDocument(ctx, doc); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	docs, err := repo.GetSolvedDocuments(ctx, "u1")
	if err != nil {
		t.Fatalf("get documents failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if len(docs[0].Embedding) != 3 || docs[0].Embedding[1] != 0.2 {
		t.Errorf("expected embedding round-trip, got %v", docs[0].Embedding)
	}
	if docs[0].Metadata["language"] != "go" {
		t.Errorf("expected metadata round-trip, got %v", docs[0].Metadata)
	}

	// Upsert without an embedding keeps the stored one.
	update := &domain.SolvedDocument{
		DocID:     "doc-1",
		UserID:    "u1",
		IssueURL:  "https://github.com/a/a/issues/1",
		Content:   "Fixed a data race in the worker pool.",
		CreatedAt: now,
	}
	if err := repo.UpsertSolvedDocument(ctx, update); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	docs, _ = repo.GetSolvedDocuments(ctx, "u1")
	if len(docs) != 1 || len(docs[0].Embedding) != 3 {
		t.Errorf("expected preserved embedding, got %v", docs)
	}

	matches, err := repo.SearchSolvedDocumentsKeyword(ctx, "u1", "data race", 5)
	if err != nil {
		t.Fatalf("keyword search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].DocID != "doc-1" {
		t.Errorf("expected doc-1 match, got %v", matches)
	}

	none, err := repo.SearchSolvedDocumentsKeyword(ctx, "u1", "kubernetes", 5)
	if err != nil {
		t.Fatalf("keyword search failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %v", none)
	}
}
