package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/llm"
)

// classificationSystemPrompt keeps the model on task; the reply must be a
// single JSON object and nothing else.
const classificationSystemPrompt = "You are an intent classifier. Return only valid JSON."

const classificationPrompt = `You are an intent classifier for an open source contribution assistant.

Classify the user message into exactly one of these intents:
1. search_issues - the user wants to find new GitHub issues to work on
2. view_history - the user wants to see their past solved issues
3. get_stats - the user wants to see their statistics or progress
4. get_advice - the user wants coding advice or debugging help
5. general_question - a general programming question

Also extract relevant entities:
- language: programming language mentioned (python, javascript, go, ...)
- difficulty: difficulty level (beginner, intermediate, advanced)
- topic: specific topic (api, testing, cors, ...)
- time_period: time reference (recent, this week, this month, ...)

EXAMPLES:

User: "Find me some Python issues for beginners"
Response: {"intent": "search_issues", "confidence": 0.95, "entities": {"language": "python", "difficulty": "beginner"}}

User: "Show me what I've solved recently"
Response: {"intent": "view_history", "confidence": 0.9, "entities": {"time_period": "recent"}}

User: "How am I doing with JavaScript?"
Response: {"intent": "get_stats", "confidence": 0.85, "entities": {"language": "javascript"}}

User: "How do I fix CORS errors?"
Response: {"intent": "get_advice", "confidence": 0.9, "entities": {"topic": "cors"}}

User: "What is the difference between let and const?"
Response: {"intent": "general_question", "confidence": 0.95, "entities": {"language": "javascript", "topic": "variables"}}

RULES:
- Return ONLY a valid JSON object
- confidence is between 0.0 and 1.0
- When uncertain (confidence < 0.7), use general_question
- Extract every entity that is present

Now classify this message:`

// Classifier resolves a user message to an intent and entity set. The model
// path is primary; any model error or unparseable reply falls back to
// deterministic keyword matching so classification never fails outright.
type Classifier struct {
	client llm.Client // nil means keyword-only mode
	logger *slog.Logger
}

// NewClassifier builds a classifier backed by the given completion client.
// A nil client is valid and disables the model path.
func NewClassifier(client llm.Client, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{client: client, logger: logger}
}

// Classify labels one message. history provides short-range context for the
// model path; the keyword path ignores it.
func (c *Classifier) Classify(ctx context.Context, message string, history []*domain.ConversationMessage) Classification {
	if c.client != nil {
		result, err := c.classifyWithModel(ctx, message, history)
		if err == nil {
			return result
		}
		cerr := &domain.ClassificationError{Cause: err}
		c.logger.Warn("intent classification fell back to keywords",
			"provider", c.client.Name(),
			"error", cerr.Error(),
		)
	}
	return classifyWithKeywords(message)
}

func (c *Classifier) classifyWithModel(ctx context.Context, message string, history []*domain.ConversationMessage) (Classification, error) {
	var b strings.Builder
	b.WriteString(classificationPrompt)
	if excerpt := historyExcerpt(history, 3); excerpt != "" {
		b.WriteString("\n\nRecent conversation:\n")
		b.WriteString(excerpt)
	}
	b.WriteString("\n\nUser message: ")
	b.WriteString(message)

	reply, err := c.client.CompleteWithSystem(ctx, classificationSystemPrompt, b.String())
	if err != nil {
		return Classification{}, err
	}

	raw, ok := extractJSONObject(reply)
	if !ok {
		return Classification{}, fmt.Errorf("no JSON object in classifier reply")
	}

	var parsed struct {
		Intent     string            `json:"intent"`
		Confidence float64           `json:"confidence"`
		Entities   map[string]string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Classification{}, fmt.Errorf("parse classifier reply: %w", err)
	}

	intent := Intent(parsed.Intent)
	if !intent.Valid() {
		return Classification{}, fmt.Errorf("unknown intent %q", parsed.Intent)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Classification{
		Intent:     intent,
		Entities:   normalizeEntities(parsed.Entities),
		Confidence: confidence,
	}, nil
}

// historyExcerpt renders the last n turns as "ROLE: content" lines for the
// classification prompt.
func historyExcerpt(history []*domain.ConversationMessage, n int) string {
	if len(history) == 0 {
		return ""
	}
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, n)
	for _, msg := range history[start:] {
		lines = append(lines, strings.ToUpper(string(msg.Role))+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

// extractJSONObject pulls the first JSON object out of a model reply that may
// wrap it in code fences or surround it with prose.
func extractJSONObject(s string) (string, bool) {
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// normalizeEntities lowercases model-extracted entities and maps language and
// difficulty values onto their canonical forms, dropping unknown keys.
func normalizeEntities(raw map[string]string) map[string]string {
	entities := make(map[string]string)
	for key, value := range raw {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		switch strings.ToLower(key) {
		case EntityLanguage:
			entities[EntityLanguage] = canonicalLanguage(value)
		case EntityDifficulty:
			entities[EntityDifficulty] = string(domain.ParseSkillLevel(value))
		case EntityTopic:
			entities[EntityTopic] = value
		case EntityTimePeriod:
			entities[EntityTimePeriod] = value
		}
	}
	return entities
}

// --- keyword fallback ---

var (
	searchKeywords = []string{
		"find", "search", "show me issues", "get issues", "recommend", "suggest",
		"looking for", "need issues", "want to work on", "beginner issues",
	}
	historyKeywords = []string{
		"my history", "what have i solved", "show my", "my solved", "my past",
		"previously solved", "my contributions", "what did i work on",
	}
	statsKeywords = []string{
		"my progress", "my stats", "how am i doing", "my performance",
		"my statistics", "show progress", "my score", "my level",
	}
	adviceKeywords = []string{
		"how do i", "how to", "help with", "stuck on", "debug", "error",
		"fix", "solve", "problem with", "issue with", "trouble with",
	}
)

// languageAliases maps message tokens to canonical language names. Order
// matters: earlier entries win when a message mentions several.
var languageAliases = []struct {
	canonical string
	aliases   []string
}{
	{"python", []string{"python", "py", "django", "flask"}},
	{"javascript", []string{"javascript", "js", "node", "react", "vue", "angular"}},
	{"typescript", []string{"typescript", "ts"}},
	{"java", []string{"java"}},
	{"go", []string{"go", "golang"}},
	{"rust", []string{"rust"}},
	{"ruby", []string{"ruby", "rails"}},
	{"php", []string{"php", "laravel"}},
	{"c++", []string{"c++", "cpp"}},
	{"csharp", []string{"c#", "csharp", "dotnet"}},
	{"swift", []string{"swift", "ios"}},
	{"kotlin", []string{"kotlin", "android"}},
}

var difficultyAliases = []struct {
	canonical string
	aliases   []string
}{
	{string(domain.LevelBeginner), []string{"beginner", "easy", "simple", "first", "starter"}},
	{string(domain.LevelIntermediate), []string{"medium", "intermediate", "moderate"}},
	{string(domain.LevelAdvanced), []string{"hard", "difficult", "advanced", "complex", "challenging"}},
}

var timePeriodAliases = []struct {
	canonical string
	phrases   []string
}{
	{"recent", []string{"recent", "recently", "latest", "today"}},
	{"this week", []string{"this week", "past week"}},
	{"this month", []string{"this month", "past month", "last month"}},
	{"all time", []string{"all time", "overall", "total"}},
}

var topicTerms = []string{
	"api", "database", "cors", "authentication", "testing", "deployment",
	"docker", "git", "css", "html", "redux", "graphql", "rest",
	"debugging", "performance", "security", "ui", "backend", "frontend",
}

// classifyWithKeywords is the deterministic fallback. It always returns a
// valid intent; general_question when nothing matches.
func classifyWithKeywords(message string) Classification {
	lower := strings.ToLower(message)
	entities := extractEntities(lower)

	// Stats before history: "show my stats" also contains the generic
	// "show my" history marker.
	checks := []struct {
		intent   Intent
		keywords []string
	}{
		{IntentSearchIssues, searchKeywords},
		{IntentGetStats, statsKeywords},
		{IntentViewHistory, historyKeywords},
		{IntentGetAdvice, adviceKeywords},
	}
	for _, check := range checks {
		for _, keyword := range check.keywords {
			if strings.Contains(lower, keyword) {
				return Classification{Intent: check.intent, Entities: entities, Confidence: 0.75}
			}
		}
	}

	return Classification{Intent: IntentGeneral, Entities: entities, Confidence: 0.6}
}

// extractEntities scans a lowercased message for language, difficulty, time
// period, and topic mentions. Single-word aliases match whole tokens only so
// "go" does not fire on "good first issue".
func extractEntities(lower string) map[string]string {
	entities := make(map[string]string)
	tokens := tokenSet(lower)

	for _, lang := range languageAliases {
		if matchesAny(lower, tokens, lang.aliases) {
			entities[EntityLanguage] = lang.canonical
			break
		}
	}

	for _, level := range difficultyAliases {
		if matchesAny(lower, tokens, level.aliases) {
			entities[EntityDifficulty] = level.canonical
			break
		}
	}

	for _, period := range timePeriodAliases {
		if matchesAny(lower, tokens, period.phrases) {
			entities[EntityTimePeriod] = period.canonical
			break
		}
	}

	for _, term := range topicTerms {
		if matchesAny(lower, tokens, []string{term}) {
			entities[EntityTopic] = term
			break
		}
	}

	return entities
}

func matchesAny(lower string, tokens map[string]bool, aliases []string) bool {
	for _, alias := range aliases {
		if strings.ContainsRune(alias, ' ') {
			if strings.Contains(lower, alias) {
				return true
			}
			continue
		}
		if tokens[alias] {
			return true
		}
	}
	return false
}

// tokenSet splits a message into words, keeping '+' and '#' so "c++" and
// "c#" survive as tokens.
func tokenSet(lower string) map[string]bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// canonicalLanguage maps a model-extracted language string onto the canonical
// name used by the cache and scorer.
func canonicalLanguage(value string) string {
	tokens := map[string]bool{value: true}
	for _, lang := range languageAliases {
		if matchesAny(value, tokens, lang.aliases) {
			return lang.canonical
		}
	}
	return value
}
