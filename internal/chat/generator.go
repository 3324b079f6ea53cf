package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/llm"
)

const (
	// defaultMaxResponseRunes bounds the displayed reply length.
	defaultMaxResponseRunes = 3000

	// maxSources caps the citation list attached to one reply.
	maxSources = 5
)

const responseSystemPrompt = `You are a helpful assistant for open source contributors.

SCOPE:
You only answer questions related to open source contributions, GitHub
issues, programming, debugging, learning languages and frameworks, code
review, and developer tooling. For anything else, reply exactly:
"I'm specifically designed to help with open source contributions and coding. I can help you:
- Find GitHub issues to work on
- Debug code problems
- Learn programming concepts
- Track your contribution progress

Please ask me something related to coding or open source!"

FORMAT:
- Use short bullet points or numbered lists, never long paragraphs
- Keep each point to one line, at most five points per reply
- Give only actionable advice; no theory
- Code snippets stay minimal, four lines or fewer
- Reference the user's skills and solved history when the context includes them
- Do not repeat information already shown in the context`

// genericFailureMessage is returned when every provider in the chain failed.
const genericFailureMessage = "Sorry, I encountered an error. Please try again."

// noProviderMessage serves installs with no completion provider configured.
const noProviderMessage = `I'm here to help with your open source contributions!

- Find issues: "Find me Python beginner issues"
- View history: "Show my recent work"
- Get stats: "How am I doing?"
- Get advice: "How do I debug this error?"

Ask me specific questions about coding problems!`

// Generator turns bounded context plus tool results into the assistant reply.
// Providers are tried in chain order; the first success wins. Every reply is
// redacted, stripped of markup, and length-capped before it leaves.
type Generator struct {
	chain       []llm.Client
	maxResponse int
	logger      *slog.Logger
}

// NewGenerator builds a response generator over the given provider chain.
// maxResponseRunes <= 0 uses the default display cap.
func NewGenerator(chain []llm.Client, maxResponseRunes int, logger *slog.Logger) *Generator {
	if maxResponseRunes <= 0 {
		maxResponseRunes = defaultMaxResponseRunes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{chain: chain, maxResponse: maxResponseRunes, logger: logger}
}

// Generate produces the reply for one turn. The provider chain is walked
// once; when it is exhausted the generic failure message comes back with no
// sources, never partial text.
func (g *Generator) Generate(ctx context.Context, bctx *BoundedContext, results []ToolResult) (string, []domain.Source) {
	sources := collectSources(results)

	if len(g.chain) == 0 {
		return noProviderMessage, nil
	}

	prompt := buildUserPrompt(bctx)
	attempts := 0
	for _, client := range g.chain {
		attempts++
		reply, err := client.CompleteWithSystem(ctx, responseSystemPrompt, prompt)
		if err != nil {
			g.logger.Warn("Provider completion failed", "provider", client.Name(), "error", err)
			continue
		}
		return g.postProcess(reply), sources
	}

	gerr := &domain.GenerationError{Attempts: attempts, Cause: fmt.Errorf("all providers failed")}
	g.logger.Error("Response generation exhausted provider chain", "attempts", attempts, "error", gerr.Error())
	return genericFailureMessage, nil
}

// postProcess applies the outbound reply pipeline: secret redaction, markup
// strip, display cap. Order matters; redaction sees the raw model output.
func (g *Generator) postProcess(reply string) string {
	reply = redactSecrets(reply)
	reply = stripHTML(reply)
	reply = strings.TrimSpace(reply)
	return truncateRunes(reply, g.maxResponse)
}

// buildUserPrompt flattens bounded context into a single completion prompt:
// prior turns, then the formatted tool context, then the current message.
func buildUserPrompt(bctx *BoundedContext) string {
	var b strings.Builder

	if len(bctx.Messages) > 1 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range bctx.Messages[:len(bctx.Messages)-1] {
			b.WriteString(strings.ToUpper(string(msg.Role)))
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if bctx.ToolOutput != "" {
		b.WriteString("Context:\n")
		b.WriteString(bctx.ToolOutput)
		b.WriteString("\n\n")
	}

	current := bctx.Messages[len(bctx.Messages)-1]
	b.WriteString("User: ")
	b.WriteString(current.Content)
	return b.String()
}

// FormatToolResults renders tool output as the plain-text context block the
// generation prompt embeds. Failed tools contribute nothing.
func FormatToolResults(intent Intent, results []ToolResult) string {
	var sections []string

	switch intent {
	case IntentSearchIssues:
		sections = append(sections, formatIssues(MergedIssues(results)))
	case IntentViewHistory:
		for _, r := range results {
			if r.Tool == ToolStats && r.Err == nil {
				sections = append(sections, formatSolvedHistory(r.Solved))
			}
		}
	case IntentGetStats:
		for _, r := range results {
			if r.Tool == ToolStats && r.Err == nil {
				sections = append(sections, formatStats(r.Stats, r.Skills))
			}
		}
	case IntentGetAdvice, IntentGeneral:
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			switch r.Tool {
			case ToolSimilar:
				sections = append(sections, formatSimilar(r.Similar))
			case ToolSkill:
				sections = append(sections, formatSkillSummary(r.Patterns))
			}
		}
	}

	var kept []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return "No relevant information found."
	}
	return strings.Join(kept, "\n\n")
}

func formatIssues(issues []*domain.Issue) string {
	if len(issues) == 0 {
		return "No matching issues found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching issues:\n", len(issues))
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. [%s] %s (Language: %s, Stars: %d, Difficulty: %s)\n",
			i+1, issue.RepoName, issue.Title, issue.Language, issue.Stars, issue.Difficulty)
	}
	return strings.TrimSpace(b.String())
}

func formatSolvedHistory(solved []domain.SolvedIssue) string {
	if len(solved) == 0 {
		return "No solved issues yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recently solved (%d):\n", len(solved))
	for i, s := range solved {
		fmt.Fprintf(&b, "%d. %s (%s, %s, solved %s)\n",
			i+1, s.Title, s.Language, s.Difficulty, s.SolvedAt.Format("2006-01-02"))
	}
	return strings.TrimSpace(b.String())
}

func formatStats(stats *domain.UserStats, skills []domain.UserSkill) string {
	if stats == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("User statistics:\n")
	fmt.Fprintf(&b, "- Total solved: %d issues\n", stats.TotalSolved)
	if len(stats.ByLanguage) > 0 {
		parts := make([]string, 0, len(stats.ByLanguage))
		for _, lang := range sortedKeys(stats.ByLanguage) {
			parts = append(parts, fmt.Sprintf("%s (%d)", lang, stats.ByLanguage[lang]))
		}
		fmt.Fprintf(&b, "- By language: %s\n", strings.Join(parts, ", "))
	}
	if len(stats.ByDifficulty) > 0 {
		parts := make([]string, 0, len(stats.ByDifficulty))
		for _, level := range sortedKeys(stats.ByDifficulty) {
			parts = append(parts, fmt.Sprintf("%s (%d)", level, stats.ByDifficulty[level]))
		}
		fmt.Fprintf(&b, "- By difficulty: %s\n", strings.Join(parts, ", "))
	}
	for _, skill := range skills {
		fmt.Fprintf(&b, "- %s level: %s (%d solved)\n", skill.Language, skill.Level, skill.SolvedCount)
	}
	return strings.TrimSpace(b.String())
}

func formatSimilar(similar []SimilarDoc) string {
	if len(similar) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You've solved %d similar issues before:\n", len(similar))
	for i, doc := range similar {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, doc.Title, doc.Language)
	}
	return strings.TrimSpace(b.String())
}

func formatSkillSummary(summary *SkillSummary) string {
	if summary == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Skill profile:\n")
	fmt.Fprintf(&b, "- Total solved: %d\n", summary.TotalSolved)
	if len(summary.TopLanguages) > 0 {
		fmt.Fprintf(&b, "- Top languages: %s\n", strings.Join(summary.TopLanguages, ", "))
	}
	if len(summary.TopRepos) > 0 {
		fmt.Fprintf(&b, "- Top repositories: %s\n", strings.Join(summary.TopRepos, ", "))
	}
	if summary.TypicalDifficulty != "" {
		fmt.Fprintf(&b, "- Typical difficulty: %s\n", summary.TypicalDifficulty)
	}
	for _, rec := range summary.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	return strings.TrimSpace(b.String())
}

// collectSources gathers citations from every tool that produced items:
// issue hits first, then similar-solved documents. Deduplicated by URL,
// capped at maxSources.
func collectSources(results []ToolResult) []domain.Source {
	var sources []domain.Source
	seen := make(map[string]bool)

	add := func(url, title string) {
		if url == "" || seen[url] || len(sources) >= maxSources {
			return
		}
		seen[url] = true
		sources = append(sources, domain.Source{URL: url, Title: title})
	}

	for _, issue := range MergedIssues(results) {
		add(issue.URL, issue.Title)
	}
	for _, r := range results {
		if r.Tool != ToolSimilar || r.Err != nil {
			continue
		}
		for _, doc := range r.Similar {
			add(doc.URL, doc.Title)
		}
	}
	return sources
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
