package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// Document is the structured memory produced from one exchange.
type Document struct {
	ID              string   `json:"id"`
	Date            string   `json:"date"`
	Summary         string   `json:"summary"`
	Entities        []string `json:"entities,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Preferences     []string `json:"preferences,omitempty"`
	BehavioralNotes []string `json:"behavioral_notes,omitempty"`
}

// Render formats the document as the text that gets embedded.
func (d Document) Render() string {
	var sb strings.Builder
	if d.Date != "" {
		fmt.Fprintf(&sb, "Date: %s\n", d.Date)
	}
	if d.Domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", d.Domain)
	}
	fmt.Fprintf(&sb, "Summary: %s\n", d.Summary)
	writeList(&sb, "Entities", d.Entities)
	writeList(&sb, "Preferences", d.Preferences)
	writeList(&sb, "Behavioral notes", d.BehavioralNotes)
	return strings.TrimRight(sb.String(), "\n")
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) > 0 {
		fmt.Fprintf(sb, "%s: %s\n", label, strings.Join(items, ", "))
	}
}

// Summarizer condenses exchanges into documents and supports retrieval with
// keyword extraction and result filtering.
type Summarizer interface {
	Summarize(ctx context.Context, ex Exchange, date string) (Document, error)
	// Keywords extracts a short semantic summary of a user input.
	Keywords(ctx context.Context, input string) (string, error)
	// Filter drops irrelevant or superseded entries from candidates and
	// returns a Markdown digest.
	Filter(ctx context.Context, keywords, candidates string) (string, error)
}

// ModelSummarizer implements Summarizer with a model.Model.
type ModelSummarizer struct {
	llm model.Model
}

// NewModelSummarizer creates a summarizer backed by llm.
func NewModelSummarizer(llm model.Model) *ModelSummarizer {
	return &ModelSummarizer{llm: llm}
}

const summarizePrompt = `You extract long-term memory from a conversation exchange.
Answer with a single JSON object and nothing else, using these keys:
"id" (a short stable kebab-case slug naming the topic), "date", "summary",
"entities" (array), "domain", "preferences" (array), "behavioral_notes" (array).`

const keywordsPrompt = `Summarize the user's message as a short list of search keywords.
Answer with the keywords only, comma separated.`

const filterPrompt = `You receive memory entries retrieved for a query.
Drop entries that are irrelevant to the keywords or superseded by an entry with a newer date.
Answer with a concise Markdown digest of what remains. Answer with an empty string if nothing remains.`

// Summarize implements Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, ex Exchange, date string) (Document, error) {
	input := fmt.Sprintf("Date: %s\nUser: %s\nAssistant: %s", date, ex.User, ex.Assistant)
	out, err := s.complete(ctx, summarizePrompt, input)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal([]byte(stripFences(out)), &doc); err != nil {
		return Document{}, fmt.Errorf("decode memory document: %w", err)
	}
	if doc.Summary == "" {
		return Document{}, fmt.Errorf("memory document has no summary")
	}
	if doc.Date == "" {
		doc.Date = date
	}
	return doc, nil
}

// Keywords implements Summarizer.
func (s *ModelSummarizer) Keywords(ctx context.Context, input string) (string, error) {
	return s.complete(ctx, keywordsPrompt, input)
}

// Filter implements Summarizer.
func (s *ModelSummarizer) Filter(ctx context.Context, keywords, candidates string) (string, error) {
	return s.complete(ctx, filterPrompt, fmt.Sprintf("Keywords: %s\n\nEntries:\n%s", keywords, candidates))
}

func (s *ModelSummarizer) complete(ctx context.Context, instructions, input string) (string, error) {
	msg, err := model.Complete(ctx, s.llm, model.Request{
		Instructions: instructions,
		Messages:     []core.Message{core.NewTextMessage(core.RoleUser, "", input)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Text()), nil
}

// stripFences removes a surrounding Markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

var _ Summarizer = (*ModelSummarizer)(nil)
