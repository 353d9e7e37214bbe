package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/model"
)

func TestModelSummarizer_Summarize(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.Script(model.MockTurn{Text: "```json\n" + `{"id":"go-generics","summary":"User asked about generics","entities":["Go"],"domain":"programming","preferences":["short answers"]}` + "\n```"})

	s := NewModelSummarizer(llm)
	doc, err := s.Summarize(t.Context(), Exchange{User: "how do generics work", Assistant: "type parameters"}, "2026-05-01T00:00:00Z")
	require.NoError(t, err)

	assert.Equal(t, "go-generics", doc.ID)
	assert.Equal(t, "2026-05-01T00:00:00Z", doc.Date)
	assert.Equal(t, []string{"Go"}, doc.Entities)

	text := doc.Render()
	assert.Contains(t, text, "Summary: User asked about generics")
	assert.Contains(t, text, "Preferences: short answers")
	assert.NotContains(t, text, "Behavioral notes")

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Text(), "User: how do generics work")
}

func TestModelSummarizer_Invalid(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.Script(
		model.MockTurn{Text: "not json"},
		model.MockTurn{Text: `{"id":"x"}`},
		model.MockTurn{Err: errors.New("rate limited")},
	)
	s := NewModelSummarizer(llm)

	for range 3 {
		_, err := s.Summarize(t.Context(), Exchange{User: "u", Assistant: "a"}, "")
		assert.Error(t, err)
	}
}

func TestStore_WithSummarizer(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.Script(model.MockTurn{Text: `{"id":"deploy-notes","summary":"Discussed blue green deploys"}`})

	vs := NewInMemoryStore()
	stored := make(chan []string, 1)
	s := newStore(t, vs, NewHashEmbedder(64), func(o *Options) {
		o.Summarizer = NewModelSummarizer(llm)
		o.OnStored = func(ids []string, _ Exchange) { stored <- ids }
	})

	ids := storeAndWait(t, s, stored, Exchange{User: "how to deploy", Assistant: "blue green", Agent: "A"})
	assert.Equal(t, []string{"deploy-notes"}, ids)

	all, err := vs.All(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Text, "Summary: Discussed blue green deploys")
}

func TestStore_SummarizerFallback(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.Script(model.MockTurn{Err: errors.New("boom")})

	vs := NewInMemoryStore()
	stored := make(chan []string, 1)
	s := newStore(t, vs, NewHashEmbedder(64), func(o *Options) {
		o.Summarizer = NewModelSummarizer(llm)
		o.OnStored = func(ids []string, _ Exchange) { stored <- ids }
	})

	storeAndWait(t, s, stored, Exchange{User: "plain question", Assistant: "plain answer"})

	all, err := vs.All(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Text, "User: plain question\nAssistant: plain answer")
}

func TestGenerateContext_Filter(t *testing.T) {
	ctx := t.Context()
	e := NewHashEmbedder(64)
	vs := NewInMemoryStore()

	vecs, err := e.Embed(ctx, []string{"terraform state locking"})
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, Record{ID: "r1", Text: "terraform state locking", Embedding: vecs[0], Metadata: Metadata{SessionID: "old", Agent: "A"}}))

	llm := model.NewMockModel("mock", "test")
	llm.Script(
		model.MockTurn{Text: "terraform state locking"},
		model.MockTurn{Text: "- Uses DynamoDB for state locks"},
	)

	s := newStore(t, vs, e, func(o *Options) { o.Summarizer = NewModelSummarizer(llm) })

	out, err := s.GenerateContext(ctx, "how did we lock terraform state again?", "A")
	require.NoError(t, err)
	assert.Equal(t, "- Uses DynamoDB for state locks", out)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Messages[0].Text(), "Keywords: terraform state locking")
	assert.Contains(t, reqs[1].Messages[0].Text(), "## Conversation r1")
}
