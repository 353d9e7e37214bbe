package memory

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Exchange is one finished user/assistant pair queued for storage.
type Exchange struct {
	User           string
	Assistant      string
	Agent          string
	ConversationID string
}

// Options configures a Store.
type Options struct {
	QueueSize       int
	EnqueueTimeout  time.Duration
	ShutdownTimeout time.Duration

	// ChunkSize and ChunkOverlap are measured in words.
	ChunkSize    int
	ChunkOverlap int
	TopK         int

	// GateThreshold is the similarity below which the gate reports a topic
	// shift; GateWindow is how many recent query embeddings form the mean.
	GateThreshold float64
	GateWindow    int

	// Summarizer is optional. Without it documents are plain concatenations,
	// the gate embeds raw input and retrieval returns raw results.
	Summarizer Summarizer
	// SessionID identifies this process run. Generated when empty.
	SessionID string
	// OnStored is called on the worker after an exchange was stored.
	OnStored func(ids []string, ex Exchange)

	Logger logging.Logger
	Now    func() time.Time
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:       1000,
		EnqueueTimeout:  100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		ChunkSize:       200,
		ChunkOverlap:    40,
		TopK:            3,
		GateThreshold:   0.31,
		GateWindow:      5,
		Logger:          logging.NoOpLogger{},
		Now:             time.Now,
	}
}

type job struct {
	id  string
	ex  Exchange
	at  time.Time
	run func(ctx context.Context)
	// stop is the shutdown sentinel.
	stop bool
}

// Store queues exchanges for asynchronous embedding and storage on a single
// background worker, and answers gate and retrieval queries.
//
// The worker is the only writer to the vector store: retention and
// forgetting are queued as maintenance jobs and awaited.
type Store struct {
	vectors  VectorStore
	embedder Embedder
	opts     Options
	logger   logging.Logger

	queue chan job
	done  chan struct{}

	workerCtx    context.Context
	cancelWorker context.CancelFunc

	mu     sync.RWMutex
	closed bool

	gateMu sync.Mutex
	window [][]float32
}

// New creates a Store and starts its worker.
func New(vectors VectorStore, embedder Embedder, optFns ...func(o *Options)) *Store {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.GateWindow <= 0 {
		opts.GateWindow = 1
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		vectors:      vectors,
		embedder:     embedder,
		opts:         opts,
		logger:       logging.With(opts.Logger, "component", "memory"),
		queue:        make(chan job, opts.QueueSize),
		done:         make(chan struct{}),
		workerCtx:    ctx,
		cancelWorker: cancel,
	}

	go s.run()

	return s
}

// SessionID returns the id stamped on records written by this store.
func (s *Store) SessionID() string { return s.opts.SessionID }

// Pending returns the number of queued jobs.
func (s *Store) Pending() int { return len(s.queue) }

// Store enqueues an exchange and returns its work item id. When the queue
// stays full for longer than the enqueue timeout, or the store is closed, the
// exchange is dropped and an empty slice is returned.
func (s *Store) Store(ex Exchange) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.logger.Warn("memory.enqueue.closed", "agent", ex.Agent)
		return nil
	}

	j := job{id: uuid.NewString(), ex: ex, at: s.opts.Now().UTC()}

	timer := time.NewTimer(s.opts.EnqueueTimeout)
	defer timer.Stop()

	select {
	case s.queue <- j:
		s.logger.Debug("memory.enqueue", "id", j.id, "agent", ex.Agent, "pending", len(s.queue))
		return []string{j.id}
	case <-timer.C:
		s.logger.Warn("memory.enqueue.dropped", "agent", ex.Agent, "queue_size", s.opts.QueueSize)
		return nil
	}
}

// Close enqueues the shutdown sentinel and waits for the worker within the
// shutdown timeout. Jobs queued before Close are still processed while time
// allows; after the timeout in-flight work is cancelled.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()

	select {
	case s.queue <- job{stop: true}:
	case <-timer.C:
		s.cancelWorker()
		return fmt.Errorf("memory: shutdown timed out with %d pending jobs", len(s.queue))
	}

	select {
	case <-s.done:
		s.cancelWorker()
		return nil
	case <-timer.C:
		s.cancelWorker()
		return fmt.Errorf("memory: shutdown timed out with %d pending jobs", len(s.queue))
	}
}

func (s *Store) run() {
	defer close(s.done)

	for j := range s.queue {
		if j.stop {
			return
		}
		s.process(j)
	}
}

// process runs one job; failures never stop the worker.
func (s *Store) process(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("memory.worker.panic", "id", j.id, "recover", r, "stack", string(debug.Stack()))
		}
	}()

	if j.run != nil {
		j.run(s.workerCtx)
		return
	}

	ids, err := s.ingest(s.workerCtx, j)
	if err != nil {
		s.logger.Error("memory.store.error", "id", j.id, "agent", j.ex.Agent, "error", err)
		return
	}

	s.logger.Debug("memory.store.done", "id", j.id, "records", len(ids))
	if s.opts.OnStored != nil {
		s.opts.OnStored(ids, j.ex)
	}
}

func (s *Store) ingest(ctx context.Context, j job) ([]string, error) {
	date := j.at.Format(time.RFC3339)
	text := fmt.Sprintf("Date: %s\nUser: %s\nAssistant: %s", date, j.ex.User, j.ex.Assistant)
	baseID := j.id

	if s.opts.Summarizer != nil {
		doc, err := s.opts.Summarizer.Summarize(ctx, j.ex, date)
		if err != nil {
			s.logger.Warn("memory.summarize.fallback", "id", j.id, "error", err)
		} else {
			text = doc.Render()
			if slug := strings.TrimSpace(doc.ID); slug != "" {
				baseID = slug
			}
		}
	}

	chunks := Chunk(text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, nil
	}

	vecs, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	records := make([]Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		id := baseID
		if len(chunks) > 1 {
			id = fmt.Sprintf("%s#%d", baseID, i)
		}
		ids[i] = id
		records[i] = Record{
			ID:        id,
			Text:      c,
			Embedding: vecs[i],
			Metadata: Metadata{
				Timestamp:        date,
				ConversationID:   j.ex.ConversationID,
				SessionID:        s.opts.SessionID,
				Agent:            j.ex.Agent,
				UserMessage:      j.ex.User,
				AssistantMessage: j.ex.Assistant,
				ChunkIndex:       i,
			},
		}
	}

	if err := s.vectors.Upsert(ctx, records...); err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}
	return ids, nil
}

// maintain runs fn on the worker and waits for it. Maintenance jobs are
// never dropped; they wait for queue space until ctx is done.
func (s *Store) maintain(ctx context.Context, fn func(ctx context.Context) (int, error)) (int, error) {
	type result struct {
		n   int
		err error
	}
	reply := make(chan result, 1)

	j := job{id: uuid.NewString(), run: func(wctx context.Context) {
		var (
			n   int
			err = errors.New("memory: maintenance job panicked")
		)
		defer func() { reply <- result{n, err} }()
		n, err = fn(wctx)
	}}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, core.ErrMemoryStoreClosed
	}
	select {
	case s.queue <- j:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return 0, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// NeedContext reports whether memory context should be generated for input:
// always for the first query of a session, afterwards when the input's
// similarity to the mean of the recent window drops below the threshold.
// The window is updated on every successful call. Embedding failures are
// logged and report true only while the window is still empty.
func (s *Store) NeedContext(ctx context.Context, input string) bool {
	query := s.keywords(ctx, input)

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		s.logger.Warn("memory.gate.error", "error", err, "vectors", len(vecs))
		s.gateMu.Lock()
		defer s.gateMu.Unlock()
		return len(s.window) == 0
	}
	vec := vecs[0]

	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	need := true
	sim := 0.0
	if len(s.window) > 0 {
		sim = Cosine(vec, Mean(s.window))
		need = sim < s.opts.GateThreshold
	}

	s.window = append(s.window, vec)
	if len(s.window) > s.opts.GateWindow {
		s.window = s.window[len(s.window)-s.opts.GateWindow:]
	}

	s.logger.Debug("memory.gate", "need", need, "similarity", sim, "window", len(s.window))
	return need
}

// ResetGate forgets the gate window so the next query counts as the first.
func (s *Store) ResetGate() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	s.window = nil
}

func (s *Store) keywords(ctx context.Context, input string) string {
	if s.opts.Summarizer == nil {
		return input
	}
	kw, err := s.opts.Summarizer.Keywords(ctx, input)
	if err != nil || strings.TrimSpace(kw) == "" {
		if err != nil {
			s.logger.Warn("memory.keywords.error", "error", err)
		}
		return input
	}
	return kw
}

// GenerateContext retrieves the TopK memories of agent from earlier sessions
// that are nearest to input and returns them as text, grouped by
// conversation. An empty string means nothing relevant was found.
func (s *Store) GenerateContext(ctx context.Context, input, agent string) (string, error) {
	keywords := s.keywords(ctx, input)

	vecs, err := s.embedder.Embed(ctx, []string{keywords})
	if err != nil {
		s.logger.Warn("memory.retrieve.error", "error", err)
		return "", fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return "", fmt.Errorf("embed query: got %d vectors for 1 query", len(vecs))
	}

	matches, err := s.vectors.Query(ctx, vecs[0], QueryOptions{
		TopK:           s.opts.TopK,
		ExcludeSession: s.opts.SessionID,
		Agent:          agent,
	})
	if err != nil {
		s.logger.Warn("memory.retrieve.error", "error", err)
		return "", fmt.Errorf("query: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}

	raw := groupByConversation(matches)

	if s.opts.Summarizer == nil {
		return raw, nil
	}
	digest, err := s.opts.Summarizer.Filter(ctx, keywords, raw)
	if err != nil {
		s.logger.Warn("memory.filter.fallback", "error", err)
		return raw, nil
	}
	return digest, nil
}

// groupByConversation orders conversations by their best rank and
// concatenates each conversation's chunks in original order.
func groupByConversation(matches []Match) string {
	var (
		order  []string
		groups = map[string][]Match{}
	)
	for _, m := range matches {
		key := m.Metadata.ConversationID
		if key == "" {
			key = m.ID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	var sb strings.Builder
	for _, key := range order {
		g := groups[key]
		sort.SliceStable(g, func(i, j int) bool {
			if g[i].Metadata.Timestamp != g[j].Metadata.Timestamp {
				return g[i].Metadata.Timestamp < g[j].Metadata.Timestamp
			}
			return g[i].Metadata.ChunkIndex < g[j].Metadata.ChunkIndex
		})
		fmt.Fprintf(&sb, "## Conversation %s\n", key)
		for _, m := range g {
			sb.WriteString(m.Text)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// CleanupOldMemories deletes every record older than months*30 days, or
// whose timestamp cannot be parsed, and returns how many were removed.
func (s *Store) CleanupOldMemories(ctx context.Context, months int) (int, error) {
	if months <= 0 {
		return 0, core.NewUsageError("cleanup memories", errors.New("months must be positive"))
	}

	cutoff := s.opts.Now().Add(-time.Duration(months) * 30 * 24 * time.Hour)

	n, err := s.maintain(ctx, func(wctx context.Context) (int, error) {
		all, err := s.vectors.All(wctx)
		if err != nil {
			return 0, err
		}

		var expired []string
		for _, r := range all {
			ts, err := r.Metadata.Time()
			if err != nil || ts.Before(cutoff) {
				expired = append(expired, r.ID)
			}
		}
		if len(expired) == 0 {
			return 0, nil
		}
		return s.vectors.Delete(wctx, expired...)
	})
	if err != nil {
		s.logger.Error("memory.cleanup.error", "error", err)
		return n, err
	}

	s.logger.Info("memory.cleanup", "months", months, "removed", n)
	return n, nil
}

// ForgetTopic finds the records of agent relevant to topic and deletes every
// record of the conversations they belong to. It returns how many records
// were removed.
func (s *Store) ForgetTopic(ctx context.Context, topic, agent string) (int, error) {
	n, err := s.maintain(ctx, func(wctx context.Context) (int, error) {
		vecs, err := s.embedder.Embed(wctx, []string{topic})
		if err != nil {
			return 0, fmt.Errorf("embed topic: %w", err)
		}
		if len(vecs) != 1 {
			return 0, fmt.Errorf("embed topic: got %d vectors for 1 topic", len(vecs))
		}

		matches, err := s.vectors.Query(wctx, vecs[0], QueryOptions{TopK: s.opts.TopK, Agent: agent})
		if err != nil {
			return 0, err
		}

		conversations := map[string]bool{}
		direct := map[string]bool{}
		for _, m := range matches {
			if m.Score <= 0 {
				continue
			}
			if m.Metadata.ConversationID == "" {
				direct[m.ID] = true
				continue
			}
			conversations[m.Metadata.ConversationID] = true
		}
		if len(conversations) == 0 && len(direct) == 0 {
			return 0, nil
		}

		all, err := s.vectors.All(wctx)
		if err != nil {
			return 0, err
		}
		var ids []string
		for _, r := range all {
			if direct[r.ID] || (r.Metadata.ConversationID != "" && conversations[r.Metadata.ConversationID]) {
				ids = append(ids, r.ID)
			}
		}
		return s.vectors.Delete(wctx, ids...)
	})
	if err != nil {
		s.logger.Error("memory.forget.error", "topic", topic, "error", err)
		return n, err
	}

	s.logger.Info("memory.forget", "topic", topic, "agent", agent, "removed", n)
	return n, nil
}
