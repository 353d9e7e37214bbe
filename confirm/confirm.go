// Package confirm implements the tool confirmation rendezvous: the
// orchestrator opens a request, an external actor resolves it.
//
// Each request owns a one-shot channel held in a slot keyed by its id. The
// slot is freed on resolution or when the waiter gives up, so resolving an
// already resolved or discarded id is a no-op.
package confirm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of a confirmation request.
type Decision int

const (
	Deny Decision = iota
	Approve
	// ApproveAll approves the call and whitelists the tool for the rest of
	// the conversation.
	ApproveAll
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case ApproveAll:
		return "approve_all"
	default:
		return "deny"
	}
}

// ParseDecision accepts the long names as well as y, a and n.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "approve":
		return Approve, nil
	case "a", "all", "approve_all":
		return ApproveAll, nil
	case "n", "no", "deny":
		return Deny, nil
	}
	return Deny, fmt.Errorf("invalid decision %q", s)
}

// Request is a pending confirmation.
type Request struct {
	ID       uint64         `json:"id"`
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"tool_input"`
	Agent    string         `json:"agent"`
	Created  time.Time      `json:"created"`

	ch chan Decision
}

// Gate hands out monotonically numbered requests. Safe for concurrent use.
type Gate struct {
	mu    sync.Mutex
	next  uint64
	slots map[uint64]chan Decision
	reqs  map[uint64]Request
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		slots: make(map[uint64]chan Decision),
		reqs:  make(map[uint64]Request),
	}
}

// Open registers a pending request.
func (g *Gate) Open(toolName string, input map[string]any, agent string) Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	req := Request{
		ID:       g.next,
		ToolName: toolName,
		Input:    input,
		Agent:    agent,
		Created:  time.Now().UTC(),
		ch:       make(chan Decision, 1),
	}
	g.slots[req.ID] = req.ch
	g.reqs[req.ID] = req
	return req
}

// Resolve delivers d to the request's waiter. It reports false when id is
// unknown, already resolved or discarded.
func (g *Gate) Resolve(id uint64, d Decision) bool {
	g.mu.Lock()
	ch, ok := g.slots[id]
	if ok {
		delete(g.slots, id)
		delete(g.reqs, id)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	ch <- d
	return true
}

// Wait blocks until req is resolved or ctx is done. On cancellation the
// request is discarded and Deny is returned together with ctx.Err().
func (g *Gate) Wait(ctx context.Context, req Request) (Decision, error) {
	select {
	case d := <-req.ch:
		return d, nil
	case <-ctx.Done():
		g.discard(req.ID)
		return Deny, ctx.Err()
	}
}

func (g *Gate) discard(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.slots, id)
	delete(g.reqs, id)
}

// DenyAll force-resolves every pending request with Deny and returns how
// many were pending.
func (g *Gate) DenyAll() int {
	n := 0
	for _, req := range g.Pending() {
		if g.Resolve(req.ID, Deny) {
			n++
		}
	}
	return n
}

// Pending returns the outstanding requests ordered by id.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Request, 0, len(g.reqs))
	for _, r := range g.reqs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Allowlist holds tool names approved for the rest of a conversation.
type Allowlist struct {
	mu    sync.RWMutex
	tools map[string]bool
}

// NewAllowlist creates an allowlist pre-populated with names.
func NewAllowlist(names ...string) *Allowlist {
	a := &Allowlist{tools: make(map[string]bool)}
	for _, n := range names {
		a.tools[n] = true
	}
	return a
}

// Allow whitelists name.
func (a *Allowlist) Allow(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tools[name] = true
}

// Allowed reports whether name skips confirmation.
func (a *Allowlist) Allowed(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tools[name]
}

// Reset replaces the allowlist contents with names.
func (a *Allowlist) Reset(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tools = make(map[string]bool, len(names))
	for _, n := range names {
		a.tools[n] = true
	}
}

// Names returns the whitelisted tool names, sorted.
func (a *Allowlist) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.tools))
	for n := range a.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
