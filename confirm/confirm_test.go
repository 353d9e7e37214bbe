package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_ResolveOnce(t *testing.T) {
	g := NewGate()
	req := g.Open("delete_file", map[string]any{"path": "a.txt"}, "coder")
	assert.EqualValues(t, 1, req.ID)

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.True(t, g.Resolve(req.ID, Approve))
	}()

	d, err := g.Wait(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Approve, d)

	// Already resolved: no-op.
	assert.False(t, g.Resolve(req.ID, Deny))
	assert.Empty(t, g.Pending())
}

func TestGate_IDsAreMonotonic(t *testing.T) {
	g := NewGate()
	a := g.Open("x", nil, "")
	g.Resolve(a.ID, Deny)
	b := g.Open("y", nil, "")
	assert.Greater(t, b.ID, a.ID)
}

func TestGate_ResolveBeforeWait(t *testing.T) {
	g := NewGate()
	req := g.Open("write_file", nil, "coder")
	require.True(t, g.Resolve(req.ID, ApproveAll))

	d, err := g.Wait(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ApproveAll, d)
}

func TestGate_CancelledWaitDiscards(t *testing.T) {
	g := NewGate()
	req := g.Open("delete_file", nil, "coder")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := g.Wait(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Deny, d)

	assert.False(t, g.Resolve(req.ID, Approve), "discarded ids are never resurrected")
	assert.Empty(t, g.Pending())
}

func TestGate_DenyAll(t *testing.T) {
	g := NewGate()
	r1 := g.Open("a", nil, "")
	r2 := g.Open("b", nil, "")

	pending := g.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, r1.ID, pending[0].ID)

	assert.Equal(t, 2, g.DenyAll())

	d, err := g.Wait(context.Background(), r2)
	require.NoError(t, err)
	assert.Equal(t, Deny, d)
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{"y": Approve, "A": ApproveAll, "no": Deny, "approve_all": ApproveAll} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDecision("maybe")
	require.Error(t, err)
	assert.Equal(t, "approve_all", ApproveAll.String())
}

func TestAllowlist(t *testing.T) {
	a := NewAllowlist("read_file")
	assert.True(t, a.Allowed("read_file"))
	assert.False(t, a.Allowed("delete_file"))

	a.Allow("delete_file")
	assert.Equal(t, []string{"delete_file", "read_file"}, a.Names())

	a.Reset()
	assert.False(t, a.Allowed("read_file"))
}
