package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(context.Context) (string, error) { return "dynamic via func", nil })
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "dynamic via func", got)
}

func TestInstruction_ProviderError(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{err: errors.New("boom")})
	_, err := inst.Resolve(context.Background(), nil)
	require.Error(t, err)
}

func TestInstruction_Template(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: `You are {{.name}}. Tools: {{join ", " .tools}}.`})

	got, err := inst.Resolve(context.Background(), map[string]any{
		"name":  "coder",
		"tools": []string{"read_file", "write_file"},
	})
	require.NoError(t, err)
	assert.Equal(t, "You are coder. Tools: read_file, write_file.", got)
}
