package testutil

import (
	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// NewScriptedAgent creates a ModelAgent backed by a MockModel that replays
// turns in order.
func NewScriptedAgent(name, description string, tools []tool.Tool, turns ...model.MockTurn) (*agent.ModelAgent, *model.MockModel) {
	llm := model.NewMockModel(name+"-model", "mock")
	llm.Script(turns...)

	a := agent.NewModelAgent(name, llm, func(o *agent.ModelAgentOptions) {
		o.Description = description
		o.Tools = tools
	})
	return a, llm
}
