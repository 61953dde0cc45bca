package conversation

import (
	"encoding/json"

	"github.com/samsaffron/term-agent/internal/llm"
)

// toolLoopThreshold is how many identical consecutive tool calls within one
// Send count as a loop.
const toolLoopThreshold = 5

// loopDetector spots the model requesting the same call over and over.
type loopDetector struct {
	last  string
	count int
}

// observe records a call and reports whether the threshold was reached.
func (d *loopDetector) observe(call llm.ToolCall) bool {
	key := callKey(call)
	if key == d.last {
		d.count++
	} else {
		d.last = key
		d.count = 1
	}
	return d.count >= toolLoopThreshold
}

// callKey identifies a call by name and arguments. encoding/json sorts map
// keys, so equal argument maps produce equal keys.
func callKey(call llm.ToolCall) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return call.Name
	}
	return call.Name + "\x00" + string(args)
}
