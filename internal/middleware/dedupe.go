package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/joescharf/qmt/internal/tools"
)

// DedupeToolCalls short-circuits repeated identical calls within one
// cycle: the prior result is replayed without dispatching again. Calls
// are keyed by (name, canonicalized arguments).
type DedupeToolCalls struct {
	seen map[string]tools.Result
	keys map[string]string // call id -> dedupe key, filled at BeforeToolCall
}

func (d *DedupeToolCalls) Name() string { return "dedupe_tool_calls" }

func (d *DedupeToolCalls) Reset() {
	d.seen = make(map[string]tools.Result)
	d.keys = make(map[string]string)
}

func (d *DedupeToolCalls) NextState(s State) (State, error) {
	switch st := s.(type) {
	case BeforeToolCall:
		if d.seen == nil {
			d.Reset()
		}
		key := callKey(st.Call)
		d.keys[st.Call.ID] = key
		if prior, ok := d.seen[key]; ok && st.Blocked == nil && st.Replay == nil {
			replay := prior
			replay.CallID = st.Call.ID
			st.Replay = &replay
		}
		return st, nil
	case AfterToolBatch:
		for _, res := range st.Results {
			if key, ok := d.keys[res.CallID]; ok {
				if _, dup := d.seen[key]; !dup {
					d.seen[key] = res
				}
			}
		}
		return st, nil
	}
	return s, nil
}

// callKey hashes the name plus canonical JSON of the arguments. Object
// keys marshal sorted, so formatting differences collapse.
func callKey(call tools.Call) string {
	canonical := call.Arguments
	var v any
	if len(call.Arguments) > 0 && json.Unmarshal(call.Arguments, &v) == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = b
		}
	}
	h := sha256.New()
	h.Write([]byte(call.Name))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
