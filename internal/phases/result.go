package phases

// Result data keys.
const (
	DataResolveAttempts    = "resolveAttempts"
	DataE2EResolveAttempts = "e2eResolveAttempts"
	DataHasBlockers        = "hasBlockers"
	DataBlockers           = "blockers"
	DataScreenshots        = "screenshots"
	DataDocFiles           = "docFiles"
	DataCommitted          = "committed"
	DataPushAttempts       = "pushAttempts"
	DataMergeAttempts      = "mergeAttempts"
	DataTestsPassed        = "testsPassed"
	DataTestsFailed        = "testsFailed"
	DataWorktreeRemoved    = "worktreeRemoved"
	DataAlreadyMerged      = "alreadyMerged"
	// DataWarnings lists tolerated high-severity failures.
	DataWarnings = "warnings"
)

// Result is the outcome of one phase run. Success false with a nil error
// is a domain failure: tests failed, blockers remain, the agent failed.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func newResult() *Result {
	return &Result{Data: make(map[string]any)}
}

func (r *Result) set(key string, v any) {
	r.Data[key] = v
}

func (r *Result) fail(msg, errText string) {
	r.Success = false
	r.Message = msg
	r.Error = errText
}

// Int returns an integer data value, or 0.
func (r *Result) Int(key string) int {
	if r == nil {
		return 0
	}
	switch v := r.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns a boolean data value, or false.
func (r *Result) Bool(key string) bool {
	if r == nil {
		return false
	}
	b, _ := r.Data[key].(bool)
	return b
}

// Strings returns a string slice data value, or nil.
func (r *Result) Strings(key string) []string {
	if r == nil {
		return nil
	}
	switch v := r.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
