package tools

import "reflect"

// Error codes carried in Result.Error. Handler errors that match the
// classification table in classify.go are rewritten to stable codes;
// everything else passes through with the original message.
const (
	ErrCodeBadJSONArgs = "bad_json_args"
	ErrCodeUnknownTool = "unknown_tool"
	ErrCodeEmptyResult = "empty_result"
)

// Result is the uniform outcome of a tool execution. Every path through the
// Executor produces one, whether it ends in success, empty data, validation
// failure, a handler error, or a handler panic.
type Result struct {
	OK     bool     `json:"ok"`
	Data   any      `json:"data,omitempty"`
	Error  string   `json:"error,omitempty"`  // Stable code or original message.
	Detail string   `json:"detail,omitempty"` // Human-readable explanation.
	Name   string   `json:"name,omitempty"`   // Tool name as given by the caller.
	Frames []string `json:"frames,omitempty"` // First stack frames, diagnostics only.
}

// Failure builds a failed result with a code and explanation.
func Failure(name, code, detail string) Result {
	return Result{OK: false, Error: code, Detail: detail, Name: name}
}

// isEmpty reports whether handler data is unusable: nil, an empty string, or
// an empty collection. A planner consuming ambiguous empty success is prone
// to fabricating answers, so the Executor converts these to failures.
func isEmpty(data any) bool {
	if data == nil {
		return true
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return true
		}
		return isEmpty(v.Elem().Interface())
	default:
		return false
	}
}
