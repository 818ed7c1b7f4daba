package deliverysvc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/theinterneti/courier/internal/delivery"
)

// celFilter wraps a compiled CEL program used to narrow dead-letter
// listings. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("sender", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("msg_type", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("attempts", cel.IntType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("last_error", cel.StringType),
		cel.Variable("created_ms", cel.IntType),
		cel.Variable("dead_ms", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed payload for field filtering
		cel.Variable("json", cel.DynType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against one dead-letter entry.
func (f celFilter) Eval(e delivery.DeadLetterEntry) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(e.Message.Payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"sender":     e.Message.Sender,
		"recipient":  e.Message.Recipient,
		"msg_type":   string(e.Message.Type),
		"priority":   e.Message.Priority.String(),
		"attempts":   int64(e.Message.Attempts),
		"reason":     e.FailureReason,
		"last_error": e.LastError,
		"created_ms": e.Message.CreatedAtMs,
		"dead_ms":    e.DeadLetteredAtMs,
		"text":       string(e.Message.Payload),
		"json":       jsonObj,
		"now_ms":     time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
