package condition

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/drblury/procflow/internal/engine/jsoncodec"
)

// Script evaluates a JavaScript expression against the data context. The
// context is bound to `$`, so "$.retries < 3 && $.state == 'open'" style
// expressions read naturally. The value of the last expression, converted to
// a boolean, decides the flow.
type Script struct {
	Source string
}

// Expr builds a script predicate from a JavaScript expression.
func Expr(source string) *Script {
	return &Script{Source: source}
}

// Validate compiles the script so syntax errors surface at definition
// validation time.
func (s *Script) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("script expression can not be empty")
	}
	if _, err := goja.Compile("condition", s.Source, false); err != nil {
		return fmt.Errorf("invalid script expression: %w", err)
	}
	return nil
}

// Evaluate binds the data context to $ and runs the expression on a fresh VM.
func (s *Script) Evaluate(data map[string]any) (bool, error) {
	encoded, err := jsoncodec.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encoding data context for script: %w", err)
	}

	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;", encoded)); err != nil {
		return false, fmt.Errorf("binding data context: %w", err)
	}

	value, err := vm.RunString(s.Source)
	if err != nil {
		return false, fmt.Errorf("evaluating script: %w", err)
	}
	return value.ToBoolean(), nil
}
