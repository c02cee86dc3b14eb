package condition

import (
	"fmt"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// JSONPath evaluates a JSONPath expression against the data context. Without
// Equals the looked-up value is tested for truthiness; with Equals it is
// compared to the wanted value with numeric widening. A path that resolves to
// nothing is not an error, it simply does not match.
type JSONPath struct {
	Path string

	// Equals, when non-nil, is the value the lookup result must equal.
	Equals any

	hasEquals bool
}

// Path builds a truthiness predicate for a JSONPath expression, for example
// "$.order.paid".
func Path(path string) *JSONPath {
	return &JSONPath{Path: path}
}

// PathEquals builds an equality predicate, for example
// PathEquals("$.order.state", "approved").
func PathEquals(path string, want any) *JSONPath {
	return &JSONPath{Path: path, Equals: want, hasEquals: true}
}

// Validate compiles the expression so malformed paths are rejected at
// definition validation time, before any instance runs.
func (j *JSONPath) Validate() error {
	if strings.TrimSpace(j.Path) == "" {
		return fmt.Errorf("jsonpath expression can not be empty")
	}
	if _, err := jsonpath.Compile(normalizePath(j.Path)); err != nil {
		return fmt.Errorf("invalid jsonpath expression %q: %w", j.Path, err)
	}
	return nil
}

// Evaluate looks up the path in the data context.
func (j *JSONPath) Evaluate(data map[string]any) (bool, error) {
	value, err := jsonpath.JsonPathLookup(data, normalizePath(j.Path))
	if err != nil {
		// Lookup errors mean the path has no value in this context.
		return false, nil
	}
	if j.hasEquals || j.Equals != nil {
		return looseEqual(value, j.Equals), nil
	}
	return truthy(value), nil
}

// normalizePath accepts both "$.a.b" and the brace-enclosed "{$.a.b}" form
// some graph sources use.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "{"), "}")
	}
	return trimmed
}
