// Package loader parses process definitions from YAML or JSON sources into
// the validated form the engine registers. The core engine never imports this
// package; it is one producer of definitions next to the programmatic builder.
//
// The textual schema mirrors the definition model:
//
//	id: order-fulfilment
//	name: Order fulfilment
//	nodes:
//	  - id: start
//	    kind: start
//	  - id: reserve
//	    kind: task
//	    name: Reserve stock
//	    handler: inventory.reserve
//	    timeout: 30s
//	  - id: route
//	    kind: gateway
//	    gateway: exclusive
//	  - id: done
//	    kind: end
//	flows:
//	  - from: start
//	    to: reserve
//	  - from: reserve
//	    to: route
//	  - from: route
//	    to: done
//	    when:
//	      path: $.order.paid
//	  - from: route
//	    to: done
//	    default: true
//
// A flow condition is either a JSONPath over the data context (`path`, with an
// optional `equals` comparison value) or a JavaScript expression (`script`)
// with the data context bound to `$`. Flows declared without an `id` get a
// generated one. Parsed definitions are fully validated; structural problems
// surface as a *definition.ValidationError wrapped in the *ParseError.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drblury/procflow/internal/engine/definition"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
)

// ParseError reports a definition source that could not be turned into a
// valid definition. Source names the origin: a file path for ParseFile, the
// format otherwise.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("procflow: parsing %s definition: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a definition from raw bytes, treating input that starts with
// a JSON delimiter as JSON and everything else as YAML.
func Parse(data []byte) (*definition.Definition, error) {
	if looksLikeJSON(data) {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML definition. Unknown fields are rejected so typos
// in a graph file fail loudly instead of silently dropping a condition.
func ParseYAML(data []byte) (*definition.Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file fileDefinition
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("definition is empty")
		}
		return nil, &ParseError{Source: "yaml", Err: err}
	}
	return finish(file, "yaml")
}

// ParseJSON decodes a JSON definition.
func ParseJSON(data []byte) (*definition.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Source: "json", Err: errors.New("definition is empty")}
	}

	var file fileDefinition
	if err := jsoncodec.Unmarshal(data, &file); err != nil {
		return nil, &ParseError{Source: "json", Err: err}
	}
	return finish(file, "json")
}

// ParseFile reads and decodes a definition file. The format follows the
// extension (.json, .yaml, .yml); anything else is decoded by content.
func ParseFile(path string) (*definition.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Source: path, Err: err}
	}

	var def *definition.Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		def, err = ParseJSON(data)
	case ".yaml", ".yml":
		def, err = ParseYAML(data)
	default:
		def, err = Parse(data)
	}
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return nil, &ParseError{Source: path, Err: parseErr.Err}
		}
		return nil, err
	}
	return def, nil
}

func finish(file fileDefinition, source string) (*definition.Definition, error) {
	def, err := file.build()
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	if err := def.Validate(); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	return def, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
