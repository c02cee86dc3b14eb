package loader

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drblury/procflow/internal/engine/condition"
	"github.com/drblury/procflow/internal/engine/definition"
	"github.com/drblury/procflow/internal/engine/ids"
)

// fileDefinition is the on-disk shape of a definition. It is deliberately
// separate from definition.Definition so the file format can stay stable
// while the in-memory model evolves.
type fileDefinition struct {
	ID    string     `json:"id" yaml:"id"`
	Name  string     `json:"name" yaml:"name"`
	Start string     `json:"start" yaml:"start"`
	Nodes []fileNode `json:"nodes" yaml:"nodes"`
	Flows []fileFlow `json:"flows" yaml:"flows"`
}

type fileNode struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Kind    string `json:"kind" yaml:"kind"`
	Gateway string `json:"gateway" yaml:"gateway"`
	Handler string `json:"handler" yaml:"handler"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type fileFlow struct {
	ID      string         `json:"id" yaml:"id"`
	From    string         `json:"from" yaml:"from"`
	To      string         `json:"to" yaml:"to"`
	Default bool           `json:"default" yaml:"default"`
	When    *fileCondition `json:"when" yaml:"when"`
}

// fileCondition carries exactly one of Path or Script. Equals narrows a Path
// condition from "truthy" to an equality check and is invalid with Script.
type fileCondition struct {
	Path   string `json:"path" yaml:"path"`
	Equals any    `json:"equals" yaml:"equals"`
	Script string `json:"script" yaml:"script"`
}

func (f fileDefinition) build() (*definition.Definition, error) {
	if strings.TrimSpace(f.ID) == "" {
		return nil, errors.New("definition id is required")
	}
	if len(f.Nodes) == 0 {
		return nil, errors.New("definition has no nodes")
	}

	def := &definition.Definition{
		ID:          f.ID,
		Name:        f.Name,
		StartNodeID: f.Start,
		Nodes:       make([]definition.Node, 0, len(f.Nodes)),
		Flows:       make([]definition.Flow, 0, len(f.Flows)),
	}
	for i, n := range f.Nodes {
		node, err := n.build(i)
		if err != nil {
			return nil, err
		}
		def.Nodes = append(def.Nodes, node)
	}
	for i, fl := range f.Flows {
		flow, err := fl.build(i)
		if err != nil {
			return nil, err
		}
		def.Flows = append(def.Flows, flow)
	}
	return def, nil
}

func (n fileNode) build(idx int) (definition.Node, error) {
	if strings.TrimSpace(n.ID) == "" {
		return definition.Node{}, fmt.Errorf("nodes[%d]: id is required", idx)
	}

	node := definition.Node{ID: n.ID, Name: n.Name}
	switch strings.ToLower(n.Kind) {
	case "start":
		node.Kind = definition.KindStart
	case "end":
		node.Kind = definition.KindEnd
	case "task":
		node.Kind = definition.KindTask
		if strings.TrimSpace(n.Handler) == "" {
			return definition.Node{}, fmt.Errorf("node %q: task requires a handler", n.ID)
		}
		node.HandlerRef = n.Handler
		if n.Timeout != "" {
			timeout, err := time.ParseDuration(n.Timeout)
			if err != nil {
				return definition.Node{}, fmt.Errorf("node %q: invalid timeout: %w", n.ID, err)
			}
			if timeout < 0 {
				return definition.Node{}, fmt.Errorf("node %q: timeout can not be negative", n.ID)
			}
			node.Timeout = timeout
		}
	case "gateway":
		node.Kind = definition.KindGateway
		gateway, err := gatewayKind(n.Gateway)
		if err != nil {
			return definition.Node{}, fmt.Errorf("node %q: %w", n.ID, err)
		}
		node.Gateway = gateway
	case "":
		return definition.Node{}, fmt.Errorf("node %q: kind is required", n.ID)
	default:
		return definition.Node{}, fmt.Errorf("node %q: unknown kind %q (want start, end, task or gateway)", n.ID, n.Kind)
	}

	if node.Kind != definition.KindTask {
		if n.Handler != "" {
			return definition.Node{}, fmt.Errorf("node %q: handler is only valid on task nodes", n.ID)
		}
		if n.Timeout != "" {
			return definition.Node{}, fmt.Errorf("node %q: timeout is only valid on task nodes", n.ID)
		}
	}
	if node.Kind != definition.KindGateway && n.Gateway != "" {
		return definition.Node{}, fmt.Errorf("node %q: gateway is only valid on gateway nodes", n.ID)
	}
	return node, nil
}

func gatewayKind(kind string) (definition.GatewayKind, error) {
	switch strings.ToLower(kind) {
	case "exclusive":
		return definition.GatewayExclusive, nil
	case "split", "parallel_split":
		return definition.GatewayParallelSplit, nil
	case "join", "parallel_join":
		return definition.GatewayParallelJoin, nil
	case "":
		return "", errors.New("gateway kind is required (exclusive, split or join)")
	default:
		return "", fmt.Errorf("unknown gateway kind %q (want exclusive, split or join)", kind)
	}
}

func (f fileFlow) build(idx int) (definition.Flow, error) {
	label := f.ID
	if label == "" {
		label = fmt.Sprintf("flows[%d]", idx)
	}
	if strings.TrimSpace(f.From) == "" || strings.TrimSpace(f.To) == "" {
		return definition.Flow{}, fmt.Errorf("%s: from and to are required", label)
	}

	flow := definition.Flow{
		ID:      f.ID,
		Source:  f.From,
		Target:  f.To,
		Default: f.Default,
	}
	if flow.ID == "" {
		flow.ID = ids.NewFlowID()
	}
	if f.When != nil {
		cond, err := f.When.build()
		if err != nil {
			return definition.Flow{}, fmt.Errorf("%s: %w", label, err)
		}
		flow.Condition = cond
	}
	return flow, nil
}

func (c fileCondition) build() (definition.Predicate, error) {
	hasPath := strings.TrimSpace(c.Path) != ""
	hasScript := strings.TrimSpace(c.Script) != ""
	switch {
	case hasPath && hasScript:
		return nil, errors.New("condition takes either path or script, not both")
	case hasScript:
		if c.Equals != nil {
			return nil, errors.New("equals is only valid together with path")
		}
		return condition.Expr(c.Script), nil
	case hasPath:
		if c.Equals != nil {
			return condition.PathEquals(c.Path, c.Equals), nil
		}
		return condition.Path(c.Path), nil
	default:
		return nil, errors.New("condition requires a path or a script")
	}
}
