// Package definition holds the static process graph: nodes, flows and the
// validation that makes a graph safe to execute. A Definition is validated
// once, compiled into a Graph and then shared read-only across any number of
// concurrently running instances.
package definition

import (
	"fmt"
	"time"
)

// NodeKind classifies a node in the process graph.
type NodeKind string

const (
	KindStart   NodeKind = "start"
	KindEnd     NodeKind = "end"
	KindTask    NodeKind = "task"
	KindGateway NodeKind = "gateway"
)

// GatewayKind selects the routing behavior of a gateway node.
type GatewayKind string

const (
	// GatewayExclusive activates exactly one outgoing flow: conditions are
	// evaluated in declared flow order and the first true one wins, falling
	// back to the default flow.
	GatewayExclusive GatewayKind = "exclusive"

	// GatewayParallelSplit activates every outgoing flow.
	GatewayParallelSplit GatewayKind = "parallel_split"

	// GatewayParallelJoin waits for all incoming flows before activating its
	// outgoing flows; it fires exactly once per instance.
	GatewayParallelJoin GatewayKind = "parallel_join"
)

// Predicate decides whether a conditional flow out of an exclusive gateway is
// taken. Evaluate receives a read-only copy of the instance data context.
type Predicate interface {
	Evaluate(data map[string]any) (bool, error)
}

// Validator is optionally implemented by predicates that can check themselves
// statically, for example by compiling an expression. Definition validation
// calls it so broken conditions fail before any instance runs.
type Validator interface {
	Validate() error
}

// Node is a single vertex of the process graph.
type Node struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Kind NodeKind `json:"kind"`

	// Gateway is required when Kind is KindGateway and ignored otherwise.
	Gateway GatewayKind `json:"gateway,omitempty"`

	// HandlerRef names the registered handler executed for a task node.
	HandlerRef string `json:"handler_ref,omitempty"`

	// Timeout overrides the engine's default task timeout for this node.
	// Zero means no override.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Flow is a directed edge between two nodes. Declaration order matters: it is
// the evaluation order at exclusive gateways.
type Flow struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`

	// Condition guards flows out of exclusive gateways. Nil means the flow has
	// no condition of its own.
	Condition Predicate `json:"-"`

	// Default marks the fallback flow of an exclusive gateway, taken when no
	// condition matched.
	Default bool `json:"default,omitempty"`
}

// Definition is the immutable description of a process. After Validate has
// accepted it the definition must not be mutated; the engine shares it across
// concurrent instances without copying.
type Definition struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Flows []Flow `json:"flows"`

	// StartNodeID optionally names the start node. Empty means the single
	// node of KindStart is used.
	StartNodeID string `json:"start_node_id,omitempty"`
}

// Graph is the compiled, lookup-friendly view of a validated Definition. All
// maps are built once by Compile and never mutated afterwards.
type Graph struct {
	def      *Definition
	nodes    map[string]Node
	outgoing map[string][]Flow
	incoming map[string][]Flow
	startID  string
	endIDs   []string
}

// Compile validates def and builds its Graph. Flows declared without an ID are
// given a positional one ("flow-<n>") in the compiled view so task records and
// logs can always name the edge they refer to.
func Compile(def *Definition) (*Graph, error) {
	if def == nil {
		return nil, fmt.Errorf("procflow: cannot compile a nil definition")
	}
	if err := Validate(def); err != nil {
		return nil, err
	}

	g := &Graph{
		def:      def,
		nodes:    make(map[string]Node, len(def.Nodes)),
		outgoing: make(map[string][]Flow),
		incoming: make(map[string][]Flow),
	}

	for _, n := range def.Nodes {
		g.nodes[n.ID] = n
		if n.Kind == KindStart {
			g.startID = n.ID
		}
		if n.Kind == KindEnd {
			g.endIDs = append(g.endIDs, n.ID)
		}
	}
	if def.StartNodeID != "" {
		g.startID = def.StartNodeID
	}

	for i, f := range def.Flows {
		if f.ID == "" {
			f.ID = fmt.Sprintf("flow-%d", i)
		}
		g.outgoing[f.Source] = append(g.outgoing[f.Source], f)
		g.incoming[f.Target] = append(g.incoming[f.Target], f)
	}

	return g, nil
}

// Definition returns the underlying definition.
func (g *Graph) Definition() *Definition { return g.def }

// Start returns the start node.
func (g *Graph) Start() Node { return g.nodes[g.startID] }

// Node looks up a node by ID.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the flows leaving a node in declared order.
func (g *Graph) Outgoing(id string) []Flow { return g.outgoing[id] }

// Incoming returns the flows entering a node in declared order.
func (g *Graph) Incoming(id string) []Flow { return g.incoming[id] }

// NodeIDs returns all node IDs in declaration order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.def.Nodes))
	for _, n := range g.def.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// EndIDs returns the IDs of all end nodes.
func (g *Graph) EndIDs() []string { return g.endIDs }
