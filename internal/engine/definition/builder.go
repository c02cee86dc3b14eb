package definition

import (
	"time"

	"github.com/drblury/procflow/internal/engine/ids"
)

// Builder assembles a Definition programmatically. It performs no checking of
// its own: Build runs the full validation and returns everything wrong at
// once. Flows added without an explicit ID get a generated one so they can be
// referenced in logs and task records.
type Builder struct {
	def Definition
}

// NewBuilder starts a definition with the given ID and display name.
func NewBuilder(id, name string) *Builder {
	return &Builder{def: Definition{ID: id, Name: name}}
}

// Start adds the start node.
func (b *Builder) Start(id string) *Builder {
	return b.node(Node{ID: id, Kind: KindStart})
}

// End adds an end node.
func (b *Builder) End(id string) *Builder {
	return b.node(Node{ID: id, Kind: KindEnd})
}

// Task adds a task node bound to the named handler.
func (b *Builder) Task(id, name, handlerRef string) *Builder {
	return b.node(Node{ID: id, Name: name, Kind: KindTask, HandlerRef: handlerRef})
}

// TaskTimeout adds a task node with a per-node timeout override.
func (b *Builder) TaskTimeout(id, name, handlerRef string, timeout time.Duration) *Builder {
	return b.node(Node{ID: id, Name: name, Kind: KindTask, HandlerRef: handlerRef, Timeout: timeout})
}

// Exclusive adds an exclusive gateway.
func (b *Builder) Exclusive(id, name string) *Builder {
	return b.node(Node{ID: id, Name: name, Kind: KindGateway, Gateway: GatewayExclusive})
}

// Split adds a parallel split gateway.
func (b *Builder) Split(id, name string) *Builder {
	return b.node(Node{ID: id, Name: name, Kind: KindGateway, Gateway: GatewayParallelSplit})
}

// Join adds a parallel join gateway.
func (b *Builder) Join(id, name string) *Builder {
	return b.node(Node{ID: id, Name: name, Kind: KindGateway, Gateway: GatewayParallelJoin})
}

// Node adds an arbitrary node for shapes the helpers do not cover.
func (b *Builder) Node(n Node) *Builder {
	return b.node(n)
}

// Flow connects two nodes unconditionally.
func (b *Builder) Flow(source, target string) *Builder {
	return b.flow(Flow{Source: source, Target: target})
}

// FlowIf connects two nodes with a condition, for flows out of exclusive
// gateways. Declaration order is the evaluation order.
func (b *Builder) FlowIf(source, target string, cond Predicate) *Builder {
	return b.flow(Flow{Source: source, Target: target, Condition: cond})
}

// DefaultFlow marks the fallback flow out of an exclusive gateway.
func (b *Builder) DefaultFlow(source, target string) *Builder {
	return b.flow(Flow{Source: source, Target: target, Default: true})
}

// AddFlow adds an arbitrary flow for shapes the helpers do not cover.
func (b *Builder) AddFlow(f Flow) *Builder {
	return b.flow(f)
}

// Build validates the assembled definition and returns it.
func (b *Builder) Build() (*Definition, error) {
	def := b.def
	def.Nodes = append([]Node(nil), b.def.Nodes...)
	def.Flows = append([]Flow(nil), b.def.Flows...)
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// MustBuild is Build for tests and examples; it panics on validation errors.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

func (b *Builder) node(n Node) *Builder {
	b.def.Nodes = append(b.def.Nodes, n)
	return b
}

func (b *Builder) flow(f Flow) *Builder {
	if f.ID == "" {
		f.ID = ids.NewFlowID()
	}
	b.def.Flows = append(b.def.Flows, f)
	return b
}
