package definition

import (
	"fmt"
	"strings"
)

// IssueCode identifies a class of validation problem.
type IssueCode string

const (
	IssueMissingNodeID      IssueCode = "missing_node_id"
	IssueDuplicateNode      IssueCode = "duplicate_node"
	IssueBadNodeKind        IssueCode = "bad_node_kind"
	IssueBadGatewayKind     IssueCode = "bad_gateway_kind"
	IssueMissingHandler     IssueCode = "missing_handler"
	IssueNoStart            IssueCode = "no_start"
	IssueMultipleStart      IssueCode = "multiple_start"
	IssueBadStartRef        IssueCode = "bad_start_ref"
	IssueStartHasIncoming   IssueCode = "start_has_incoming"
	IssueNoEnd              IssueCode = "no_end"
	IssueUnknownNode        IssueCode = "unknown_node"
	IssueDuplicateFlow      IssueCode = "duplicate_flow"
	IssueUnreachableNode    IssueCode = "unreachable_node"
	IssueMisplacedCondition IssueCode = "misplaced_condition"
	IssueMisplacedDefault   IssueCode = "misplaced_default"
	IssueDuplicateDefault   IssueCode = "duplicate_default"
	IssueMissingDefault     IssueCode = "missing_default"
	IssueBadCondition       IssueCode = "bad_condition"
	IssueUnmatchedJoin      IssueCode = "unmatched_join"
)

// Issue is a single validation finding. NodeID or FlowID is set depending on
// what the issue refers to.
type Issue struct {
	Code    IssueCode `json:"code"`
	NodeID  string    `json:"node_id,omitempty"`
	FlowID  string    `json:"flow_id,omitempty"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("[%s] node %q: %s", i.Code, i.NodeID, i.Message)
	case i.FlowID != "":
		return fmt.Sprintf("[%s] flow %q: %s", i.Code, i.FlowID, i.Message)
	default:
		return fmt.Sprintf("[%s] %s", i.Code, i.Message)
	}
}

// ValidationError aggregates every issue found in a definition so callers see
// the full set at once instead of fixing one problem per run.
type ValidationError struct {
	DefinitionID string
	Issues       []Issue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "procflow: definition %q is invalid (%d issues)", e.DefinitionID, len(e.Issues))
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue.String())
	}
	return b.String()
}

// Validate checks the structural integrity of a definition and returns a
// *ValidationError carrying all discovered issues, or nil when the definition
// is sound. Issue order is deterministic: it follows node and flow declaration
// order, grouped by check.
func Validate(def *Definition) error {
	if def == nil {
		return &ValidationError{Issues: []Issue{{
			Code:    IssueNoStart,
			Message: "definition is nil",
		}}}
	}

	v := &validator{def: def}
	v.checkNodes()
	v.checkStart()
	v.checkFlows()
	v.checkExclusiveGateways()
	v.checkReachability()
	v.checkJoins()

	if len(v.issues) == 0 {
		return nil
	}
	return &ValidationError{DefinitionID: def.ID, Issues: v.issues}
}

// Validate reports all structural issues in the definition.
func (d *Definition) Validate() error { return Validate(d) }

type validator struct {
	def    *Definition
	issues []Issue

	nodeByID map[string]Node
	startID  string
}

func (v *validator) add(code IssueCode, nodeID, flowID, format string, args ...any) {
	v.issues = append(v.issues, Issue{
		Code:    code,
		NodeID:  nodeID,
		FlowID:  flowID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) checkNodes() {
	v.nodeByID = make(map[string]Node, len(v.def.Nodes))

	for _, n := range v.def.Nodes {
		if n.ID == "" {
			v.add(IssueMissingNodeID, "", "", "node of kind %q has no ID", n.Kind)
			continue
		}
		if _, seen := v.nodeByID[n.ID]; seen {
			v.add(IssueDuplicateNode, n.ID, "", "node ID declared more than once")
			continue
		}
		v.nodeByID[n.ID] = n

		switch n.Kind {
		case KindStart, KindEnd:
		case KindTask:
			if n.HandlerRef == "" {
				v.add(IssueMissingHandler, n.ID, "", "task node has no handler ref")
			}
		case KindGateway:
			switch n.Gateway {
			case GatewayExclusive, GatewayParallelSplit, GatewayParallelJoin:
			default:
				v.add(IssueBadGatewayKind, n.ID, "", "unknown gateway kind %q", n.Gateway)
			}
		default:
			v.add(IssueBadNodeKind, n.ID, "", "unknown node kind %q", n.Kind)
		}
	}
}

func (v *validator) checkStart() {
	var starts []string
	for _, n := range v.def.Nodes {
		if n.ID != "" && n.Kind == KindStart {
			starts = append(starts, n.ID)
		}
	}

	switch len(starts) {
	case 0:
		v.add(IssueNoStart, "", "", "definition has no start node")
	case 1:
		v.startID = starts[0]
	default:
		for _, id := range starts[1:] {
			v.add(IssueMultipleStart, id, "", "definition already has start node %q", starts[0])
		}
		v.startID = starts[0]
	}

	if ref := v.def.StartNodeID; ref != "" {
		n, ok := v.nodeByID[ref]
		switch {
		case !ok:
			v.add(IssueBadStartRef, ref, "", "start node ref does not exist")
		case n.Kind != KindStart:
			v.add(IssueBadStartRef, ref, "", "start node ref points at a %q node", n.Kind)
		default:
			v.startID = ref
		}
	}

	var ends int
	for _, n := range v.def.Nodes {
		if n.Kind == KindEnd {
			ends++
		}
	}
	if ends == 0 {
		v.add(IssueNoEnd, "", "", "definition has no end node")
	}
}

func (v *validator) checkFlows() {
	seenIDs := make(map[string]bool, len(v.def.Flows))

	for i, f := range v.def.Flows {
		label := flowLabel(f, i)

		if f.ID != "" {
			if seenIDs[f.ID] {
				v.add(IssueDuplicateFlow, "", f.ID, "flow ID declared more than once")
			}
			seenIDs[f.ID] = true
		}

		src, srcOK := v.nodeByID[f.Source]
		if !srcOK {
			v.add(IssueUnknownNode, "", label, "source node %q does not exist", f.Source)
		}
		if _, ok := v.nodeByID[f.Target]; !ok {
			v.add(IssueUnknownNode, "", label, "target node %q does not exist", f.Target)
		}

		if f.Target == v.startID && v.startID != "" {
			v.add(IssueStartHasIncoming, "", label, "start node %q cannot have incoming flows", f.Target)
		}

		exclusiveSource := srcOK && src.Kind == KindGateway && src.Gateway == GatewayExclusive
		if f.Condition != nil && !exclusiveSource {
			v.add(IssueMisplacedCondition, "", label, "conditions are only evaluated on flows out of exclusive gateways")
		}
		if f.Default && !exclusiveSource {
			v.add(IssueMisplacedDefault, "", label, "default only applies to flows out of exclusive gateways")
		}

		if f.Condition != nil {
			if checker, ok := f.Condition.(Validator); ok {
				if err := checker.Validate(); err != nil {
					v.add(IssueBadCondition, "", label, "condition does not validate: %v", err)
				}
			}
		}
	}
}

func (v *validator) checkExclusiveGateways() {
	for _, n := range v.def.Nodes {
		if n.Kind != KindGateway || n.Gateway != GatewayExclusive {
			continue
		}

		var (
			outgoing      int
			defaults      int
			unconditioned int
		)
		for i, f := range v.def.Flows {
			if f.Source != n.ID {
				continue
			}
			outgoing++
			if f.Default {
				defaults++
				if defaults > 1 {
					v.add(IssueDuplicateDefault, "", flowLabel(f, i), "exclusive gateway %q already has a default flow", n.ID)
				}
				continue
			}
			if f.Condition == nil {
				unconditioned++
			}
		}

		if outgoing > 1 && defaults == 0 && unconditioned > 0 {
			v.add(IssueMissingDefault, n.ID, "",
				"%d outgoing flows have no condition and no default flow exists", unconditioned)
		}
	}
}

func (v *validator) checkReachability() {
	if v.startID == "" {
		return
	}

	reached := map[string]bool{v.startID: true}
	frontier := []string{v.startID}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, f := range v.def.Flows {
			if f.Source != current || reached[f.Target] {
				continue
			}
			if _, ok := v.nodeByID[f.Target]; !ok {
				continue
			}
			reached[f.Target] = true
			frontier = append(frontier, f.Target)
		}
	}

	reported := make(map[string]bool)
	for _, n := range v.def.Nodes {
		if n.ID == "" || reached[n.ID] || reported[n.ID] {
			continue
		}
		reported[n.ID] = true
		v.add(IssueUnreachableNode, n.ID, "", "node is not reachable from start node %q", v.startID)
	}
}

// checkJoins verifies every parallel join can actually fire: it needs at least
// two incoming flows, and those flows must trace back (directly or through
// intermediate nodes) to distinct branches of one parallel split. Without a
// matching split the join would wait forever on branches that are mutually
// exclusive or simply absent.
func (v *validator) checkJoins() {
	for _, n := range v.def.Nodes {
		if n.Kind != KindGateway || n.Gateway != GatewayParallelJoin {
			continue
		}

		var incoming []int
		for i, f := range v.def.Flows {
			if f.Target == n.ID {
				incoming = append(incoming, i)
			}
		}

		if len(incoming) < 2 {
			v.add(IssueUnmatchedJoin, n.ID, "", "parallel join needs at least 2 incoming flows, has %d", len(incoming))
			continue
		}

		if !v.joinHasMatchingSplit(incoming) {
			v.add(IssueUnmatchedJoin, n.ID, "", "incoming flows do not trace back to distinct branches of one parallel split")
		}
	}
}

// joinHasMatchingSplit reports whether at least two of the given incoming
// flows reach back to different outgoing flows of the same parallel split.
func (v *validator) joinHasMatchingSplit(incoming []int) bool {
	// branches[splitID] holds, per incoming flow, the set of split-outgoing
	// flow positions reachable backwards from it.
	branches := make(map[string][]map[int]bool)

	for _, flowIdx := range incoming {
		found := v.traceToSplits(flowIdx)
		for splitID, exits := range found {
			branches[splitID] = append(branches[splitID], exits)
		}
	}

	for _, perFlow := range branches {
		if len(perFlow) < 2 {
			continue
		}
		// Two incoming flows can represent distinct branches unless every
		// backward path funnels through the same single split exit.
		union := make(map[int]bool)
		for _, exits := range perFlow {
			for e := range exits {
				union[e] = true
			}
		}
		if len(union) >= 2 {
			return true
		}
	}
	return false
}

// traceToSplits walks backwards from a flow and returns, per parallel split
// encountered, the set of that split's outgoing flow positions the walk passed
// through. The walk continues past splits so nested split/join pairs resolve
// to the outermost candidates too; visited flows guard against cycles.
func (v *validator) traceToSplits(startFlow int) map[string]map[int]bool {
	result := make(map[string]map[int]bool)
	visited := map[int]bool{startFlow: true}
	frontier := []int{startFlow}

	for len(frontier) > 0 {
		idx := frontier[0]
		frontier = frontier[1:]
		f := v.def.Flows[idx]

		src, ok := v.nodeByID[f.Source]
		if !ok {
			continue
		}
		if src.Kind == KindGateway && src.Gateway == GatewayParallelSplit {
			if result[src.ID] == nil {
				result[src.ID] = make(map[int]bool)
			}
			result[src.ID][idx] = true
		}

		for i, upstream := range v.def.Flows {
			if upstream.Target == f.Source && !visited[i] {
				visited[i] = true
				frontier = append(frontier, i)
			}
		}
	}
	return result
}

func flowLabel(f Flow, idx int) string {
	if f.ID != "" {
		return f.ID
	}
	return fmt.Sprintf("flow-%d", idx)
}
