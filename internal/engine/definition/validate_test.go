package definition

import (
	"errors"
	"strings"
	"testing"
)

type truePredicate struct{}

func (truePredicate) Evaluate(map[string]any) (bool, error) { return true, nil }

type brokenPredicate struct{}

func (brokenPredicate) Evaluate(map[string]any) (bool, error) { return false, nil }
func (brokenPredicate) Validate() error                       { return errors.New("expression does not compile") }

func sequentialDefinition() *Definition {
	return &Definition{
		ID: "sequential",
		Nodes: []Node{
			{ID: "start", Kind: KindStart},
			{ID: "work", Kind: KindTask, HandlerRef: "worker"},
			{ID: "end", Kind: KindEnd},
		},
		Flows: []Flow{
			{ID: "f1", Source: "start", Target: "work"},
			{ID: "f2", Source: "work", Target: "end"},
		},
	}
}

func TestValidateAcceptsSoundDefinition(t *testing.T) {
	if err := Validate(sequentialDefinition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAcceptsGatewayDefinition(t *testing.T) {
	def := &Definition{
		ID: "branching",
		Nodes: []Node{
			{ID: "start", Kind: KindStart},
			{ID: "decide", Kind: KindGateway, Gateway: GatewayExclusive},
			{ID: "a", Kind: KindTask, HandlerRef: "a"},
			{ID: "b", Kind: KindTask, HandlerRef: "b"},
			{ID: "end", Kind: KindEnd},
		},
		Flows: []Flow{
			{ID: "f1", Source: "start", Target: "decide"},
			{ID: "f2", Source: "decide", Target: "a", Condition: truePredicate{}},
			{ID: "f3", Source: "decide", Target: "b", Default: true},
			{ID: "f4", Source: "a", Target: "end"},
			{ID: "f5", Source: "b", Target: "end"},
		},
	}
	if err := Validate(def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAcceptsSplitJoinDefinition(t *testing.T) {
	if err := Validate(splitJoinDefinition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func splitJoinDefinition() *Definition {
	return &Definition{
		ID: "parallel",
		Nodes: []Node{
			{ID: "start", Kind: KindStart},
			{ID: "split", Kind: KindGateway, Gateway: GatewayParallelSplit},
			{ID: "d", Kind: KindTask, HandlerRef: "d"},
			{ID: "e", Kind: KindTask, HandlerRef: "e"},
			{ID: "join", Kind: KindGateway, Gateway: GatewayParallelJoin},
			{ID: "end", Kind: KindEnd},
		},
		Flows: []Flow{
			{ID: "f1", Source: "start", Target: "split"},
			{ID: "f2", Source: "split", Target: "d"},
			{ID: "f3", Source: "split", Target: "e"},
			{ID: "f4", Source: "d", Target: "join"},
			{ID: "f5", Source: "e", Target: "join"},
			{ID: "f6", Source: "join", Target: "end"},
		},
	}
}

func TestValidateNodeIssues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		code    IssueCode
		subject string
	}{
		{
			name: "duplicate node",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "work", Kind: KindTask, HandlerRef: "worker"})
			},
			code:    IssueDuplicateNode,
			subject: "work",
		},
		{
			name: "missing node id",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{Kind: KindTask, HandlerRef: "worker"})
			},
			code: IssueMissingNodeID,
		},
		{
			name: "unknown node kind",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "weird", Kind: NodeKind("banana")})
			},
			code:    IssueBadNodeKind,
			subject: "weird",
		},
		{
			name: "unknown gateway kind",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "gw", Kind: KindGateway, Gateway: GatewayKind("inclusive")})
			},
			code:    IssueBadGatewayKind,
			subject: "gw",
		},
		{
			name: "task without handler",
			mutate: func(d *Definition) {
				d.Nodes[1].HandlerRef = ""
			},
			code:    IssueMissingHandler,
			subject: "work",
		},
		{
			name: "no start",
			mutate: func(d *Definition) {
				d.Nodes = d.Nodes[1:]
				d.Flows = d.Flows[1:]
			},
			code: IssueNoStart,
		},
		{
			name: "multiple starts",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "start2", Kind: KindStart})
				d.Flows = append(d.Flows, Flow{ID: "fx", Source: "start2", Target: "work"})
			},
			code:    IssueMultipleStart,
			subject: "start2",
		},
		{
			name: "bad start ref",
			mutate: func(d *Definition) {
				d.StartNodeID = "nope"
			},
			code:    IssueBadStartRef,
			subject: "nope",
		},
		{
			name: "start ref points at task",
			mutate: func(d *Definition) {
				d.StartNodeID = "work"
			},
			code:    IssueBadStartRef,
			subject: "work",
		},
		{
			name: "no end",
			mutate: func(d *Definition) {
				d.Nodes = d.Nodes[:2]
				d.Flows = d.Flows[:1]
			},
			code: IssueNoEnd,
		},
		{
			name: "unreachable node",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "island", Kind: KindTask, HandlerRef: "worker"})
			},
			code:    IssueUnreachableNode,
			subject: "island",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := sequentialDefinition()
			tt.mutate(def)
			assertIssue(t, Validate(def), tt.code, tt.subject)
		})
	}
}

func TestValidateFlowIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
		code   IssueCode
	}{
		{
			name: "unknown source",
			mutate: func(d *Definition) {
				d.Flows = append(d.Flows, Flow{ID: "fx", Source: "ghost", Target: "end"})
			},
			code: IssueUnknownNode,
		},
		{
			name: "unknown target",
			mutate: func(d *Definition) {
				d.Flows = append(d.Flows, Flow{ID: "fx", Source: "work", Target: "ghost"})
			},
			code: IssueUnknownNode,
		},
		{
			name: "duplicate flow id",
			mutate: func(d *Definition) {
				d.Flows = append(d.Flows, Flow{ID: "f1", Source: "work", Target: "end"})
			},
			code: IssueDuplicateFlow,
		},
		{
			name: "flow into start",
			mutate: func(d *Definition) {
				d.Flows = append(d.Flows, Flow{ID: "fx", Source: "work", Target: "start"})
			},
			code: IssueStartHasIncoming,
		},
		{
			name: "condition outside exclusive gateway",
			mutate: func(d *Definition) {
				d.Flows[1].Condition = truePredicate{}
			},
			code: IssueMisplacedCondition,
		},
		{
			name: "default outside exclusive gateway",
			mutate: func(d *Definition) {
				d.Flows[1].Default = true
			},
			code: IssueMisplacedDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := sequentialDefinition()
			tt.mutate(def)
			assertIssue(t, Validate(def), tt.code, "")
		})
	}
}

func TestValidateExclusiveGatewayIssues(t *testing.T) {
	base := func() *Definition {
		return &Definition{
			ID: "branching",
			Nodes: []Node{
				{ID: "start", Kind: KindStart},
				{ID: "decide", Kind: KindGateway, Gateway: GatewayExclusive},
				{ID: "a", Kind: KindTask, HandlerRef: "a"},
				{ID: "b", Kind: KindTask, HandlerRef: "b"},
				{ID: "end", Kind: KindEnd},
			},
			Flows: []Flow{
				{ID: "f1", Source: "start", Target: "decide"},
				{ID: "f2", Source: "decide", Target: "a", Condition: truePredicate{}},
				{ID: "f3", Source: "decide", Target: "b", Default: true},
				{ID: "f4", Source: "a", Target: "end"},
				{ID: "f5", Source: "b", Target: "end"},
			},
		}
	}

	t.Run("two defaults", func(t *testing.T) {
		def := base()
		def.Flows[1].Condition = nil
		def.Flows[1].Default = true
		assertIssue(t, Validate(def), IssueDuplicateDefault, "")
	})

	t.Run("unconditioned flow without default", func(t *testing.T) {
		def := base()
		def.Flows[1].Condition = nil
		def.Flows[2].Default = false
		def.Flows[2].Condition = truePredicate{}
		assertIssue(t, Validate(def), IssueMissingDefault, "decide")
	})

	t.Run("all conditioned without default is fine", func(t *testing.T) {
		def := base()
		def.Flows[2].Default = false
		def.Flows[2].Condition = truePredicate{}
		if err := Validate(def); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("condition that fails static validation", func(t *testing.T) {
		def := base()
		def.Flows[1].Condition = brokenPredicate{}
		assertIssue(t, Validate(def), IssueBadCondition, "")
	})
}

func TestValidateJoinIssues(t *testing.T) {
	t.Run("join with one incoming flow", func(t *testing.T) {
		def := splitJoinDefinition()
		def.Flows = append(def.Flows[:4], def.Flows[5:]...) // drop e->join
		def.Flows = append(def.Flows, Flow{ID: "f7", Source: "e", Target: "end"})
		assertIssue(t, Validate(def), IssueUnmatchedJoin, "join")
	})

	t.Run("join fed by exclusive gateway", func(t *testing.T) {
		def := &Definition{
			ID: "exclusive-into-join",
			Nodes: []Node{
				{ID: "start", Kind: KindStart},
				{ID: "decide", Kind: KindGateway, Gateway: GatewayExclusive},
				{ID: "a", Kind: KindTask, HandlerRef: "a"},
				{ID: "b", Kind: KindTask, HandlerRef: "b"},
				{ID: "join", Kind: KindGateway, Gateway: GatewayParallelJoin},
				{ID: "end", Kind: KindEnd},
			},
			Flows: []Flow{
				{ID: "f1", Source: "start", Target: "decide"},
				{ID: "f2", Source: "decide", Target: "a", Condition: truePredicate{}},
				{ID: "f3", Source: "decide", Target: "b", Default: true},
				{ID: "f4", Source: "a", Target: "join"},
				{ID: "f5", Source: "b", Target: "join"},
				{ID: "f6", Source: "join", Target: "end"},
			},
		}
		assertIssue(t, Validate(def), IssueUnmatchedJoin, "join")
	})

	t.Run("nested splits resolve", func(t *testing.T) {
		def := &Definition{
			ID: "nested",
			Nodes: []Node{
				{ID: "start", Kind: KindStart},
				{ID: "outer", Kind: KindGateway, Gateway: GatewayParallelSplit},
				{ID: "inner", Kind: KindGateway, Gateway: GatewayParallelSplit},
				{ID: "a", Kind: KindTask, HandlerRef: "a"},
				{ID: "b", Kind: KindTask, HandlerRef: "b"},
				{ID: "c", Kind: KindTask, HandlerRef: "c"},
				{ID: "innerJoin", Kind: KindGateway, Gateway: GatewayParallelJoin},
				{ID: "outerJoin", Kind: KindGateway, Gateway: GatewayParallelJoin},
				{ID: "end", Kind: KindEnd},
			},
			Flows: []Flow{
				{ID: "f1", Source: "start", Target: "outer"},
				{ID: "f2", Source: "outer", Target: "inner"},
				{ID: "f3", Source: "outer", Target: "c"},
				{ID: "f4", Source: "inner", Target: "a"},
				{ID: "f5", Source: "inner", Target: "b"},
				{ID: "f6", Source: "a", Target: "innerJoin"},
				{ID: "f7", Source: "b", Target: "innerJoin"},
				{ID: "f8", Source: "innerJoin", Target: "outerJoin"},
				{ID: "f9", Source: "c", Target: "outerJoin"},
				{ID: "f10", Source: "outerJoin", Target: "end"},
			},
		}
		if err := Validate(def); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateAggregatesAllIssues(t *testing.T) {
	def := &Definition{
		ID: "broken",
		Nodes: []Node{
			{ID: "work", Kind: KindTask},
			{ID: "work", Kind: KindTask, HandlerRef: "worker"},
		},
		Flows: []Flow{
			{ID: "f1", Source: "work", Target: "ghost"},
		},
	}

	err := Validate(def)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	wantCodes := []IssueCode{IssueMissingHandler, IssueDuplicateNode, IssueNoStart, IssueNoEnd, IssueUnknownNode}
	for _, code := range wantCodes {
		if !containsCode(verr, code) {
			t.Errorf("expected issue %q in %v", code, verr.Issues)
		}
	}
	if !strings.Contains(verr.Error(), "broken") {
		t.Errorf("error message should name the definition, got %q", verr.Error())
	}
}

func TestValidateNilDefinition(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("expected error for nil definition")
	}
}

func assertIssue(t *testing.T, err error, code IssueCode, subject string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected issue %q, got no error", code)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	for _, issue := range verr.Issues {
		if issue.Code != code {
			continue
		}
		if subject == "" || issue.NodeID == subject || issue.FlowID == subject {
			return
		}
	}
	t.Fatalf("expected issue %q (subject %q) in %v", code, subject, verr.Issues)
}

func containsCode(verr *ValidationError, code IssueCode) bool {
	for _, issue := range verr.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}
