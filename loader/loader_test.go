package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/internal/engine/definition"
)

const orderYAML = `
id: order-fulfilment
name: Order fulfilment
nodes:
  - id: start
    kind: start
  - id: reserve
    kind: task
    name: Reserve stock
    handler: inventory.reserve
    timeout: 30s
  - id: route
    kind: gateway
    gateway: exclusive
  - id: ship
    kind: task
    handler: shipping.dispatch
  - id: refund
    kind: task
    handler: billing.refund
  - id: done
    kind: end
flows:
  - id: f1
    from: start
    to: reserve
  - from: reserve
    to: route
  - from: route
    to: ship
    when:
      path: $.order.paid
      equals: true
  - from: route
    to: refund
    when:
      script: $.order.total > 100
  - from: route
    to: refund
    default: true
  - from: ship
    to: done
  - from: refund
    to: done
`

const greeterJSON = `{
  "id": "greeter",
  "start": "start",
  "nodes": [
    {"id": "start", "kind": "start"},
    {"id": "hello", "kind": "task", "handler": "demo.hello"},
    {"id": "end", "kind": "end"}
  ],
  "flows": [
    {"from": "start", "to": "hello"},
    {"from": "hello", "to": "end"}
  ]
}`

func findNode(t *testing.T, def *definition.Definition, id string) definition.Node {
	t.Helper()
	for _, n := range def.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %q not found in definition %q", id, def.ID)
	return definition.Node{}
}

func TestParseYAMLFullGraph(t *testing.T) {
	def, err := ParseYAML([]byte(orderYAML))
	require.NoError(t, err)

	assert.Equal(t, "order-fulfilment", def.ID)
	assert.Equal(t, "Order fulfilment", def.Name)
	assert.Empty(t, def.StartNodeID)
	require.Len(t, def.Nodes, 6)
	require.Len(t, def.Flows, 7)

	reserve := findNode(t, def, "reserve")
	assert.Equal(t, definition.KindTask, reserve.Kind)
	assert.Equal(t, "Reserve stock", reserve.Name)
	assert.Equal(t, "inventory.reserve", reserve.HandlerRef)
	assert.Equal(t, 30*time.Second, reserve.Timeout)

	route := findNode(t, def, "route")
	assert.Equal(t, definition.KindGateway, route.Kind)
	assert.Equal(t, definition.GatewayExclusive, route.Gateway)

	ship := findNode(t, def, "ship")
	assert.Zero(t, ship.Timeout)

	assert.Equal(t, "f1", def.Flows[0].ID)
	assert.Equal(t, "start", def.Flows[0].Source)
	assert.Equal(t, "reserve", def.Flows[0].Target)

	require.NotNil(t, def.Flows[2].Condition)
	require.NotNil(t, def.Flows[3].Condition)
	assert.Nil(t, def.Flows[4].Condition)
	assert.True(t, def.Flows[4].Default)
	assert.False(t, def.Flows[3].Default)
}

func TestParsedConditionsEvaluate(t *testing.T) {
	def, err := ParseYAML([]byte(orderYAML))
	require.NoError(t, err)

	paid := def.Flows[2].Condition
	ok, err := paid.Evaluate(map[string]any{"order": map[string]any{"paid": true}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = paid.Evaluate(map[string]any{"order": map[string]any{"paid": false}})
	require.NoError(t, err)
	assert.False(t, ok)

	expensive := def.Flows[3].Condition
	ok, err = expensive.Evaluate(map[string]any{"order": map[string]any{"total": 250}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = expensive.Evaluate(map[string]any{"order": map[string]any{"total": 50}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseJSONDefinition(t *testing.T) {
	def, err := ParseJSON([]byte(greeterJSON))
	require.NoError(t, err)

	assert.Equal(t, "greeter", def.ID)
	assert.Equal(t, "start", def.StartNodeID)
	require.Len(t, def.Nodes, 3)
	assert.Equal(t, "demo.hello", findNode(t, def, "hello").HandlerRef)
}

func TestParseJSONRejectsEmptyInput(t *testing.T) {
	for name, data := range map[string]string{
		"blank":        "   \n",
		"empty object": "{}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON([]byte(data))
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, "json", parseErr.Source)
		})
	}
}

func TestParseSniffsFormat(t *testing.T) {
	fromJSON, err := Parse([]byte("\n  " + greeterJSON))
	require.NoError(t, err)
	assert.Equal(t, "greeter", fromJSON.ID)

	fromYAML, err := Parse([]byte(orderYAML))
	require.NoError(t, err)
	assert.Equal(t, "order-fulfilment", fromYAML.ID)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "order.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(orderYAML), 0o600))
	jsonPath := filepath.Join(dir, "greeter.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(greeterJSON), 0o600))
	barePath := filepath.Join(dir, "graph")
	require.NoError(t, os.WriteFile(barePath, []byte(greeterJSON), 0o600))

	def, err := ParseFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "order-fulfilment", def.ID)

	def, err = ParseFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "greeter", def.ID)

	def, err = ParseFile(barePath)
	require.NoError(t, err)
	assert.Equal(t, "greeter", def.ID)
}

func TestParseFileReportsPath(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.yaml")
	_, err := ParseFile(missing)
	require.Error(t, err)
	require.ErrorIs(t, err, fs.ErrNotExist)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, missing, parseErr.Source)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("id: x\nnodes: []\n"), 0o600))
	_, err = ParseFile(broken)
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, broken, parseErr.Source)
	assert.Contains(t, err.Error(), "definition has no nodes")
}

func TestParseYAMLRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty document",
			yaml: "",
			want: "definition is empty",
		},
		{
			name: "missing definition id",
			yaml: "nodes:\n  - id: start\n    kind: start\n",
			want: "definition id is required",
		},
		{
			name: "no nodes",
			yaml: "id: demo\n",
			want: "definition has no nodes",
		},
		{
			name: "node without id",
			yaml: "id: demo\nnodes:\n  - kind: start\n",
			want: "nodes[0]: id is required",
		},
		{
			name: "node without kind",
			yaml: "id: demo\nnodes:\n  - id: x\n",
			want: `node "x": kind is required`,
		},
		{
			name: "unknown node kind",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: loop\n",
			want: `unknown kind "loop"`,
		},
		{
			name: "task without handler",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: task\n",
			want: "task requires a handler",
		},
		{
			name: "bad timeout",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: task\n    handler: h\n    timeout: soon\n",
			want: "invalid timeout",
		},
		{
			name: "negative timeout",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: task\n    handler: h\n    timeout: -5s\n",
			want: "timeout can not be negative",
		},
		{
			name: "handler outside task",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: end\n    handler: h\n",
			want: "handler is only valid on task nodes",
		},
		{
			name: "timeout outside task",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: gateway\n    gateway: exclusive\n    timeout: 5s\n",
			want: "timeout is only valid on task nodes",
		},
		{
			name: "gateway kind outside gateway",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: task\n    handler: h\n    gateway: split\n",
			want: "gateway is only valid on gateway nodes",
		},
		{
			name: "gateway without kind",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: gateway\n",
			want: "gateway kind is required",
		},
		{
			name: "unknown gateway kind",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: gateway\n    gateway: inclusive\n",
			want: `unknown gateway kind "inclusive"`,
		},
		{
			name: "flow without target",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: start\nflows:\n  - from: x\n",
			want: "flows[0]: from and to are required",
		},
		{
			name: "condition with path and script",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: start\nflows:\n  - id: f\n    from: x\n    to: x\n    when:\n      path: $.a\n      script: $.a\n",
			want: "either path or script",
		},
		{
			name: "equals with script",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: start\nflows:\n  - from: x\n    to: x\n    when:\n      script: $.a\n      equals: 1\n",
			want: "equals is only valid together with path",
		},
		{
			name: "empty condition",
			yaml: "id: demo\nnodes:\n  - id: x\n    kind: start\nflows:\n  - from: x\n    to: x\n    when: {}\n",
			want: "condition requires a path or a script",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tc.yaml))
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, "yaml", parseErr.Source)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseYAMLRejectsUnknownFields(t *testing.T) {
	_, err := ParseYAML([]byte("id: demo\nnodes:\n  - id: x\n    kind: task\n    handlerz: h\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handlerz")

	_, err = ParseYAML([]byte("id: demo\nversion: 2\nnodes:\n  - id: x\n    kind: start\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestParseSurfacesValidationIssues(t *testing.T) {
	const brokenYAML = `
id: broken
nodes:
  - id: start
    kind: start
  - id: route
    kind: gateway
    gateway: exclusive
  - id: a
    kind: task
    handler: t.a
  - id: b
    kind: task
    handler: t.b
  - id: end
    kind: end
flows:
  - from: start
    to: route
  - from: route
    to: a
  - from: route
    to: b
    when:
      path: $.pick
  - from: a
    to: end
  - from: b
    to: end
`
	_, err := ParseYAML([]byte(brokenYAML))
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	var verr *definition.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "broken", verr.DefinitionID)

	found := false
	for _, issue := range verr.Issues {
		if issue.Code == definition.IssueMissingDefault && issue.NodeID == "route" {
			found = true
		}
	}
	assert.True(t, found, "expected a missing-default issue for node route, got %v", verr.Issues)
}

func TestGeneratedFlowIDsAreUnique(t *testing.T) {
	def, err := ParseJSON([]byte(greeterJSON))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, f := range def.Flows {
		assert.NotEmpty(t, f.ID)
		assert.False(t, seen[f.ID], "flow ID %q assigned twice", f.ID)
		seen[f.ID] = true
	}
}

func TestGatewayKindAliases(t *testing.T) {
	cases := []struct {
		in   string
		want definition.GatewayKind
	}{
		{"exclusive", definition.GatewayExclusive},
		{"EXCLUSIVE", definition.GatewayExclusive},
		{"split", definition.GatewayParallelSplit},
		{"parallel_split", definition.GatewayParallelSplit},
		{"join", definition.GatewayParallelJoin},
		{"parallel_join", definition.GatewayParallelJoin},
	}
	for _, tc := range cases {
		got, err := gatewayKind(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "alias %q", tc.in)
	}
}

func TestParseParallelGraph(t *testing.T) {
	const fanoutYAML = `
id: fanout
nodes:
  - id: start
    kind: start
  - id: fork
    kind: gateway
    gateway: split
  - id: a
    kind: task
    handler: t.a
  - id: b
    kind: task
    handler: t.b
  - id: merge
    kind: gateway
    gateway: join
  - id: end
    kind: end
flows:
  - from: start
    to: fork
  - from: fork
    to: a
  - from: fork
    to: b
  - from: a
    to: merge
  - from: b
    to: merge
  - from: merge
    to: end
`
	def, err := ParseYAML([]byte(fanoutYAML))
	require.NoError(t, err)

	assert.Equal(t, definition.GatewayParallelSplit, findNode(t, def, "fork").Gateway)
	assert.Equal(t, definition.GatewayParallelJoin, findNode(t, def, "merge").Gateway)
}
