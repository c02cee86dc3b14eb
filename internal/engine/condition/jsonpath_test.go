package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONPathTruthiness(t *testing.T) {
	data := map[string]any{
		"order": map[string]any{
			"paid":  true,
			"total": 99.5,
			"note":  "",
		},
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"true leaf", "$.order.paid", true},
		{"non-zero number", "$.order.total", true},
		{"empty string", "$.order.note", false},
		{"missing path", "$.order.discount", false},
		{"braced form", "{$.order.paid}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(tt.path).Evaluate(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONPathEquals(t *testing.T) {
	data := map[string]any{
		"x":     5.0, // JSON decoding produces float64
		"state": "approved",
		"flag":  false,
	}

	tests := []struct {
		name string
		pred *JSONPath
		want bool
	}{
		{"number widened", PathEquals("$.x", 5), true},
		{"number mismatch", PathEquals("$.x", 6), false},
		{"string match", PathEquals("$.state", "approved"), true},
		{"string mismatch", PathEquals("$.state", "rejected"), false},
		{"explicit false wanted", PathEquals("$.flag", false), true},
		{"missing path never equals", PathEquals("$.ghost", 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pred.Evaluate(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONPathValidate(t *testing.T) {
	assert.NoError(t, Path("$.a.b").Validate())
	assert.NoError(t, Path("{$.a.b}").Validate())
	assert.Error(t, Path("").Validate())
	assert.Error(t, Path("   ").Validate())
	assert.Error(t, Path("not a path").Validate())
}
