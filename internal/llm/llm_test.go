package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/llm"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain object", input: `{"name":"a"}`, want: "a"},
		{name: "fenced json", input: "```json\n{\"name\":\"b\"}\n```", want: "b"},
		{name: "bare fence", input: "```\n{\"name\":\"c\"}\n```", want: "c"},
		{name: "empty", input: "   ", wantErr: true},
		{name: "not json", input: "sure thing!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got payload
			err := llm.DecodeJSON(tt.input, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, llm.Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, llm.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, llm.Cosine(nil, []float32{1}))
	assert.Zero(t, llm.Cosine([]float32{1, 2}, []float32{1}))
	assert.Zero(t, llm.Cosine([]float32{0, 0}, []float32{1, 1}))
}
