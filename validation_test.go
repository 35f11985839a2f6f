package extrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Owner  string   `json:"owner" validate:"required"`
	Tags   []string `json:"tags" validate:"dive,required"`
	Count  int      `json:"count" validate:"gte=0,lte=100"`
	Paused bool     `json:"paused"`
}

func TestDecodeState(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		want    counterState
		wantErr string
	}{
		{
			name:  "numbers arrive as float64",
			state: State{"owner": "host", "count": 42.0, "paused": true, "tags": []any{"a"}},
			want:  counterState{Owner: "host", Count: 42, Paused: true, Tags: []string{"a"}},
		},
		{
			name:    "missing required field",
			state:   State{"count": 1.0},
			wantErr: "state validation failed",
		},
		{
			name:    "out of range",
			state:   State{"owner": "host", "count": 101.0},
			wantErr: "state validation failed",
		},
		{
			name:    "wrong type",
			state:   State{"owner": 7},
			wantErr: "failed to unmarshal state",
		},
		{
			name:    "empty tag",
			state:   State{"owner": "host", "tags": []any{""}},
			wantErr: "state validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got counterState
			err := DecodeState(tt.state, &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeState(t *testing.T) {
	st, err := EncodeState(counterState{Owner: "guest", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "guest", st["owner"])
	assert.Equal(t, 3.0, st["count"])

	_, err = EncodeState([]int{1, 2})
	require.Error(t, err)
}

func TestRelPath(t *testing.T) {
	tests := map[string]string{
		"./main.js":        "main.js",
		"/main.js":         "main.js",
		"main.js":          "main.js",
		"././/dist/app.js": "dist/app.js",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, RelPath(in), in)
	}
}
