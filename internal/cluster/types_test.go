package cluster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost:8081", "http://localhost:8081"},
		{"http://localhost:8081", "http://localhost:8081"},
		{"http://localhost:8081/", "http://localhost:8081"},
		{"https://worker-db-0.internal", "https://worker-db-0.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseURL(tt.in))
		})
	}
}

func TestNodeInfoJSON(t *testing.T) {
	n := NodeInfo{ID: "worker-db-0", Addr: "http://10.0.0.5:8081", Partitions: []string{"Cuenta-P1"}}

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"worker-db-0","addr":"http://10.0.0.5:8081","partitions":["Cuenta-P1"]}`, string(data))
	assert.Equal(t, "worker-db-0@http://10.0.0.5:8081", n.String())
}
