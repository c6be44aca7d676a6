package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(types.PlatformConfig{URL: srv.URL, Token: "platform-token"}, nil)
}

func TestApplyAccepted(t *testing.T) {
	var got types.WorkloadSpec
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/workloads", r.URL.Path)
		assert.Equal(t, "Bearer platform-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := client.Apply(context.Background(), types.WorkloadSpec{
		Name:     "checkout",
		Image:    "registry.local/checkout:1.2.3",
		Replicas: 3,
		Selector: "app=checkout",
	})
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Name)
	assert.Equal(t, 3, got.Replicas)
}

func TestApplyRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "image not allowed", http.StatusUnprocessableEntity)
	})

	err := client.Apply(context.Background(), types.WorkloadSpec{Name: "checkout"})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "image not allowed", rejected.Reason)
}

func TestStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workloads/status", r.URL.Path)
		assert.Equal(t, "app=checkout", r.URL.Query().Get("selector"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(WorkloadStatus{DesiredReplicas: 3, ReadyReplicas: 2, LastError: "pulling image"})
	})

	st, err := client.Status(context.Background(), "app=checkout")
	require.NoError(t, err)
	assert.Equal(t, 3, st.DesiredReplicas)
	assert.Equal(t, 2, st.ReadyReplicas)
	assert.Equal(t, "pulling image", st.LastError)
	assert.False(t, st.Ready())
}

func TestWorkloadStatusReady(t *testing.T) {
	tests := []struct {
		name   string
		status WorkloadStatus
		ready  bool
	}{
		{"all ready", WorkloadStatus{DesiredReplicas: 3, ReadyReplicas: 3}, true},
		{"over ready", WorkloadStatus{DesiredReplicas: 2, ReadyReplicas: 3}, true},
		{"partial", WorkloadStatus{DesiredReplicas: 3, ReadyReplicas: 1}, false},
		{"scaled to zero", WorkloadStatus{DesiredReplicas: 0, ReadyReplicas: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ready, tt.status.Ready())
		})
	}
}

func TestApplyBreakerOpensOnConsecutiveFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		err := client.Apply(context.Background(), types.WorkloadSpec{Name: "checkout"})
		require.Error(t, err)
	}

	err := client.Apply(context.Background(), types.WorkloadSpec{Name: "checkout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform unavailable")
}

func TestApplyRejectionsDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadRequest)
	})

	for i := 0; i < 8; i++ {
		err := client.Apply(context.Background(), types.WorkloadSpec{Name: "checkout"})
		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
	}
}
