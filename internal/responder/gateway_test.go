package responder_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmline-ai/counsel-chat/internal/model"
	"github.com/calmline-ai/counsel-chat/internal/responder"
)

func TestHTTPGatewayGenerate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/responder/generate", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req model.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Prompt, "I feel anxious.")

		json.NewEncoder(w).Encode(&model.GenerateResponse{Response: "I hear you."})
	}))
	defer server.Close()

	gw := responder.NewHTTPGateway(server.URL, "tok", 5*time.Second)
	reply, err := gw.Generate(context.Background(), "User: I feel anxious.\nCounselor:")
	require.NoError(t, err)
	assert.Equal(t, "I hear you.", reply)
}

func TestHTTPGatewayUpstreamFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gw := responder.NewHTTPGateway(server.URL, "", 5*time.Second)
	_, err := gw.Generate(context.Background(), "hello")
	require.Error(t, err)

	var genErr *responder.GenerationError
	assert.True(t, errors.As(err, &genErr), "want GenerationError, got %T", err)
}

func TestHTTPGatewayBoundedWait(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	gw := responder.NewHTTPGateway(server.URL, "", 50*time.Millisecond)
	start := time.Now()
	_, err := gw.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var genErr *responder.GenerationError
	assert.True(t, errors.As(err, &genErr), "want GenerationError, got %T", err)
}
