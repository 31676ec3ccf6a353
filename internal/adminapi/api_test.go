package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/durable/internal/queue/memqueue"
	"github.com/flowkit/durable/internal/workflow"
)

type payload struct {
	Number int `json:"number"`
}

func newTestClient(t *testing.T) (*memqueue.Queue, *workflow.Client, *workflow.Workflow[payload]) {
	t.Helper()
	q := memqueue.New()
	client := workflow.NewClient(q, workflow.ClientConfig{})
	wf, err := workflow.Register(client, workflow.Definition[payload]{
		ID: "adder",
		Fn: func(ctx *workflow.ExecutionContext, job workflow.Job, data payload) (any, error) {
			return data.Number + 1, nil
		},
	})
	require.NoError(t, err)
	return q, client, wf
}

func TestListWorkflows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, client, _ := newTestClient(t)
	router := NewRouter(RouterConfig{Handlers: NewHandlers(NewRegistry(client))})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workflows []string `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"adder"}, body.Workflows)
}

func TestGetJobSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, client, wf := newTestClient(t)
	id, err := wf.CreateJob(context.Background(), payload{Number: 41}, workflow.JobOptions{})
	require.NoError(t, err)

	router := NewRouter(RouterConfig{Handlers: NewHandlers(NewRegistry(client))})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflows/adder/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"prepared":true`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflows/missing/jobs/x", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseAndStopWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, client, _ := newTestClient(t)
	client.Start(context.Background())
	defer client.Stop()

	router := NewRouter(RouterConfig{Handlers: NewHandlers(NewRegistry(client))})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflows/adder/pause", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflows/adder/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// A second stop has no worker left to act on.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflows/adder/stop", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteEndpointsRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, client, _ := newTestClient(t)

	keyHash, err := HashStaticKey("letmein")
	require.NoError(t, err)
	router := NewRouter(RouterConfig{
		Handlers: NewHandlers(NewRegistry(client)),
		Auth:     NewAuthMiddleware([]byte("hmac-secret"), keyHash),
	})

	// Reads stay open.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Writes without a token are rejected.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflows/adder/pause", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// A wrong static key is rejected.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/workflows/adder/pause", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The configured static key passes auth.
	client.Start(context.Background())
	defer client.Stop()
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/workflows/adder/pause", nil)
	req.Header.Set("Authorization", "Bearer letmein")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(RouterConfig{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
