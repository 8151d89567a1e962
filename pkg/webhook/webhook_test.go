package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/dispatch"
	"github.com/common-fate/rheoma/pkg/store/memstore"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sent struct {
	name    string
	id      string
	payload rheoma.ExecutePayload
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) Send(ctx context.Context, name string, payload any, opts ...dispatch.SendOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	ev := dispatch.Event{ID: "generated"}
	for _, o := range opts {
		o(&ev)
	}
	f.sent = append(f.sent, sent{name: name, id: ev.ID, payload: payload.(rheoma.ExecutePayload)})
	return ev.ID, nil
}

func do(t *testing.T, s *Server, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	var res Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res), rr.Body.String())
	return rr, res
}

func TestTriggers(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		body        string
		headers     map[string]string
		wantID      string
		wantInitial map[string]any
	}{
		{
			name:   "email",
			target: "/webhooks/email?workflowId=wf-1",
			body:   `{"from":"a@example.com","to":"b@example.com","subject":"hi","body":"hello","date":"2024-01-01","messageId":"m1","extra":"dropped"}`,
			wantID: "generated",
			wantInitial: map[string]any{"emailData": map[string]any{
				"from": "a@example.com", "to": "b@example.com", "subject": "hi",
				"body": "hello", "date": "2024-01-01", "messageId": "m1",
			}},
		},
		{
			name:   "google form",
			target: "/webhooks/google-form?workflowId=wf-1",
			body:   `{"formId":"f1","formTitle":"Survey","responseId":"r1","timestamp":"t","respondentEmail":"x@example.com","responses":{"q1":"yes"}}`,
			wantID: "generated",
			wantInitial: map[string]any{"googleForm": map[string]any{
				"formId": "f1", "formTitle": "Survey", "responseId": "r1", "timestamp": "t",
				"respondentEmail": "x@example.com",
				"responses":       map[string]any{"q1": "yes"},
				"raw": map[string]any{
					"formId": "f1", "formTitle": "Survey", "responseId": "r1", "timestamp": "t",
					"respondentEmail": "x@example.com", "responses": map[string]any{"q1": "yes"},
				},
			}},
		},
		{
			name:   "stripe uses the stripe event ID",
			target: "/webhooks/stripe?workflowId=wf-1",
			body:   `{"id":"evt_1","type":"charge.succeeded","created":1700000000,"livemode":false}`,
			wantID: "stripe:evt_1",
			wantInitial: map[string]any{"stripe": map[string]any{
				"eventId": "evt_1", "eventType": "charge.succeeded", "timestamp": float64(1700000000), "livemode": false,
				"raw": map[string]any{"id": "evt_1", "type": "charge.succeeded", "created": float64(1700000000), "livemode": false},
			}},
		},
		{
			name:        "idempotency key",
			target:      "/webhooks/email?workflowId=wf-1",
			body:        `{}`,
			headers:     map[string]string{IdempotencyHeader: "key-1"},
			wantID:      "key-1",
			wantInitial: map[string]any{"emailData": map[string]any{"from": nil, "to": nil, "subject": nil, "body": nil, "date": nil, "messageId": nil}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			rr, res := do(t, &Server{Sender: sender}, http.MethodPost, tt.target, tt.body, tt.headers)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.True(t, res.Success)
			require.Len(t, sender.sent, 1)
			assert.Equal(t, rheoma.ExecuteEventName, sender.sent[0].name)
			assert.Equal(t, tt.wantID, sender.sent[0].id)
			assert.Equal(t, "wf-1", sender.sent[0].payload.WorkflowID)
			assert.Equal(t, tt.wantInitial, sender.sent[0].payload.InitialData)
		})
	}
}

func TestTriggers_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		sendErr  error
		wantCode int
		wantErr  string
	}{
		{name: "missing workflow", target: "/webhooks/email", body: `{}`, wantCode: http.StatusBadRequest, wantErr: "Missing query parameter workflowId"},
		{name: "malformed JSON", target: "/webhooks/stripe?workflowId=wf", body: `{"id":`, wantCode: http.StatusBadRequest},
		{name: "manual malformed JSON", target: "/workflows/wf/execute", body: `[1,`, wantCode: http.StatusBadRequest},
		{name: "dispatch failure", target: "/webhooks/google-form?workflowId=wf", body: `{}`, sendErr: dispatch.ErrClosed, wantCode: http.StatusInternalServerError, wantErr: "Failed to dispatch workflow execution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{err: tt.sendErr}
			rr, res := do(t, &Server{Sender: sender}, http.MethodPost, tt.target, tt.body, nil)

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.False(t, res.Success)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, res.Error)
			}
			assert.Empty(t, sender.sent)
		})
	}
}

func TestExecute(t *testing.T) {
	sender := &fakeSender{}
	s := &Server{Sender: sender}

	rr, _ := do(t, s, http.MethodPost, "/workflows/wf-9/execute", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, s, http.MethodPost, "/workflows/wf-9/execute", `{"name":"ada"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, s, http.MethodPost, "/workflows/wf-9/execute?userId=user-1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, sender.sent, 3)
	assert.Nil(t, sender.sent[0].payload.InitialData)
	assert.Empty(t, sender.sent[0].payload.UserID)
	assert.Equal(t, map[string]any{"name": "ada"}, sender.sent[1].payload.InitialData)
	assert.Equal(t, "wf-9", sender.sent[1].payload.WorkflowID)
	assert.Equal(t, "user-1", sender.sent[2].payload.UserID)
}

func TestGetExecution(t *testing.T) {
	ms := memstore.New()
	_, _, err := ms.CreateExecution(context.Background(), workflow.Execution{
		ID:         "exec-1",
		WorkflowID: "wf",
		EventID:    "evt",
		Status:     workflow.Running,
		StartedAt:  time.Now(),
	})
	require.NoError(t, err)
	s := &Server{Sender: &fakeSender{}, Executions: ms}

	rr, res := do(t, s, http.MethodGet, "/executions/exec-1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "RUNNING", res.Data.(map[string]any)["status"])

	rr, res = do(t, s, http.MethodGet, "/executions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "execution missing not found", res.Error)
}

type failingExecutions struct{}

func (failingExecutions) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	return nil, errors.New("database is locked")
}

func (failingExecutions) ListExecutions(ctx context.Context, workflowID string) ([]workflow.Execution, error) {
	return nil, errors.New("database is locked")
}

func TestGetExecution_StoreFailure(t *testing.T) {
	rr, res := do(t, &Server{Executions: failingExecutions{}}, http.MethodGet, "/executions/x", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to load execution", res.Error)
}

func TestListExecutions(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"exec-1", "exec-2"} {
		_, _, err := ms.CreateExecution(ctx, workflow.Execution{
			ID:         id,
			WorkflowID: "wf",
			EventID:    "evt-" + id,
			Status:     workflow.Running,
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	s := &Server{Sender: &fakeSender{}, Executions: ms}

	rr, res := do(t, s, http.MethodGet, "/workflows/wf/executions", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	list := res.Data.([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "exec-2", list[0].(map[string]any)["id"], "most recent first")
	assert.Equal(t, "exec-1", list[1].(map[string]any)["id"])

	rr, res = do(t, s, http.MethodGet, "/workflows/other/executions", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, res.Data)

	rr, res = do(t, &Server{Executions: failingExecutions{}}, http.MethodGet, "/workflows/wf/executions", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to list executions", res.Error)
}
