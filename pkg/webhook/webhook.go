// Package webhook serves the HTTP API: webhook triggers, manual
// execution, execution lookup and the realtime status feed.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/dispatch"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// IdempotencyHeader lets callers choose the event ID, so that a
// retried request does not start a second execution.
const IdempotencyHeader = "Idempotency-Key"

// Sender queues execution events.
type Sender interface {
	Send(ctx context.Context, name string, payload any, opts ...dispatch.SendOption) (string, error)
}

// Executions looks up execution records.
type Executions interface {
	GetExecution(ctx context.Context, id string) (*workflow.Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]workflow.Execution, error)
}

type Server struct {
	Sender     Sender
	Executions Executions
	// Realtime serves GET /realtime. Optional.
	Realtime http.Handler
}

// Response is the body of every API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func sendSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func sendError(c *gin.Context, statusCode int, msg string) {
	c.AbortWithStatusJSON(statusCode, Response{Success: false, Error: msg})
}

// Router builds the gin router with routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logRequests)

	r.GET("/health", func(c *gin.Context) {
		sendSuccess(c, gin.H{"status": "healthy"})
	})

	hooks := r.Group("/webhooks")
	hooks.POST("/email", s.trigger(emailData))
	hooks.POST("/google-form", s.trigger(googleFormData))
	hooks.POST("/stripe", s.trigger(stripeData))

	workflows := r.Group("/workflows/:id")
	workflows.POST("/execute", s.handleExecute)
	workflows.GET("/executions", s.handleListExecutions)

	r.GET("/executions/:id", s.handleGetExecution)

	if s.Realtime != nil {
		r.GET("/realtime", gin.WrapH(s.Realtime))
	}
	return r
}

func logRequests(c *gin.Context) {
	c.Next()
	clio.Debugf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
}

// extractor turns a webhook body into the trigger's initial data.
// It may also return an event ID taken from the payload.
type extractor func(body map[string]any) (initialData map[string]any, eventID string)

func emailData(body map[string]any) (map[string]any, string) {
	return map[string]any{
		"emailData": map[string]any{
			"from":      body["from"],
			"to":        body["to"],
			"subject":   body["subject"],
			"body":      body["body"],
			"date":      body["date"],
			"messageId": body["messageId"],
		},
	}, ""
}

func googleFormData(body map[string]any) (map[string]any, string) {
	return map[string]any{
		"googleForm": map[string]any{
			"formId":          body["formId"],
			"formTitle":       body["formTitle"],
			"responseId":      body["responseId"],
			"timestamp":       body["timestamp"],
			"respondentEmail": body["respondentEmail"],
			"responses":       body["responses"],
			"raw":             body,
		},
	}, ""
}

func stripeData(body map[string]any) (map[string]any, string) {
	var eventID string
	if id, ok := body["id"].(string); ok && id != "" {
		// stripe retries deliveries with the same event ID.
		eventID = "stripe:" + id
	}
	return map[string]any{
		"stripe": map[string]any{
			"eventId":   body["id"],
			"eventType": body["type"],
			"timestamp": body["created"],
			"livemode":  body["livemode"],
			"raw":       body,
		},
	}, eventID
}

func (s *Server) trigger(extract extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflowID := c.Query("workflowId")
		if workflowID == "" {
			sendError(c, http.StatusBadRequest, "Missing query parameter workflowId")
			return
		}

		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
			return
		}

		initialData, eventID := extract(body)
		s.send(c, rheoma.ExecutePayload{WorkflowID: workflowID, InitialData: initialData}, eventID)
	}
}

func (s *Server) handleExecute(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Reading body: "+err.Error())
		return
	}

	var initialData map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &initialData); err != nil {
			sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
			return
		}
	}
	// userId restricts the run to a workflow owned by that user.
	s.send(c, rheoma.ExecutePayload{
		WorkflowID:  c.Param("id"),
		UserID:      c.Query("userId"),
		InitialData: initialData,
	}, "")
}

func (s *Server) send(c *gin.Context, payload rheoma.ExecutePayload, eventID string) {
	if key := c.GetHeader(IdempotencyHeader); key != "" {
		eventID = key
	}
	var opts []dispatch.SendOption
	if eventID != "" {
		opts = append(opts, dispatch.WithID(eventID))
	}

	id, err := s.Sender.Send(c.Request.Context(), rheoma.ExecuteEventName, payload, opts...)
	if err != nil {
		clio.Errorf("dispatching execution of workflow %s: %s", payload.WorkflowID, err)
		sendError(c, http.StatusInternalServerError, "Failed to dispatch workflow execution")
		return
	}

	sendSuccess(c, gin.H{"eventId": id, "workflowId": payload.WorkflowID})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	exec, err := s.Executions.GetExecution(c.Request.Context(), c.Param("id"))
	var nf *noderr.NotFoundError
	if errors.As(err, &nf) {
		sendError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		clio.Errorf("loading execution %s: %s", c.Param("id"), err)
		sendError(c, http.StatusInternalServerError, "Failed to load execution")
		return
	}
	sendSuccess(c, exec)
}

// handleListExecutions returns the run history of a workflow, most recent first.
func (s *Server) handleListExecutions(c *gin.Context) {
	execs, err := s.Executions.ListExecutions(c.Request.Context(), c.Param("id"))
	if err != nil {
		clio.Errorf("listing executions of workflow %s: %s", c.Param("id"), err)
		sendError(c, http.StatusInternalServerError, "Failed to list executions")
		return
	}
	if execs == nil {
		execs = []workflow.Execution{}
	}
	sendSuccess(c, execs)
}
