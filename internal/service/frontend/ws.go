package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/model"
)

// statusPollInterval paces the WebSocket status streams.
const statusPollInterval = 2 * time.Second

// handleProjectStatusStream pushes the workflow state of every project
// the user belongs to, on connect and every poll tick, until the client
// disconnects.
func (s *Server) handleProjectStatusStream(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	s.stream(w, r, func(ctx context.Context) (any, error) {
		return s.svc.ProjectStatuses(ctx, uid)
	})
}

// workflowStatusFrame is one message on the single-project stream.
type workflowStatusFrame struct {
	ProjectID uuid.UUID                       `json:"project_id"`
	Status    model.WorkflowStatus            `json:"status"`
	Blocks    map[uuid.UUID]model.BlockStatus `json:"blocks"`
}

// handleWorkflowStatusStream pushes the workflow and per-block state of
// one project.
func (s *Server) handleWorkflowStatusStream(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid := userID(r)
	s.stream(w, r, func(ctx context.Context) (any, error) {
		status, err := s.svc.WorkflowStatus(ctx, projectID, uid)
		if err != nil {
			return nil, err
		}
		blocks, err := s.svc.BlockStatuses(ctx, projectID, uid)
		if err != nil {
			return nil, err
		}
		return workflowStatusFrame{ProjectID: projectID, Status: status, Blocks: blocks}, nil
	})
}

// stream upgrades the request and writes the polled payload as JSON
// text frames. The connection closes normally when the client goes
// away and with an error status when polling fails.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, poll func(ctx context.Context) (any, error)) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins(),
	})
	if err != nil {
		logger.Warn(r.Context(), "WebSocket upgrade failed", tag.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead cancels the context when the peer closes or errors.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		payload, err := poll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "Status poll failed, closing stream", tag.Error(err))
				conn.Close(websocket.StatusInternalError, "status poll failed")
			}
			return
		}
		data, err := json.Marshal(payload)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "encoding failed")
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
