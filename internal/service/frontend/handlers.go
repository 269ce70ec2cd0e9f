package frontend

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/service/workflow"
	"github.com/flowbench-org/flowbench/internal/store"
)

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	if e == nil {
		e = apperr.Wrap(apperr.CodeInternal, "unexpected error", err)
	}
	status := apperr.HTTPStatus(e.Code)
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "Request failed", tag.Error(err))
	}
	writeJSON(w, status, errorBody{Code: e.Code, Message: e.Message, Details: e.Details})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeUnprocessable, "invalid request body", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeUnprocessable, "invalid "+name, err)
	}
	return id, nil
}

// --- projects ---

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	project, err := s.svc.CreateProject(r.Context(), body.Name, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectSummary(project))
}

func (s *Server) handleCreateProjectFromTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	projectID, err := s.svc.CreateProjectFromTemplate(r.Context(), body.Name, body.Template, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"id": projectID})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.ListProjects(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectSummary(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, edges, err := s.svc.GetProject(r.Context(), projectID, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDetail(project, edges))
}

func (s *Server) handleRenameProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.RenameProject(r.Context(), projectID, userID(r), body.Name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteProject(r.Context(), projectID, userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "memberID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.AddMember(r.Context(), projectID, userID(r), memberID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "memberID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.RemoveMember(r.Context(), projectID, userID(r), memberID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// --- templates ---

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	grouped, err := s.svc.Templates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateViews(grouped))
}

// --- blocks ---

func (s *Server) handleInspectManifest(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("repo_url")
	if repoURL == "" {
		writeError(w, r, apperr.New(apperr.CodeUnprocessable, "repo_url is required"))
		return
	}
	def, err := s.svc.InspectManifest(r.Context(), repoURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID  uuid.UUID `json:"project_id"`
		RepoURL    string    `json:"repo_url"`
		Entrypoint string    `json:"entrypoint"`
		CustomName string    `json:"custom_name"`
		X          float64   `json:"x"`
		Y          float64   `json:"y"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	block, err := s.svc.CreateBlock(r.Context(), userID(r), workflow.NewBlock{
		ProjectID:  body.ProjectID,
		RepoURL:    body.RepoURL,
		Entrypoint: body.Entrypoint,
		CustomName: body.CustomName,
		PosX:       body.X,
		PosY:       body.Y,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockView(block))
}

func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	blockID, err := pathID(r, "blockID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		CustomName *string  `json:"custom_name"`
		X          *float64 `json:"x"`
		Y          *float64 `json:"y"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	err = s.svc.UpdateBlockMeta(r.Context(), userID(r), blockID, store.BlockMetaUpdate{
		CustomName: body.CustomName,
		PosX:       body.X,
		PosY:       body.Y,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	blockID, err := pathID(r, "blockID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteBlock(r.Context(), userID(r), blockID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleUpdateEnvs(w http.ResponseWriter, r *http.Request) {
	blockID, err := pathID(r, "blockID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Envs model.ConfigMap `json:"envs"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.UpdateEnvs(r.Context(), userID(r), blockID, body.Envs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleUpdatePortConfigs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Updates map[uuid.UUID]model.ConfigMap `json:"updates"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.UpdatePortConfigs(r.Context(), userID(r), body.Updates); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// --- edges ---

func edgeFromBody(r *http.Request) (model.BlockDependency, error) {
	var body edgeView
	if err := decode(r, &body); err != nil {
		return model.BlockDependency{}, err
	}
	return model.BlockDependency(body), nil
}

func (s *Server) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	dep, err := edgeFromBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.CreateEdge(r.Context(), userID(r), dep); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	dep, err := edgeFromBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteEdge(r.Context(), userID(r), dep); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// --- workflow ---

func (s *Server) handleConfigurations(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := s.svc.Configurations(r.Context(), projectID, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	runID, err := s.svc.StartWorkflow(r.Context(), projectID, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.svc.WorkflowStatus(r.Context(), projectID, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.WorkflowStatus{"status": status})
}

func (s *Server) handleBlockStatuses(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	statuses, err := s.svc.BlockStatuses(r.Context(), projectID, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	portID, err := pathID(r, "portID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := s.svc.UploadURL(r.Context(), userID(r), portID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
