// Package workflow is the application service behind the API surface.
// It enforces project membership, orchestrates the domain packages and
// owns the run-launch sequence.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/compiler"
	"github.com/flowbench-org/flowbench/internal/engine"
	"github.com/flowbench-org/flowbench/internal/manifest"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/orchestrator"
	"github.com/flowbench-org/flowbench/internal/store"
	"github.com/flowbench-org/flowbench/internal/template"
)

// Orchestrator is the slice of the engine client the service uses.
type Orchestrator interface {
	WaitForRegistration(ctx context.Context, dagID string) error
	Unpause(ctx context.Context, dagID string) error
	Trigger(ctx context.Context, dagID string) (string, error)
	LatestRun(ctx context.Context, dagID string) (*orchestrator.Run, error)
	LastRuns(ctx context.Context, dagIDs []string) (map[string]orchestrator.Run, error)
	TaskStates(ctx context.Context, dagID, runID string) ([]orchestrator.TaskInstance, error)
	DeleteDAG(ctx context.Context, dagID string) error
}

// ArtifactLocator resolves FILE ports to presigned URLs.
type ArtifactLocator interface {
	DownloadURLs(ctx context.Context, ports []*model.InputOutput) map[uuid.UUID]string
	UploadURL(ctx context.Context, port *model.InputOutput) (string, error)
}

// ManifestSource resolves block manifests by repo URL.
type ManifestSource interface {
	LoadCached(ctx context.Context, repoURL string) (*manifest.Definition, error)
}

// TemplateCatalog lists and fetches pipeline templates.
type TemplateCatalog interface {
	List(ctx context.Context) (map[string][]*template.Template, error)
	Get(ctx context.Context, fileIdentifier string) (*template.Template, error)
}

// Service wires the domain packages behind one membership-checked API.
type Service struct {
	store     store.Store
	engine    *engine.Engine
	manifests ManifestSource
	catalog   TemplateCatalog
	inst      *template.Instantiator
	compiler  *compiler.Compiler
	orch      Orchestrator
	locator   ArtifactLocator
}

// New creates a Service.
func New(
	s store.Store,
	eng *engine.Engine,
	manifests ManifestSource,
	catalog TemplateCatalog,
	inst *template.Instantiator,
	comp *compiler.Compiler,
	orch Orchestrator,
	locator ArtifactLocator,
) *Service {
	return &Service{
		store:     s,
		engine:    eng,
		manifests: manifests,
		catalog:   catalog,
		inst:      inst,
		compiler:  comp,
		orch:      orch,
		locator:   locator,
	}
}

// requireMember loads the project and checks that userID belongs to it.
func (s *Service) requireMember(ctx context.Context, projectID, userID uuid.UUID) (*model.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(project.UserIDs, userID) {
		return nil, apperr.Newf(apperr.CodeForbidden,
			"user %s is not a member of project %s", userID, projectID)
	}
	return project, nil
}

// CreateProject creates an empty project owned by userID.
func (s *Service) CreateProject(ctx context.Context, name string, userID uuid.UUID) (*model.Project, error) {
	project := &model.Project{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UserIDs:   []uuid.UUID{userID},
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Created project",
		tag.Project(project.ID.String()), tag.User(userID.String()))
	return project, nil
}

// CreateProjectFromTemplate instantiates the named template into a new
// project owned by userID.
func (s *Service) CreateProjectFromTemplate(ctx context.Context, name, fileIdentifier string, userID uuid.UUID) (uuid.UUID, error) {
	tpl, err := s.catalog.Get(ctx, fileIdentifier)
	if err != nil {
		return uuid.Nil, err
	}
	return s.inst.Instantiate(ctx, name, tpl, userID)
}

// GetProject returns the project with its blocks, ports and edges.
func (s *Service) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*model.Project, []model.BlockDependency, error) {
	project, err := s.requireMember(ctx, projectID, userID)
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.store.ListProjectEdges(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return project, edges, nil
}

// ListProjects returns the projects userID belongs to.
func (s *Service) ListProjects(ctx context.Context, userID uuid.UUID) ([]*model.Project, error) {
	return s.store.ListProjectsForUser(ctx, userID)
}

// RenameProject renames a project.
func (s *Service) RenameProject(ctx context.Context, projectID, userID uuid.UUID, name string) error {
	if _, err := s.requireMember(ctx, projectID, userID); err != nil {
		return err
	}
	return s.store.RenameProject(ctx, projectID, name)
}

// AddMember adds a user to the project.
func (s *Service) AddMember(ctx context.Context, projectID, userID, newMemberID uuid.UUID) error {
	if _, err := s.requireMember(ctx, projectID, userID); err != nil {
		return err
	}
	return s.store.AddProjectUser(ctx, projectID, newMemberID)
}

// RemoveMember removes a user from the project.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID, memberID uuid.UUID) error {
	if _, err := s.requireMember(ctx, projectID, userID); err != nil {
		return err
	}
	return s.store.RemoveProjectUser(ctx, projectID, memberID)
}

// DeleteProject removes the project, its compiled DAG artifact and the
// orchestrator's copy of the workflow. A workflow the orchestrator no
// longer knows does not block the deletion.
func (s *Service) DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error {
	if _, err := s.requireMember(ctx, projectID, userID); err != nil {
		return err
	}

	dagID := compiler.DAGID(projectID)
	if err := s.compiler.RemoveArtifact(dagID); err != nil {
		logger.Warn(ctx, "Failed to remove DAG artifact",
			tag.DAG(dagID), tag.Error(err))
	}
	if err := s.orch.DeleteDAG(ctx, dagID); err != nil {
		logger.Warn(ctx, "Failed to delete DAG from orchestrator",
			tag.DAG(dagID), tag.Error(err))
	}
	return s.store.DeleteProject(ctx, projectID)
}

// Templates returns all pipeline templates grouped by tag.
func (s *Service) Templates(ctx context.Context) (map[string][]*template.Template, error) {
	return s.catalog.List(ctx)
}
