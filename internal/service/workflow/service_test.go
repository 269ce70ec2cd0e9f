package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/compiler"
	"github.com/flowbench-org/flowbench/internal/engine"
	"github.com/flowbench-org/flowbench/internal/manifest"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/orchestrator"
	"github.com/flowbench-org/flowbench/internal/settings"
	"github.com/flowbench-org/flowbench/internal/store"
	"github.com/flowbench-org/flowbench/internal/template"
)

const blockRepo = "https://git.example.com/blocks/word-counter"

type fakeManifests struct {
	defs map[string]*manifest.Definition
}

func (f *fakeManifests) LoadCached(_ context.Context, repoURL string) (*manifest.Definition, error) {
	def, ok := f.defs[repoURL]
	if !ok {
		return nil, apperr.Newf(apperr.CodeRepoUnreachable, "no repo %s", repoURL)
	}
	return def, nil
}

type fakeCatalog struct {
	templates map[string]*template.Template
}

func (f *fakeCatalog) List(_ context.Context) (map[string][]*template.Template, error) {
	out := map[string][]*template.Template{}
	for _, tpl := range f.templates {
		out["untagged"] = append(out["untagged"], tpl)
	}
	return out, nil
}

func (f *fakeCatalog) Get(_ context.Context, fileIdentifier string) (*template.Template, error) {
	tpl, ok := f.templates[fileIdentifier]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "template %s not found", fileIdentifier)
	}
	return tpl, nil
}

type fakeOrch struct {
	calls []string
	runs  map[string]orchestrator.Run
	tasks []orchestrator.TaskInstance
}

func (f *fakeOrch) WaitForRegistration(_ context.Context, dagID string) error {
	f.calls = append(f.calls, "register:"+dagID)
	return nil
}

func (f *fakeOrch) Unpause(_ context.Context, dagID string) error {
	f.calls = append(f.calls, "unpause:"+dagID)
	return nil
}

func (f *fakeOrch) Trigger(_ context.Context, dagID string) (string, error) {
	f.calls = append(f.calls, "trigger:"+dagID)
	return "manual__1", nil
}

func (f *fakeOrch) LatestRun(_ context.Context, dagID string) (*orchestrator.Run, error) {
	run, ok := f.runs[dagID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (f *fakeOrch) LastRuns(_ context.Context, dagIDs []string) (map[string]orchestrator.Run, error) {
	out := map[string]orchestrator.Run{}
	for _, id := range dagIDs {
		if run, ok := f.runs[id]; ok {
			out[id] = run
		}
	}
	return out, nil
}

func (f *fakeOrch) TaskStates(_ context.Context, _, _ string) ([]orchestrator.TaskInstance, error) {
	return f.tasks, nil
}

func (f *fakeOrch) DeleteDAG(_ context.Context, dagID string) error {
	f.calls = append(f.calls, "delete:"+dagID)
	return nil
}

type fakeLocator struct {
	downloads map[uuid.UUID]string
}

func (f *fakeLocator) DownloadURLs(_ context.Context, _ []*model.InputOutput) map[uuid.UUID]string {
	if f.downloads == nil {
		return map[uuid.UUID]string{}
	}
	return f.downloads
}

func (f *fakeLocator) UploadURL(_ context.Context, port *model.InputOutput) (string, error) {
	return "http://upload/" + port.ID.String(), nil
}

type fixture struct {
	svc     *Service
	store   *store.Memory
	orch    *fakeOrch
	locator *fakeLocator
	userID  uuid.UUID
}

func wordCounterManifest() *manifest.Definition {
	return &manifest.Definition{
		Name:        "word-counter",
		DockerImage: "registry.example.com/word-counter:1",
		Entrypoints: map[string]*manifest.Entrypoint{
			"count": {
				Envs: map[string]any{"MIN_LENGTH": 3},
				Inputs: map[string]*manifest.Put{
					"text": {Type: "file", Config: map[string]any{
						"TEXT_S3_HOST":       nil,
						"TEXT_S3_PORT":       nil,
						"TEXT_S3_ACCESS_KEY": nil,
						"TEXT_S3_SECRET_KEY": nil,
						"TEXT_BUCKET_NAME":   nil,
						"TEXT_FILE_PATH":     nil,
						"TEXT_FILE_NAME":     nil,
					}},
				},
				Outputs: map[string]*manifest.Put{
					"frequencies": {Type: "file", Config: map[string]any{
						"FREQ_S3_HOST":       nil,
						"FREQ_S3_PORT":       nil,
						"FREQ_S3_ACCESS_KEY": nil,
						"FREQ_S3_SECRET_KEY": nil,
						"FREQ_BUCKET_NAME":   nil,
						"FREQ_FILE_PATH":     nil,
						"FREQ_FILE_NAME":     nil,
					}},
				},
			},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objectStore := config.ObjectStore{
		Host: "minio", Port: 9000, AccessKey: "admin", SecretKey: "secret",
		Bucket: "flowbench", FilePath: "artifacts",
	}
	provider, err := settings.NewProvider(objectStore, config.Relational{
		User: "postgres", Password: "postgres", Host: "db", Port: 5432,
	})
	require.NoError(t, err)

	s := store.NewMemory()
	eng := engine.New(s, provider)
	manifests := &fakeManifests{defs: map[string]*manifest.Definition{
		blockRepo: wordCounterManifest(),
	}}
	comp := compiler.New(config.Orchestrator{
		DAGDir:           t.TempDir(),
		NetworkMode:      "bridge",
		LocalStoragePath: "/tmp/flowbench-data",
	})
	orch := &fakeOrch{runs: map[string]orchestrator.Run{}}
	locator := &fakeLocator{}
	inst := template.NewInstantiator(s, manifests, provider)
	catalog := &fakeCatalog{templates: map[string]*template.Template{}}

	return &fixture{
		svc:     New(s, eng, manifests, catalog, inst, comp, orch, locator),
		store:   s,
		orch:    orch,
		locator: locator,
		userID:  uuid.New(),
	}
}

func (f *fixture) project(t *testing.T) *model.Project {
	t.Helper()
	project, err := f.svc.CreateProject(context.Background(), "p", f.userID)
	require.NoError(t, err)
	return project
}

func (f *fixture) addBlock(t *testing.T, projectID uuid.UUID, name string) *model.Block {
	t.Helper()
	block, err := f.svc.CreateBlock(context.Background(), f.userID, NewBlock{
		ProjectID:  projectID,
		RepoURL:    blockRepo,
		Entrypoint: "count",
		CustomName: name,
	})
	require.NoError(t, err)
	return block
}

func portOf(b *model.Block, name string) *model.InputOutput {
	for _, p := range b.Entrypoint.Ports {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (f *fixture) configure(t *testing.T, b *model.Block) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.UpdateEnvs(ctx, f.userID, b.ID, model.ConfigMap{
		"MIN_LENGTH": model.IntValue(5),
	}))
	in := portOf(b, "text")
	update := model.ConfigMap{}
	for _, key := range in.Config.Keys() {
		update[key] = model.StringValue("v")
	}
	require.NoError(t, f.svc.UpdatePortConfigs(ctx, f.userID, map[uuid.UUID]model.ConfigMap{
		in.ID: update,
	}))
}

func TestCreateBlockAppliesOutputDefaults(t *testing.T) {
	f := newFixture(t)
	project := f.project(t)
	block := f.addBlock(t, project.ID, "counter")

	out := portOf(block, "frequencies")
	require.NotNil(t, out)
	assert.Equal(t, "minio", out.Config["FREQ_S3_HOST"].EnvString())
	assert.False(t, out.Config["FREQ_FILE_NAME"].IsUnset())

	// inputs stay unconfigured
	in := portOf(block, "text")
	assert.True(t, in.Config["TEXT_S3_HOST"].IsUnset())
}

func TestMembershipEnforced(t *testing.T) {
	f := newFixture(t)
	project := f.project(t)
	stranger := uuid.New()

	_, err := f.svc.CreateBlock(context.Background(), stranger, NewBlock{
		ProjectID: project.ID, RepoURL: blockRepo, Entrypoint: "count",
	})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, _, err = f.svc.GetProject(context.Background(), project.ID, stranger)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	err = f.svc.DeleteProject(context.Background(), project.ID, stranger)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestStartWorkflowEmptyProject(t *testing.T) {
	f := newFixture(t)
	project := f.project(t)

	_, err := f.svc.StartWorkflow(context.Background(), project.ID, f.userID)
	assert.Equal(t, apperr.CodeEmptyProject, apperr.CodeOf(err))
}

func TestStartWorkflowMissingConfig(t *testing.T) {
	f := newFixture(t)
	project := f.project(t)
	block := f.addBlock(t, project.ID, "counter")

	_, err := f.svc.StartWorkflow(context.Background(), project.ID, f.userID)
	require.Equal(t, apperr.CodeMissingConfig, apperr.CodeOf(err))

	details, ok := apperr.As(err).Details.(ValidationDetails)
	require.True(t, ok)
	assert.Equal(t, project.ID.String(), details.ProjectID)
	assert.Contains(t, details.MissingConfigs[block.ID.String()], "TEXT_S3_HOST")
}

func TestStartWorkflowSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)

	producer := f.addBlock(t, project.ID, "producer")
	consumer := f.addBlock(t, project.ID, "consumer")
	f.configure(t, producer)

	// the edge transfers the producer's output config onto the
	// consumer's input, completing its configuration
	require.NoError(t, f.svc.CreateEdge(ctx, f.userID, model.BlockDependency{
		UpstreamBlockID:   producer.ID,
		UpstreamOutputID:  portOf(producer, "frequencies").ID,
		DownstreamBlockID: consumer.ID,
		DownstreamInputID: portOf(consumer, "text").ID,
	}))
	require.NoError(t, f.svc.UpdateEnvs(ctx, f.userID, consumer.ID, model.ConfigMap{
		"MIN_LENGTH": model.IntValue(2),
	}))

	runID, err := f.svc.StartWorkflow(ctx, project.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "manual__1", runID)

	dagID := compiler.DAGID(project.ID)
	assert.Equal(t, []string{
		"register:" + dagID,
		"unpause:" + dagID,
		"trigger:" + dagID,
	}, f.orch.calls)
}

func TestStartWorkflowRejectsDisconnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)

	a := f.addBlock(t, project.ID, "a")
	b := f.addBlock(t, project.ID, "b")
	f.configure(t, a)
	f.configure(t, b)

	_, err := f.svc.StartWorkflow(ctx, project.ID, f.userID)
	assert.Equal(t, apperr.CodeDisconnected, apperr.CodeOf(err))
}

func TestConfigurationsBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)

	producer := f.addBlock(t, project.ID, "producer")
	consumer := f.addBlock(t, project.ID, "consumer")
	require.NoError(t, f.svc.CreateEdge(ctx, f.userID, model.BlockDependency{
		UpstreamBlockID:   producer.ID,
		UpstreamOutputID:  portOf(producer, "frequencies").ID,
		DownstreamBlockID: consumer.ID,
		DownstreamInputID: portOf(consumer, "text").ID,
	}))

	cfg, err := f.svc.Configurations(ctx, project.ID, f.userID)
	require.NoError(t, err)

	// both blocks still carry the manifest env default, nothing unset
	assert.Empty(t, cfg.UnconfiguredEnvs)

	// producer has no upstream: its input is a workflow input
	require.Len(t, cfg.WorkflowInputs, 1)
	assert.Equal(t, producer.ID, cfg.WorkflowInputs[0].BlockID)
	assert.Equal(t, "text", cfg.WorkflowInputs[0].Name)
	// only the unset keys survive in the view
	assert.Contains(t, cfg.WorkflowInputs[0].Config, "TEXT_S3_HOST")

	// producer's output feeds a downstream block: intermediate
	require.Len(t, cfg.Intermediates, 1)
	assert.Equal(t, producer.ID, cfg.Intermediates[0].BlockID)
	assert.Equal(t, "frequencies", cfg.Intermediates[0].Name)

	// consumer's output is the workflow result
	require.Len(t, cfg.WorkflowOutputs, 1)
	assert.Equal(t, consumer.ID, cfg.WorkflowOutputs[0].BlockID)
}

func TestConfigurationsUnconfiguredEnvs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)

	block := f.addBlock(t, project.ID, "counter")
	require.NoError(t, f.svc.UpdateEnvs(ctx, f.userID, block.ID, model.ConfigMap{
		"MIN_LENGTH": model.NullValue(),
	}))

	cfg, err := f.svc.Configurations(ctx, project.ID, f.userID)
	require.NoError(t, err)
	require.Len(t, cfg.UnconfiguredEnvs, 1)
	assert.Equal(t, block.ID, cfg.UnconfiguredEnvs[0].BlockID)
	assert.Contains(t, cfg.UnconfiguredEnvs[0].Envs, "MIN_LENGTH")
}

func TestProjectStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ran := f.project(t)
	idle := f.project(t)

	f.orch.runs[compiler.DAGID(ran.ID)] = orchestrator.Run{
		DAGID: compiler.DAGID(ran.ID), RunID: "run-1", State: "success",
		StartDate: time.Now().UTC(),
	}

	statuses, err := f.svc.ProjectStatuses(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := map[uuid.UUID]model.WorkflowStatus{}
	for _, st := range statuses {
		byID[st.ProjectID] = st.Status
	}
	assert.Equal(t, model.WorkflowStatusFinished, byID[ran.ID])
	assert.Equal(t, model.WorkflowStatusIdle, byID[idle.ID])
}

func TestBlockStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)
	block := f.addBlock(t, project.ID, "counter")

	dagID := compiler.DAGID(project.ID)
	f.orch.runs[dagID] = orchestrator.Run{DAGID: dagID, RunID: "run-1", State: "running"}
	f.orch.tasks = []orchestrator.TaskInstance{
		{TaskID: compiler.TaskID(block.ID), State: "running"},
	}

	statuses, err := f.svc.BlockStatuses(ctx, project.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, model.BlockStatusRunning, statuses[block.ID])
}

func TestBlockStatusesNoRuns(t *testing.T) {
	f := newFixture(t)
	project := f.project(t)

	statuses, err := f.svc.BlockStatuses(context.Background(), project.ID, f.userID)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestDeleteProjectCleansUpOrchestrator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)

	require.NoError(t, f.svc.DeleteProject(ctx, project.ID, f.userID))

	dagID := compiler.DAGID(project.ID)
	assert.Contains(t, f.orch.calls, "delete:"+dagID)

	_, err := f.store.GetProject(ctx, project.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestUploadURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.project(t)
	block := f.addBlock(t, project.ID, "counter")
	in := portOf(block, "text")

	url, err := f.svc.UploadURL(ctx, f.userID, in.ID)
	require.NoError(t, err)
	assert.Contains(t, url, in.ID.String())

	_, err = f.svc.UploadURL(ctx, uuid.New(), in.ID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestCreateProjectFromTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tpl, err := template.Parse("counter.yaml", []byte(`
pipeline:
  name: counter
blocks:
  - name: counter
    repo_url: `+blockRepo+`
    entrypoint: count
`))
	require.NoError(t, err)
	f.svc.catalog.(*fakeCatalog).templates["counter.yaml"] = tpl

	projectID, err := f.svc.CreateProjectFromTemplate(ctx, "from template", "counter.yaml", f.userID)
	require.NoError(t, err)

	project, _, err := f.svc.GetProject(ctx, projectID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "from template", project.Name)
	require.Len(t, project.Blocks, 1)
	assert.Equal(t, "counter", project.Blocks[0].CustomName)
}
