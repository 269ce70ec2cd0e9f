package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/model"
)

func newTestProject(t *testing.T, s Store, users ...uuid.UUID) *model.Project {
	t.Helper()
	project := &model.Project{
		ID:        uuid.New(),
		Name:      "analytics",
		CreatedAt: time.Now().UTC(),
		UserIDs:   users,
	}
	require.NoError(t, s.CreateProject(context.Background(), project))
	return project
}

func newTestBlock(t *testing.T, s Store, projectID uuid.UUID, customName string) *model.Block {
	t.Helper()
	blockID := uuid.New()
	epID := uuid.New()
	block := &model.Block{
		ID:          blockID,
		ProjectID:   projectID,
		Name:        "word-counter",
		CustomName:  customName,
		DockerImage: "registry.example.com/blocks/word-counter:1.4",
		Entrypoint: &model.Entrypoint{
			ID:      epID,
			BlockID: blockID,
			Name:    "count",
			Envs:    model.ConfigMap{"LANGUAGE": model.StringValue("en")},
			Ports: []*model.InputOutput{
				{
					ID:           uuid.New(),
					EntrypointID: epID,
					Direction:    model.DirectionInput,
					Name:         "text",
					DataType:     model.DataTypeFile,
					Config:       model.ConfigMap{"TEXT_S3_HOST": model.NullValue()},
				},
				{
					ID:           uuid.New(),
					EntrypointID: epID,
					Direction:    model.DirectionOutput,
					Name:         "frequencies",
					DataType:     model.DataTypePGTable,
					Config:       model.ConfigMap{"FREQ_DB_TABLE": model.NullValue()},
				},
			},
		},
	}
	require.NoError(t, s.CreateBlock(context.Background(), block))
	return block
}

func TestProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	user := uuid.New()

	project := newTestProject(t, s, user)

	got, err := s.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "analytics", got.Name)
	assert.Equal(t, []uuid.UUID{user}, got.UserIDs)

	require.NoError(t, s.RenameProject(ctx, project.ID, "analytics-v2"))
	got, err = s.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "analytics-v2", got.Name)

	listed, err := s.ListProjectsForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	other, err := s.ListProjectsForUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.DeleteProject(ctx, project.ID))
	_, err = s.GetProject(ctx, project.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestProjectMembership(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)
	user := uuid.New()

	require.NoError(t, s.AddProjectUser(ctx, project.ID, user))
	listed, err := s.ListProjectsForUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, s.RemoveProjectUser(ctx, project.ID, user))
	listed, err = s.ListProjectsForUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestBlockLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)
	block := newTestBlock(t, s, project.ID, "counter-1")

	got, err := s.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Entrypoint)
	assert.Len(t, got.Entrypoint.Ports, 2)
	// FILE before PGTABLE
	assert.Equal(t, model.DataTypeFile, got.Entrypoint.Ports[0].DataType)
	assert.Equal(t, model.DataTypePGTable, got.Entrypoint.Ports[1].DataType)

	name := "counter-renamed"
	x := 500.0
	require.NoError(t, s.UpdateBlockMeta(ctx, block.ID, BlockMetaUpdate{CustomName: &name, PosX: &x}))
	got, err = s.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	assert.Equal(t, "counter-renamed", got.CustomName)
	assert.Equal(t, 500.0, got.PosX)

	require.NoError(t, s.DeleteBlock(ctx, block.ID))
	_, err = s.GetBlock(ctx, block.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestDuplicateCustomNameRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)
	newTestBlock(t, s, project.ID, "counter-1")

	dup := &model.Block{
		ID:         uuid.New(),
		ProjectID:  project.ID,
		Name:       "word-counter",
		CustomName: "counter-1",
	}
	err := s.CreateBlock(ctx, dup)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestResolveAndUpdatePorts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)
	block := newTestBlock(t, s, project.ID, "counter-1")
	portID := block.Entrypoint.Ports[0].ID

	refs, err := s.ResolvePorts(ctx, []uuid.UUID{portID})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, block.ID, refs[0].BlockID)
	assert.Equal(t, project.ID, refs[0].ProjectID)

	cfg := model.ConfigMap{"TEXT_S3_HOST": model.StringValue("minio")}
	require.NoError(t, s.UpdatePortConfigs(ctx, map[uuid.UUID]model.ConfigMap{portID: cfg}))

	refs, err = s.ResolvePorts(ctx, []uuid.UUID{portID})
	require.NoError(t, err)
	assert.Equal(t, "minio", refs[0].Port.Config["TEXT_S3_HOST"].EnvString())

	_, err = s.ResolvePorts(ctx, []uuid.UUID{uuid.New()})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestEdgeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)
	upstream := newTestBlock(t, s, project.ID, "counter-1")
	downstream := newTestBlock(t, s, project.ID, "counter-2")

	dep := model.BlockDependency{
		UpstreamBlockID:   upstream.ID,
		UpstreamOutputID:  upstream.Entrypoint.Outputs()[0].ID,
		DownstreamBlockID: downstream.ID,
		DownstreamInputID: downstream.Entrypoint.Inputs()[0].ID,
	}
	require.NoError(t, s.CreateEdge(ctx, dep))

	err := s.CreateEdge(ctx, dep)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	edges, err := s.ListProjectEdges(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	edges, err = s.EdgesFromOutputs(ctx, []uuid.UUID{dep.UpstreamOutputID})
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	// deleting a block removes its edges
	require.NoError(t, s.DeleteBlock(ctx, upstream.ID))
	edges, err = s.ListProjectEdges(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)

	err := s.InTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.RenameProject(ctx, project.ID, "changed"); err != nil {
			return err
		}
		return apperr.New(apperr.CodeInternal, "boom")
	})
	require.Error(t, err)

	got, err := s.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "analytics", got.Name)
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.RenameProject(ctx, project.ID, "changed")
	}))

	got, err := s.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Name)
}

func TestInTxDoesNotDiscardConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	userID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(ctx context.Context, tx Store) error {
			err := tx.CreateProject(ctx, &model.Project{
				ID: uuid.New(), Name: "in tx", CreatedAt: time.Now().UTC(),
				UserIDs: []uuid.UUID{userID},
			})
			close(entered)
			<-release
			return err
		})
	}()
	<-entered

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		_ = s.CreateProject(ctx, &model.Project{
			ID: uuid.New(), Name: "direct", CreatedAt: time.Now().UTC(),
			UserIDs: []uuid.UUID{userID},
		})
	}()

	// the direct write must wait for the open transaction
	select {
	case <-writeDone:
		t.Fatal("write did not wait for the open transaction")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-txDone)
	<-writeDone

	// both mutations survive the commit
	projects, err := s.ListProjectsForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, projects, 2)
}

func TestReadsDoNotAliasState(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	project := newTestProject(t, s)
	block := newTestBlock(t, s, project.ID, "counter-1")

	got, err := s.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	got.Entrypoint.Ports[0].Config["TEXT_S3_HOST"] = model.StringValue("mutated")

	again, err := s.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	assert.True(t, again.Entrypoint.Ports[0].Config["TEXT_S3_HOST"].IsUnset())
}
