package compiler

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/model"
)

func testBlock(name string, envs model.ConfigMap, ports ...*model.InputOutput) *model.Block {
	blockID := uuid.New()
	epID := uuid.New()
	for _, p := range ports {
		p.EntrypointID = epID
	}
	return &model.Block{
		ID:          blockID,
		Name:        name,
		CustomName:  name,
		DockerImage: "registry.example.com/" + name + ":1",
		Entrypoint: &model.Entrypoint{
			ID: epID, BlockID: blockID, Name: "main", Envs: envs, Ports: ports,
		},
	}
}

func testProject(blocks ...*model.Block) *model.Project {
	p := &model.Project{ID: uuid.New(), Name: "p", CreatedAt: time.Now().UTC(), Blocks: blocks}
	for _, b := range blocks {
		b.ProjectID = p.ID
	}
	return p
}

func dependency(from, to *model.Block) model.BlockDependency {
	return model.BlockDependency{
		UpstreamBlockID:   from.ID,
		UpstreamOutputID:  uuid.New(),
		DownstreamBlockID: to.ID,
		DownstreamInputID: uuid.New(),
	}
}

func TestBuildGraphEmptyProject(t *testing.T) {
	_, err := BuildGraph(testProject(), nil)
	assert.Equal(t, apperr.CodeEmptyProject, apperr.CodeOf(err))
}

func TestBuildGraphCycle(t *testing.T) {
	a := testBlock("a", nil)
	b := testBlock("b", nil)
	_, err := BuildGraph(testProject(a, b), []model.BlockDependency{
		dependency(a, b),
		dependency(b, a),
	})
	assert.Equal(t, apperr.CodeCyclic, apperr.CodeOf(err))
}

func TestBuildGraphDisconnected(t *testing.T) {
	a := testBlock("a", nil)
	b := testBlock("b", nil)
	c := testBlock("c", nil)
	_, err := BuildGraph(testProject(a, b, c), []model.BlockDependency{
		dependency(a, b),
	})
	assert.Equal(t, apperr.CodeDisconnected, apperr.CodeOf(err))
}

func TestBuildGraphSingleBlockIsConnected(t *testing.T) {
	a := testBlock("a", nil)
	g, err := BuildGraph(testProject(a), nil)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}

func TestBuildGraphDeduplicatesBlockPairEdges(t *testing.T) {
	a := testBlock("a", nil)
	b := testBlock("b", nil)
	g, err := BuildGraph(testProject(a, b), []model.BlockDependency{
		dependency(a, b),
		dependency(a, b), // second port pair between the same blocks
	})
	require.NoError(t, err)
	assert.Len(t, g.Edges, 1)
}

func TestFlattenEnvironmentPortConfigWinsOverEnv(t *testing.T) {
	a := testBlock("a",
		model.ConfigMap{
			"SHARED":    model.StringValue("from-env"),
			"THRESHOLD": model.IntValue(3),
		},
		&model.InputOutput{
			ID: uuid.New(), Direction: model.DirectionInput,
			Name: "in", DataType: model.DataTypeFile,
			Config: model.ConfigMap{
				"SHARED":       model.StringValue("from-port"),
				"IN_FILE_NAME": model.StringValue("doc.txt"),
				"TAGS":         model.ListValue(model.StringValue("x"), model.StringValue("y")),
			},
		})

	g, err := BuildGraph(testProject(a), nil)
	require.NoError(t, err)

	env := g.Nodes[0].Environment
	assert.Equal(t, "from-port", env["SHARED"])
	assert.Equal(t, "3", env["THRESHOLD"])
	assert.Equal(t, "doc.txt", env["IN_FILE_NAME"])
	assert.Equal(t, `["x","y"]`, env["TAGS"])
}

func TestIDRoundTrips(t *testing.T) {
	projectID := uuid.New()
	dagID := DAGID(projectID)
	assert.True(t, strings.HasPrefix(dagID, "dag_"))
	assert.NotContains(t, dagID, "-")

	back, err := ProjectIDFromDAGID(dagID)
	require.NoError(t, err)
	assert.Equal(t, projectID, back)

	blockID := uuid.New()
	taskBack, err := BlockIDFromTaskID(TaskID(blockID))
	require.NoError(t, err)
	assert.Equal(t, blockID, taskBack)

	_, err = ProjectIDFromDAGID("task_nope")
	assert.Equal(t, apperr.CodeUnprocessable, apperr.CodeOf(err))
	_, err = BlockIDFromTaskID("task_not_a_uuid")
	assert.Equal(t, apperr.CodeUnprocessable, apperr.CodeOf(err))
}

func testCompiler(dagDir string) *Compiler {
	return New(config.Orchestrator{
		DAGDir:           dagDir,
		NetworkMode:      "bridge",
		LocalStoragePath: "/tmp/flowbench-data",
	})
}

func TestRenderArtifact(t *testing.T) {
	a := testBlock("fetch", model.ConfigMap{"URL": model.StringValue("http://x")})
	b := testBlock("count", nil)
	project := testProject(a, b)
	g, err := BuildGraph(project, []model.BlockDependency{dependency(a, b)})
	require.NoError(t, err)

	code, err := testCompiler(t.TempDir()).Render(g)
	require.NoError(t, err)
	src := string(code)

	assert.Contains(t, src, "from airflow import DAG")
	assert.Contains(t, src, `dag_id="`+DAGID(project.ID)+`"`)
	assert.Contains(t, src, "is_paused_upon_creation=True")
	assert.Contains(t, src, TaskID(a.ID)+" = DockerOperator(")
	assert.Contains(t, src, `"URL": "http://x",`)
	assert.Contains(t, src, `"FLOWBENCH_ENTRYPOINT": "main",`)
	assert.Contains(t, src, `"FLOWBENCH_BLOCK_ID": "`+a.ID.String()+`",`)
	assert.Contains(t, src, TaskID(a.ID)+" >> "+TaskID(b.ID))
	assert.Contains(t, src, `network_mode="bridge"`)
	assert.Contains(t, src, `source="/tmp/flowbench-data"`)
}

func TestRenderIsDeterministic(t *testing.T) {
	a := testBlock("a", model.ConfigMap{
		"K1": model.StringValue("v1"),
		"K2": model.StringValue("v2"),
		"K3": model.StringValue("v3"),
	})
	b := testBlock("b", nil)
	c := testBlock("c", nil)
	project := testProject(a, b, c)
	deps := []model.BlockDependency{dependency(a, b), dependency(a, c)}

	comp := testCompiler(t.TempDir())
	var first []byte
	for i := 0; i < 5; i++ {
		g, err := BuildGraph(project, deps)
		require.NoError(t, err)
		code, err := comp.Render(g)
		require.NoError(t, err)
		if first == nil {
			first = code
			continue
		}
		assert.Equal(t, string(first), string(code))
	}
}

func TestWriteAndRemoveArtifact(t *testing.T) {
	dir := t.TempDir()
	comp := testCompiler(dir)

	a := testBlock("a", nil)
	g, err := BuildGraph(testProject(a), nil)
	require.NoError(t, err)

	dagID, err := comp.WriteArtifact(g)
	require.NoError(t, err)

	path := comp.ArtifactPath(dagID)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), dagID)

	require.NoError(t, comp.RemoveArtifact(dagID))
	assert.NoFileExists(t, path)

	// removing twice is fine
	require.NoError(t, comp.RemoveArtifact(dagID))
}
