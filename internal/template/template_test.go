package template

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/manifest"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/settings"
	"github.com/flowbench-org/flowbench/internal/store"
)

const (
	splitterRepo = "https://git.example.com/blocks/splitter"
	counterRepo  = "https://git.example.com/blocks/counter"
)

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

func testManifests() *fakeManifests {
	return &fakeManifests{defs: map[string]*manifest.Definition{
		splitterRepo: {
			Name:        "splitter",
			DockerImage: "registry.example.com/splitter:1",
			Entrypoints: map[string]*manifest.Entrypoint{
				"split": {
					Inputs: map[string]*manifest.Put{
						"document": {Type: "file", Config: map[string]any{
							"DOC_S3_HOST":   nil,
							"DOC_FILE_NAME": nil,
						}},
					},
					Outputs: map[string]*manifest.Put{
						"chunks": {Type: "file", Config: map[string]any{
							"CHUNKS_S3_HOST":   nil,
							"CHUNKS_FILE_NAME": nil,
						}},
					},
				},
			},
		},
		counterRepo: {
			Name:        "counter",
			DockerImage: "registry.example.com/counter:1",
			Entrypoints: map[string]*manifest.Entrypoint{
				"count": {
					Envs: map[string]any{"MIN_LENGTH": 3},
					Inputs: map[string]*manifest.Put{
						"chunks": {Type: "file", Config: map[string]any{
							"CH_S3_HOST":   nil,
							"CH_FILE_NAME": nil,
						}},
					},
					Outputs: map[string]*manifest.Put{
						"frequencies": {Type: "db_table", Config: map[string]any{
							"FREQ_DB_TABLE": nil,
						}},
					},
				},
			},
		},
	}}
}

func newInstantiator(t *testing.T) (*Instantiator, *store.Memory) {
	t.Helper()
	provider, err := settings.NewProvider(config.ObjectStore{
		Host: "minio", Port: 9000, AccessKey: "admin", SecretKey: "secret",
		Bucket: "flowbench", FilePath: "artifacts",
	}, config.Relational{
		User: "postgres", Password: "postgres", Host: "db", Port: 5432,
	})
	require.NoError(t, err)
	s := store.NewMemory()
	return NewInstantiator(s, testManifests(), provider), s
}

func mustParse(t *testing.T, yaml string) *Template {
	t.Helper()
	tpl, err := Parse("pipeline.yaml", []byte(yaml))
	require.NoError(t, err)
	return tpl
}

func blockByName(t *testing.T, p *model.Project, name string) *model.Block {
	t.Helper()
	for _, b := range p.Blocks {
		if b.CustomName == name {
			return b
		}
	}
	t.Fatalf("block %q not found", name)
	return nil
}

func portByName(t *testing.T, b *model.Block, name string) *model.InputOutput {
	t.Helper()
	for _, p := range b.Entrypoint.Ports {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("port %q not found on block %q", name, b.CustomName)
	return nil
}

const linearTemplate = `
pipeline:
  name: word-stats
  description: Split a document and count word frequencies.
  tags: [nlp]
blocks:
  - name: splitter
    repo_url: https://git.example.com/blocks/splitter
    entrypoint: split
  - name: counter
    repo_url: https://git.example.com/blocks/counter
    entrypoint: count
    settings:
      MIN_LENGTH: 5
    inputs:
      - identifier: chunks
        depends_on:
          block: splitter
          output: chunks
`

func TestInstantiateLinearPipeline(t *testing.T) {
	ctx := context.Background()
	inst, s := newInstantiator(t)
	userID := uuid.New()

	projectID, err := inst.Instantiate(ctx, "word stats", mustParse(t, linearTemplate), userID)
	require.NoError(t, err)

	project, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "word stats", project.Name)
	assert.Equal(t, []uuid.UUID{userID}, project.UserIDs)
	require.Len(t, project.Blocks, 2)

	splitter := blockByName(t, project, "splitter")
	counter := blockByName(t, project, "counter")

	// columns follow dependency depth
	assert.Equal(t, float64(0), splitter.PosX)
	assert.Equal(t, float64(0), splitter.PosY)
	assert.Equal(t, float64(500), counter.PosX)
	assert.Equal(t, float64(0), counter.PosY)

	// template env override beats the manifest default
	assert.Equal(t, "5", counter.Entrypoint.Envs["MIN_LENGTH"].EnvString())

	// file output got storage defaults
	chunks := portByName(t, splitter, "chunks")
	assert.Equal(t, "minio", chunks.Config["CHUNKS_S3_HOST"].EnvString())
	fileName := chunks.Config["CHUNKS_FILE_NAME"].EnvString()
	assert.True(t, strings.HasPrefix(fileName, "file_chunks_"))

	// the declared dependency was wired and its config transferred
	edges, err := s.ListProjectEdges(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, splitter.ID, edges[0].UpstreamBlockID)
	assert.Equal(t, counter.ID, edges[0].DownstreamBlockID)

	in := portByName(t, counter, "chunks")
	assert.Equal(t, "minio", in.Config["CH_S3_HOST"].EnvString())
	assert.Equal(t, fileName, in.Config["CH_FILE_NAME"].EnvString())

	// PGTABLE output got table defaults too
	freq := portByName(t, counter, "frequencies")
	assert.True(t, strings.HasPrefix(freq.Config["FREQ_DB_TABLE"].EnvString(), "table_frequencies_"))
}

func TestInstantiateOutputOverride(t *testing.T) {
	ctx := context.Background()
	inst, s := newInstantiator(t)

	tpl := mustParse(t, `
pipeline:
  name: single
blocks:
  - name: splitter
    repo_url: https://git.example.com/blocks/splitter
    entrypoint: split
    outputs:
      - identifier: chunks
        settings:
          CHUNKS_FILE_NAME: fixed-name.txt
`)
	projectID, err := inst.Instantiate(ctx, "single", tpl, uuid.New())
	require.NoError(t, err)

	project, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	chunks := portByName(t, blockByName(t, project, "splitter"), "chunks")

	// override replaces the generated default, the rest stays
	assert.Equal(t, "fixed-name.txt", chunks.Config["CHUNKS_FILE_NAME"].EnvString())
	assert.Equal(t, "minio", chunks.Config["CHUNKS_S3_HOST"].EnvString())
}

func TestInstantiateCyclicTemplate(t *testing.T) {
	ctx := context.Background()
	inst, s := newInstantiator(t)
	userID := uuid.New()

	tpl := mustParse(t, `
pipeline:
  name: loop
blocks:
  - name: a
    repo_url: https://git.example.com/blocks/counter
    entrypoint: count
    inputs:
      - identifier: chunks
        depends_on:
          block: b
          output: frequencies
  - name: b
    repo_url: https://git.example.com/blocks/counter
    entrypoint: count
    inputs:
      - identifier: chunks
        depends_on:
          block: a
          output: frequencies
`)
	_, err := inst.Instantiate(ctx, "loop", tpl, userID)
	assert.Equal(t, apperr.CodeTemplateCyclic, apperr.CodeOf(err))

	projects, err := s.ListProjectsForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestInstantiateRejectsUnknownSettingKey(t *testing.T) {
	ctx := context.Background()
	inst, s := newInstantiator(t)
	userID := uuid.New()

	tpl := mustParse(t, `
pipeline:
  name: broken
blocks:
  - name: counter
    repo_url: https://git.example.com/blocks/counter
    entrypoint: count
    settings:
      NOT_AN_ENV: x
`)
	_, err := inst.Instantiate(ctx, "broken", tpl, userID)
	assert.Equal(t, apperr.CodeConfigKeysMismatch, apperr.CodeOf(err))

	// nothing persisted
	projects, err := s.ListProjectsForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestInstantiateUnknownEntrypoint(t *testing.T) {
	ctx := context.Background()
	inst, _ := newInstantiator(t)

	tpl := mustParse(t, `
pipeline:
  name: bad
blocks:
  - name: counter
    repo_url: https://git.example.com/blocks/counter
    entrypoint: does-not-exist
`)
	_, err := inst.Instantiate(ctx, "bad", tpl, uuid.New())
	assert.Equal(t, apperr.CodeTemplateInvalid, apperr.CodeOf(err))
}

func TestInstantiateUnknownRepo(t *testing.T) {
	ctx := context.Background()
	inst, _ := newInstantiator(t)

	tpl := mustParse(t, `
pipeline:
  name: bad
blocks:
  - name: stranger
    repo_url: https://git.example.com/blocks/stranger
    entrypoint: run
`)
	_, err := inst.Instantiate(ctx, "bad", tpl, uuid.New())
	assert.Equal(t, apperr.CodeRepoUnreachable, apperr.CodeOf(err))
}

func TestParseTemplateValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing pipeline name", `
blocks:
  - name: a
    repo_url: r
    entrypoint: e
`},
		{"no blocks", `
pipeline:
  name: empty
`},
		{"block missing repo_url", `
pipeline:
  name: p
blocks:
  - name: a
    entrypoint: e
`},
		{"duplicate block name", `
pipeline:
  name: p
blocks:
  - name: a
    repo_url: r
    entrypoint: e
  - name: a
    repo_url: r
    entrypoint: e
`},
		{"unknown dependency target", `
pipeline:
  name: p
blocks:
  - name: a
    repo_url: r
    entrypoint: e
    inputs:
      - identifier: in
        depends_on:
          block: ghost
          output: out
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("t.yaml", []byte(tc.yaml))
			assert.Equal(t, apperr.CodeTemplateInvalid, apperr.CodeOf(err))
		})
	}
}

func TestSortBlocksDiamondLayout(t *testing.T) {
	tpl := mustParse(t, `
pipeline:
  name: diamond
blocks:
  - name: a
    repo_url: r
    entrypoint: e
  - name: b
    repo_url: r
    entrypoint: e
    inputs:
      - identifier: in
        depends_on: {block: a, output: out}
  - name: c
    repo_url: r
    entrypoint: e
    inputs:
      - identifier: in
        depends_on: {block: a, output: out}
  - name: d
    repo_url: r
    entrypoint: e
    inputs:
      - identifier: left
        depends_on: {block: b, output: out}
      - identifier: right
        depends_on: {block: c, output: out}
`)
	order, placements, err := sortBlocks(tpl)
	require.NoError(t, err)

	names := make([]string, len(order))
	for i, b := range order {
		names[i] = b.Name
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)

	assert.Equal(t, placement{level: 0, row: 0}, placements["a"])
	assert.Equal(t, placement{level: 1, row: 0}, placements["b"])
	assert.Equal(t, placement{level: 1, row: 1}, placements["c"])
	assert.Equal(t, placement{level: 2, row: 0}, placements["d"])

	x, y := placements["c"].position()
	assert.Equal(t, float64(500), x)
	assert.Equal(t, float64(400), y)
}

func TestTemplateGroupingByTags(t *testing.T) {
	tagged := mustParse(t, linearTemplate)
	untagged := mustParse(t, `
pipeline:
  name: plain
blocks:
  - name: a
    repo_url: r
    entrypoint: e
`)

	grouped := groupByTags([]*Template{tagged, untagged})
	assert.Len(t, grouped["nlp"], 1)
	assert.Len(t, grouped["untagged"], 1)
}
