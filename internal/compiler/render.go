package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/cmn/fileutil"
)

// Reserved environment keys injected into every task so the container
// knows which block it is running.
const (
	envKeyEntrypoint = "FLOWBENCH_ENTRYPOINT"
	envKeyProjectID  = "FLOWBENCH_PROJECT_ID"
	envKeyBlockID    = "FLOWBENCH_BLOCK_ID"
)

var templateFuncs = template.FuncMap{
	// strconv.Quote escapes are a valid Python string literal too
	"pystr": strconv.Quote,
}

var headerTemplate = template.Must(template.New("header").Funcs(templateFuncs).Parse(
	`from airflow import DAG
from airflow.providers.docker.operators.docker import DockerOperator
from airflow.utils.dates import days_ago
from docker.types import Mount

dag = DAG(
    dag_id={{pystr .DAGID}},
    schedule_interval=None,
    start_date=days_ago(1),
    catchup=False,
    is_paused_upon_creation=True,
)
`))

var taskTemplate = template.Must(template.New("task").Funcs(templateFuncs).Parse(
	`{{.TaskID}} = DockerOperator(
    task_id={{pystr .TaskID}},
    image={{pystr .Image}},
    api_version="auto",
    auto_remove="force",
    docker_url="unix://var/run/docker.sock",
    network_mode={{pystr .NetworkMode}},
    mount_tmp_dir=False,
    mounts=[Mount(source={{pystr .LocalStoragePath}}, target="/data", type="bind")],
    environment={
{{- range .Environment}}
        {{pystr .Key}}: {{pystr .Value}},
{{- end}}
    },
    dag=dag,
)
`))

var dependencyTemplate = template.Must(template.New("dependency").Parse(
	`{{.From}} >> {{.To}}
`))

type envEntry struct {
	Key   string
	Value string
}

type taskData struct {
	TaskID           string
	Image            string
	NetworkMode      string
	LocalStoragePath string
	Environment      []envEntry
}

// Compiler renders Graphs into orchestrator DAG artifacts.
type Compiler struct {
	cfg config.Orchestrator
}

// New creates a Compiler.
func New(cfg config.Orchestrator) *Compiler {
	return &Compiler{cfg: cfg}
}

// Render produces the Python source of the DAG. Output is
// deterministic for a given graph.
func (c *Compiler) Render(g *Graph) ([]byte, error) {
	var buf strings.Builder

	if err := headerTemplate.Execute(&buf, struct{ DAGID string }{DAGID(g.ProjectID)}); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to render DAG header", err)
	}

	for _, node := range g.Nodes {
		buf.WriteByte('\n')
		if err := taskTemplate.Execute(&buf, c.taskData(g, node)); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal,
				fmt.Sprintf("failed to render task for block %s", node.BlockID), err)
		}
	}

	if len(g.Edges) > 0 {
		buf.WriteByte('\n')
	}
	for _, edge := range g.Edges {
		data := struct{ From, To string }{TaskID(edge.From), TaskID(edge.To)}
		if err := dependencyTemplate.Execute(&buf, data); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to render dependency", err)
		}
	}
	return []byte(buf.String()), nil
}

func (c *Compiler) taskData(g *Graph, node *Node) taskData {
	env := make([]envEntry, 0, len(node.Environment)+3)
	for key, value := range node.Environment {
		env = append(env, envEntry{Key: key, Value: value})
	}
	env = append(env,
		envEntry{Key: envKeyEntrypoint, Value: node.Entrypoint},
		envEntry{Key: envKeyProjectID, Value: g.ProjectID.String()},
		envEntry{Key: envKeyBlockID, Value: node.BlockID.String()},
	)
	sort.Slice(env, func(i, j int) bool { return env[i].Key < env[j].Key })

	return taskData{
		TaskID:           TaskID(node.BlockID),
		Image:            node.Image,
		NetworkMode:      c.cfg.NetworkMode,
		LocalStoragePath: c.cfg.LocalStoragePath,
		Environment:      env,
	}
}

// ArtifactPath returns where the DAG file for dagID lives.
func (c *Compiler) ArtifactPath(dagID string) string {
	return filepath.Join(c.cfg.DAGDir, dagID+".py")
}

// WriteArtifact renders the graph and writes it atomically into the
// orchestrator's DAG directory. Returns the DAG id.
func (c *Compiler) WriteArtifact(g *Graph) (string, error) {
	code, err := c.Render(g)
	if err != nil {
		return "", err
	}
	dagID := DAGID(g.ProjectID)
	if err := fileutil.WriteFileAtomic(c.ArtifactPath(dagID), code, 0644); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "failed to write DAG artifact", err)
	}
	return dagID, nil
}

// RemoveArtifact deletes the DAG file. A missing file is not an error;
// the orchestrator may already have been cleaned up.
func (c *Compiler) RemoveArtifact(dagID string) error {
	err := os.Remove(c.ArtifactPath(dagID))
	if err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.CodeInternal, "failed to remove DAG artifact", err)
	}
	return nil
}
