// Package template loads pipeline templates from a git repository and
// instantiates them into fully wired projects.
package template

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
)

// Template is one pipeline template file.
type Template struct {
	// FileIdentifier is the template's filename within the repo.
	FileIdentifier string `yaml:"-"`

	Pipeline PipelineMeta `yaml:"pipeline"`
	Blocks   []*BlockSpec `yaml:"blocks"`
}

// PipelineMeta describes the template for catalog listings.
type PipelineMeta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// BlockSpec places one block in the template's pipeline.
type BlockSpec struct {
	Name       string         `yaml:"name"`
	RepoURL    string         `yaml:"repo_url"`
	Entrypoint string         `yaml:"entrypoint"`
	Settings   map[string]any `yaml:"settings"`
	Inputs     []*InputSpec   `yaml:"inputs"`
	Outputs    []*OutputSpec  `yaml:"outputs"`
}

// InputSpec overrides an input's config and optionally wires it to an
// upstream output.
type InputSpec struct {
	Identifier string         `yaml:"identifier"`
	Settings   map[string]any `yaml:"settings"`
	DependsOn  *DependsOn     `yaml:"depends_on"`
}

// OutputSpec overrides an output's config.
type OutputSpec struct {
	Identifier string         `yaml:"identifier"`
	Settings   map[string]any `yaml:"settings"`
}

// DependsOn names the upstream block and output an input consumes.
type DependsOn struct {
	Block  string `yaml:"block"`
	Output string `yaml:"output"`
}

// Parse decodes and validates a template file.
func Parse(fileIdentifier string, data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, apperr.Wrap(apperr.CodeTemplateInvalid,
			fmt.Sprintf("failed to parse template %s", fileIdentifier), err)
	}
	tpl.FileIdentifier = fileIdentifier
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Validate checks the structural invariants of a template.
func (t *Template) Validate() error {
	if t.Pipeline.Name == "" {
		return apperr.Newf(apperr.CodeTemplateInvalid,
			"template %s is missing a pipeline name", t.FileIdentifier)
	}
	if len(t.Blocks) == 0 {
		return apperr.Newf(apperr.CodeTemplateInvalid,
			"template %s declares no blocks", t.FileIdentifier)
	}

	names := make(map[string]struct{}, len(t.Blocks))
	for _, block := range t.Blocks {
		if block.Name == "" || block.RepoURL == "" || block.Entrypoint == "" {
			return apperr.Newf(apperr.CodeTemplateInvalid,
				"template %s: every block needs a name, repo_url and entrypoint",
				t.FileIdentifier)
		}
		if _, dup := names[block.Name]; dup {
			return apperr.Newf(apperr.CodeTemplateInvalid,
				"template %s: duplicate block name %q", t.FileIdentifier, block.Name)
		}
		names[block.Name] = struct{}{}
	}

	for _, block := range t.Blocks {
		for _, input := range block.Inputs {
			if input.DependsOn == nil {
				continue
			}
			if _, ok := names[input.DependsOn.Block]; !ok {
				return apperr.Newf(apperr.CodeTemplateInvalid,
					"template %s: input %q of block %q depends on unknown block %q",
					t.FileIdentifier, input.Identifier, block.Name, input.DependsOn.Block)
			}
		}
	}
	return nil
}

// RepoURLs returns the distinct block repo URLs in declaration order.
func (t *Template) RepoURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, block := range t.Blocks {
		if _, ok := seen[block.RepoURL]; !ok {
			seen[block.RepoURL] = struct{}{}
			urls = append(urls, block.RepoURL)
		}
	}
	return urls
}
