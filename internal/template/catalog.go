package template

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/manifest"
)

// untaggedGroup collects templates whose pipeline declares no tags.
const untaggedGroup = "untagged"

// Catalog serves pipeline templates from a dedicated git repository.
// Every *.yaml/*.yml at the repository root is one template; the
// filename is its identifier.
type Catalog struct {
	repoURL  string
	registry *manifest.Registry
}

// NewCatalog creates a Catalog over the templates repository.
func NewCatalog(repoURL string, registry *manifest.Registry) *Catalog {
	return &Catalog{repoURL: repoURL, registry: registry}
}

// List returns all templates grouped by pipeline tag. Templates without
// tags land in the "untagged" group. Files that fail to parse are
// skipped with a warning so one broken template does not hide the rest.
func (c *Catalog) List(ctx context.Context) (map[string][]*Template, error) {
	templates, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return groupByTags(templates), nil
}

func groupByTags(templates []*Template) map[string][]*Template {
	grouped := make(map[string][]*Template)
	for _, tpl := range templates {
		if len(tpl.Pipeline.Tags) == 0 {
			grouped[untaggedGroup] = append(grouped[untaggedGroup], tpl)
			continue
		}
		for _, t := range tpl.Pipeline.Tags {
			grouped[t] = append(grouped[t], tpl)
		}
	}
	return grouped
}

// Get returns the template with the given file identifier.
func (c *Catalog) Get(ctx context.Context, fileIdentifier string) (*Template, error) {
	dir, err := c.registry.Ensure(ctx, c.repoURL)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, filepath.Base(fileIdentifier))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.CodeNotFound,
				"template %s not found", fileIdentifier)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to read template", err)
	}
	return Parse(filepath.Base(fileIdentifier), data)
}

func (c *Catalog) load(ctx context.Context) ([]*Template, error) {
	dir, err := c.registry.Ensure(ctx, c.repoURL)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to read templates dir", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var templates []*Template
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn(ctx, "Failed to read template file",
				tag.Template(name), tag.Error(err))
			continue
		}
		tpl, err := Parse(name, data)
		if err != nil {
			logger.Warn(ctx, "Skipping invalid template",
				tag.Template(name), tag.Error(err))
			continue
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}
