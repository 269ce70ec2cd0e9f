// Package manifest loads compute-block manifests from git repositories.
// A manifest is a block.yaml at the repository root describing the
// block's image, entrypoints and typed ports.
package manifest

import (
	"fmt"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/model"
)

// FileName is the manifest filename looked up at the repository root.
const FileName = "block.yaml"

// Definition is the parsed manifest of one compute block.
type Definition struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Author      string                 `yaml:"author"`
	DockerImage string                 `yaml:"docker_image"`
	Entrypoints map[string]*Entrypoint `yaml:"entrypoints"`
}

// Entrypoint is one invocation surface declared by a manifest.
type Entrypoint struct {
	Description string          `yaml:"description"`
	Envs        map[string]any  `yaml:"envs"`
	Inputs      map[string]*Put `yaml:"inputs"`
	Outputs     map[string]*Put `yaml:"outputs"`
}

// Put is a declared input or output port.
type Put struct {
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Config      map[string]any `yaml:"config"`
}

// DataType maps the manifest type string onto the model data type.
func (p *Put) DataType() model.DataType {
	return model.ParseDataType(p.Type)
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, apperr.Wrap(apperr.CodeManifestInvalid, "failed to parse manifest", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structural invariants of a manifest.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return apperr.New(apperr.CodeManifestInvalid, "manifest is missing a name")
	}
	if d.DockerImage == "" {
		return apperr.Newf(apperr.CodeManifestInvalid, "manifest %s is missing a docker image", d.Name)
	}
	if len(d.Entrypoints) == 0 {
		return apperr.Newf(apperr.CodeManifestInvalid, "manifest %s declares no entrypoints", d.Name)
	}
	for name, ep := range d.Entrypoints {
		if ep == nil {
			return apperr.Newf(apperr.CodeManifestInvalid, "entrypoint %s is empty", name)
		}
	}
	return nil
}

// EntrypointNames returns the declared entrypoint names in sorted order.
func (d *Definition) EntrypointNames() []string {
	names := make([]string, 0, len(d.Entrypoints))
	for name := range d.Entrypoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entrypoint returns the named entrypoint or a NOT_FOUND error.
func (d *Definition) Entrypoint(name string) (*Entrypoint, error) {
	ep, ok := d.Entrypoints[name]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound,
			"manifest %s has no entrypoint %q", d.Name, name)
	}
	return ep, nil
}

// InputNames returns the entrypoint's input names in sorted order.
func (e *Entrypoint) InputNames() []string {
	return sortedKeys(e.Inputs)
}

// OutputNames returns the entrypoint's output names in sorted order.
func (e *Entrypoint) OutputNames() []string {
	return sortedKeys(e.Outputs)
}

func sortedKeys(m map[string]*Put) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvConfig converts the entrypoint's declared envs into a ConfigMap.
func (e *Entrypoint) EnvConfig() (model.ConfigMap, error) {
	cfg, err := model.ConfigMapFromAny(e.Envs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeManifestInvalid, "invalid envs", err)
	}
	return cfg, nil
}

// PortConfig converts a port's declared config into a ConfigMap.
func (p *Put) PortConfig(name string) (model.ConfigMap, error) {
	cfg, err := model.ConfigMapFromAny(p.Config)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeManifestInvalid,
			fmt.Sprintf("invalid config for port %s", name), err)
	}
	return cfg, nil
}
