package template

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/engine"
	"github.com/flowbench-org/flowbench/internal/manifest"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/settings"
	"github.com/flowbench-org/flowbench/internal/store"
)

// manifestSource resolves block manifests by repo URL.
type manifestSource interface {
	LoadCached(ctx context.Context, repoURL string) (*manifest.Definition, error)
}

// Instantiator turns a template into a project with configured blocks
// and wired edges, all in one transaction.
type Instantiator struct {
	store     store.Store
	manifests manifestSource
	provider  *settings.Provider
}

// NewInstantiator creates an Instantiator.
func NewInstantiator(s store.Store, manifests manifestSource, provider *settings.Provider) *Instantiator {
	return &Instantiator{store: s, manifests: manifests, provider: provider}
}

// Instantiate creates a new project named projectName owned by userID
// from the template. Blocks are created in topological order with
// template overrides applied, then the declared dependencies are wired
// through the regular edge-creation path so configuration propagates
// the same way it does on the canvas.
func (i *Instantiator) Instantiate(ctx context.Context, projectName string, tpl *Template, userID uuid.UUID) (uuid.UUID, error) {
	defs := make(map[string]*manifest.Definition)
	for _, url := range tpl.RepoURLs() {
		def, err := i.manifests.LoadCached(ctx, url)
		if err != nil {
			return uuid.Nil, err
		}
		defs[url] = def
	}

	order, placements, err := sortBlocks(tpl)
	if err != nil {
		return uuid.Nil, err
	}

	projectID := uuid.New()
	err = i.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateProject(ctx, &model.Project{
			ID:        projectID,
			Name:      projectName,
			CreatedAt: time.Now().UTC(),
			UserIDs:   []uuid.UUID{userID},
		}); err != nil {
			return err
		}

		blockIDs := make(map[string]uuid.UUID, len(order))
		outputIDs := make(map[string]map[string]uuid.UUID, len(order))
		inputIDs := make(map[string]map[string]uuid.UUID, len(order))

		for _, spec := range order {
			block, err := i.buildBlock(projectID, spec, defs[spec.RepoURL], placements[spec.Name])
			if err != nil {
				return err
			}
			if err := tx.CreateBlock(ctx, block); err != nil {
				return err
			}

			blockIDs[spec.Name] = block.ID
			outputIDs[spec.Name] = make(map[string]uuid.UUID)
			inputIDs[spec.Name] = make(map[string]uuid.UUID)
			for _, port := range block.Entrypoint.Ports {
				if port.Direction == model.DirectionOutput {
					outputIDs[spec.Name][port.Name] = port.ID
				} else {
					inputIDs[spec.Name][port.Name] = port.ID
				}
			}
		}

		for _, spec := range tpl.Blocks {
			for _, input := range spec.Inputs {
				if input.DependsOn == nil {
					continue
				}
				outputID, okOut := outputIDs[input.DependsOn.Block][input.DependsOn.Output]
				inputID, okIn := inputIDs[spec.Name][input.Identifier]
				if !okOut || !okIn {
					return apperr.Newf(apperr.CodeTemplateInvalid,
						"template %s: dependency resolution failed for %s/%s -> %s/%s",
						tpl.FileIdentifier, input.DependsOn.Block, input.DependsOn.Output,
						spec.Name, input.Identifier)
				}
				dep := model.BlockDependency{
					UpstreamBlockID:   blockIDs[input.DependsOn.Block],
					UpstreamOutputID:  outputID,
					DownstreamBlockID: blockIDs[spec.Name],
					DownstreamInputID: inputID,
				}
				if err := engine.CreateEdgeIn(ctx, tx, dep); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	logger.Info(ctx, "Instantiated template",
		tag.Template(tpl.FileIdentifier),
		tag.Project(projectID.String()),
		tag.Count(len(order)))
	return projectID, nil
}

// buildBlock configures one block from its manifest and the template's
// overrides.
func (i *Instantiator) buildBlock(projectID uuid.UUID, spec *BlockSpec, def *manifest.Definition, place placement) (*model.Block, error) {
	if def == nil {
		return nil, apperr.Newf(apperr.CodeTemplateInvalid,
			"block repo %s not found", spec.RepoURL)
	}
	epDef, ok := def.Entrypoints[spec.Entrypoint]
	if !ok {
		return nil, apperr.Newf(apperr.CodeTemplateInvalid,
			"entrypoint %q not found in block %q", spec.Entrypoint, spec.Name)
	}

	envs, err := epDef.EnvConfig()
	if err != nil {
		return nil, err
	}
	envs, err = mergeOverrides(envs, spec.Settings,
		fmt.Sprintf("envs of block %q", spec.Name))
	if err != nil {
		return nil, err
	}

	blockID := uuid.New()
	ep := &model.Entrypoint{
		ID:          uuid.New(),
		BlockID:     blockID,
		Name:        spec.Entrypoint,
		Description: epDef.Description,
		Envs:        envs,
	}

	inputOverrides := make(map[string]map[string]any, len(spec.Inputs))
	for _, in := range spec.Inputs {
		inputOverrides[in.Identifier] = in.Settings
	}
	outputOverrides := make(map[string]map[string]any, len(spec.Outputs))
	for _, out := range spec.Outputs {
		outputOverrides[out.Identifier] = out.Settings
	}

	for _, name := range epDef.InputNames() {
		port, err := i.buildPort(ep.ID, model.DirectionInput, name,
			epDef.Inputs[name], inputOverrides[name], spec.Name)
		if err != nil {
			return nil, err
		}
		ep.Ports = append(ep.Ports, port)
	}
	for _, name := range epDef.OutputNames() {
		port, err := i.buildPort(ep.ID, model.DirectionOutput, name,
			epDef.Outputs[name], outputOverrides[name], spec.Name)
		if err != nil {
			return nil, err
		}
		ep.Ports = append(ep.Ports, port)
	}

	x, y := place.position()
	return &model.Block{
		ID:          blockID,
		ProjectID:   projectID,
		Name:        def.Name,
		CustomName:  spec.Name,
		Description: def.Description,
		Author:      def.Author,
		DockerImage: def.DockerImage,
		SourceURL:   spec.RepoURL,
		PosX:        x,
		PosY:        y,
		Entrypoint:  ep,
	}, nil
}

// buildPort configures one port: manifest config, then output defaults,
// then template overrides.
func (i *Instantiator) buildPort(epID uuid.UUID, dir model.Direction, name string, put *manifest.Put, overrides map[string]any, blockName string) (*model.InputOutput, error) {
	cfg, err := put.PortConfig(name)
	if err != nil {
		return nil, err
	}
	dataType := put.DataType()

	if dir == model.DirectionOutput &&
		(dataType == model.DataTypeFile || dataType == model.DataTypePGTable) {
		defaults := i.provider.Defaults(dataType, name)
		cfg = settings.ApplyValues(cfg, dataType, defaults)
	}

	cfg, err = mergeOverrides(cfg, overrides,
		fmt.Sprintf("port %q of block %q", name, blockName))
	if err != nil {
		return nil, err
	}

	return &model.InputOutput{
		ID:           uuid.New(),
		EntrypointID: epID,
		Direction:    dir,
		Name:         name,
		DataType:     dataType,
		Description:  put.Description,
		Config:       cfg,
	}, nil
}

// mergeOverrides applies template overrides onto a config. Override
// keys must be a subset of the existing keys.
func mergeOverrides(base model.ConfigMap, overrides map[string]any, what string) (model.ConfigMap, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	update, err := model.ConfigMapFromAny(overrides)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTemplateInvalid,
			fmt.Sprintf("invalid settings for %s", what), err)
	}
	for _, key := range update.Keys() {
		if _, ok := base[key]; !ok {
			return nil, apperr.Newf(apperr.CodeConfigKeysMismatch,
				"template key %q does not exist in %s", key, what)
		}
	}
	out := base.Clone()
	if out == nil {
		out = model.ConfigMap{}
	}
	for k, v := range update {
		out[k] = v
	}
	return out, nil
}
