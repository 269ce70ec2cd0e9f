// Package engine implements configuration propagation across the
// pipeline graph: output defaults, edge creation with config transfer,
// and port updates with single-hop downstream cascade.
package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/settings"
	"github.com/flowbench-org/flowbench/internal/store"
)

// Engine applies the propagation rules on top of a Store.
type Engine struct {
	store    store.Store
	provider *settings.Provider
}

// New creates an Engine.
func New(s store.Store, provider *settings.Provider) *Engine {
	return &Engine{store: s, provider: provider}
}

// ApplyOutputDefaults overwrites the default-matched config keys of
// every FILE and PGTABLE output port of the entrypoint with provider
// defaults. Input ports and CUSTOM outputs stay untouched.
func (e *Engine) ApplyOutputDefaults(ep *model.Entrypoint) {
	for _, port := range ep.Outputs() {
		switch port.DataType {
		case model.DataTypeFile, model.DataTypePGTable:
			defaults := e.provider.Defaults(port.DataType, port.Name)
			port.Config = settings.ApplyValues(port.Config, port.DataType, defaults)
		}
	}
}

// CreateEdge validates and persists a directed dependency, then
// transfers the upstream output's default-matched config values onto
// the downstream input. CUSTOM edges carry no configuration.
func (e *Engine) CreateEdge(ctx context.Context, dep model.BlockDependency) error {
	return e.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		return CreateEdgeIn(ctx, tx, dep)
	})
}

// CreateEdgeIn is CreateEdge running inside an already-open
// transaction. Template instantiation uses it to wire edges in the same
// transaction that created the blocks.
func CreateEdgeIn(ctx context.Context, tx store.Store, dep model.BlockDependency) error {
	refs, err := tx.ResolvePorts(ctx, []uuid.UUID{dep.UpstreamOutputID, dep.DownstreamInputID})
	if err != nil {
		return err
	}
	out, in := refs[0], refs[1]

	if err := validateEdgeEndpoints(dep, out, in); err != nil {
		return err
	}
	if out.Port.DataType != in.Port.DataType {
		return apperr.Newf(apperr.CodeTypeMismatch,
			"cannot connect %s output %q to %s input %q",
			out.Port.DataType, out.Port.Name, in.Port.DataType, in.Port.Name)
	}

	if err := tx.CreateEdge(ctx, dep); err != nil {
		return err
	}

	if out.Port.DataType == model.DataTypeCustom {
		return nil
	}

	values := settings.ExtractDefaults(out.Port)
	updated := settings.ApplyValues(in.Port.Config, in.Port.DataType, values)
	if err := tx.UpdatePortConfigs(ctx, map[uuid.UUID]model.ConfigMap{
		in.Port.ID: updated,
	}); err != nil {
		return err
	}

	logger.Debug(ctx, "Edge created with config transfer",
		tag.Port(out.Port.ID.String()),
		tag.Port(in.Port.ID.String()),
		tag.Count(len(values)))
	return nil
}

func validateEdgeEndpoints(dep model.BlockDependency, out, in *store.PortRef) error {
	if out.Port.Direction != model.DirectionOutput {
		return apperr.Newf(apperr.CodeUnprocessable,
			"port %q is not an output", out.Port.Name)
	}
	if in.Port.Direction != model.DirectionInput {
		return apperr.Newf(apperr.CodeUnprocessable,
			"port %q is not an input", in.Port.Name)
	}
	if out.BlockID != dep.UpstreamBlockID || in.BlockID != dep.DownstreamBlockID {
		return apperr.New(apperr.CodeUnprocessable,
			"edge endpoints do not belong to the referenced blocks")
	}
	if out.ProjectID != in.ProjectID {
		return apperr.New(apperr.CodeUnprocessable,
			"edge endpoints belong to different projects")
	}
	return nil
}

// DeleteEdge removes a dependency. Configuration already transferred to
// the downstream input is kept.
func (e *Engine) DeleteEdge(ctx context.Context, dep model.BlockDependency) error {
	return e.store.DeleteEdge(ctx, dep)
}

// UpdatePorts merges partial config updates into the referenced ports.
// Update keys must be a subset of the port's existing keys. Updated
// FILE and PGTABLE outputs cascade their default-matched values one hop
// to directly connected inputs; the cascade does not recurse.
func (e *Engine) UpdatePorts(ctx context.Context, updates map[uuid.UUID]model.ConfigMap) error {
	if len(updates) == 0 {
		return nil
	}
	return e.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		ids := make([]uuid.UUID, 0, len(updates))
		for id := range updates {
			ids = append(ids, id)
		}
		refs, err := tx.ResolvePorts(ctx, ids)
		if err != nil {
			return err
		}

		merged := make(map[uuid.UUID]model.ConfigMap, len(refs))
		var cascading []*store.PortRef
		for i, ref := range refs {
			update := updates[ids[i]]
			cfg, err := mergeSubset(ref.Port, update)
			if err != nil {
				return err
			}
			merged[ref.Port.ID] = cfg

			if ref.Port.Direction == model.DirectionOutput &&
				(ref.Port.DataType == model.DataTypeFile || ref.Port.DataType == model.DataTypePGTable) {
				cascaded := *ref.Port
				cascaded.Config = cfg
				cascading = append(cascading, &store.PortRef{
					Port: &cascaded, BlockID: ref.BlockID, ProjectID: ref.ProjectID,
				})
			}
		}

		if err := cascade(ctx, tx, cascading, merged); err != nil {
			return err
		}
		return tx.UpdatePortConfigs(ctx, merged)
	})
}

// cascade copies the default-matched values of each updated output onto
// every directly connected input.
func cascade(ctx context.Context, tx store.Store, outputs []*store.PortRef, merged map[uuid.UUID]model.ConfigMap) error {
	if len(outputs) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*store.PortRef, len(outputs))
	ids := make([]uuid.UUID, 0, len(outputs))
	for _, ref := range outputs {
		byID[ref.Port.ID] = ref
		ids = append(ids, ref.Port.ID)
	}

	edges, err := tx.EdgesFromOutputs(ctx, ids)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		out := byID[edge.UpstreamOutputID]
		refs, err := tx.ResolvePorts(ctx, []uuid.UUID{edge.DownstreamInputID})
		if err != nil {
			return err
		}
		in := refs[0].Port

		base := in.Config
		if pending, ok := merged[in.ID]; ok {
			base = pending
		}
		values := settings.ExtractDefaults(out.Port)
		merged[in.ID] = settings.ApplyValues(base, in.DataType, values)

		logger.Debug(ctx, "Cascaded output config to connected input",
			tag.Port(out.Port.ID.String()), tag.Port(in.ID.String()))
	}
	return nil
}

// mergeSubset checks the update keys against the port's existing keys
// and returns the merged config.
func mergeSubset(port *model.InputOutput, update model.ConfigMap) (model.ConfigMap, error) {
	for _, key := range update.Keys() {
		if _, ok := port.Config[key]; !ok {
			return nil, apperr.Newf(apperr.CodeConfigKeysMismatch,
				"key %q does not exist in config of port %q", key, port.Name)
		}
	}
	out := port.Config.Clone()
	if out == nil {
		out = model.ConfigMap{}
	}
	for k, v := range update {
		out[k] = v
	}
	return out, nil
}

// UpdateEnvs merges a partial env update into an entrypoint. Update
// keys must be a subset of the existing env keys.
func (e *Engine) UpdateEnvs(ctx context.Context, entrypointID uuid.UUID, update model.ConfigMap) error {
	return e.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		envs, err := tx.GetEntrypointEnvs(ctx, entrypointID)
		if err != nil {
			return err
		}
		for _, key := range update.Keys() {
			if _, ok := envs[key]; !ok {
				return apperr.Newf(apperr.CodeConfigKeysMismatch,
					"key %q does not exist in envs of entrypoint %s", key, entrypointID)
			}
		}
		merged := envs.Clone()
		for k, v := range update {
			merged[k] = v
		}
		return tx.UpdateEntrypointEnvs(ctx, entrypointID, merged)
	})
}
