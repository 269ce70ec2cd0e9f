package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/manifest"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/store"
)

// NewBlock are the parameters for placing a block on the canvas.
type NewBlock struct {
	ProjectID  uuid.UUID
	RepoURL    string
	Entrypoint string
	CustomName string
	PosX       float64
	PosY       float64
}

// InspectManifest fetches and parses the manifest of a block repo, so
// the frontend can offer its entrypoints and ports before placement.
func (s *Service) InspectManifest(ctx context.Context, repoURL string) (*manifest.Definition, error) {
	return s.manifests.LoadCached(ctx, repoURL)
}

// CreateBlock ingests a block from its manifest: the selected
// entrypoint's envs and ports are materialized, FILE and PGTABLE
// outputs get storage defaults, and the block lands at the given
// canvas position.
func (s *Service) CreateBlock(ctx context.Context, userID uuid.UUID, params NewBlock) (*model.Block, error) {
	if _, err := s.requireMember(ctx, params.ProjectID, userID); err != nil {
		return nil, err
	}
	def, err := s.manifests.LoadCached(ctx, params.RepoURL)
	if err != nil {
		return nil, err
	}
	epDef, err := def.Entrypoint(params.Entrypoint)
	if err != nil {
		return nil, err
	}

	envs, err := epDef.EnvConfig()
	if err != nil {
		return nil, err
	}

	blockID := uuid.New()
	ep := &model.Entrypoint{
		ID:          uuid.New(),
		BlockID:     blockID,
		Name:        params.Entrypoint,
		Description: epDef.Description,
		Envs:        envs,
	}
	for _, name := range epDef.InputNames() {
		port, err := manifestPort(ep.ID, model.DirectionInput, name, epDef.Inputs[name])
		if err != nil {
			return nil, err
		}
		ep.Ports = append(ep.Ports, port)
	}
	for _, name := range epDef.OutputNames() {
		port, err := manifestPort(ep.ID, model.DirectionOutput, name, epDef.Outputs[name])
		if err != nil {
			return nil, err
		}
		ep.Ports = append(ep.Ports, port)
	}
	s.engine.ApplyOutputDefaults(ep)

	block := &model.Block{
		ID:          blockID,
		ProjectID:   params.ProjectID,
		Name:        def.Name,
		CustomName:  params.CustomName,
		Description: def.Description,
		Author:      def.Author,
		DockerImage: def.DockerImage,
		SourceURL:   params.RepoURL,
		PosX:        params.PosX,
		PosY:        params.PosY,
		Entrypoint:  ep,
	}
	if block.CustomName == "" {
		block.CustomName = def.Name
	}
	if err := s.store.CreateBlock(ctx, block); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Created block from manifest",
		tag.Project(params.ProjectID.String()),
		tag.Block(block.ID.String()),
		tag.RepoURL(params.RepoURL))
	return block, nil
}

func manifestPort(epID uuid.UUID, dir model.Direction, name string, put *manifest.Put) (*model.InputOutput, error) {
	cfg, err := put.PortConfig(name)
	if err != nil {
		return nil, err
	}
	return &model.InputOutput{
		ID:           uuid.New(),
		EntrypointID: epID,
		Direction:    dir,
		Name:         name,
		DataType:     put.DataType(),
		Description:  put.Description,
		Config:       cfg,
	}, nil
}

// UpdateBlockMeta moves or renames a block on the canvas.
func (s *Service) UpdateBlockMeta(ctx context.Context, userID, blockID uuid.UUID, update store.BlockMetaUpdate) error {
	block, err := s.store.GetBlock(ctx, blockID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, block.ProjectID, userID); err != nil {
		return err
	}
	return s.store.UpdateBlockMeta(ctx, blockID, update)
}

// DeleteBlock removes a block and every edge touching it.
func (s *Service) DeleteBlock(ctx context.Context, userID, blockID uuid.UUID) error {
	block, err := s.store.GetBlock(ctx, blockID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, block.ProjectID, userID); err != nil {
		return err
	}
	return s.store.DeleteBlock(ctx, blockID)
}

// UpdatePortConfigs merges partial config updates into ports, with the
// engine's key-subset rule and single-hop cascade.
func (s *Service) UpdatePortConfigs(ctx context.Context, userID uuid.UUID, updates map[uuid.UUID]model.ConfigMap) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	refs, err := s.store.ResolvePorts(ctx, ids)
	if err != nil {
		return err
	}
	checked := make(map[uuid.UUID]struct{})
	for _, ref := range refs {
		if _, done := checked[ref.ProjectID]; done {
			continue
		}
		if _, err := s.requireMember(ctx, ref.ProjectID, userID); err != nil {
			return err
		}
		checked[ref.ProjectID] = struct{}{}
	}
	return s.engine.UpdatePorts(ctx, updates)
}

// UpdateEnvs merges a partial env update into a block's entrypoint.
func (s *Service) UpdateEnvs(ctx context.Context, userID, blockID uuid.UUID, update model.ConfigMap) error {
	block, err := s.store.GetBlock(ctx, blockID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, block.ProjectID, userID); err != nil {
		return err
	}
	return s.engine.UpdateEnvs(ctx, block.Entrypoint.ID, update)
}

// CreateEdge wires an output to an input, transferring configuration.
func (s *Service) CreateEdge(ctx context.Context, userID uuid.UUID, dep model.BlockDependency) error {
	block, err := s.store.GetBlock(ctx, dep.UpstreamBlockID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, block.ProjectID, userID); err != nil {
		return err
	}
	return s.engine.CreateEdge(ctx, dep)
}

// DeleteEdge removes an edge; transferred configuration stays.
func (s *Service) DeleteEdge(ctx context.Context, userID uuid.UUID, dep model.BlockDependency) error {
	block, err := s.store.GetBlock(ctx, dep.UpstreamBlockID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, block.ProjectID, userID); err != nil {
		return err
	}
	return s.engine.DeleteEdge(ctx, dep)
}

// UploadURL mints a presigned upload URL for a FILE port.
func (s *Service) UploadURL(ctx context.Context, userID, portID uuid.UUID) (string, error) {
	refs, err := s.store.ResolvePorts(ctx, []uuid.UUID{portID})
	if err != nil {
		return "", err
	}
	ref := refs[0]
	if _, err := s.requireMember(ctx, ref.ProjectID, userID); err != nil {
		return "", err
	}
	return s.locator.UploadURL(ctx, ref.Port)
}
