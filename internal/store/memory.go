package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/model"
)

// Memory is an in-memory Store used by tests and local development. All
// reads and writes deep-copy entities so callers never alias internal
// state.
type Memory struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*memProject
	blocks   map[uuid.UUID]*model.Block
	edges    map[string]model.BlockDependency
}

type memProject struct {
	id        uuid.UUID
	name      string
	createdAt time.Time
	users     map[uuid.UUID]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[uuid.UUID]*memProject),
		blocks:   make(map[uuid.UUID]*model.Block),
		edges:    make(map[string]model.BlockDependency),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Ping(_ context.Context) error    { return nil }
func (m *Memory) Close() error                    { return nil }
func (m *Memory) Migrate(_ context.Context) error { return nil }

// InTx clones the whole state, applies fn to the clone and swaps it in
// on success. A failed fn leaves the store untouched. The lock is held
// for the whole transaction so a concurrent write cannot land between
// clone and swap and be silently discarded; fn only touches the clone
// (its own mutex), so this does not deadlock.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.cloneLocked()
	if err := fn(ctx, clone); err != nil {
		return err
	}

	m.projects = clone.projects
	m.blocks = clone.blocks
	m.edges = clone.edges
	return nil
}

func (m *Memory) cloneLocked() *Memory {
	out := NewMemory()
	for id, p := range m.projects {
		users := make(map[uuid.UUID]struct{}, len(p.users))
		for u := range p.users {
			users[u] = struct{}{}
		}
		out.projects[id] = &memProject{id: p.id, name: p.name, createdAt: p.createdAt, users: users}
	}
	for id, b := range m.blocks {
		out.blocks[id] = copyBlock(b)
	}
	for k, e := range m.edges {
		out.edges[k] = e
	}
	return out
}

// ── Projects ────────────────────────────────────────────────

func (m *Memory) CreateProject(_ context.Context, project *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[project.ID]; ok {
		return apperr.Newf(apperr.CodeConflict, "project %s already exists", project.ID)
	}
	users := make(map[uuid.UUID]struct{}, len(project.UserIDs))
	for _, u := range project.UserIDs {
		users[u] = struct{}{}
	}
	m.projects[project.ID] = &memProject{
		id:        project.ID,
		name:      project.Name,
		createdAt: project.CreatedAt,
		users:     users,
	}
	return nil
}

func (m *Memory) GetProject(_ context.Context, id uuid.UUID) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "project %s not found", id)
	}
	return m.projectLocked(p), nil
}

func (m *Memory) projectLocked(p *memProject) *model.Project {
	out := &model.Project{
		ID:        p.id,
		Name:      p.name,
		CreatedAt: p.createdAt,
	}
	for u := range p.users {
		out.UserIDs = append(out.UserIDs, u)
	}
	sort.Slice(out.UserIDs, func(i, j int) bool {
		return out.UserIDs[i].String() < out.UserIDs[j].String()
	})
	for _, b := range m.blocks {
		if b.ProjectID == p.id {
			block := copyBlock(b)
			sortPorts(block)
			out.Blocks = append(out.Blocks, block)
		}
	}
	sort.Slice(out.Blocks, func(i, j int) bool {
		if out.Blocks[i].CustomName != out.Blocks[j].CustomName {
			return out.Blocks[i].CustomName < out.Blocks[j].CustomName
		}
		return out.Blocks[i].ID.String() < out.Blocks[j].ID.String()
	})
	return out
}

func (m *Memory) ListProjectsForUser(_ context.Context, userID uuid.UUID) ([]*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Project
	for _, p := range m.projects {
		if _, ok := p.users[userID]; ok {
			out = append(out, m.projectLocked(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) RenameProject(_ context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "project %s not found", id)
	}
	p.name = name
	return nil
}

func (m *Memory) DeleteProject(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return apperr.Newf(apperr.CodeNotFound, "project %s not found", id)
	}
	for bid, b := range m.blocks {
		if b.ProjectID == id {
			m.deleteBlockLocked(bid)
		}
	}
	delete(m.projects, id)
	return nil
}

func (m *Memory) AddProjectUser(_ context.Context, projectID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "project %s not found", projectID)
	}
	p.users[userID] = struct{}{}
	return nil
}

func (m *Memory) RemoveProjectUser(_ context.Context, projectID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "project %s not found", projectID)
	}
	delete(p.users, userID)
	return nil
}

// ── Blocks ──────────────────────────────────────────────────

func (m *Memory) CreateBlock(_ context.Context, block *model.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[block.ProjectID]; !ok {
		return apperr.Newf(apperr.CodeNotFound, "project %s not found", block.ProjectID)
	}
	for _, b := range m.blocks {
		if b.ProjectID == block.ProjectID && b.CustomName == block.CustomName {
			return apperr.Newf(apperr.CodeConflict,
				"block named %q already exists in project", block.CustomName)
		}
	}
	m.blocks[block.ID] = copyBlock(block)
	return nil
}

func (m *Memory) GetBlock(_ context.Context, id uuid.UUID) (*model.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "block %s not found", id)
	}
	block := copyBlock(b)
	sortPorts(block)
	return block, nil
}

func (m *Memory) UpdateBlockMeta(_ context.Context, id uuid.UUID, update BlockMetaUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[id]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "block %s not found", id)
	}
	if update.CustomName != nil {
		for _, other := range m.blocks {
			if other.ID != id && other.ProjectID == b.ProjectID &&
				other.CustomName == *update.CustomName {
				return apperr.Newf(apperr.CodeConflict,
					"block named %q already exists in project", *update.CustomName)
			}
		}
		b.CustomName = *update.CustomName
	}
	if update.PosX != nil {
		b.PosX = *update.PosX
	}
	if update.PosY != nil {
		b.PosY = *update.PosY
	}
	return nil
}

func (m *Memory) DeleteBlock(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[id]; !ok {
		return apperr.Newf(apperr.CodeNotFound, "block %s not found", id)
	}
	m.deleteBlockLocked(id)
	return nil
}

func (m *Memory) deleteBlockLocked(id uuid.UUID) {
	for k, e := range m.edges {
		if e.UpstreamBlockID == id || e.DownstreamBlockID == id {
			delete(m.edges, k)
		}
	}
	delete(m.blocks, id)
}

// ── Ports ───────────────────────────────────────────────────

func (m *Memory) ResolvePorts(_ context.Context, ids []uuid.UUID) ([]*PortRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*PortRef, 0, len(ids))
	for _, id := range ids {
		ref, ok := m.resolvePortLocked(id)
		if !ok {
			return nil, apperr.Newf(apperr.CodeNotFound, "port %s not found", id)
		}
		out = append(out, ref)
	}
	return out, nil
}

func (m *Memory) resolvePortLocked(id uuid.UUID) (*PortRef, bool) {
	for _, b := range m.blocks {
		if b.Entrypoint == nil {
			continue
		}
		for _, p := range b.Entrypoint.Ports {
			if p.ID == id {
				return &PortRef{
					Port:      copyPort(p),
					BlockID:   b.ID,
					ProjectID: b.ProjectID,
				}, true
			}
		}
	}
	return nil, false
}

func (m *Memory) UpdatePortConfigs(_ context.Context, configs map[uuid.UUID]model.ConfigMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cfg := range configs {
		found := false
		for _, b := range m.blocks {
			if b.Entrypoint == nil {
				continue
			}
			for _, p := range b.Entrypoint.Ports {
				if p.ID == id {
					p.Config = cfg.Clone()
					found = true
				}
			}
		}
		if !found {
			return apperr.Newf(apperr.CodeNotFound, "port %s not found", id)
		}
	}
	return nil
}

func (m *Memory) GetEntrypointEnvs(_ context.Context, entrypointID uuid.UUID) (model.ConfigMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.blocks {
		if b.Entrypoint != nil && b.Entrypoint.ID == entrypointID {
			return b.Entrypoint.Envs.Clone(), nil
		}
	}
	return nil, apperr.Newf(apperr.CodeNotFound, "entrypoint %s not found", entrypointID)
}

func (m *Memory) UpdateEntrypointEnvs(_ context.Context, entrypointID uuid.UUID, envs model.ConfigMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.blocks {
		if b.Entrypoint != nil && b.Entrypoint.ID == entrypointID {
			b.Entrypoint.Envs = envs.Clone()
			return nil
		}
	}
	return apperr.Newf(apperr.CodeNotFound, "entrypoint %s not found", entrypointID)
}

// ── Edges ───────────────────────────────────────────────────

func (m *Memory) CreateEdge(_ context.Context, dep model.BlockDependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dep.String()
	if _, ok := m.edges[key]; ok {
		return apperr.Newf(apperr.CodeConflict, "edge %s already exists", key)
	}
	for _, id := range []uuid.UUID{dep.UpstreamBlockID, dep.DownstreamBlockID} {
		if _, ok := m.blocks[id]; !ok {
			return apperr.Newf(apperr.CodeNotFound, "block %s not found", id)
		}
	}
	m.edges[key] = dep
	return nil
}

func (m *Memory) DeleteEdge(_ context.Context, dep model.BlockDependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dep.String()
	if _, ok := m.edges[key]; !ok {
		return apperr.Newf(apperr.CodeNotFound, "edge %s not found", key)
	}
	delete(m.edges, key)
	return nil
}

func (m *Memory) ListProjectEdges(_ context.Context, projectID uuid.UUID) ([]model.BlockDependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.BlockDependency
	for _, e := range m.edges {
		b, ok := m.blocks[e.UpstreamBlockID]
		if ok && b.ProjectID == projectID {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *Memory) EdgesFromOutputs(_ context.Context, outputIDs []uuid.UUID) ([]model.BlockDependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[uuid.UUID]struct{}, len(outputIDs))
	for _, id := range outputIDs {
		wanted[id] = struct{}{}
	}
	var out []model.BlockDependency
	for _, e := range m.edges {
		if _, ok := wanted[e.UpstreamOutputID]; ok {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func sortEdges(edges []model.BlockDependency) {
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].String() < edges[j].String()
	})
}

// ── Copy helpers ────────────────────────────────────────────

func copyBlock(b *model.Block) *model.Block {
	out := *b
	if b.Entrypoint != nil {
		ep := *b.Entrypoint
		ep.Envs = b.Entrypoint.Envs.Clone()
		ep.Ports = make([]*model.InputOutput, len(b.Entrypoint.Ports))
		for i, p := range b.Entrypoint.Ports {
			ep.Ports[i] = copyPort(p)
		}
		out.Entrypoint = &ep
	}
	return &out
}

func copyPort(p *model.InputOutput) *model.InputOutput {
	out := *p
	out.Config = p.Config.Clone()
	return &out
}

// sortPorts orders a block's ports by data type rank, then name, the
// ordering the canvas expects.
func sortPorts(b *model.Block) {
	if b.Entrypoint == nil {
		return
	}
	sort.Slice(b.Entrypoint.Ports, func(i, j int) bool {
		pi, pj := b.Entrypoint.Ports[i], b.Entrypoint.Ports[j]
		if pi.DataType.SortRank() != pj.DataType.SortRank() {
			return pi.DataType.SortRank() < pj.DataType.SortRank()
		}
		return pi.Name < pj.Name
	})
}
