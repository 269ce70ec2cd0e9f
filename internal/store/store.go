// Package store persists the pipeline graph. Handlers and the
// propagation engine depend on the Store interface; the Postgres
// implementation backs production and the in-memory one backs tests and
// local development.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/model"
)

// Store is the persistence surface of the control plane.
type Store interface {
	ProjectStore
	BlockStore
	PortStore
	EdgeStore

	// InTx runs fn inside a transaction. All writes made through the
	// Store passed to fn are committed together or not at all.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error
}

// ProjectStore manages projects and their membership sets.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *model.Project) error
	// GetProject returns the project with its blocks, entrypoints and
	// ports eagerly loaded. Ports are ordered by data type rank, then name.
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	ListProjectsForUser(ctx context.Context, userID uuid.UUID) ([]*model.Project, error)
	RenameProject(ctx context.Context, id uuid.UUID, name string) error
	DeleteProject(ctx context.Context, id uuid.UUID) error
	AddProjectUser(ctx context.Context, projectID, userID uuid.UUID) error
	RemoveProjectUser(ctx context.Context, projectID, userID uuid.UUID) error
}

// BlockMetaUpdate is a partial update of block display fields. Nil
// fields are left unchanged.
type BlockMetaUpdate struct {
	CustomName *string
	PosX       *float64
	PosY       *float64
}

// BlockStore manages compute blocks with their entrypoint and ports.
type BlockStore interface {
	// CreateBlock inserts the block together with its entrypoint and
	// ports in one step.
	CreateBlock(ctx context.Context, block *model.Block) error
	GetBlock(ctx context.Context, id uuid.UUID) (*model.Block, error)
	UpdateBlockMeta(ctx context.Context, id uuid.UUID, update BlockMetaUpdate) error
	DeleteBlock(ctx context.Context, id uuid.UUID) error
}

// PortRef is a port together with its owning block and project,
// resolved through the entrypoint.
type PortRef struct {
	Port      *model.InputOutput
	BlockID   uuid.UUID
	ProjectID uuid.UUID
}

// PortStore manages port configs and entrypoint envs.
type PortStore interface {
	// ResolvePorts returns the referenced ports with their owners, in
	// the order of ids.
	ResolvePorts(ctx context.Context, ids []uuid.UUID) ([]*PortRef, error)
	// UpdatePortConfigs replaces the config of each referenced port.
	UpdatePortConfigs(ctx context.Context, configs map[uuid.UUID]model.ConfigMap) error
	GetEntrypointEnvs(ctx context.Context, entrypointID uuid.UUID) (model.ConfigMap, error)
	UpdateEntrypointEnvs(ctx context.Context, entrypointID uuid.UUID, envs model.ConfigMap) error
}

// EdgeStore manages the directed dependencies between blocks.
type EdgeStore interface {
	CreateEdge(ctx context.Context, dep model.BlockDependency) error
	DeleteEdge(ctx context.Context, dep model.BlockDependency) error
	// ListProjectEdges returns all edges between blocks of the project.
	ListProjectEdges(ctx context.Context, projectID uuid.UUID) ([]model.BlockDependency, error)
	// EdgesFromOutputs returns all edges whose upstream output is one of
	// the given port ids.
	EdgesFromOutputs(ctx context.Context, outputIDs []uuid.UUID) ([]model.BlockDependency, error)
}
