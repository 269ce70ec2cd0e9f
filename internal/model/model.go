// Package model defines the entities of the pipeline graph: projects,
// compute blocks, entrypoints, I/O ports and the edges between them.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes input ports from output ports.
type Direction string

const (
	DirectionInput  Direction = "INPUT"
	DirectionOutput Direction = "OUTPUT"
)

// DataType is the storage kind of a port.
type DataType string

const (
	DataTypeFile    DataType = "FILE"
	DataTypePGTable DataType = "PGTABLE"
	DataTypeCustom  DataType = "CUSTOM"
)

// ParseDataType maps a manifest type string onto a DataType. Unknown
// types are treated as CUSTOM.
func ParseDataType(s string) DataType {
	switch s {
	case "file":
		return DataTypeFile
	case "db_table":
		return DataTypePGTable
	default:
		return DataTypeCustom
	}
}

// SortRank orders ports for display: FILE < PGTABLE < CUSTOM.
func (d DataType) SortRank() int {
	switch d {
	case DataTypeFile:
		return 1
	case DataTypePGTable:
		return 2
	case DataTypeCustom:
		return 3
	default:
		return 4
	}
}

// Project groups compute blocks and carries the membership set used for
// authorization.
type Project struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UserIDs   []uuid.UUID
	Blocks    []*Block
}

// Block is one compute node of a project.
type Block struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Name        string // original manifest name
	CustomName  string // user-chosen display name, unique within a project
	Description string
	Author      string
	DockerImage string
	SourceURL   string // URL of the repository the manifest was fetched from
	PosX        float64
	PosY        float64

	// Entrypoint is the selected invocation surface; exactly one per block.
	Entrypoint *Entrypoint
}

// Entrypoint is a named invocation surface of a block.
type Entrypoint struct {
	ID          uuid.UUID
	BlockID     uuid.UUID
	Name        string
	Description string
	Envs        ConfigMap
	Ports       []*InputOutput
}

// Inputs returns the entrypoint's input ports.
func (e *Entrypoint) Inputs() []*InputOutput {
	return e.portsByDirection(DirectionInput)
}

// Outputs returns the entrypoint's output ports.
func (e *Entrypoint) Outputs() []*InputOutput {
	return e.portsByDirection(DirectionOutput)
}

func (e *Entrypoint) portsByDirection(dir Direction) []*InputOutput {
	var out []*InputOutput
	for _, p := range e.Ports {
		if p.Direction == dir {
			out = append(out, p)
		}
	}
	return out
}

// InputOutput is a typed, named port of an entrypoint.
type InputOutput struct {
	ID           uuid.UUID
	EntrypointID uuid.UUID
	Direction    Direction
	Name         string
	DataType     DataType
	Description  string
	Config       ConfigMap
}

// BlockDependency is a directed edge from an output port to an input
// port. The four ids form the composite key.
type BlockDependency struct {
	UpstreamBlockID   uuid.UUID
	UpstreamOutputID  uuid.UUID
	DownstreamBlockID uuid.UUID
	DownstreamInputID uuid.UUID
}

func (d BlockDependency) String() string {
	return fmt.Sprintf("%s/%s -> %s/%s",
		d.UpstreamBlockID, d.UpstreamOutputID, d.DownstreamBlockID, d.DownstreamInputID)
}
