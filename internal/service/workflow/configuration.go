package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/model"
)

// BlockEnvs carries a block's unconfigured env keys.
type BlockEnvs struct {
	BlockID   uuid.UUID       `json:"block_id"`
	BlockName string          `json:"block_name"`
	Envs      model.ConfigMap `json:"envs"`
}

// PortView is a port as shown in the configuration screen: its config
// reduced to the unset keys, plus a download URL when the backing
// object already exists.
type PortView struct {
	ID          uuid.UUID       `json:"id"`
	BlockID     uuid.UUID       `json:"block_id"`
	BlockName   string          `json:"block_name"`
	Direction   model.Direction `json:"direction"`
	Name        string          `json:"name"`
	DataType    model.DataType  `json:"data_type"`
	Description string          `json:"description,omitempty"`
	Config      model.ConfigMap `json:"config,omitempty"`
	DownloadURL string          `json:"download_url,omitempty"`
}

// Configuration buckets the project's configuration surface:
//
//   - UnconfiguredEnvs: per block, the env keys still unset.
//   - WorkflowInputs: inputs of blocks without upstream dependencies —
//     where data enters the workflow.
//   - Intermediates: unconnected inputs of connected blocks, connected
//     CUSTOM inputs that still have unset keys (they cannot be
//     autoconfigured from upstream), and outputs feeding a downstream
//     block (so intermediate results stay downloadable).
//   - WorkflowOutputs: outputs of blocks without downstream
//     dependencies — the final results.
type Configuration struct {
	UnconfiguredEnvs []BlockEnvs `json:"unconfigured_envs"`
	WorkflowInputs   []PortView  `json:"workflow_inputs"`
	Intermediates    []PortView  `json:"intermediates"`
	WorkflowOutputs  []PortView  `json:"workflow_outputs"`
}

// unsetKeys reduces a config to the entries that still count as
// unconfigured.
func unsetKeys(cfg model.ConfigMap) model.ConfigMap {
	out := model.ConfigMap{}
	for key, value := range cfg {
		if value.IsUnset() {
			out[key] = value
		}
	}
	return out
}

// Configurations classifies the project's ports and envs for the
// configuration screen.
func (s *Service) Configurations(ctx context.Context, projectID, userID uuid.UUID) (*Configuration, error) {
	project, err := s.requireMember(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListProjectEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}

	hasUpstream := make(map[uuid.UUID]struct{})
	hasDownstream := make(map[uuid.UUID]struct{})
	connectedInputs := make(map[uuid.UUID]struct{})
	for _, edge := range edges {
		hasUpstream[edge.DownstreamBlockID] = struct{}{}
		hasDownstream[edge.UpstreamBlockID] = struct{}{}
		connectedInputs[edge.DownstreamInputID] = struct{}{}
	}

	var allPorts []*model.InputOutput
	for _, block := range project.Blocks {
		allPorts = append(allPorts, block.Entrypoint.Ports...)
	}
	downloadURLs := s.locator.DownloadURLs(ctx, allPorts)

	result := &Configuration{}
	for _, block := range project.Blocks {
		if envs := unsetKeys(block.Entrypoint.Envs); len(envs) > 0 {
			result.UnconfiguredEnvs = append(result.UnconfiguredEnvs, BlockEnvs{
				BlockID:   block.ID,
				BlockName: block.CustomName,
				Envs:      envs,
			})
		}

		_, upstream := hasUpstream[block.ID]
		_, downstream := hasDownstream[block.ID]

		for _, port := range block.Entrypoint.Ports {
			view := PortView{
				ID:          port.ID,
				BlockID:     block.ID,
				BlockName:   block.CustomName,
				Direction:   port.Direction,
				Name:        port.Name,
				DataType:    port.DataType,
				Description: port.Description,
				Config:      unsetKeys(port.Config),
				DownloadURL: downloadURLs[port.ID],
			}

			if port.Direction == model.DirectionInput {
				_, connected := connectedInputs[port.ID]
				switch {
				case !upstream:
					result.WorkflowInputs = append(result.WorkflowInputs, view)
				case !connected:
					result.Intermediates = append(result.Intermediates, view)
				case port.DataType == model.DataTypeCustom && len(view.Config) > 0:
					result.Intermediates = append(result.Intermediates, view)
				}
				continue
			}

			if downstream {
				result.Intermediates = append(result.Intermediates, view)
			} else {
				result.WorkflowOutputs = append(result.WorkflowOutputs, view)
			}
		}
	}
	return result, nil
}
