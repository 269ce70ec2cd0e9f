package frontend

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/template"
)

type projectSummary struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"created_at"`
	UserIDs   []uuid.UUID `json:"user_ids"`
}

type projectDetail struct {
	projectSummary
	Blocks []blockView `json:"blocks"`
	Edges  []edgeView  `json:"edges"`
}

type blockView struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	CustomName  string         `json:"custom_name"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	DockerImage string         `json:"docker_image"`
	SourceURL   string         `json:"source_url"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Entrypoint  entrypointView `json:"entrypoint"`
}

type entrypointView struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Envs        model.ConfigMap `json:"envs"`
	Ports       []portView      `json:"ports"`
}

type portView struct {
	ID          uuid.UUID       `json:"id"`
	Direction   model.Direction `json:"direction"`
	Name        string          `json:"name"`
	DataType    model.DataType  `json:"data_type"`
	Description string          `json:"description,omitempty"`
	Config      model.ConfigMap `json:"config"`
}

type edgeView struct {
	UpstreamBlockID   uuid.UUID `json:"upstream_block_id"`
	UpstreamOutputID  uuid.UUID `json:"upstream_output_id"`
	DownstreamBlockID uuid.UUID `json:"downstream_block_id"`
	DownstreamInputID uuid.UUID `json:"downstream_input_id"`
}

type templateView struct {
	FileIdentifier string   `json:"file_identifier"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

func toProjectSummary(p *model.Project) projectSummary {
	return projectSummary{
		ID:        p.ID,
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
		UserIDs:   p.UserIDs,
	}
}

func toProjectDetail(p *model.Project, edges []model.BlockDependency) projectDetail {
	detail := projectDetail{
		projectSummary: toProjectSummary(p),
		Blocks:         make([]blockView, 0, len(p.Blocks)),
		Edges:          make([]edgeView, 0, len(edges)),
	}
	for _, b := range p.Blocks {
		detail.Blocks = append(detail.Blocks, toBlockView(b))
	}
	for _, e := range edges {
		detail.Edges = append(detail.Edges, edgeView(e))
	}
	return detail
}

func toBlockView(b *model.Block) blockView {
	view := blockView{
		ID:          b.ID,
		Name:        b.Name,
		CustomName:  b.CustomName,
		Description: b.Description,
		Author:      b.Author,
		DockerImage: b.DockerImage,
		SourceURL:   b.SourceURL,
		X:           b.PosX,
		Y:           b.PosY,
	}
	if b.Entrypoint != nil {
		view.Entrypoint = entrypointView{
			ID:          b.Entrypoint.ID,
			Name:        b.Entrypoint.Name,
			Description: b.Entrypoint.Description,
			Envs:        b.Entrypoint.Envs,
			Ports:       make([]portView, 0, len(b.Entrypoint.Ports)),
		}
		for _, p := range b.Entrypoint.Ports {
			view.Entrypoint.Ports = append(view.Entrypoint.Ports, portView{
				ID:          p.ID,
				Direction:   p.Direction,
				Name:        p.Name,
				DataType:    p.DataType,
				Description: p.Description,
				Config:      p.Config,
			})
		}
	}
	return view
}

func toTemplateViews(grouped map[string][]*template.Template) map[string][]templateView {
	out := make(map[string][]templateView, len(grouped))
	for group, templates := range grouped {
		views := make([]templateView, 0, len(templates))
		for _, tpl := range templates {
			views = append(views, templateView{
				FileIdentifier: tpl.FileIdentifier,
				Name:           tpl.Pipeline.Name,
				Description:    tpl.Pipeline.Description,
				Tags:           tpl.Pipeline.Tags,
			})
		}
		out[group] = views
	}
	return out
}
