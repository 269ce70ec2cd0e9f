package template

import (
	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
)

const (
	columnSpacing = 500
	rowSpacing    = 400
)

// placement is the canvas position assigned to a template block.
type placement struct {
	level int
	row   int
}

func (p placement) position() (x, y float64) {
	return float64(p.level * columnSpacing), float64(p.row * rowSpacing)
}

// sortBlocks returns the template's blocks in topological order plus a
// canvas placement per block name. Blocks are laid out in columns by
// dependency depth. Returns TEMPLATE_CYCLIC when the declared
// dependencies contain a cycle.
func sortBlocks(t *Template) ([]*BlockSpec, map[string]placement, error) {
	preds := make(map[string][]string, len(t.Blocks))
	inDegree := make(map[string]int, len(t.Blocks))
	byName := make(map[string]*BlockSpec, len(t.Blocks))

	for _, block := range t.Blocks {
		byName[block.Name] = block
		inDegree[block.Name] = 0
	}
	for _, block := range t.Blocks {
		for _, input := range block.Inputs {
			if input.DependsOn == nil {
				continue
			}
			preds[block.Name] = append(preds[block.Name], input.DependsOn.Block)
			inDegree[block.Name]++
		}
	}

	levels := make(map[string]int, len(t.Blocks))
	rows := make(map[int]int)
	placements := make(map[string]placement, len(t.Blocks))
	var order []*BlockSpec

	// Kahn's algorithm; each round walks blocks in declaration order so
	// the layout is deterministic.
	remaining := inDegree
	for len(order) < len(t.Blocks) {
		progressed := false
		for _, block := range t.Blocks {
			if deg, ok := remaining[block.Name]; !ok || deg != 0 {
				continue
			}
			delete(remaining, block.Name)
			progressed = true

			level := 0
			for _, pred := range preds[block.Name] {
				if levels[pred]+1 > level {
					level = levels[pred] + 1
				}
			}
			levels[block.Name] = level
			placements[block.Name] = placement{level: level, row: rows[level]}
			rows[level]++
			order = append(order, block)

			for _, other := range t.Blocks {
				for _, input := range other.Inputs {
					if input.DependsOn != nil && input.DependsOn.Block == block.Name {
						if _, pending := remaining[other.Name]; pending {
							remaining[other.Name]--
						}
					}
				}
			}
		}
		if !progressed {
			return nil, nil, apperr.Newf(apperr.CodeTemplateCyclic,
				"template %s defines a cyclic dependency", t.FileIdentifier)
		}
	}
	return order, placements, nil
}
