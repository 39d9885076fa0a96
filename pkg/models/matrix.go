package models

import (
	"fmt"
	"sort"
	"strings"
)

// ExpandMatrix computes the cartesian product of the declared matrix axes.
// Axes are iterated in sorted name order so expansion is deterministic;
// values keep their declared order. A nil or empty matrix yields a single
// empty cell.
func ExpandMatrix(axes map[string][]string) []map[string]string {
	if len(axes) == 0 {
		return []map[string]string{{}}
	}

	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}

	sort.Strings(names)

	cells := []map[string]string{{}}
	for _, name := range names {
		values := axes[name]
		if len(values) == 0 {
			continue
		}

		next := make([]map[string]string, 0, len(cells)*len(values))

		for _, cell := range cells {
			for _, value := range values {
				expanded := make(map[string]string, len(cell)+1)
				for k, v := range cell {
					expanded[k] = v
				}

				expanded[name] = value
				next = append(next, expanded)
			}
		}

		cells = next
	}

	return cells
}

// MatrixJobID derives the per-cell job id from the template id, e.g.
// "build (go=1.22, os=linux)". An empty cell returns the template id
// unchanged.
func MatrixJobID(templateID string, cell map[string]string) string {
	if len(cell) == 0 {
		return templateID
	}

	names := make([]string, 0, len(cell))
	for name := range cell {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, cell[name]))
	}

	return fmt.Sprintf("%s (%s)", templateID, strings.Join(pairs, ", "))
}
