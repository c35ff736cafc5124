package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pathway-backend/internal/models"
)

// Catalog is the read-only roadmap step index loaded at startup.
type Catalog struct {
	steps map[string]*models.StepDefinition
}

type file struct {
	Years []struct {
		Year  int                     `yaml:"year"`
		Steps []models.StepDefinition `yaml:"steps"`
	} `yaml:"years"`
}

// Empty returns a catalog with no steps; every lookup misses.
func Empty() *Catalog {
	return &Catalog{steps: map[string]*models.StepDefinition{}}
}

// Load reads a catalog file. A missing path yields an empty catalog so the
// tracker can run without one.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := Empty()
	for _, y := range f.Years {
		if y.Year < 1 || y.Year > 4 {
			return nil, fmt.Errorf("catalog year %d out of range 1-4", y.Year)
		}
		for i := range y.Steps {
			step := y.Steps[i]
			if strings.TrimSpace(step.ID) == "" {
				return nil, fmt.Errorf("catalog year %d: step %d has no id", y.Year, i+1)
			}
			if _, dup := c.steps[step.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate step id %q", step.ID)
			}
			step.Year = y.Year
			c.steps[step.ID] = &step
		}
	}
	return c, nil
}

// Lookup returns a copy of the step definition.
func (c *Catalog) Lookup(stepID string) (*models.StepDefinition, bool) {
	if c == nil {
		return nil, false
	}
	def, ok := c.steps[stepID]
	if !ok {
		return nil, false
	}
	cp := *def
	cp.Resources = append([]models.StepResource(nil), def.Resources...)
	return &cp, true
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.steps)
}
