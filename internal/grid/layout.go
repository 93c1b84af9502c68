// Package grid reads rendered rows of a column-addressed UI grid into
// plain field maps.
package grid

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/djesaja/backstage-ingest/internal/model"
)

//go:embed layout.yaml
var defaultLayout []byte

// Columns maps a field name to its 1-based column index.
type Columns map[string]int

// Fields returns the field names ordered by column index.
func (c Columns) Fields() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return c[names[i]] < c[names[j]] })
	return names
}

// Grid describes one grid type: its columns and the label its header row
// carries in the name column.
type Grid struct {
	Header          string  `yaml:"header"`
	DrillDownColumn int     `yaml:"drilldown_column"`
	Columns         Columns `yaml:"columns"`
}

// Layout declares the column maps of the manager grid and the creator grid.
type Layout struct {
	Manager Grid `yaml:"manager"`
	Creator Grid `yaml:"creator"`
}

// DefaultLayout returns the embedded layout.
func DefaultLayout() (*Layout, error) {
	return ParseLayout(defaultLayout)
}

// LoadLayout reads a layout file, or the embedded default when path is empty.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return DefaultLayout()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: read layout %s", path)
	}
	return ParseLayout(data)
}

// ParseLayout decodes and validates a YAML layout document.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, eris.Wrap(err, "grid: decode layout")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks both grids. It is meant to run once at startup.
func (l *Layout) Validate() error {
	if err := l.Manager.validate("manager", model.FieldEligibleCreators); err != nil {
		return err
	}
	if l.Manager.DrillDownColumn != l.Manager.Columns[model.FieldEligibleCreators] {
		return eris.Errorf("grid: manager drilldown column %d is not the %s column",
			l.Manager.DrillDownColumn, model.FieldEligibleCreators)
	}
	return l.Creator.validate("creator")
}

func (g Grid) validate(kind string, required ...string) error {
	if len(g.Columns) == 0 {
		return eris.Errorf("grid: %s layout has no columns", kind)
	}
	for _, f := range append([]string{model.FieldName}, required...) {
		if _, ok := g.Columns[f]; !ok {
			return eris.Errorf("grid: %s layout is missing the %q column", kind, f)
		}
	}
	seen := make(map[int]string, len(g.Columns))
	for field, idx := range g.Columns {
		if idx <= 0 {
			return eris.Errorf("grid: %s column %q has non-positive index %d", kind, field, idx)
		}
		if other, dup := seen[idx]; dup {
			return eris.Errorf("grid: %s columns %q and %q share index %d", kind, other, field, idx)
		}
		seen[idx] = field
	}
	return nil
}
