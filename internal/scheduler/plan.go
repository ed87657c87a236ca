package scheduler

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

// Plan is the validated dependency graph of a run. Roots are independent
// tables; every other table hangs below exactly one parent.
type Plan struct {
	Specs    map[string]*models.TableSpec
	Roots    []string
	Children map[string][]string
	// Order lists every table, parents before children.
	Order []string
	// Added lists parents included because a requested table depends on them.
	Added []string
}

// BuildPlan resolves requested table names against catalog. Parents of
// requested dependent tables are included automatically. Unknown tables,
// unknown parents, self-references and parent cycles are config errors.
func BuildPlan(requested []string, catalog []models.TableSpec) (*Plan, error) {
	byName := make(map[string]*models.TableSpec, len(catalog))
	for i := range catalog {
		byName[catalog[i].Name] = &catalog[i]
	}

	p := &Plan{
		Specs:    make(map[string]*models.TableSpec),
		Children: make(map[string][]string),
	}
	requestedSet := make(map[string]bool, len(requested))
	for _, name := range requested {
		requestedSet[name] = true
	}

	for _, name := range requested {
		spec, ok := byName[name]
		if !ok {
			return nil, errors.Config("unknown table %q", name)
		}
		if err := p.include(spec, byName, requestedSet); err != nil {
			return nil, err
		}
	}

	for name, spec := range p.Specs {
		if !spec.IsDependent() {
			p.Roots = append(p.Roots, name)
			continue
		}
		p.Children[spec.ParentTable] = append(p.Children[spec.ParentTable], name)
	}
	sort.Strings(p.Roots)
	for parent := range p.Children {
		sort.Strings(p.Children[parent])
	}
	sort.Strings(p.Added)

	var walk func(string)
	walk = func(name string) {
		p.Order = append(p.Order, name)
		for _, child := range p.Children[name] {
			walk(child)
		}
	}
	for _, root := range p.Roots {
		walk(root)
	}
	return p, nil
}

// include adds spec and its ancestors, rejecting cycles.
func (p *Plan) include(spec *models.TableSpec, byName map[string]*models.TableSpec, requested map[string]bool) error {
	var chain []string
	onChain := make(map[string]bool)
	for cur := spec; cur != nil; {
		if onChain[cur.Name] {
			return errors.Config("dependency cycle: %s -> %s", strings.Join(chain, " -> "), cur.Name)
		}
		chain = append(chain, cur.Name)
		onChain[cur.Name] = true

		if _, done := p.Specs[cur.Name]; done {
			break
		}
		p.Specs[cur.Name] = cur
		if !requested[cur.Name] {
			p.Added = append(p.Added, cur.Name)
		}

		if !cur.IsDependent() {
			break
		}
		if cur.ParentTable == cur.Name {
			return errors.Config("table %q names itself as parent", cur.Name)
		}
		parent, ok := byName[cur.ParentTable]
		if !ok {
			return errors.Config("table %q depends on unknown table %q", cur.Name, cur.ParentTable)
		}
		cur = parent
	}
	return nil
}

// Descendants returns every table below name, depth first.
func (p *Plan) Descendants(name string) []string {
	var out []string
	for _, child := range p.Children[name] {
		out = append(out, child)
		out = append(out, p.Descendants(child)...)
	}
	return out
}
