package topology

import (
	"sort"
	"strings"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// Edge is a directed dependency: From depends on To.
type Edge struct {
	From string
	To   string
}

// Graph holds applications and their dependency edges. It is immutable once built.
type Graph struct {
	apps       map[string]models.Application
	order      []string
	dependents map[string][]string
}

// NewGraph builds a graph from an application list. Later duplicates replace
// earlier ones.
func NewGraph(apps []models.Application) *Graph {
	g := &Graph{
		apps:       make(map[string]models.Application),
		dependents: make(map[string][]string),
	}
	for _, app := range apps {
		g.add(app)
	}
	g.rebuildDependents()
	return g
}

func (g *Graph) add(app models.Application) {
	key := strings.ToLower(app.Name)
	if _, exists := g.apps[key]; !exists {
		g.order = append(g.order, key)
	}
	app.Dependencies = append([]string(nil), app.Dependencies...)
	g.apps[key] = app
}

func (g *Graph) rebuildDependents() {
	g.dependents = make(map[string][]string)
	for _, key := range g.order {
		app := g.apps[key]
		for _, dep := range app.Dependencies {
			depKey := strings.ToLower(dep)
			g.dependents[depKey] = append(g.dependents[depKey], app.Name)
		}
	}
}

// Application looks an application up case-insensitively.
func (g *Graph) Application(name string) (models.Application, bool) {
	app, ok := g.apps[strings.ToLower(name)]
	return app, ok
}

// IsApplication reports whether name is a known application.
func (g *Graph) IsApplication(name string) bool {
	_, ok := g.Application(name)
	return ok
}

// Applications returns every application in insertion order.
func (g *Graph) Applications() []models.Application {
	out := make([]models.Application, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, g.apps[key])
	}
	return out
}

// Dependencies returns the ordered dependency names of an application.
func (g *Graph) Dependencies(name string) []string {
	app, ok := g.Application(name)
	if !ok {
		return nil
	}
	return append([]string(nil), app.Dependencies...)
}

// Dependents returns the applications that declare name as a dependency.
func (g *Graph) Dependents(name string) []string {
	deps := append([]string(nil), g.dependents[strings.ToLower(name)]...)
	sort.Strings(deps)
	return deps
}

// Edges lists every dependency edge.
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0)
	for _, key := range g.order {
		app := g.apps[key]
		for _, dep := range app.Dependencies {
			edges = append(edges, Edge{From: app.Name, To: dep})
		}
	}
	return edges
}
