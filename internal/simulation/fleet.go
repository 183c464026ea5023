package simulation

import (
	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// Fleet is the node map owned by one simulation. It is not synchronised;
// the Simulator serialises every access under its lock.
type Fleet struct {
	nodes map[string]*models.Node
	order []string
}

// NewFleet builds a fleet from seeded nodes, dropping virtual and duplicate
// entries.
func NewFleet(nodes []*models.Node) *Fleet {
	f := &Fleet{nodes: make(map[string]*models.Node, len(nodes))}
	for _, n := range nodes {
		if n == nil || n.Virtual || n.ID == "" {
			continue
		}
		if _, dup := f.nodes[n.ID]; dup {
			continue
		}
		f.nodes[n.ID] = n
		f.order = append(f.order, n.ID)
	}
	return f
}

// Node returns the live node with id.
func (f *Fleet) Node(id string) (*models.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Nodes returns live nodes in seed order.
func (f *Fleet) Nodes() []*models.Node {
	out := make([]*models.Node, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.nodes[id])
	}
	return out
}

// Len reports the fleet size.
func (f *Fleet) Len() int {
	return len(f.order)
}

// Health summarises node status percentages.
func (f *Fleet) Health() (models.FleetHealth, map[models.NodeStatus]int) {
	counts := make(map[models.NodeStatus]int)
	for _, id := range f.order {
		counts[f.nodes[id].Status]++
	}
	total := len(f.order)
	fh := models.FleetHealth{TotalServers: total}
	if total == 0 {
		return fh, counts
	}
	pct := func(s models.NodeStatus) float64 {
		return float64(counts[s]) / float64(total) * 100
	}
	fh.HealthyPct = pct(models.StatusOnline)
	fh.WarningPct = pct(models.StatusWarning)
	fh.CriticalPct = pct(models.StatusCritical)
	fh.OfflinePct = pct(models.StatusOffline)
	fh.MaintenancePct = pct(models.StatusMaintenance)
	return fh, counts
}
