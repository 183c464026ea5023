package patterns

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/discovery"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

const (
	cascadeWindow     = 5 * time.Minute
	cascadeMinPairs   = 3
	exhaustionMinRun  = 3
	deploymentHorizon = time.Hour
	deploymentShare   = 0.7
	deploymentMinHits = 3
	partitionMinHits  = 2
	herdBucket        = 10 * time.Second
	herdThreshold     = 10
	maxEvidence       = 5
)

// DetectCascadingFailure matches failures hopping between services: at least
// three consecutive failure pairs from differing services, each within five
// minutes of the previous one.
func DetectCascadingFailure(events []models.Event, _ time.Time) (Finding, bool) {
	failures := failuresOf(events)
	services, nodes := newTally(), newTally()
	var evidence []string
	pairs := 0
	for i := 1; i < len(failures); i++ {
		prev, cur := failures[i-1], failures[i]
		if prev.Service == "" || cur.Service == "" || strings.EqualFold(prev.Service, cur.Service) {
			continue
		}
		gap := cur.Timestamp.Sub(prev.Timestamp)
		if gap > cascadeWindow {
			continue
		}
		pairs++
		services.add(prev.Service)
		services.add(cur.Service)
		nodes.add(prev.NodeID)
		nodes.add(cur.NodeID)
		if len(evidence) < maxEvidence {
			evidence = append(evidence, fmt.Sprintf("%s failed %s after %s", cur.Service, gap.Round(time.Second), prev.Service))
		}
	}
	if pairs < cascadeMinPairs {
		return Finding{}, false
	}
	severity := models.SeverityHigh
	if pairs >= 2*cascadeMinPairs {
		severity = models.SeverityCritical
	}
	origin := services.keys()[0]
	return Finding{
		Kind:       KindCascadingFailure,
		Title:      fmt.Sprintf("Cascading failure originating at %s", origin),
		Confidence: math.Min(0.95, 0.5+0.08*float64(pairs)),
		Severity:   severity,
		Evidence:   append(evidence, fmt.Sprintf("%d cross-service failure pairs across %d services", pairs, services.len())),
		Nodes:      nodes.keys(),
		Services:   services.keys(),
	}, true
}

// DetectResourceExhaustion matches a node whose readings for one resource
// rise on at least three consecutive events.
func DetectResourceExhaustion(events []models.Event, _ time.Time) (Finding, bool) {
	type series struct {
		node, resource, service string
		values                  []float64
		run, bestRun            int
		bestEnd                 int
	}
	groups := make(map[string]*series)
	var order []string
	for _, ev := range events {
		if ev.NodeID == "" || ev.Resource == "" || ev.Value <= 0 {
			continue
		}
		key := ev.NodeID + "/" + ev.Resource
		s, ok := groups[key]
		if !ok {
			s = &series{node: ev.NodeID, resource: ev.Resource, service: ev.Service}
			groups[key] = s
			order = append(order, key)
		}
		if n := len(s.values); n > 0 && ev.Value > s.values[n-1] {
			s.run++
		} else {
			s.run = 1
		}
		s.values = append(s.values, ev.Value)
		if s.run > s.bestRun {
			s.bestRun, s.bestEnd = s.run, len(s.values)
		}
	}

	var best *series
	for _, key := range order {
		s := groups[key]
		if s.bestRun >= exhaustionMinRun && (best == nil || s.bestRun > best.bestRun) {
			best = s
		}
	}
	if best == nil {
		return Finding{}, false
	}
	run := best.values[best.bestEnd-best.bestRun : best.bestEnd]
	steps := make([]string, len(run))
	for i, v := range run {
		steps[i] = fmt.Sprintf("%.1f", v)
	}
	last := run[len(run)-1]
	severity := models.SeverityHigh
	if best.resource != models.ResourceNetwork && last >= models.CriticalUtilisation {
		severity = models.SeverityCritical
	}
	return Finding{
		Kind:       KindResourceExhaustion,
		Title:      fmt.Sprintf("%s exhaustion on %s", best.resource, best.node),
		Confidence: math.Min(0.9, 0.55+0.1*float64(best.bestRun-exhaustionMinRun)),
		Severity:   severity,
		Evidence: []string{
			fmt.Sprintf("%s %s rose on %d consecutive readings: %s", best.node, best.resource, best.bestRun, strings.Join(steps, " -> ")),
		},
		Nodes:    []string{best.node},
		Services: nonEmpty(best.service),
	}, true
}

// DetectDeploymentRelated matches when more than 70% of the window's events
// follow the latest deployment of the last hour.
func DetectDeploymentRelated(events []models.Event, now time.Time) (Finding, bool) {
	var deploy *models.Event
	for i := range events {
		ev := &events[i]
		if ev.Type != models.EventDeployment || now.Sub(ev.Timestamp) > deploymentHorizon {
			continue
		}
		if deploy == nil || ev.Timestamp.After(deploy.Timestamp) {
			deploy = ev
		}
	}
	if deploy == nil {
		return Finding{}, false
	}
	total, after := 0, 0
	nodes := newTally()
	for _, ev := range events {
		if ev.Type == models.EventDeployment {
			continue
		}
		total++
		if ev.Timestamp.After(deploy.Timestamp) {
			after++
			nodes.add(ev.NodeID)
		}
	}
	if after < deploymentMinHits {
		return Finding{}, false
	}
	share := float64(after) / float64(total)
	if share <= deploymentShare {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindDeployment,
		Title:      fmt.Sprintf("Regression after deployment of %s", deploy.Service),
		Confidence: 0.5 + 0.45*share,
		Severity:   models.SeverityHigh,
		Evidence: []string{
			deploy.Message,
			fmt.Sprintf("%d of %d events (%.0f%%) followed the deployment", after, total, share*100),
		},
		Nodes:    nodes.keys(),
		Services: nonEmpty(deploy.Service),
	}, true
}

// DetectNetworkPartition matches connectivity losses spanning several zones.
func DetectNetworkPartition(events []models.Event, _ time.Time) (Finding, bool) {
	zones, nodes := newTally(), newTally()
	count := 0
	for _, ev := range events {
		if ev.Type != models.EventConnectivity {
			continue
		}
		count++
		zones.add(ev.Zone)
		nodes.add(ev.NodeID)
	}
	if count < partitionMinHits || zones.len() < 2 {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindNetworkPartition,
		Title:      fmt.Sprintf("Network partition across %s", strings.Join(zones.keys(), ", ")),
		Confidence: math.Min(0.95, 0.6+0.1*float64(zones.len()-1)+0.02*float64(count)),
		Severity:   models.SeverityCritical,
		Evidence: []string{
			fmt.Sprintf("%d connectivity losses in %d zones", count, zones.len()),
		},
		Nodes: nodes.keys(),
	}, true
}

// DetectDatabaseBottleneck matches database failures that application nodes
// observe as a larger number of timeouts.
func DetectDatabaseBottleneck(events []models.Event, _ time.Time) (Finding, bool) {
	dbNodes, timeoutNodes, services := newTally(), newTally(), newTally()
	db, timeouts := 0, 0
	for _, ev := range events {
		isDB := discovery.CategoryOf(ev.Category) == "db"
		switch {
		case ev.Type == models.EventTimeout && !isDB:
			timeouts++
			timeoutNodes.add(ev.NodeID)
			services.add(ev.Service)
		case isDB && ev.IsFailure():
			db++
			dbNodes.add(ev.NodeID)
		}
	}
	if db == 0 || timeouts <= db {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindDatabaseBottleneck,
		Title:      fmt.Sprintf("Database bottleneck on %s", strings.Join(dbNodes.keys(), ", ")),
		Confidence: 0.55 + 0.35*(1-float64(db)/float64(timeouts)),
		Severity:   models.SeverityHigh,
		Evidence: []string{
			fmt.Sprintf("%d database events against %d application timeouts", db, timeouts),
			fmt.Sprintf("timeouts observed on %s", strings.Join(timeoutNodes.keys(), ", ")),
		},
		Nodes:    append(dbNodes.keys(), timeoutNodes.keys()...),
		Services: services.keys(),
	}, true
}

// DetectThunderingHerd matches more than ten same-type events landing in one
// ten-second bucket.
func DetectThunderingHerd(events []models.Event, _ time.Time) (Finding, bool) {
	type bucket struct {
		typ   models.EventType
		start time.Time
	}
	counts := make(map[bucket]int)
	var worst bucket
	for _, ev := range events {
		b := bucket{typ: ev.Type, start: ev.Timestamp.Truncate(herdBucket)}
		counts[b]++
		if counts[b] > counts[worst] {
			worst = b
		}
	}
	peak := counts[worst]
	if peak <= herdThreshold {
		return Finding{}, false
	}
	nodes := newTally()
	for _, ev := range events {
		if ev.Type == worst.typ && ev.Timestamp.Truncate(herdBucket).Equal(worst.start) {
			nodes.add(ev.NodeID)
		}
	}
	severity := models.SeverityMedium
	if peak > 2*herdThreshold {
		severity = models.SeverityHigh
	}
	return Finding{
		Kind:       KindThunderingHerd,
		Title:      fmt.Sprintf("Thundering herd of %s events", worst.typ),
		Confidence: math.Min(0.9, 0.5+0.03*float64(peak-herdThreshold)),
		Severity:   severity,
		Evidence: []string{
			fmt.Sprintf("%d %s events within %s starting %s", peak, worst.typ, herdBucket, worst.start.UTC().Format(time.RFC3339)),
		},
		Nodes: nodes.keys(),
	}, true
}

func failuresOf(events []models.Event) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsFailure() {
			out = append(out, ev)
		}
	}
	return out
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
