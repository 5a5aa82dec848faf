package routing

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ride-router/internal/clustering"
	"ride-router/internal/distance"
	"ride-router/internal/models"
)

// BuildOutput is what the builder hands back to the orchestrator
type BuildOutput struct {
	Routes models.RouteCollection
	// Unplaced holds staff that could not be put on any route without
	// breaking the capacity bounds.
	Unplaced []models.StaffRecord
}

// Builder turns clustered staff into routes ending at the office
type Builder struct {
	office       models.Coordinates
	distanceCalc distance.Calculator
	workers      int
}

// NewBuilder creates a route builder. workers bounds the number of clusters
// processed at once; values below 1 mean GOMAXPROCS.
func NewBuilder(office models.Coordinates, distanceCalc distance.Calculator, workers int) *Builder {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Builder{
		office:       office,
		distanceCalc: distanceCalc,
		workers:      workers,
	}
}

// clusterPlan is the greedy outcome for one cluster, in indices into the
// clustered slice
type clusterPlan struct {
	clusterID int
	routes    [][]int
	leftovers []int
}

// draftRoute is a route under construction during the merge
type draftRoute struct {
	clusterID  int
	stops      []int
	rebalanced bool
}

// BuildRoutes builds routes cluster by cluster (ascending cluster id, members
// in input order). Records still carrying models.Unclustered are ignored.
//
// Within a cluster the route is seeded with the member farthest from the
// office and extended with the nearest unassigned neighbour of the last stop
// until maxPassengers. Members left over are appended to the first existing
// route with room, then grouped into a new route that borrows stops from
// routes above minPassengers, and finally returned as unplaced.
func (b *Builder) BuildRoutes(ctx context.Context, clustered []models.StaffRecord, minPassengers, maxPassengers int) (*BuildOutput, error) {
	if minPassengers < 1 {
		return nil, invalid("min_passengers", "must be at least 1, got %d", minPassengers)
	}
	if maxPassengers < minPassengers {
		return nil, invalid("max_passengers", "must be at least min_passengers (%d), got %d", minPassengers, maxPassengers)
	}

	members := clustering.Members(clustering.Labels(clustered))
	ids := clustering.SortedIDs(members)

	log.Printf("[ROUTING] Building routes: staff=%d clusters=%d min=%d max=%d workers=%d",
		len(clustered), len(ids), minPassengers, maxPassengers, b.workers)

	officeKm := make([]float64, len(clustered))
	plans := make([]clusterPlan, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for k, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, i := range members[id] {
				officeKm[i] = b.distanceCalc.Kilometers(clustered[i].GetCoords(), b.office)
			}
			plans[k] = b.planCluster(clustered, officeKm, id, members[id], minPassengers, maxPassengers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build cluster routes: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to build cluster routes: %w", err)
	}

	drafts, unplaced := b.merge(clustered, officeKm, plans, minPassengers, maxPassengers)

	out := &BuildOutput{
		Routes: make(models.RouteCollection, 0, len(drafts)),
	}
	for n, d := range drafts {
		route := models.Route{
			Name:       fmt.Sprintf("Route %d", n+1),
			ClusterID:  d.clusterID,
			Stops:      make([]models.StaffRecord, len(d.stops)),
			Rebalanced: d.rebalanced,
		}
		for j, i := range d.stops {
			route.Stops[j] = clustered[i]
			route.Stops[j].DistanceToOfficeKm = officeKm[i]
		}
		out.Routes = append(out.Routes, route)
	}
	for _, i := range unplaced {
		s := clustered[i]
		s.DistanceToOfficeKm = officeKm[i]
		out.Unplaced = append(out.Unplaced, s)
	}

	log.Printf("[ROUTING] Routes built: routes=%d routed=%d unplaced=%d",
		len(out.Routes), out.Routes.StaffCount(), len(out.Unplaced))

	return out, nil
}

// planCluster runs the greedy farthest-seed, nearest-neighbour chain over one
// cluster's members
func (b *Builder) planCluster(clustered []models.StaffRecord, officeKm []float64, clusterID int, members []int, minPassengers, maxPassengers int) clusterPlan {
	remaining := make([]int, len(members))
	copy(remaining, members)

	plan := clusterPlan{clusterID: clusterID}
	for len(remaining) >= minPassengers {
		var route []int
		route, remaining = b.chain(clustered, officeKm, remaining, maxPassengers)
		if len(route) < minPassengers {
			remaining = append(route, remaining...)
			break
		}
		plan.routes = append(plan.routes, route)
	}
	plan.leftovers = remaining

	return plan
}

// chain takes up to limit stops from candidates: the farthest from the office
// first, then repeatedly the nearest to the last stop taken. Ties keep the
// earlier candidate. It returns the chain and the candidates not taken, in
// their original order.
func (b *Builder) chain(clustered []models.StaffRecord, officeKm []float64, candidates []int, limit int) ([]int, []int) {
	remaining := make([]int, len(candidates))
	copy(remaining, candidates)

	seed := 0
	for j := 1; j < len(remaining); j++ {
		if officeKm[remaining[j]] > officeKm[remaining[seed]] {
			seed = j
		}
	}

	route := []int{remaining[seed]}
	remaining = removeAt(remaining, seed)

	for len(route) < limit && len(remaining) > 0 {
		last := clustered[route[len(route)-1]].GetCoords()
		nearest := 0
		nearestKm := b.distanceCalc.Kilometers(last, clustered[remaining[0]].GetCoords())
		for j := 1; j < len(remaining); j++ {
			d := b.distanceCalc.Kilometers(last, clustered[remaining[j]].GetCoords())
			if d < nearestKm {
				nearest = j
				nearestKm = d
			}
		}
		route = append(route, remaining[nearest])
		remaining = removeAt(remaining, nearest)
	}

	return route, remaining
}

// merge names routes in cluster order and places every cluster's leftovers.
// It is the only place routes from different clusters meet, so it runs
// sequentially. Leftovers that find no home get one more attempt once every
// cluster's routes exist.
func (b *Builder) merge(clustered []models.StaffRecord, officeKm []float64, plans []clusterPlan, minPassengers, maxPassengers int) ([]*draftRoute, []int) {
	var drafts []*draftRoute
	var deferred []clusterPlan

	for _, plan := range plans {
		for _, stops := range plan.routes {
			drafts = append(drafts, &draftRoute{clusterID: plan.clusterID, stops: stops})
		}
		if len(plan.leftovers) == 0 {
			continue
		}
		if rest := b.place(clustered, officeKm, &drafts, plan.leftovers, plan.clusterID, minPassengers, maxPassengers); len(rest) > 0 {
			deferred = append(deferred, clusterPlan{clusterID: plan.clusterID, leftovers: rest})
		}
	}

	var unplaced []int
	for _, plan := range deferred {
		rest := b.place(clustered, officeKm, &drafts, plan.leftovers, plan.clusterID, minPassengers, maxPassengers)
		if len(rest) > 0 {
			log.Printf("[ROUTING] Leftovers could not be placed: cluster=%d count=%d", plan.clusterID, len(rest))
			unplaced = append(unplaced, rest...)
		}
	}

	return drafts, unplaced
}

// place absorbs leftovers into the first routes with room, then tries to
// rebalance the rest into a new route. It returns whatever is still unplaced.
func (b *Builder) place(clustered []models.StaffRecord, officeKm []float64, drafts *[]*draftRoute, leftovers []int, clusterID, minPassengers, maxPassengers int) []int {
	var pending []int
	for _, i := range leftovers {
		if target := firstWithRoom(*drafts, maxPassengers); target != nil {
			target.stops = append(target.stops, i)
			log.Printf("[ROUTING] Absorbed leftover: staff=%s cluster=%d route=\"Route %d\"",
				clustered[i].ID, clusterID, indexOf(*drafts, target)+1)
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return nil
	}

	route := b.rebalance(clustered, officeKm, *drafts, pending, clusterID, minPassengers)
	if route == nil {
		return pending
	}
	*drafts = append(*drafts, route)
	log.Printf("[ROUTING] Rebalanced leftovers into new route: cluster=%d stops=%d borrowed=%d",
		clusterID, len(route.stops), len(route.stops)-len(pending))
	return nil
}

// rebalance forms a new route from pending by borrowing stops from routes
// holding more than minPassengers. It returns nil without touching any route
// when not enough stops can be borrowed.
func (b *Builder) rebalance(clustered []models.StaffRecord, officeKm []float64, drafts []*draftRoute, pending []int, clusterID, minPassengers int) *draftRoute {
	needed := minPassengers - len(pending)
	spare := 0
	for _, d := range drafts {
		if len(d.stops) > minPassengers {
			spare += len(d.stops) - minPassengers
		}
	}
	if spare < needed {
		return nil
	}

	anchor := clustered[pending[0]].GetCoords()
	group := make([]int, len(pending))
	copy(group, pending)

	for len(group) < minPassengers {
		var donor *draftRoute
		donorStop := -1
		bestKm := 0.0
		for _, d := range drafts {
			if len(d.stops) <= minPassengers {
				continue
			}
			for j, i := range d.stops {
				km := b.distanceCalc.Kilometers(anchor, clustered[i].GetCoords())
				if donor == nil || km < bestKm {
					donor, donorStop, bestKm = d, j, km
				}
			}
		}
		group = append(group, donor.stops[donorStop])
		donor.stops = removeAt(donor.stops, donorStop)
	}

	ordered, _ := b.chain(clustered, officeKm, group, len(group))
	return &draftRoute{clusterID: clusterID, stops: ordered, rebalanced: true}
}

func firstWithRoom(drafts []*draftRoute, maxPassengers int) *draftRoute {
	for _, d := range drafts {
		if len(d.stops) < maxPassengers {
			return d
		}
	}
	return nil
}

func indexOf(drafts []*draftRoute, target *draftRoute) int {
	for i, d := range drafts {
		if d == target {
			return i
		}
	}
	return -1
}

func removeAt(s []int, i int) []int {
	out := make([]int, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}
