package geo

import (
	"context"
	"runtime"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	// joinChunk is the number of points handled per goroutine.
	joinChunk = 4096
	// boundsEpsilon pads point queries so edge points reach their candidates.
	boundsEpsilon = 1e-9
)

type indexed struct {
	geom.Polygonal
	name  string
	order int
}

// Index answers point-in-neighbourhood queries over an R-tree of polygon bounds.
type Index struct {
	tree  *rtree.Rtree
	names []string
}

// Match is one point attributed to a neighbourhood.
type Match struct {
	Point        domain.SamplePoint
	Neighborhood string
}

// NewIndex builds the spatial index. Slice order is the load order used to break
// ties between overlapping polygons.
func NewIndex(neighborhoods []domain.Neighborhood) *Index {
	idx := &Index{tree: rtree.NewTree(25, 50), names: make([]string, 0, len(neighborhoods))}
	for i, nb := range neighborhoods {
		if nb.Geometry == nil {
			continue
		}
		idx.tree.Insert(&indexed{Polygonal: nb.Geometry, name: nb.Name, order: i})
		idx.names = append(idx.names, nb.Name)
	}
	return idx
}

// Len returns the number of indexed polygons.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.names)
}

// Locate returns the neighbourhood containing (x, y). Points on an edge count as
// contained. When polygons overlap, the one loaded first wins.
func (idx *Index) Locate(x, y float64) (string, bool) {
	if idx == nil || idx.tree == nil {
		return "", false
	}
	p := geom.Point{X: x, Y: y}
	query := &geom.Bounds{
		Min: geom.Point{X: x - boundsEpsilon, Y: y - boundsEpsilon},
		Max: geom.Point{X: x + boundsEpsilon, Y: y + boundsEpsilon},
	}
	best := -1
	var name string
	for _, c := range idx.tree.SearchIntersect(query) {
		cand := c.(*indexed)
		if best >= 0 && cand.order >= best {
			continue
		}
		if p.Within(cand.Polygonal) == geom.Outside {
			continue
		}
		best, name = cand.order, cand.name
	}
	return name, best >= 0
}

// Join attributes each point to its containing neighbourhood. Points outside every
// polygon are dropped; the rest keep their input order. Large inputs are split
// into chunks and searched concurrently.
func (idx *Index) Join(ctx context.Context, points []domain.SamplePoint) ([]Match, error) {
	names := make([]string, len(points))
	found := make([]bool, len(points))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(points); start += joinChunk {
		end := min(start+joinChunk, len(points))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%512 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				names[i], found[i] = idx.Locate(points[i].X, points[i].Y)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(points))
	for i, p := range points {
		if found[i] {
			matches = append(matches, Match{Point: p, Neighborhood: names[i]})
		}
	}
	return matches, nil
}
