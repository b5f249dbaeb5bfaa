package hnsw

import (
	"math"
	"math/rand"
	"sync"

	"github.com/shardwave/shardwave/pkg/model"
)

// Scorer computes a rank score (higher is better) between a stored id and
// a query vector; pkg/segment wires this to its DenseStorage.Score.
type Scorer interface {
	Score(id model.InternalID, query model.DenseVector) (float32, bool)
	Vector(id model.InternalID) (model.DenseVector, bool)
}

// Config are the graph-build/search parameters of spec.md §4.2.
type Config struct {
	M           uint32
	EfConstruct uint32
	Ef          uint32
	PayloadM    uint32
	PayloadM0   uint32
}

type node struct {
	mu    sync.Mutex
	level int
	links [][]model.InternalID // links[l] = neighbors at layer l
}

// Graph is one HNSW index over a fixed vector name.
type Graph struct {
	cfg      Config
	scorer   Scorer
	levelMul float64

	mu         sync.RWMutex
	nodes      map[model.InternalID]*node
	entryPoint model.InternalID
	hasEntry   bool
	maxLevel   int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an empty graph. seed makes level assignment reproducible,
// matching warren's own use of deterministic seeds in test fixtures.
func New(cfg Config, scorer Scorer, seed int64) *Graph {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfConstruct == 0 {
		cfg.EfConstruct = 100
	}
	if cfg.Ef == 0 {
		cfg.Ef = 128
	}
	return &Graph{
		cfg:      cfg,
		scorer:   scorer,
		levelMul: 1.0 / math.Log(float64(cfg.M)),
		nodes:    make(map[model.InternalID]*node),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of points currently in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) randomLevel() int {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	r := g.rng.Float64()
	if r <= 0 {
		r = 1e-12
	}
	return int(math.Floor(-math.Log(r) * g.levelMul))
}

func (g *Graph) m0() uint32 { return 2 * g.cfg.M }

func (g *Graph) capacityAt(level int) int {
	if level == 0 {
		return int(g.m0())
	}
	return int(g.cfg.M)
}

// Insert adds id, already present in the scorer's backing storage, to the
// graph. deleted reports whether a candidate id should be treated as
// invisible (spec.md §4.2: "deleted ids ... never removed from the graph;
// the scorer skips them").
func (g *Graph) Insert(id model.InternalID, vec model.DenseVector, deleted func(model.InternalID) bool) {
	level := g.randomLevel()
	n := &node{level: level, links: make([][]model.InternalID, level+1)}

	g.mu.Lock()
	entry, hasEntry, maxLevel := g.entryPoint, g.hasEntry, g.maxLevel
	g.nodes[id] = n
	if !hasEntry || level > maxLevel {
		g.entryPoint = id
		g.hasEntry = true
		g.maxLevel = level
	}
	g.mu.Unlock()

	if !hasEntry {
		return
	}

	cur := entry
	for l := maxLevel; l > level; l-- {
		cur = g.greedyDescend(cur, vec, l, deleted)
	}

	for l := min(level, maxLevel); l >= 0; l-- {
		candidates, _ := g.searchLayer(vec, cur, int(g.cfg.EfConstruct), l, deleted)
		selected := g.selectNeighborsHeuristic(vec, candidates, g.capacityAt(l))
		n.mu.Lock()
		n.links[l] = selected
		n.mu.Unlock()
		for _, nb := range selected {
			g.connect(nb, id, l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}
}

// connect adds a bidirectional edge from->to at layer l, pruning from's
// adjacency back down to its capacity via the heuristic if it overflows.
func (g *Graph) connect(from, to model.InternalID, l int) {
	g.mu.RLock()
	n, ok := g.nodes[from]
	g.mu.RUnlock()
	if !ok {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if l >= len(n.links) {
		return
	}
	n.links[l] = append(n.links[l], to)
	cap := g.capacityAt(l)
	if len(n.links[l]) <= cap {
		return
	}
	fromVec, ok := g.scorer.Vector(from)
	if !ok {
		n.links[l] = n.links[l][:cap]
		return
	}
	cands := make([]scored, 0, len(n.links[l]))
	for _, id := range n.links[l] {
		if s, ok := g.scorer.Score(id, fromVec); ok {
			cands = append(cands, scored{id: id, score: s})
		}
	}
	n.links[l] = g.selectNeighborsHeuristic(fromVec, cands, cap)
}
