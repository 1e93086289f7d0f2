package testutil

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"

	"github.com/hupe1980/distgraph/graph"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random int64 in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// Perm returns a pseudo-random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformRows generates num rows of dim float32s with values in [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformRows(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	rows := make([][]float32, num)
	for i := range num {
		row := data[i*dim : (i+1)*dim]
		for j := range row {
			row[j] = r.rand.Float32()
		}
		rows[i] = row
	}
	return rows
}

// RandomGraph generates a directed multigraph with numNodes nodes and
// numEdges uniformly random edges. Self loops are allowed, matching what the
// partitioner has to tolerate in real inputs.
func RandomGraph(rng *RNG, numNodes int64, numEdges int64) *graph.Graph {
	b := graph.NewBuilder(numNodes)
	for e := int64(0); e < numEdges; e++ {
		b.AddEdge(graph.NodeID(rng.Int63n(numNodes)), graph.NodeID(rng.Int63n(numNodes)))
	}
	g, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("testutil: random graph: %v", err))
	}
	return g
}

// RingGraph generates a cycle 0 -> 1 -> ... -> numNodes-1 -> 0. Every node
// has exactly one in and one out edge, which makes partition invariants easy
// to reason about in tests.
func RingGraph(numNodes int64) *graph.Graph {
	b := graph.NewBuilder(numNodes)
	for n := int64(0); n < numNodes; n++ {
		b.AddEdge(graph.NodeID(n), graph.NodeID((n+1)%numNodes))
	}
	g, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("testutil: ring graph: %v", err))
	}
	return g
}

// RandomAssignment generates a node -> partition assignment covering all
// numNodes nodes, guaranteeing every partition owns at least one node.
func RandomAssignment(rng *RNG, numNodes int64, numParts int) []int {
	assign := make([]int, numNodes)
	for i := range assign {
		assign[i] = rng.Intn(numParts)
	}
	// Pin one node per partition so no partition comes out empty.
	perm := rng.Perm(int(numNodes))
	for p := 0; p < numParts && p < len(perm); p++ {
		assign[perm[p]] = p
	}
	return assign
}

// FreePort reserves a TCP port on localhost and returns it. The listener is
// closed before returning, so there is a small race window; fine for tests.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
