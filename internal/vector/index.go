package vector

import (
	"fmt"
	"math"
	"sort"
)

// Entry is a chunk of text and its embedding. Its position inside an Index is its key.
type Entry struct {
	Text      string
	Embedding []float32
}

// Match is a search hit. Smaller Distance means more similar.
type Match struct {
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
	Position int     `json:"position"`
}

// DimensionMismatchError reports an embedding whose length differs from the index's.
type DimensionMismatchError struct {
	Expected int
	Got      int
	Position int // offset inside the rejected batch, -1 for a query vector
}

func (e *DimensionMismatchError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("query embedding has dimension %d, index expects %d", e.Got, e.Expected)
	}
	return fmt.Sprintf("embedding at batch offset %d has dimension %d, index expects %d", e.Position, e.Got, e.Expected)
}

// Index is an append-only, exact nearest-neighbour index over Euclidean distance.
// Add must not run concurrently with anything else; Search may run concurrently once
// indexing is finished.
type Index struct {
	dimension int
	entries   []Entry
}

// NewIndex creates an empty index. A non-positive dimension is fixed by the first Add.
func NewIndex(dimension int) *Index {
	if dimension < 0 {
		dimension = 0
	}
	return &Index{dimension: dimension}
}

func (idx *Index) Dimension() int { return idx.dimension }
func (idx *Index) Len() int       { return len(idx.entries) }

// Add appends entries in order. Either the whole batch is appended or none of it is.
func (idx *Index) Add(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	dim := idx.dimension
	if dim == 0 {
		dim = len(entries[0].Embedding)
	}
	for i, e := range entries {
		if len(e.Embedding) != dim || dim == 0 {
			return &DimensionMismatchError{Expected: dim, Got: len(e.Embedding), Position: i}
		}
	}

	idx.dimension = dim
	idx.entries = append(idx.entries, entries...)
	return nil
}

// Search returns up to k entries ordered by ascending distance to query. Equal
// distances keep insertion order.
func (idx *Index) Search(query []float32, k int) ([]Match, error) {
	if len(idx.entries) == 0 || k <= 0 {
		return []Match{}, nil
	}
	if len(query) != idx.dimension {
		return nil, &DimensionMismatchError{Expected: idx.dimension, Got: len(query), Position: -1}
	}

	matches := make([]Match, len(idx.entries))
	for i, e := range idx.entries {
		matches[i] = Match{Text: e.Text, Distance: euclidean(query, e.Embedding), Position: i}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Distance < matches[b].Distance
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
