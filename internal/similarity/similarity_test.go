package similarity

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMean(t *testing.T) {
	m := Mean([][]float32{{1, 0}, {0, 1}})
	assert.Equal(t, []float32{0.5, 0.5}, m)
	assert.Nil(t, Mean(nil))
}

func TestTopN_WatchedDramaPrefersDrama(t *testing.T) {
	e := NewEngine(2)
	// 看过 A(剧情)，C 与 A 更接近
	target := Mean([][]float32{{1, 0.1}})
	got, err := e.TopN(context.Background(), target, []Candidate{
		{ID: 4, Vector: []float32{0.1, 1}},
		{ID: 3, Vector: []float32{0.9, 0.2}},
	}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestTopN_SelfSimilarityFirst(t *testing.T) {
	e := NewEngine(3)
	v := []float32{0.3, 0.4, 0.5}
	got, err := e.TopN(context.Background(), v, []Candidate{
		{ID: 1, Vector: []float32{0.5, 0.4, 0.3}},
		{ID: 2, Vector: v},
	}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestTopN_TiesBreakByID(t *testing.T) {
	e := NewEngine(2)
	v := []float32{1, 1}
	got, err := e.TopN(context.Background(), v, []Candidate{
		{ID: 9, Vector: v}, {ID: 2, Vector: v}, {ID: 5, Vector: v},
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 9}, ids(got))
}

func TestTopN_SkipsWrongDimensionCandidates(t *testing.T) {
	e := NewEngine(2)
	got, err := e.TopN(context.Background(), []float32{1, 0}, []Candidate{
		{ID: 1, Vector: []float32{1, 0, 0}},
		{ID: 2, Vector: []float32{1, 0}},
	}, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids(got))
}

func TestTopN_RejectsWrongTargetDimension(t *testing.T) {
	e := NewEngine(3)
	_, err := e.TopN(context.Background(), []float32{1, 0}, nil, 5)
	assert.Error(t, err)
}

func TestTopN_DefaultN(t *testing.T) {
	e := NewEngine(1)
	cands := make([]Candidate, 15)
	for i := range cands {
		cands[i] = Candidate{ID: i + 1, Vector: []float32{1}}
	}
	got, err := e.TopN(context.Background(), []float32{1}, cands, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopN)
}

func TestTopN_OrderIndependentAndParallel(t *testing.T) {
	const dim = 16
	rng := rand.New(rand.NewSource(42))
	cands := make([]Candidate, parallelThreshold+500)
	for i := range cands {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		cands[i] = Candidate{ID: i + 1, Vector: v}
	}
	target := cands[10].Vector

	serial := &Engine{Dim: dim, Workers: 1}
	parallel := &Engine{Dim: dim, Workers: 4}

	want, err := serial.TopN(context.Background(), target, cands, 20)
	require.NoError(t, err)

	shuffled := append([]Candidate(nil), cands...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	got, err := parallel.TopN(context.Background(), target, shuffled, 20)
	require.NoError(t, err)

	assert.Equal(t, ids(want), ids(got))
	assert.Equal(t, 11, got[0].ID)
	for i := 1; i < len(got); i++ {
		assert.False(t, math.IsNaN(got[i].Score))
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func ids(s []Scored) []int {
	out := make([]int, len(s))
	for i, x := range s {
		out[i] = x.ID
	}
	return out
}
