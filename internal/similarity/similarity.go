// Package similarity 电影向量的余弦相似度与 Top-N 排序
package similarity

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultTopN 未指定数量时返回的条数
const DefaultTopN = 10

// parallelThreshold 候选数超过该值时并行打分
const parallelThreshold = 2048

// Candidate 待打分的电影向量
type Candidate struct {
	ID     int
	Vector []float32
}

// Scored 打分结果
type Scored struct {
	ID    int
	Score float64
}

// Engine 固定维度的相似度计算器
type Engine struct {
	Dim     int
	Workers int
}

// NewEngine 创建计算器，Workers 默认为 CPU 数
func NewEngine(dim int) *Engine {
	return &Engine{Dim: dim, Workers: runtime.NumCPU()}
}

// Cosine 余弦相似度，零向量或维度不一致时返回 0
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Mean 逐维平均，维度不一致的向量被忽略
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}

// TopN 按与 target 的相似度倒序返回前 n 个，分数相同时按 ID 升序；
// 结果与候选顺序无关
func (e *Engine) TopN(ctx context.Context, target []float32, candidates []Candidate, n int) ([]Scored, error) {
	if e.Dim > 0 && len(target) != e.Dim {
		return nil, fmt.Errorf("目标向量维度 %d，期望 %d", len(target), e.Dim)
	}
	if n <= 0 {
		n = DefaultTopN
	}

	scored, err := e.score(ctx, target, candidates)
	if err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

func (e *Engine) score(ctx context.Context, target []float32, candidates []Candidate) ([]Scored, error) {
	results := make([]Scored, len(candidates))
	valid := make([]bool, len(candidates))

	scoreRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			c := candidates[i]
			if len(c.Vector) != len(target) {
				continue
			}
			results[i] = Scored{ID: c.ID, Score: Cosine(target, c.Vector)}
			valid[i] = true
		}
	}

	workers := e.Workers
	if len(candidates) < parallelThreshold || workers <= 1 {
		scoreRange(0, len(candidates))
	} else {
		g, gctx := errgroup.WithContext(ctx)
		chunk := (len(candidates) + workers - 1) / workers
		for lo := 0; lo < len(candidates); lo += chunk {
			lo, hi := lo, lo+chunk
			if hi > len(candidates) {
				hi = len(candidates)
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				scoreRange(lo, hi)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := results[:0]
	for i, ok := range valid {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, nil
}
