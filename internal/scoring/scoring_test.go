package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreAnchors(t *testing.T) {
	for _, limit := range []float64{0.5, 1, 10, 1000} {
		assert.Equal(t, 0.0, Score(0, limit))
		assert.InDelta(t, 50.0, Score(limit, limit), 1e-9)
		assert.InDelta(t, 75.0, Score(2*limit, limit), 1e-9)
	}
	assert.Equal(t, 0.0, Score(-3, 1))
}

func TestScoreMonotonicAndBounded(t *testing.T) {
	prev := -1.0
	for v := 0.0; v < 5000; v += 0.25 {
		s := Score(v, 10)
		assert.GreaterOrEqual(t, s, prev, "value %v", v)
		assert.Less(t, s, 100.0, "value %v", v)
		prev = s
	}
	assert.Less(t, Score(math.MaxFloat64, 1), 100.0)
	assert.Less(t, Score(math.Inf(1), 1), 100.0)
	assert.Less(t, Score(5, 0), 100.0)
}

func TestMapExp(t *testing.T) {
	assert.Equal(t, 0.0, MapExp100(0, 10))
	assert.Equal(t, 0.0, MapExp100(-1, 10))
	assert.InDelta(t, 75.0, MapExp100(10, 10), 1e-9)
	assert.InDelta(t, 25.0, MapExp74(4, 4), 1e-9)
	assert.Less(t, MapExp74(1e9, 4), 74.0)
	assert.InDelta(t, 40.0, MapExp100Y(3, 3, 40), 1e-9)
	assert.Less(t, MapExp100(1e12, 1), 100.0)
}

func TestMapExp100Two(t *testing.T) {
	assert.Equal(t, 0.0, MapExp100Two(0, 30, 60))
	assert.InDelta(t, 12.5, MapExp100Two(15, 30, 60), 1e-9)
	assert.InDelta(t, 25.0, MapExp100Two(30, 30, 60), 1e-9)
	assert.InDelta(t, 75.0, MapExp100Two(60, 30, 60), 1e-9)

	prev := -1.0
	for v := 0.0; v < 500; v++ {
		s := MapExp100Two(v, 30, 60)
		assert.GreaterOrEqual(t, s, prev)
		assert.Less(t, s, 100.0)
		prev = s
	}
}

func TestMapLin100(t *testing.T) {
	assert.Equal(t, 0.0, MapLin100(0, 0.1, 0.2))
	assert.InDelta(t, 5.0, MapLin100(0.02, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 12.5, MapLin100(0.05, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 25.0, MapLin100(0.1, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 50.0, MapLin100(0.15, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 75.0, MapLin100(0.2, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 87.5, MapLin100(0.6, 0.1, 0.2), 1e-9)
	assert.Less(t, MapLin100(1, 0.1, 0.2), 100.0)
	assert.Less(t, MapLin100(1000, 0.1, 0.2), 100.0)

	prev := 0.0
	for v := 0.0; v <= 1.2; v += 0.01 {
		got := MapLin100(v, 0.1, 0.2)
		assert.GreaterOrEqual(t, got, prev, "value %v", v)
		prev = got
	}
}

func TestMapSigmoid(t *testing.T) {
	mid := MapSigmoid(50, 0, 100, 0.1, 50, 0)
	assert.InDelta(t, 100.0/3, mid, 1e-9)
	assert.Less(t, MapSigmoid(0, 0, 100, 0.1, 50, 0.1), mid)
	assert.Greater(t, MapSigmoid(100, 0, 100, 0.1, 50, 0.1), mid)
}
