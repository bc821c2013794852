package price

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejectOutliersSmallSetsPassThrough(t *testing.T) {
	assert.Empty(t, RejectOutliers(nil))
	assert.Equal(t, []float64{5}, RejectOutliers([]float64{5}))
	assert.Equal(t, []float64{5, 500}, RejectOutliers([]float64{5, 500}))
}

func TestRejectOutliersDropsFarSample(t *testing.T) {
	samples := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}
	kept := RejectOutliers(samples)
	assert.Len(t, kept, 9)
	for _, v := range kept {
		assert.Equal(t, 1.0, v)
	}
}

func TestRejectOutliersKeepsBorderlineSample(t *testing.T) {
	// With five samples a single wild value drags the deviation up enough
	// that it sits just inside two sigma; nothing is dropped.
	samples := []float64{100, 101, 99, 100, 5000}
	assert.Equal(t, samples, RejectOutliers(samples))
}

func TestRejectOutliersNeverEmpties(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	kept := RejectOutliers(samples)
	assert.NotEmpty(t, kept)
	assert.LessOrEqual(t, len(kept), len(samples))
}

func TestMeanOf(t *testing.T) {
	assert.Equal(t, 0.0, meanOf(nil))
	assert.InDelta(t, 2.0, meanOf([]float64{1, 2, 3}), 1e-12)
}
