package price

import "math"

// RejectOutliers drops samples more than two standard deviations from the
// mean. Sets of two or fewer pass through untouched, and a rejection that
// would empty the set returns the original instead.
func RejectOutliers(samples []float64) []float64 {
	if len(samples) <= 2 {
		return samples
	}
	mean, stddev := meanStddev(samples)
	kept := make([]float64, 0, len(samples))
	for _, s := range samples {
		if math.Abs(s-mean) <= 2*stddev {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return samples
	}
	return kept
}

func meanStddev(samples []float64) (float64, float64) {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}

func meanOf(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
