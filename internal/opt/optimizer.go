package opt

// Optimizer defines a continuous minimizer over a box
type Optimizer interface {
	// Run minimizes eval within [lower[i], upper[i]] per dimension and
	// returns the best point and its cost.
	Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error)
}
