package attribution

import "math"

// LassoOptions controls the coordinate-descent solver.
type LassoOptions struct {
	// Lambda is the L1 regularization strength.
	Lambda float64
	// Tolerance is the convergence threshold on Σ|Δwⱼ|. Zero means use
	// the default of 1e-6.
	Tolerance float64
	// MaxIterations bounds the number of coordinate sweeps. Zero means
	// use the default of 1000.
	MaxIterations int
}

func (o LassoOptions) withDefaults() LassoOptions {
	if o.Tolerance == 0 {
		o.Tolerance = 1e-6
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = 1000
	}
	return o
}

// LassoFit minimizes ½·||y - Zw||² + λ·n·||w||₁ over w using per-coordinate
// soft-thresholding:
//
//	ρⱼ = Σᵢ zᵢⱼ · (yᵢ − Σ_{l≠j} zᵢₗ wₗ)
//	zzⱼ = Σᵢ zᵢⱼ²
//	wⱼ ← soft(ρⱼ; λ·n) / zzⱼ   (0 if zzⱼ = 0)
//
// Z is row-major (n samples × k features). Terminates when Σ|Δwⱼ| falls
// below the tolerance or MaxIterations sweeps have run. When every
// column of Z is degenerate (zzⱼ = 0 for all j), returns a zero weight
// vector rather than failing.
func LassoFit(z [][]float64, y []float64, opts LassoOptions) []float64 {
	opts = opts.withDefaults()
	n := len(z)
	if n == 0 {
		return nil
	}
	k := len(z[0])
	w := make([]float64, k)

	zz := make([]float64, k)
	for j := 0; j < k; j++ {
		var s float64
		for i := 0; i < n; i++ {
			s += z[i][j] * z[i][j]
		}
		zz[j] = s
	}

	// residual[i] = yᵢ − Σₗ zᵢₗ wₗ, kept in sync as coordinates update.
	residual := make([]float64, n)
	copy(residual, y)

	threshold := opts.Lambda * float64(n)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		var totalDelta float64
		for j := 0; j < k; j++ {
			if zz[j] == 0 {
				continue
			}
			// ρⱼ using the residual that already excludes wⱼ's old
			// contribution: add it back in before computing ρⱼ, then
			// remove the new contribution afterward.
			var rho float64
			for i := 0; i < n; i++ {
				rho += z[i][j] * (residual[i] + z[i][j]*w[j])
			}
			newWj := softThreshold(rho, threshold) / zz[j]
			delta := newWj - w[j]
			if delta != 0 {
				for i := 0; i < n; i++ {
					residual[i] -= z[i][j] * delta
				}
			}
			totalDelta += math.Abs(delta)
			w[j] = newWj
		}
		if totalDelta < opts.Tolerance {
			break
		}
	}

	return w
}

// softThreshold returns sign(rho)*max(|rho|-t, 0).
func softThreshold(rho, t float64) float64 {
	if rho > t {
		return rho - t
	}
	if rho < -t {
		return rho + t
	}
	return 0
}
