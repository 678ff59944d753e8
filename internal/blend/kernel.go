package blend

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultWidth is the kernel width in frames.
const DefaultWidth = 100.0

// DefaultKernel is the blend kernel used when none is configured.
var DefaultKernel = Kernel{Width: DefaultWidth}

// Kernel is a Gaussian decay over frame offset, scaled so the peak is 1.
type Kernel struct {
	Width float64
}

// Weight returns the blend weight for a signed frame offset.
func (k Kernel) Weight(offset float64) float64 {
	w := k.Width
	if w <= 0 {
		w = DefaultWidth
	}
	r := offset / w
	return math.Exp(-r * r / 2)
}

// progressPercent estimates how much of a commit window is done after
// offset pairs, from the normal CDF of offset relative to the kernel width.
// It tops out just under 100 at offset == iterations-1. The progress curve
// follows the configured kernel width; it is a display estimate only and
// does not measure work done.
func progressPercent(offset, iterations int, width float64) float64 {
	if width <= 0 {
		width = DefaultWidth
	}
	n := distuv.UnitNormal
	half := n.CDF(0)
	return 200 * (n.CDF(float64(offset)/width) - half) / n.CDF(float64(iterations+1)/width)
}
