package trajfile

import "math"

// Cyclic synthesizes a closed trajectory of size frames for a floating-base
// chain with dof coordinates: the base travels a horizontal circle of
// radius 0.5 at height 1 while every joint swings with a phase lag.
func Cyclic(size, dof int) [][]float64 {
	frames := make([][]float64, size)
	for f := range frames {
		phase := 2 * math.Pi * float64(f) / float64(size)
		fr := make([]float64, dof)
		for j := range fr {
			switch j {
			case 0:
				fr[j] = 0.5 * math.Cos(phase)
			case 1:
				fr[j] = 0.5 * math.Sin(phase)
			case 2:
				fr[j] = 1
			default:
				fr[j] = 0.4 * math.Sin(phase+0.7*float64(j-3))
			}
		}
		frames[f] = fr
	}
	return frames
}
