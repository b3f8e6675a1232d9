package image

import "math"

// skyCoords converts every (l, m) pair to (ra, dec) about the phase center
// (ra0, dec0). Results are shaped (l, m) and ra is wrapped to [0, 2π).
// Points outside the SIN projection's unit circle are NaN.
func skyCoords(projection string, l, m []float64, ra0, dec0 float64) (ra, dec []float64) {
	ra = make([]float64, len(l)*len(m))
	dec = make([]float64, len(ra))
	for i, x := range l {
		for j, y := range m {
			var a, d float64
			if projection == ProjectionTAN {
				a, d = deprojectTAN(x, y, ra0, dec0)
			} else {
				a, d = deprojectSIN(x, y, ra0, dec0)
			}
			ra[i*len(m)+j], dec[i*len(m)+j] = a, d
		}
	}
	return ra, dec
}

// deprojectSIN inverts the orthographic projection
func deprojectSIN(x, y, ra0, dec0 float64) (float64, float64) {
	r2 := x*x + y*y
	if r2 > 1 {
		return math.NaN(), math.NaN()
	}
	n := math.Sqrt(1 - r2)
	sin0, cos0 := math.Sincos(dec0)
	dec := math.Asin(y*cos0 + n*sin0)
	ra := ra0 + math.Atan2(x, n*cos0-y*sin0)
	return wrapRA(ra), dec
}

// deprojectTAN inverts the gnomonic projection
func deprojectTAN(x, y, ra0, dec0 float64) (float64, float64) {
	sin0, cos0 := math.Sincos(dec0)
	den := cos0 - y*sin0
	ra := ra0 + math.Atan2(x, den)
	dec := math.Atan2(sin0+y*cos0, math.Hypot(x, den))
	return wrapRA(ra), dec
}

func wrapRA(ra float64) float64 {
	ra = math.Mod(ra, 2*math.Pi)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	return ra
}
