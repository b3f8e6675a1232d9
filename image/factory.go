// Package image builds empty image datasets: sky images on (l, m) direction
// cosines, aperture images on (u, v) and images carrying both
package image

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/qri-io/xradio/xds"
)

// ErrInvalidInput is returned for malformed image parameters
var ErrInvalidInput = errors.New("invalid image parameters")

// SpeedOfLight in m/s
const SpeedOfLight = 299792458.0

// Projections supported for sky coordinates
const (
	ProjectionSIN = "SIN"
	ProjectionTAN = "TAN"
)

const (
	lNote = "l is the angle measured from the phase center to the east. " +
		"So l = x*cdelt, where x is the number of pixels from the phase center. " +
		"See AIPS Memo #27, Section III."
	mNote = "m is the angle measured from the phase center to the north. " +
		"So m = y*cdelt, where y is the number of pixels from the phase center. " +
		"See AIPS Memo #27, Section III."
)

// SkyImageParams describe an empty image. PhaseCenter is (ra, dec) in
// radians and CellSize the (l, m) pixel size in radians. ImageSize,
// PhaseCenter and CellSize must hold exactly two elements.
type SkyImageParams struct {
	PhaseCenter []float64
	ImageSize   []int
	CellSize    []float64

	// Frequencies in Hz. The middle channel is the rest frequency.
	Frequencies  []float64
	Polarization []string
	// Times in MJD days
	Times []float64

	DirectionReference string
	Projection         string
	SpectralReference  string
	// SkyCoords adds right_ascension and declination over (l, m)
	SkyCoords bool
}

func (p SkyImageParams) validate() error {
	if len(p.ImageSize) != 2 {
		return fmt.Errorf("%w: image size must have exactly two elements", ErrInvalidInput)
	}
	if len(p.PhaseCenter) != 2 {
		return fmt.Errorf("%w: phase center must have exactly two elements", ErrInvalidInput)
	}
	if len(p.CellSize) != 2 {
		return fmt.Errorf("%w: cell size must have exactly two elements", ErrInvalidInput)
	}
	for i := 0; i < 2; i++ {
		if p.ImageSize[i] < 1 {
			return fmt.Errorf("%w: image size %v", ErrInvalidInput, p.ImageSize)
		}
		if p.CellSize[i] == 0 {
			return fmt.Errorf("%w: cell size %v", ErrInvalidInput, p.CellSize)
		}
	}
	if len(p.Frequencies) == 0 {
		return fmt.Errorf("%w: no frequencies", ErrInvalidInput)
	}
	return nil
}

// validateSkyCoords checks the projection can be inverted. Without sky
// coordinates the projection is only recorded.
func (p SkyImageParams) validateSkyCoords() error {
	if !p.SkyCoords {
		return nil
	}
	switch p.Projection {
	case ProjectionSIN, ProjectionTAN:
		return nil
	}
	return fmt.Errorf("%w: unsupported projection %q for sky coordinates", ErrInvalidInput, p.Projection)
}

// MakeEmptySkyImage builds a coordinate-only image dataset over time,
// frequency, polarization, l and m
func MakeEmptySkyImage(p SkyImageParams) (*xds.Dataset, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := p.validateSkyCoords(); err != nil {
		return nil, err
	}
	ds, restFreq, err := commonCoords(p)
	if err != nil {
		return nil, err
	}

	l, m := lmValues(p.ImageSize, p.CellSize)
	lv := xds.Vector("l", l)
	lv.Attrs["note"] = lNote
	mv := xds.Vector("m", m)
	mv.Attrs["note"] = mNote
	if err := ds.SetCoord("l", lv); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("m", mv); err != nil {
		return nil, err
	}

	if p.SkyCoords {
		ra, dec := skyCoords(p.Projection, l, m, p.PhaseCenter[0], p.PhaseCenter[1])
		shape := []int{len(l), len(m)}
		if err := ds.SetCoord("right_ascension", xds.MustVariable([]string{"l", "m"}, shape, ra)); err != nil {
			return nil, err
		}
		if err := ds.SetCoord("declination", xds.MustVariable([]string{"l", "m"}, shape, dec)); err != nil {
			return nil, err
		}
	}
	addCommonAttrs(ds, p, restFreq)
	return ds, nil
}

// MakeEmptyApertureImage builds a coordinate-only aperture image over time,
// frequency, polarization, u and v. CellSize is the sky image cell size the
// uv grid is the Fourier dual of.
func MakeEmptyApertureImage(p SkyImageParams) (*xds.Dataset, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	ds, restFreq, err := commonCoords(p)
	if err != nil {
		return nil, err
	}
	if err := setUV(ds, p); err != nil {
		return nil, err
	}
	addCommonAttrs(ds, p, restFreq)
	return ds, nil
}

// MakeEmptyLMUVImage is MakeEmptySkyImage with the u and v coordinates of
// MakeEmptyApertureImage added
func MakeEmptyLMUVImage(p SkyImageParams) (*xds.Dataset, error) {
	ds, err := MakeEmptySkyImage(p)
	if err != nil {
		return nil, err
	}
	if err := setUV(ds, p); err != nil {
		return nil, err
	}
	return ds, nil
}

func setUV(ds *xds.Dataset, p SkyImageParams) error {
	u, v := uvValues(p.ImageSize, p.CellSize)
	if err := ds.SetCoord("u", xds.Vector("u", u)); err != nil {
		return err
	}
	return ds.SetCoord("v", xds.Vector("v", v))
}

// centered returns (i - n/2) for i in [0, n), with integer division
func centered(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i - n/2)
	}
	return out
}

// lmValues follow RA for l, so l decreases with pixel index
func lmValues(size []int, cell []float64) (l, m []float64) {
	l = centered(size[0])
	floats.Scale(-math.Abs(cell[0]), l)
	m = centered(size[1])
	floats.Scale(math.Abs(cell[1]), m)
	return l, m
}

func uvValues(size []int, cell []float64) (u, v []float64) {
	u = centered(size[0])
	floats.Scale(math.Abs(1/(cell[0]*float64(size[0]))), u)
	v = centered(size[1])
	floats.Scale(math.Abs(1/(cell[1]*float64(size[1]))), v)
	return u, v
}

// commonCoords sets time, frequency, velocity and polarization and returns
// the rest frequency
func commonCoords(p SkyImageParams) (*xds.Dataset, float64, error) {
	ds := xds.New()
	freq := append([]float64(nil), p.Frequencies...)
	restFreq := freq[len(freq)/2]
	if restFreq == 0 {
		return nil, 0, fmt.Errorf("%w: zero rest frequency", ErrInvalidInput)
	}
	vel := make([]float64, len(freq))
	for i, f := range freq {
		vel[i] = (1 - f/restFreq) * SpeedOfLight
	}

	times := append([]float64(nil), p.Times...)
	pols := append([]string(nil), p.Polarization...)

	coords := []struct {
		name string
		v    *xds.Variable
	}{
		{"time", xds.Vector("time", times)},
		{"frequency", xds.Vector("frequency", freq)},
		{"velocity", xds.Vector("frequency", vel)},
		{"polarization", xds.Vector("polarization", pols)},
	}
	for _, c := range coords {
		if err := ds.SetCoord(c.name, c.v); err != nil {
			return nil, 0, err
		}
	}
	return ds, restFreq, nil
}

func quantity(value float64, units string) map[string]interface{} {
	return map[string]interface{}{
		"data": value,
		"dims": []string{},
		"attrs": map[string]interface{}{
			"type":  "quantity",
			"units": []string{units},
		},
	}
}

func addCommonAttrs(ds *xds.Dataset, p SkyImageParams, restFreq float64) {
	ds.Coords["time"].Attrs = map[string]interface{}{
		"type":   "time",
		"units":  []string{"d"},
		"scale":  "utc",
		"format": "mjd",
	}

	observer := strings.ToLower(p.SpectralReference)
	freq := p.Frequencies
	ds.Coords["frequency"].Attrs = map[string]interface{}{
		"observer": observer,
		"reference_value": map[string]interface{}{
			"data": freq[len(freq)/2],
			"dims": []string{},
			"attrs": map[string]interface{}{
				"type":     "spectral_coord",
				"units":    []string{"Hz"},
				"observer": observer,
			},
		},
		"rest_frequencies": quantity(restFreq, "Hz"),
		"rest_frequency":   quantity(restFreq, "Hz"),
		"type":             "frequency",
		"units":            []string{"Hz"},
		"wave_unit":        []string{"mm"},
	}
	ds.Coords["velocity"].Attrs = map[string]interface{}{
		"doppler_type": "radio",
		"type":         "doppler",
		"units":        []string{"m/s"},
	}

	reference := map[string]interface{}{
		"data": append([]float64(nil), p.PhaseCenter...),
		"dims": []string{"l", "m"},
		"attrs": map[string]interface{}{
			"type":  "sky_coord",
			"frame": strings.ToLower(p.DirectionReference),
			"units": []string{"rad", "rad"},
		},
		"equinox": "j2000",
	}
	ds.Attrs["data_groups"] = map[string]interface{}{"base": map[string]interface{}{}}
	ds.Attrs["direction"] = map[string]interface{}{
		"reference":             reference,
		"lonpole":               quantity(math.Pi, "rad"),
		"latpole":               quantity(0, "rad"),
		"pc":                    [][]float64{{1, 0}, {0, 1}},
		"projection":            p.Projection,
		"projection_parameters": []float64{0, 0},
	}
}
