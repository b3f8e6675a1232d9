package image

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/xradio/xds"
	"github.com/qri-io/xradio/zarr"
)

func testParams() SkyImageParams {
	return SkyImageParams{
		PhaseCenter:        []float64{0.2, 0.5},
		ImageSize:          []int{4, 3},
		CellSize:           []float64{0.01, 0.02},
		Frequencies:        []float64{1e9, 1.1e9, 1.2e9},
		Polarization:       []string{"I", "Q"},
		Times:              []float64{59000.5},
		DirectionReference: "FK5",
		Projection:         ProjectionSIN,
		SpectralReference:  "LSRK",
		SkyCoords:          true,
	}
}

func TestMakeEmptySkyImage(t *testing.T) {
	ds, err := MakeEmptySkyImage(testParams())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"time": 1, "frequency": 3, "polarization": 2, "l": 4, "m": 3}, ds.Dims())
	assert.InDeltaSlice(t, []float64{0.02, 0.01, 0, -0.01}, ds.Coords["l"].Values, 1e-15)
	assert.InDeltaSlice(t, []float64{-0.02, 0, 0.02}, ds.Coords["m"].Values, 1e-15)
	assert.Contains(t, ds.Coords["l"].Attrs["note"], "east")

	vel := ds.Coords["velocity"]
	assert.Equal(t, []string{"frequency"}, vel.Dims)
	v := vel.Values.([]float64)
	assert.InDelta(t, (1-1/1.1)*SpeedOfLight, v[0], 1e-6)
	assert.Equal(t, 0.0, v[1])
	assert.Equal(t, "radio", vel.Attrs["doppler_type"])

	freq := ds.Coords["frequency"].Attrs
	assert.Equal(t, "lsrk", freq["observer"])
	assert.Equal(t, 1.1e9, freq["rest_frequency"].(map[string]interface{})["data"])
	assert.Equal(t, "mjd", ds.Coords["time"].Attrs["format"])

	dir := ds.Attrs["direction"].(map[string]interface{})
	assert.Equal(t, ProjectionSIN, dir["projection"])
	assert.Equal(t, math.Pi, dir["lonpole"].(map[string]interface{})["data"])
	ref := dir["reference"].(map[string]interface{})
	assert.Equal(t, []float64{0.2, 0.5}, ref["data"])
	assert.Equal(t, "fk5", ref["attrs"].(map[string]interface{})["frame"])
	assert.Equal(t, "j2000", ref["equinox"])
	assert.NotContains(t, ref["attrs"], "equinox")
	assert.Contains(t, ds.Attrs["data_groups"], "base")

	ra := ds.Coords["right_ascension"]
	dec := ds.Coords["declination"]
	require.NotNil(t, ra)
	assert.Equal(t, []string{"l", "m"}, ra.Dims)
	raV, decV := ra.Values.([]float64), dec.Values.([]float64)
	center := 2*3 + 1
	assert.InDelta(t, 0.2, raV[center], 1e-12)
	assert.InDelta(t, 0.5, decV[center], 1e-12)
	// along m at l = 0 the SIN projection shifts dec by asin(m)
	assert.InDelta(t, 0.5+math.Asin(0.02), decV[center+1], 1e-12)
	// l decreases with pixel index, so ra does too
	assert.Greater(t, raV[1*3+1], raV[center])
	assert.Less(t, raV[3*3+1], raV[center])

	_, ok := ds.Coords["u"]
	assert.False(t, ok)
}

func TestProjections(t *testing.T) {
	ra, dec := deprojectTAN(0, 0.02, 1, 0.5)
	assert.InDelta(t, 1, ra, 1e-12)
	assert.InDelta(t, 0.5+math.Atan(0.02), dec, 1e-12)

	ra, _ = deprojectSIN(0.01, 0, 0, 0)
	assert.InDelta(t, math.Asin(0.01), ra, 1e-12)
	ra, _ = deprojectSIN(-0.01, 0, 0, 0)
	assert.InDelta(t, 2*math.Pi-math.Asin(0.01), ra, 1e-12)

	ra, dec = deprojectSIN(0.9, 0.9, 0, 0)
	assert.True(t, math.IsNaN(ra))
	assert.True(t, math.IsNaN(dec))
}

func TestMakeEmptySkyImageWithoutSkyCoords(t *testing.T) {
	p := testParams()
	p.SkyCoords = false
	p.Projection = ProjectionTAN
	ds, err := MakeEmptySkyImage(p)
	require.NoError(t, err)
	_, ok := ds.Coords["right_ascension"]
	assert.False(t, ok)
	assert.Equal(t, ProjectionTAN, ds.Attrs["direction"].(map[string]interface{})["projection"])
}

func TestProjectionOnlyRecordedWithoutSkyCoords(t *testing.T) {
	p := testParams()
	p.Projection = "CAR"
	p.SkyCoords = false
	for name, build := range map[string]func(SkyImageParams) (*xds.Dataset, error){
		"sky":      MakeEmptySkyImage,
		"aperture": MakeEmptyApertureImage,
		"lmuv":     MakeEmptyLMUVImage,
	} {
		ds, err := build(p)
		require.NoError(t, err, name)
		assert.Equal(t, "CAR", ds.Attrs["direction"].(map[string]interface{})["projection"], name)
		assert.NotContains(t, ds.Coords, "right_ascension", name)
	}

	p.SkyCoords = true
	_, err := MakeEmptySkyImage(p)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = MakeEmptyLMUVImage(p)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = MakeEmptyApertureImage(p)
	assert.NoError(t, err)
}

func TestInvalidInput(t *testing.T) {
	cases := map[string]func(p *SkyImageParams){
		"image size":   func(p *SkyImageParams) { p.ImageSize = []int{1, 2, 3} },
		"phase center": func(p *SkyImageParams) { p.PhaseCenter = []float64{1} },
		"cell size":    func(p *SkyImageParams) { p.CellSize = nil },
		"zero cell":    func(p *SkyImageParams) { p.CellSize = []float64{0, 1} },
		"empty image":  func(p *SkyImageParams) { p.ImageSize = []int{0, 4} },
		"frequencies":  func(p *SkyImageParams) { p.Frequencies = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := testParams()
			mutate(&p)
			_, err := MakeEmptySkyImage(p)
			assert.ErrorIs(t, err, ErrInvalidInput)
			_, err = MakeEmptyApertureImage(p)
			assert.ErrorIs(t, err, ErrInvalidInput)
			_, err = MakeEmptyLMUVImage(p)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestMakeEmptyApertureImage(t *testing.T) {
	ds, err := MakeEmptyApertureImage(testParams())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"time": 1, "frequency": 3, "polarization": 2, "u": 4, "v": 3}, ds.Dims())
	assert.InDeltaSlice(t, []float64{-50, -25, 0, 25}, ds.Coords["u"].Values, 1e-9)
	assert.InDeltaSlice(t, []float64{-1 / 0.06, 0, 1 / 0.06}, ds.Coords["v"].Values, 1e-9)
	assert.NotContains(t, ds.Coords, "l")
	assert.Contains(t, ds.Attrs, "direction")
}

func TestMakeEmptyLMUVImage(t *testing.T) {
	ds, err := MakeEmptyLMUVImage(testParams())
	require.NoError(t, err)
	for _, name := range []string{"l", "m", "u", "v", "right_ascension", "declination"} {
		assert.Contains(t, ds.Coords, name)
	}
}

func TestImageRoundTrip(t *testing.T) {
	ctx := context.Background()
	ds, err := MakeEmptyLMUVImage(testParams())
	require.NoError(t, err)

	store := zarr.NewMemoryStore()
	require.NoError(t, xds.WriteTree(ctx, store, "image.zarr", xds.NewTree("", ds), xds.WriteOptions{}))
	got, err := xds.OpenTree(ctx, store, "image.zarr", xds.ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, ds.Coords["l"].Values, got.Dataset.Coords["l"].Values)
	assert.Equal(t, ds.Coords["polarization"].Values, got.Dataset.Coords["polarization"].Values)
	assert.Equal(t, []string{"l", "m"}, got.Dataset.Coords["declination"].Dims)
	dir, ok := got.Attrs()["direction"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ProjectionSIN, dir["projection"])
}
