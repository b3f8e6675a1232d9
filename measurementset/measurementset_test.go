package measurementset

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/xradio/xds"
	"github.com/qri-io/xradio/zarr"
)

type field struct {
	name, source string
	ra, dec      float64
}

func staticFieldAndSource(t *testing.T, fields ...field) *xds.Dataset {
	t.Helper()
	ds := xds.New()
	var names, sources []string
	var center []float64
	for _, f := range fields {
		names = append(names, f.name)
		sources = append(sources, f.source)
		center = append(center, f.ra, f.dec)
	}
	require.NoError(t, ds.SetCoord("field_name", xds.Vector("field_name", names)))
	require.NoError(t, ds.SetCoord("source_name", xds.Vector("field_name", sources)))
	require.NoError(t, ds.SetCoord("sky_dir_label", xds.Vector("sky_dir_label", []string{"ra", "dec"})))
	fpc, err := xds.NewVariable([]string{"field_name", "sky_dir_label"}, []int{len(fields), 2}, center, map[string]interface{}{"frame": "fk5"})
	require.NoError(t, err)
	require.NoError(t, ds.SetVar(VarFieldPhaseCenter, fpc))
	require.NoError(t, ds.SetVar(VarSourceLocation, xds.MustVariable([]string{"field_name", "sky_dir_label"}, []int{len(fields), 2}, append([]float64(nil), center...))))
	ds.Attrs[AttrType] = TypeFieldAndSource
	return ds
}

// ephemerisFieldAndSource builds a single field ephemeris. center and source
// hold (ra, dec) pairs per time.
func ephemerisFieldAndSource(t *testing.T, name string, times, center, source, velocity []float64) *xds.Dataset {
	t.Helper()
	ds := xds.New()
	n := len(times)
	require.NoError(t, ds.SetCoord("field_name", xds.Vector("field_name", []string{name})))
	require.NoError(t, ds.SetCoord("source_name", xds.Vector("field_name", []string{name + "_src"})))
	require.NoError(t, ds.SetCoord("time", xds.Vector("time", times)))
	require.NoError(t, ds.SetCoord("sky_dir_label", xds.Vector("sky_dir_label", []string{"ra", "dec"})))
	require.NoError(t, ds.SetVar(VarFieldPhaseCenter, xds.MustVariable([]string{"field_name", "time", "sky_dir_label"}, []int{1, n, 2}, center)))
	require.NoError(t, ds.SetVar(VarSourceLocation, xds.MustVariable([]string{"field_name", "time", "sky_dir_label"}, []int{1, n, 2}, source)))
	require.NoError(t, ds.SetVar(VarSourceRadialVelocity, xds.MustVariable([]string{"field_name", "time"}, []int{1, n}, velocity)))
	ds.Attrs[AttrType] = TypeFieldAndSourceEphemeris
	return ds
}

type msParams struct {
	name      string
	spw       string
	freqs     []float64
	ntime     int
	antennas  []string
	intents   []string
	corrected bool
	fs        *xds.Dataset
}

func msNode(t *testing.T, p msParams) *xds.Tree {
	t.Helper()
	ds := xds.New()
	times := make([]float64, p.ntime)
	scans := make([]string, p.ntime)
	for i := range times {
		times[i] = float64(i)
		scans[i] = []string{"1", "2"}[i%2]
	}
	nf := len(p.freqs)
	require.NoError(t, ds.SetCoord("time", xds.Vector("time", times)))
	require.NoError(t, ds.SetCoord("baseline_id", xds.Vector("baseline_id", []int64{0})))
	freq := xds.Vector("frequency", p.freqs)
	freq.Attrs[AttrSpectralWindowName] = p.spw
	require.NoError(t, ds.SetCoord("frequency", freq))
	require.NoError(t, ds.SetCoord("polarization", xds.Vector("polarization", []string{"XX", "YY"})))
	require.NoError(t, ds.SetCoord("scan_name", xds.Vector("time", scans)))

	dims := []string{"time", "baseline_id", "frequency", "polarization"}
	shape := []int{p.ntime, 1, nf, 2}
	size := p.ntime * nf * 2
	require.NoError(t, ds.SetVar("VISIBILITY", xds.MustVariable(dims, shape, make([]complex64, size))))
	require.NoError(t, ds.SetVar("FLAG", xds.MustVariable(dims, shape, make([]bool, size))))
	require.NoError(t, ds.SetVar("WEIGHT", xds.MustVariable(dims, shape, make([]float32, size))))
	require.NoError(t, ds.SetVar("UVW", xds.MustVariable([]string{"time", "baseline_id", "uvw_label"}, []int{p.ntime, 1, 3}, make([]float64, p.ntime*3))))

	groups := map[string]DataGroup{
		BaseDataGroup: {
			RoleCorrelatedData: "VISIBILITY",
			RoleFlag:           "FLAG",
			RoleWeight:         "WEIGHT",
			RoleUVW:            "UVW",
			RoleFieldAndSource: FieldAndSourceChild(BaseDataGroup),
		},
	}
	if p.corrected {
		require.NoError(t, ds.SetVar("VISIBILITY_CORRECTED", xds.MustVariable(dims, shape, make([]complex64, size))))
		groups["corrected"] = DataGroup{
			RoleCorrelatedData: "VISIBILITY_CORRECTED",
			RoleFlag:           "FLAG",
			RoleWeight:         "WEIGHT",
			RoleUVW:            "UVW",
			RoleFieldAndSource: FieldAndSourceChild("corrected"),
		}
	}
	ds.Attrs[AttrType] = TypeVisibility
	ds.Attrs[AttrDataGroups] = groups
	ds.Attrs[AttrObservationInfo] = ObservationInfo{TelescopeName: "VLA", Intents: p.intents}

	node := xds.NewTree(p.name, ds)
	ant := xds.New()
	require.NoError(t, ant.SetCoord("antenna_name", xds.Vector("antenna_name", p.antennas)))
	dish := make([]float64, len(p.antennas))
	for i := range dish {
		dish[i] = 25
	}
	require.NoError(t, ant.SetVar("ANTENNA_DISH_DIAMETER", xds.Vector("antenna_name", dish)))
	require.NoError(t, node.AddChild(xds.NewTree(AntennaChild, ant)))
	require.NoError(t, node.AddChild(xds.NewTree(FieldAndSourceChild(BaseDataGroup), p.fs)))
	if p.corrected {
		require.NoError(t, node.AddChild(xds.NewTree(FieldAndSourceChild("corrected"), p.fs)))
	}
	return node
}

func testProcessingSet(t *testing.T) *xds.Tree {
	t.Helper()
	root := NewProcessingSetTree()
	require.NoError(t, root.AddChild(msNode(t, msParams{
		name:     "ms_1",
		spw:      "spw_1",
		freqs:    []float64{1.1e9, 1.2e9},
		ntime:    3,
		antennas: []string{"ea02", "ea03"},
		intents:  []string{"CALIBRATE_PHASE"},
		fs:       staticFieldAndSource(t, field{"B", "srcB", 0.1, 0}, field{"C", "srcC", 0.2, 0}),
	})))
	require.NoError(t, root.AddChild(msNode(t, msParams{
		name:      "ms_0",
		spw:       "spw_0",
		freqs:     []float64{1e9, 1.1e9},
		ntime:     2,
		antennas:  []string{"ea01", "ea02"},
		intents:   []string{"OBSERVE_TARGET"},
		corrected: true,
		fs:        staticFieldAndSource(t, field{"A", "srcA", 0, 0}, field{"B", "srcB", 0.1, 0}),
	})))
	return root
}

func TestInvalidAccessorLocation(t *testing.T) {
	ps := NewProcessingSet(xds.NewTree("", nil))
	checks := map[string]func() error{
		"summary":     func() error { _, err := ps.Summary(""); return err },
		"max dims":    func() error { _, err := ps.MaxDims(); return err },
		"freq axis":   func() error { _, err := ps.FreqAxis(); return err },
		"query":       func() error { _, err := ps.Query(QueryOptions{}); return err },
		"antenna":     func() error { _, err := ps.CombinedAntenna(); return err },
		"field":       func() error { _, err := ps.CombinedFieldAndSource(""); return err },
		"field ephem": func() error { _, err := ps.CombinedFieldAndSourceEphemeris(""); return err },
	}
	for name, fn := range checks {
		err := fn()
		assert.ErrorIs(t, err, ErrInvalidAccessorLocation, name)
		assert.Contains(t, err.Error(), "not a processing set node", name)
	}

	ms := NewMeasurementSet(testProcessingSet(t))
	_, err := ms.Sel(nil, xds.SelOptions{})
	assert.ErrorIs(t, err, ErrInvalidAccessorLocation)
	assert.Contains(t, err.Error(), "/ is not a MSv4node.")
	_, err = ms.FieldAndSource("")
	assert.ErrorIs(t, err, ErrInvalidAccessorLocation)
	_, err = ms.PartitionInfo()
	assert.ErrorIs(t, err, ErrInvalidAccessorLocation)
}

func TestSelDataGroup(t *testing.T) {
	ps := testProcessingSet(t)
	node, _ := ps.Child("ms_0")
	ms := NewMeasurementSet(node)

	out, err := ms.Sel(map[string]interface{}{DataGroupSelector: "corrected"}, xds.SelOptions{})
	require.NoError(t, err)
	_, ok := out.Dataset.Var("VISIBILITY")
	assert.False(t, ok)
	_, ok = out.Dataset.Var("VISIBILITY_CORRECTED")
	assert.True(t, ok)
	_, ok = out.Dataset.Var("FLAG")
	assert.True(t, ok)

	groups, err := NewMeasurementSet(out).DataGroups()
	require.NoError(t, err)
	assert.Len(t, groups, 1)
	assert.Equal(t, "VISIBILITY_CORRECTED", groups["corrected"][RoleCorrelatedData])

	// receiver untouched
	_, ok = node.Dataset.Var("VISIBILITY")
	assert.True(t, ok)
	groups, err = ms.DataGroups()
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	sel, err := ms.Sel(map[string]interface{}{DataGroupSelector: BaseDataGroup, "time": 1.0}, xds.SelOptions{})
	require.NoError(t, err)
	assert.False(t, sel.Dataset.HasDim("time"))
	_, ok = sel.Dataset.Var("VISIBILITY_CORRECTED")
	assert.False(t, ok)
	assert.Equal(t, []string{AntennaChild, FieldAndSourceChild(BaseDataGroup), FieldAndSourceChild("corrected")}, sel.ChildNames())

	_, err = ms.Sel(map[string]interface{}{DataGroupSelector: "missing"}, xds.SelOptions{})
	assert.Error(t, err)
}

func TestPartitionInfo(t *testing.T) {
	node, _ := testProcessingSet(t).Child("ms_1")
	pi, err := NewMeasurementSet(node).PartitionInfo()
	require.NoError(t, err)
	assert.Equal(t, PartitionInfo{
		SpectralWindowName: "spw_1",
		FieldName:          []string{"B", "C"},
		PolarizationSetup:  []string{"XX", "YY"},
		ScanName:           []string{"1", "2"},
		SourceName:         []string{"srcB", "srcC"},
		Intents:            []string{"CALIBRATE_PHASE"},
		LineName:           []string{},
	}, pi)
}

func TestSummary(t *testing.T) {
	rows, err := NewProcessingSet(testProcessingSet(t)).Summary("")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "ms_0", rows[0].Name)
	assert.Equal(t, []int{2, 1, 2, 2}, rows[0].Shape)
	assert.Equal(t, "spw_0", rows[0].SpwName)
	assert.Equal(t, []string{"OBSERVE_TARGET"}, rows[0].Intents)
	assert.Equal(t, 1e9, rows[0].StartFrequency)
	assert.Equal(t, 1.1e9, rows[0].EndFrequency)
	assert.Equal(t, FieldCoords{Frame: "fk5", RA: 0, Dec: 0}, rows[0].FieldCoords)

	assert.Equal(t, "ms_1", rows[1].Name)
	assert.Equal(t, []int{3, 1, 2, 2}, rows[1].Shape)
	assert.Equal(t, 0.1, rows[1].FieldCoords.RA)

	_, err = NewProcessingSet(testProcessingSet(t)).Summary("corrected")
	assert.Error(t, err, "ms_1 has no corrected data group")
}

func TestMaxDimsAndFreqAxis(t *testing.T) {
	ps := NewProcessingSet(testProcessingSet(t))
	dims, err := ps.MaxDims()
	require.NoError(t, err)
	assert.Equal(t, 3, dims["time"])
	assert.Equal(t, 2, dims["frequency"])
	assert.Equal(t, 1, dims["baseline_id"])
	assert.Equal(t, 2, dims["polarization"])

	freq, err := ps.FreqAxis()
	require.NoError(t, err)
	assert.Equal(t, []string{"frequency"}, freq.Dims)
	assert.Equal(t, []float64{1e9, 1.1e9, 1.2e9}, freq.Values)
	assert.Equal(t, "spw_0", freq.Attrs[AttrSpectralWindowName])
}

func TestQuery(t *testing.T) {
	ps := NewProcessingSet(testProcessingSet(t))

	byName, err := ps.Query(QueryOptions{Name: "ms_1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ms_1"}, byName.ChildNames())
	assert.True(t, IsProcessingSet(byName))

	byGroup, err := ps.Query(QueryOptions{DataGroupName: "corrected"})
	require.NoError(t, err)
	require.Equal(t, []string{"ms_0"}, byGroup.ChildNames())
	node, _ := byGroup.Child("ms_0")
	groups, err := NewMeasurementSet(node).DataGroups()
	require.NoError(t, err)
	assert.Contains(t, groups, "corrected")
	assert.Len(t, groups, 1)

	byField, err := ps.Query(QueryOptions{Fields: map[string][]string{"field_name": {"C"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ms_1"}, byField.ChildNames())

	bySubstring, err := ps.Query(QueryOptions{Fields: map[string][]string{"spw_name": {"spw"}}, Substring: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ms_0", "ms_1"}, bySubstring.ChildNames())

	none, err := ps.Query(QueryOptions{Fields: map[string][]string{"spw_name": {"spw"}}})
	require.NoError(t, err)
	assert.Empty(t, none.ChildNames())

	_, err = ps.Query(QueryOptions{Fields: map[string][]string{"nope": {"x"}}})
	assert.Error(t, err)

	// queries copy nodes
	assert.Equal(t, []string{"ms_1", "ms_0"}, ps.Tree().ChildNames())
}

func TestCombinedAntenna(t *testing.T) {
	ant, err := NewProcessingSet(testProcessingSet(t)).CombinedAntenna()
	require.NoError(t, err)
	assert.Equal(t, []string{"ea01", "ea02", "ea03"}, ant.Coords["antenna_name"].Values)
	assert.Equal(t, []float64{25, 25, 25}, ant.DataVars["ANTENNA_DISH_DIAMETER"].Values)

	tree := testProcessingSet(t)
	for i, name := range []string{"ms_0", "ms_1"} {
		node, _ := tree.Child(name)
		a, _ := node.Child(AntennaChild)
		require.NoError(t, a.Dataset.SetCoord("telescope_name", xds.Scalar([]string{"ALMA", "VLA"}[i])))
	}
	_, err = NewProcessingSet(tree).CombinedAntenna()
	assert.ErrorIs(t, err, xds.ErrConflict)
}

func TestCombinedFieldAndSource(t *testing.T) {
	ps := NewProcessingSet(testProcessingSet(t))
	fs, err := ps.CombinedFieldAndSource("")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, fs.Coords["field_name"].Values)
	assert.Equal(t, TypeFieldAndSource, fs.Attrs[AttrType])
	assert.Equal(t, "B", fs.Attrs[AttrCenterFieldName])
	assert.NotContains(t, fs.Coords, "line_name")

	_, err = ps.CombinedFieldAndSourceEphemeris("")
	assert.Error(t, err)
}

func ephemerisProcessingSet(t *testing.T) *xds.Tree {
	root := NewProcessingSetTree()
	add := func(name string, fs *xds.Dataset) {
		require.NoError(t, root.AddChild(msNode(t, msParams{
			name:     name,
			spw:      "spw_0",
			freqs:    []float64{1e9},
			ntime:    2,
			antennas: []string{"ea01"},
			intents:  []string{"OBSERVE_TARGET"},
			fs:       fs,
		})))
	}
	add("ms_e0", ephemerisFieldAndSource(t, "E1",
		[]float64{0, 10},
		[]float64{0, 0, 1, 0.2},
		[]float64{3, 0, 3, 0},
		[]float64{100, 200}))
	add("ms_e1", ephemerisFieldAndSource(t, "E2",
		[]float64{5, 15},
		[]float64{3, 0, 3, 0},
		[]float64{-3, 0, -3, 0},
		[]float64{0, 0}))
	add("ms_e2", ephemerisFieldAndSource(t, "E3",
		[]float64{0, 15},
		[]float64{0.8, 0.1, 0.8, 0.1},
		[]float64{0.8, 0.1, 0.8, 0.1},
		[]float64{0, 0}))
	return root
}

func TestCombinedFieldAndSourceEphemeris(t *testing.T) {
	ps := NewProcessingSet(ephemerisProcessingSet(t))
	fs, err := ps.CombinedFieldAndSourceEphemeris("")
	require.NoError(t, err)

	assert.Equal(t, TypeFieldAndSourceEphemeris, fs.Attrs[AttrType])
	assert.Equal(t, "E3", fs.Attrs[AttrCenterFieldName])
	assert.Equal(t, []float64{0, 5, 10, 15}, fs.Coords["time"].Values)
	assert.Equal(t, []string{"E1", "E2", "E3"}, fs.Coords["field_name"].Values)

	fpc := fs.DataVars[VarFieldPhaseCenter]
	assert.Equal(t, []int{3, 4, 2}, fpc.Shape)
	vals := fpc.Values.([]float64)
	// E1 ra over time, including linear extrapolation past its last sample
	for i, want := range []float64{0, 0.5, 1, 1.5} {
		assert.InDelta(t, want, vals[i*2], 1e-12)
	}
	assert.InDelta(t, 0.1, vals[1*2+1], 1e-12)

	srv := fs.DataVars[VarSourceRadialVelocity].Values.([]float64)
	assert.InDeltaSlice(t, []float64{100, 150, 200, 250}, srv[:4], 1e-9)

	offset := fs.DataVars[VarFieldOffset]
	require.NotNil(t, offset)
	assert.Equal(t, []string{"field_name", "time", "sky_dir_label"}, offset.Dims)
	off := offset.Values.([]float64)
	assert.InDelta(t, -3, off[0], 1e-12)
	assert.InDelta(t, -2.5, off[2], 1e-12)
	// E2: 3 - (-3) wraps around
	assert.InDelta(t, 6-2*math.Pi, off[8], 1e-12)
	for _, o := range off {
		assert.True(t, o >= -math.Pi && o < math.Pi, o)
	}

	_, err = ps.CombinedFieldAndSource("")
	assert.Error(t, err)
}

func TestBracket(t *testing.T) {
	xs := []float64{0, 10, 20}
	cases := []struct {
		t      float64
		lo, hi int
		w      float64
	}{
		{-5, 0, 1, -0.5},
		{0, 0, 1, 0},
		{5, 0, 1, 0.5},
		{10, 0, 1, 1},
		{15, 1, 2, 0.5},
		{25, 1, 2, 1.5},
	}
	for _, c := range cases {
		lo, hi, w := bracket(xs, c.t)
		assert.Equal(t, c.lo, lo, c.t)
		assert.Equal(t, c.hi, hi, c.t)
		assert.InDelta(t, c.w, w, 1e-12, c.t)
	}
	lo, hi, w := bracket([]float64{3}, 7)
	assert.Equal(t, []interface{}{0, 0, 0.0}, []interface{}{lo, hi, w})
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 0, wrapAngle(2*math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi, wrapAngle(math.Pi), 1e-12)
	assert.InDelta(t, 0.5, wrapAngle(0.5-4*math.Pi), 1e-12)
}

func TestWriteOpen(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	ps := testProcessingSet(t)
	require.NoError(t, Write(ctx, store, "ps.zarr", ps, xds.WriteOptions{}))

	got, err := Open(ctx, store, "ps.zarr", xds.ReadOptions{})
	require.NoError(t, err)
	want, err := NewProcessingSet(ps).Summary("")
	require.NoError(t, err)
	rows, err := NewProcessingSet(got).Summary("")
	require.NoError(t, err)
	assert.Equal(t, want, rows)

	notPS := xds.NewTree("", nil)
	notPS.Attrs()[AttrType] = TypeVisibility
	assert.ErrorIs(t, Write(ctx, store, "other", notPS, xds.WriteOptions{}), ErrInvalidAccessorLocation)
	require.NoError(t, xds.WriteTree(ctx, store, "other", notPS, xds.WriteOptions{}))
	_, err = Open(ctx, store, "other", xds.ReadOptions{})
	assert.ErrorIs(t, err, ErrInvalidAccessorLocation)
}
