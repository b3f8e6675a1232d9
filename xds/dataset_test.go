package xds

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// visDataset builds a small (time, frequency, polarization) dataset
func visDataset(t *testing.T) *Dataset {
	t.Helper()
	ds := New()
	require.NoError(t, ds.SetCoord("time", Vector("time", []float64{10, 20, 30})))
	require.NoError(t, ds.SetCoord("frequency", Vector("frequency", []float64{1e9, 1.1e9})))
	require.NoError(t, ds.SetCoord("polarization", Vector("polarization", []string{"XX", "YY"})))
	require.NoError(t, ds.SetCoord("scan_name", Vector("time", []string{"1", "1", "2"})))

	vis := make([]complex64, 3*2*2)
	for i := range vis {
		vis[i] = complex(float32(i), 0)
	}
	v, err := NewVariable([]string{"time", "frequency", "polarization"}, []int{3, 2, 2}, vis, map[string]interface{}{"units": "Jy"})
	require.NoError(t, err)
	require.NoError(t, ds.SetVar("VISIBILITY", v))
	require.NoError(t, ds.SetVar("WEIGHT", MustVariable([]string{"time"}, []int{3}, []float32{1, 2, 3})))
	ds.Attrs["type"] = "visibility"
	return ds
}

func TestNewVariableValidation(t *testing.T) {
	_, err := NewVariable([]string{"a"}, []int{2}, []float64{1}, nil)
	assert.Error(t, err)
	_, err = NewVariable([]string{"a", "a"}, []int{1, 1}, []float64{1}, nil)
	assert.Error(t, err)
	_, err = NewVariable([]string{"a"}, []int{1}, []int{1}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSetVarDimMismatch(t *testing.T) {
	ds := visDataset(t)
	err := ds.SetVar("BAD", Vector("time", []float64{1, 2}))
	assert.ErrorIs(t, err, ErrDimMismatch)
	assert.Equal(t, map[string]int{"time": 3, "frequency": 2, "polarization": 2}, ds.Dims())
}

func TestIsel(t *testing.T) {
	ds := visDataset(t)

	out, err := ds.Isel(map[string]Index{"time": Take(2, 0)})
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 10}, out.Coords["time"].Values)
	assert.Equal(t, []string{"2", "1"}, out.Coords["scan_name"].Values)
	assert.Equal(t, []complex64{8, 9, 10, 11, 0, 1, 2, 3}, out.DataVars["VISIBILITY"].Values)
	assert.Equal(t, "Jy", out.DataVars["VISIBILITY"].Attrs["units"])

	scalar, err := ds.Isel(map[string]Index{"polarization": At(1)})
	require.NoError(t, err)
	vis := scalar.DataVars["VISIBILITY"]
	assert.Equal(t, []string{"time", "frequency"}, vis.Dims)
	assert.Equal(t, []complex64{1, 3, 5, 7, 9, 11}, vis.Values)
	assert.Empty(t, scalar.Coords["polarization"].Dims)
	assert.False(t, scalar.HasDim("polarization"))

	_, err = ds.Isel(map[string]Index{"nope": At(0)})
	assert.Error(t, err)
	_, err = ds.Isel(map[string]Index{"time": At(5)})
	assert.Error(t, err)
}

func TestSel(t *testing.T) {
	ds := visDataset(t)

	out, err := ds.Sel(map[string]interface{}{"polarization": "XX", "time": []float64{20, 30}}, SelOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"time": 2, "frequency": 2}, out.Dims())
	assert.Equal(t, []complex64{4, 6, 8, 10}, out.DataVars["VISIBILITY"].Values)

	_, err = ds.Sel(map[string]interface{}{"time": 21.0}, SelOptions{})
	assert.ErrorIs(t, err, ErrKeyNotFound)

	near, err := ds.Sel(map[string]interface{}{"time": 21.0}, SelOptions{Method: "nearest", Tolerance: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{20}, near.Coords["time"].Values)

	_, err = ds.Sel(map[string]interface{}{"time": 25.5}, SelOptions{Method: "nearest", Tolerance: 2})
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = ds.Sel(map[string]interface{}{"scan_name": "1"}, SelOptions{})
	assert.Error(t, err, "scan_name is not an index coordinate")
}

func TestDropVarsDoesNotMutate(t *testing.T) {
	ds := visDataset(t)
	out := ds.DropVars("WEIGHT", "missing")
	_, ok := out.Var("WEIGHT")
	assert.False(t, ok)
	_, ok = ds.Var("WEIGHT")
	assert.True(t, ok)
}

func TestConcatAndDropDuplicates(t *testing.T) {
	a := New()
	require.NoError(t, a.SetCoord("field_name", Vector("field_name", []string{"A", "B"})))
	require.NoError(t, a.SetCoord("sky_dir_label", Vector("sky_dir_label", []string{"ra", "dec"})))
	require.NoError(t, a.SetVar("FIELD_PHASE_CENTER", MustVariable([]string{"field_name", "sky_dir_label"}, []int{2, 2}, []float64{1, 2, 3, 4})))
	a.Attrs["type"] = "field_and_source"

	b := New()
	require.NoError(t, b.SetCoord("field_name", Vector("field_name", []string{"B", "C"})))
	require.NoError(t, b.SetCoord("sky_dir_label", Vector("sky_dir_label", []string{"ra", "dec"})))
	require.NoError(t, b.SetVar("FIELD_PHASE_CENTER", MustVariable([]string{"field_name", "sky_dir_label"}, []int{2, 2}, []float64{3, 4, 5, 6})))

	c, err := Concat("field_name", a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "B", "C"}, c.Coords["field_name"].Values)
	assert.Equal(t, []float64{1, 2, 3, 4, 3, 4, 5, 6}, c.DataVars["FIELD_PHASE_CENTER"].Values)
	assert.Equal(t, "field_and_source", c.Attrs["type"])

	d, err := c.DropDuplicates("field_name")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, d.Coords["field_name"].Values)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, d.DataVars["FIELD_PHASE_CENTER"].Values)

	u, err := c.UniqueLabels("field_name")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, u)

	_, err = Concat("field_name", a, New())
	assert.Error(t, err)
}

func TestConcatSharedVariables(t *testing.T) {
	fields := func(telescope string, names ...string) *Dataset {
		ds := New()
		require.NoError(t, ds.SetCoord("field_name", Vector("field_name", names)))
		require.NoError(t, ds.SetCoord("telescope_name", Scalar(telescope)))
		require.NoError(t, ds.SetVar("REFERENCE", Vector("sky_dir_label", []float64{1, math.NaN()})))
		return ds
	}

	c, err := Concat("field_name", fields("ALMA", "A"), fields("ALMA", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, c.Coords["field_name"].Values)
	assert.Equal(t, []string{"ALMA"}, c.Coords["telescope_name"].Values)
	assert.Equal(t, []int{2}, c.DataVars["REFERENCE"].Shape)

	_, err = Concat("field_name", fields("ALMA", "A"), fields("VLA", "B"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorContains(t, err, "telescope_name")

	other := fields("ALMA", "B")
	other.DataVars["REFERENCE"] = Vector("sky_dir_label", []float32{1, float32(math.NaN())})
	_, err = Concat("field_name", fields("ALMA", "A"), other)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUniqueKeepsNumericOrder(t *testing.T) {
	ds := New()
	require.NoError(t, ds.SetCoord("scan_number", Vector("time", []int64{9, 10, 2, 10, 9})))
	require.NoError(t, ds.SetCoord("frequency", Vector("frequency", []float64{1.5e9, 1e9, 1.5e9, 9e8})))
	require.NoError(t, ds.SetVar("FLAG", Vector("row", []bool{true, false, true})))

	u, err := ds.Unique("scan_number")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 9, 10}, u.Values)
	assert.Equal(t, []string{"scan_number"}, u.Dims)

	labels, err := ds.UniqueLabels("scan_number")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "9", "10"}, labels)

	u, err = ds.Unique("frequency")
	require.NoError(t, err)
	assert.Equal(t, []float64{9e8, 1e9, 1.5e9}, u.Values)

	u, err = ds.Unique("FLAG")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, u.Values)

	_, err = ds.Unique("missing")
	assert.Error(t, err)
}

func TestConcatInnerAxis(t *testing.T) {
	a := New()
	require.NoError(t, a.SetVar("X", MustVariable([]string{"row", "time"}, []int{2, 1}, []int64{1, 2})))
	b := New()
	require.NoError(t, b.SetVar("X", MustVariable([]string{"row", "time"}, []int{2, 2}, []int64{3, 4, 5, 6})))

	c, err := Concat("time", a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, c.DataVars["X"].Shape)
	assert.Equal(t, []int64{1, 3, 4, 2, 5, 6}, c.DataVars["X"].Values)
}

func TestDecodeAttr(t *testing.T) {
	attrs := map[string]interface{}{
		"data_groups": map[string]interface{}{
			"base": map[string]interface{}{"correlated_data": "VISIBILITY"},
		},
	}
	var groups map[string]map[string]string
	require.NoError(t, DecodeAttr(attrs, "data_groups", &groups))
	assert.Equal(t, "VISIBILITY", groups["base"]["correlated_data"])
	assert.Error(t, DecodeAttr(attrs, "missing", &groups))
}
