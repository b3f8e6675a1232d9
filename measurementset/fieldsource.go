package measurementset

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/qri-io/xradio/xds"
)

// Field and source variables
const (
	VarFieldPhaseCenter     = "FIELD_PHASE_CENTER"
	VarSourceLocation       = "SOURCE_LOCATION"
	VarFieldOffset          = "FIELD_OFFSET"
	VarSourceRadialVelocity = "SOURCE_RADIAL_VELOCITY"
)

// CombinedFieldAndSource joins the field and source datasets without an
// ephemeris (no time dimension) along field_name. The center_field_name
// attribute names the field closest to the mean phase center.
func (ps *ProcessingSet) CombinedFieldAndSource(dataGroup string) (*xds.Dataset, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	parts, err := ps.fieldAndSourceParts(dataGroup, false)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s has no field and source datasets without an ephemeris", ps.tree.Path())
	}
	combined, err := xds.Concat("field_name", parts...)
	if err != nil {
		return nil, err
	}
	if combined, err = combined.DropDuplicates("field_name"); err != nil {
		return nil, err
	}
	center, err := centerFieldName(combined)
	if err != nil {
		return nil, err
	}
	combined.Attrs[AttrType] = TypeFieldAndSource
	combined.Attrs[AttrCenterFieldName] = center
	return combined, nil
}

// CombinedFieldAndSourceEphemeris joins the field and source datasets with an
// ephemeris. Each is linearly interpolated onto the sorted union of their
// times before joining along field_name. FIELD_OFFSET holds the phase center
// minus the source location in ra and dec, wrapped to [-pi, pi).
func (ps *ProcessingSet) CombinedFieldAndSourceEphemeris(dataGroup string) (*xds.Dataset, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	parts, err := ps.fieldAndSourceParts(dataGroup, true)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s has no field and source datasets with an ephemeris", ps.tree.Path())
	}

	var times []float64
	for _, p := range parts {
		t, err := p.Coords["time"].Float64s()
		if err != nil {
			return nil, fmt.Errorf("time: %w", err)
		}
		times = append(times, t...)
	}
	grid := sortedUnique(times)
	aligned := make([]*xds.Dataset, len(parts))
	for i, p := range parts {
		if aligned[i], err = interpTime(p, grid); err != nil {
			return nil, err
		}
	}

	combined, err := xds.Concat("field_name", aligned...)
	if err != nil {
		return nil, err
	}
	if combined, err = combined.DropDuplicates("field_name"); err != nil {
		return nil, err
	}
	offset, err := fieldOffset(combined)
	if err != nil {
		return nil, err
	}
	if err := combined.SetVar(VarFieldOffset, offset); err != nil {
		return nil, err
	}
	center, err := centerFieldName(combined)
	if err != nil {
		return nil, err
	}
	combined.Attrs[AttrType] = TypeFieldAndSourceEphemeris
	combined.Attrs[AttrCenterFieldName] = center
	return combined, nil
}

// fieldAndSourceParts collects the field and source datasets of every
// measurement set, keeping those with (ephemeris) or without a time
// dimension. Measurement sets lacking a named data group are skipped.
func (ps *ProcessingSet) fieldAndSourceParts(dataGroup string, ephemeris bool) ([]*xds.Dataset, error) {
	var parts []*xds.Dataset
	for _, node := range ps.measurementSets() {
		ms := NewMeasurementSet(node)
		if dataGroup != "" {
			groups, err := ms.DataGroups()
			if err != nil {
				return nil, err
			}
			if _, ok := groups[dataGroup]; !ok {
				continue
			}
		}
		fs, err := ms.FieldAndSource(dataGroup)
		if err != nil {
			return nil, err
		}
		if fs.HasDim("time") == ephemeris {
			parts = append(parts, fs)
		}
	}
	return parts, nil
}

// interpTime resamples every variable with a time dimension onto grid
func interpTime(ds *xds.Dataset, grid []float64) (*xds.Dataset, error) {
	src, err := ds.Coords["time"].Float64s()
	if err != nil {
		return nil, err
	}
	if !sort.Float64sAreSorted(src) {
		return nil, fmt.Errorf("ephemeris times are not sorted")
	}

	out := xds.New()
	for k, a := range ds.Attrs {
		out.Attrs[k] = a
	}
	resample := func(name string, v *xds.Variable) (*xds.Variable, error) {
		if name == "time" {
			t := xds.Vector("time", append([]float64(nil), grid...))
			t.Attrs = v.Attrs
			return t, nil
		}
		if v.Axis("time") < 0 {
			return v, nil
		}
		r, err := interpAlong(v, "time", src, grid)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return r, nil
	}
	for name, v := range ds.Coords {
		if out.Coords[name], err = resample(name, v); err != nil {
			return nil, err
		}
	}
	for name, v := range ds.DataVars {
		if out.DataVars[name], err = resample(name, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// interpAlong linearly interpolates v along dim from the src positions to
// dst. Targets outside src are extrapolated from the nearest segment.
func interpAlong(v *xds.Variable, dim string, src, dst []float64) (*xds.Variable, error) {
	vals, err := v.Float64s()
	if err != nil {
		return nil, err
	}
	axis := v.Axis(dim)
	n := v.Shape[axis]
	if n != len(src) {
		return nil, fmt.Errorf("%d samples along %s, %d positions", n, dim, len(src))
	}
	outer, inner := 1, 1
	for i, s := range v.Shape {
		if i < axis {
			outer *= s
		} else if i > axis {
			inner *= s
		}
	}

	out := make([]float64, outer*len(dst)*inner)
	for k, t := range dst {
		lo, hi, w := bracket(src, t)
		for o := 0; o < outer; o++ {
			for in := 0; in < inner; in++ {
				a := vals[(o*n+lo)*inner+in]
				b := vals[(o*n+hi)*inner+in]
				out[(o*len(dst)+k)*inner+in] = a + w*(b-a)
			}
		}
	}

	shape := append([]int(nil), v.Shape...)
	shape[axis] = len(dst)
	return xds.NewVariable(v.Dims, shape, out, v.Attrs)
}

// bracket finds the segment of sorted xs used to interpolate at t, and the
// weight of its upper end
func bracket(xs []float64, t float64) (lo, hi int, w float64) {
	if len(xs) == 1 {
		return 0, 0, 0
	}
	i := sort.SearchFloat64s(xs, t)
	switch {
	case i == 0:
		lo, hi = 0, 1
	case i >= len(xs):
		lo, hi = len(xs)-2, len(xs)-1
	default:
		lo, hi = i-1, i
	}
	if xs[hi] == xs[lo] {
		return lo, hi, 0
	}
	return lo, hi, (t - xs[lo]) / (xs[hi] - xs[lo])
}

// raDec splits a variable whose last dimension labels sky directions into its
// ra and dec components
func raDec(ds *xds.Dataset, v *xds.Variable) (ra, dec []float64, err error) {
	if len(v.Dims) == 0 {
		return nil, nil, fmt.Errorf("scalar has no sky direction axis")
	}
	labelDim := v.Dims[len(v.Dims)-1]
	coord, ok := ds.Coords[labelDim]
	if !ok {
		return nil, nil, fmt.Errorf("no %s coordinate", labelDim)
	}
	ri, di := -1, -1
	for i, l := range coord.Labels() {
		switch l {
		case "ra":
			ri = i
		case "dec":
			di = i
		}
	}
	if ri < 0 || di < 0 {
		return nil, nil, fmt.Errorf("%s has no ra and dec labels", labelDim)
	}
	raV, err := v.At(labelDim, ri)
	if err != nil {
		return nil, nil, err
	}
	decV, err := v.At(labelDim, di)
	if err != nil {
		return nil, nil, err
	}
	if ra, err = raV.Float64s(); err != nil {
		return nil, nil, err
	}
	dec, err = decV.Float64s()
	return ra, dec, err
}

// skyDir reads the single direction held by a 1-D sky direction variable
func skyDir(ds *xds.Dataset, v *xds.Variable) (ra, dec float64, err error) {
	ras, decs, err := raDec(ds, v)
	if err != nil {
		return 0, 0, err
	}
	if len(ras) != 1 {
		return 0, 0, fmt.Errorf("expected one direction, got %d", len(ras))
	}
	return ras[0], decs[0], nil
}

// wrapAngle maps x to [-pi, pi)
func wrapAngle(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}

func fieldOffset(ds *xds.Dataset) (*xds.Variable, error) {
	center, ok := ds.DataVars[VarFieldPhaseCenter]
	if !ok {
		return nil, fmt.Errorf("no %s variable", VarFieldPhaseCenter)
	}
	source, ok := ds.DataVars[VarSourceLocation]
	if !ok {
		return nil, fmt.Errorf("no %s variable", VarSourceLocation)
	}
	lead := len(center.Dims) - 1
	if len(source.Dims) != len(center.Dims) {
		return nil, fmt.Errorf("%s dims %v do not match %s dims %v", VarSourceLocation, source.Dims, VarFieldPhaseCenter, center.Dims)
	}
	for i := 0; i < lead; i++ {
		if source.Dims[i] != center.Dims[i] || source.Shape[i] != center.Shape[i] {
			return nil, fmt.Errorf("%s dims %v do not match %s dims %v", VarSourceLocation, source.Dims, VarFieldPhaseCenter, center.Dims)
		}
	}
	if center.Dims[lead] != "sky_dir_label" {
		return nil, fmt.Errorf("%s must end with sky_dir_label, got %v", VarFieldPhaseCenter, center.Dims)
	}
	if labels := ds.Coords["sky_dir_label"].Labels(); len(labels) != 2 || labels[0] != "ra" || labels[1] != "dec" {
		return nil, fmt.Errorf("sky_dir_label must be [ra dec], got %v", labels)
	}

	cra, cdec, err := raDec(ds, center)
	if err != nil {
		return nil, err
	}
	sra, sdec, err := raDec(ds, source)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 2*len(cra))
	for i := range cra {
		values[2*i] = wrapAngle(cra[i] - sra[i])
		values[2*i+1] = wrapAngle(cdec[i] - sdec[i])
	}
	return xds.NewVariable(center.Dims, center.Shape, values, map[string]interface{}{
		"type":  "sky_coord",
		"units": []string{"rad", "rad"},
	})
}

// centerFieldName picks the field whose time averaged phase center lies
// closest to the mean direction of all fields
func centerFieldName(ds *xds.Dataset) (string, error) {
	center, ok := ds.DataVars[VarFieldPhaseCenter]
	if !ok {
		return "", fmt.Errorf("no %s variable", VarFieldPhaseCenter)
	}
	names := ds.Coords["field_name"].Labels()
	if len(names) == 0 {
		return "", fmt.Errorf("no fields")
	}

	ra := make([]float64, len(names))
	dec := make([]float64, len(names))
	for i := range names {
		v, err := center.At("field_name", i)
		if err != nil {
			return "", err
		}
		r, d, err := raDec(ds, v)
		if err != nil {
			return "", err
		}
		ra[i], dec[i] = stat.Mean(r, nil), stat.Mean(d, nil)
	}

	x := make([]float64, len(names))
	y := make([]float64, len(names))
	z := make([]float64, len(names))
	for i := range names {
		x[i] = math.Cos(dec[i]) * math.Cos(ra[i])
		y[i] = math.Cos(dec[i]) * math.Sin(ra[i])
		z[i] = math.Sin(dec[i])
	}
	mx, my, mz := floats.Sum(x), floats.Sum(y), floats.Sum(z)
	mra := math.Atan2(my, mx)
	mdec := math.Atan2(mz, math.Hypot(mx, my))

	sep := make([]float64, len(names))
	for i := range names {
		sep[i] = angularSeparation(ra[i], dec[i], mra, mdec)
	}
	return names[floats.MinIdx(sep)], nil
}

// angularSeparation is the great circle distance between two directions
func angularSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	dra := ra2 - ra1
	num := math.Hypot(
		math.Cos(dec2)*math.Sin(dra),
		math.Cos(dec1)*math.Sin(dec2)-math.Sin(dec1)*math.Cos(dec2)*math.Cos(dra),
	)
	den := math.Sin(dec1)*math.Sin(dec2) + math.Cos(dec1)*math.Cos(dec2)*math.Cos(dra)
	return math.Atan2(num, den)
}
