package msv2

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qri-io/xradio/internal/logging"
	"github.com/qri-io/xradio/measurementset"
	"github.com/qri-io/xradio/xds"
	"github.com/qri-io/xradio/zarr"
)

// Version is recorded in the creator attribute of converted data
var Version = "0.1.0"

const (
	// mjdUnixOffset is the Unix time of MJD 0 in seconds
	mjdUnixOffset = 3506716800.0

	defaultConcurrency = 4
	defaultName        = "ms"

	// PointingChild holds the antenna pointing of a measurement set
	PointingChild = "pointing_xds"
)

// ConvertOptions configure Convert
type ConvertOptions struct {
	// Scheme partitions the main table, default SchemeDDI
	Scheme PartitionScheme
	// Name prefixes measurement set node names, which are <Name>_<i>
	Name   string
	Rowmap map[int]RowSelection

	// Store receives the processing set at Root when set
	Store      zarr.Store
	Root       string
	Compressor *zarr.CompressionMeta
	// ChunkTarget is the chunk size in bytes, 0 derives it from available
	// memory
	ChunkTarget int64

	// Concurrency bounds the partitions converted and arrays written at once
	Concurrency int
}

// Convert partitions ms and builds a processing set holding one MSv4 node
// per partition. Progress is logged to the context's logger.
func Convert(ctx context.Context, ms *MeasurementSet, opts ConvertOptions) (*xds.Tree, error) {
	log := logging.From(ctx)
	scheme := opts.Scheme
	if scheme == "" {
		scheme = SchemeDDI
	}
	name := opts.Name
	if name == "" {
		name = defaultName
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	if err := ms.Validate(); err != nil {
		return nil, err
	}
	parts, err := PartitionMS(ms, scheme, PartitionOptions{Rowmap: opts.Rowmap})
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no rows selected for conversion")
	}
	FinalizePartitions(ms, parts)

	runID := uuid.NewString()
	nodes := make([]*xds.Tree, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			node, err := convertPartition(ms, p, fmt.Sprintf("%s_%d", name, i), runID)
			if err != nil {
				return fmt.Errorf("partition %s: %w", p.Key, err)
			}
			nodes[i] = node
			log.Debug("converted partition",
				zap.String("name", node.Name),
				zap.Stringer("key", p.Key),
				zap.Ints("shape", p.Shape()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	root := measurementset.NewProcessingSetTree()
	for _, n := range nodes {
		if err := root.AddChild(n); err != nil {
			return nil, err
		}
	}

	if opts.Store != nil {
		target := opts.ChunkTarget
		if target <= 0 {
			target = AutoChunkTarget()
		}
		err := measurementset.Write(ctx, opts.Store, opts.Root, root, xds.WriteOptions{
			Compressor:  opts.Compressor,
			Chunks:      dataChunks(parts, target),
			Concurrency: concurrency,
		})
		if err != nil {
			return nil, err
		}
	}

	log.Info("converted measurement set",
		zap.String("scheme", string(scheme)),
		zap.Int("partitions", len(parts)),
		zap.String("run_id", runID))
	return root, nil
}

// dataChunks sizes chunks of the visibility dimensions for the largest
// partition
func dataChunks(parts []*Partition, target int64) map[string]int {
	largest := make([]int, 4)
	for _, p := range parts {
		for i, n := range p.Shape() {
			if n > largest[i] {
				largest[i] = n
			}
		}
	}
	// complex64 visibilities are the widest items
	c := OptimalChunking(largest, 8, target)
	return map[string]int{
		"time":         c[0],
		"baseline_id":  c[1],
		"frequency":    c[2],
		"polarization": c[3],
	}
}

func unixTimes(mjd []float64) []float64 {
	out := make([]float64, len(mjd))
	for i, t := range mjd {
		out[i] = t - mjdUnixOffset
	}
	return out
}

func skyCoordAttrs() map[string]interface{} {
	return map[string]interface{}{
		"type":  "sky_coord",
		"frame": "fk5",
		"units": []string{"rad", "rad"},
	}
}

func convertPartition(ms *MeasurementSet, p *Partition, name, runID string) (*xds.Tree, error) {
	ds := xds.New()
	nt, nb, nc, ncorr := len(p.Time), len(p.Baselines), len(p.Frequency), len(p.Correlations)

	timeVar := xds.Vector("time", unixTimes(p.Time))
	timeVar.Attrs = map[string]interface{}{
		"type":   "time",
		"units":  []string{"s"},
		"scale":  "utc",
		"format": "unix",
	}
	if nt > 0 {
		timeVar.Attrs["integration_time"] = p.Interval[0]
	}

	blIDs := make([]int64, nb)
	ant1 := make([]string, nb)
	ant2 := make([]string, nb)
	for i, b := range p.Baselines {
		blIDs[i] = int64(i)
		ant1[i] = ms.Antenna[b[0]].Name
		ant2[i] = ms.Antenna[b[1]].Name
	}

	spw := ms.SpectralWindow[p.IDs.SpwID]
	freq := xds.Vector("frequency", append([]float64(nil), p.Frequency...))
	frame := spw.MeasFreqRef
	if frame == "" {
		frame = "LSRK"
	}
	freq.Attrs = map[string]interface{}{
		"type":                "spectral_coord",
		"units":               []string{"Hz"},
		"frame":               frame,
		"reference_frequency": spw.RefFrequency,
	}
	freq.Attrs[measurementset.AttrSpectralWindowName] = p.SpwName
	if len(p.ChanWidth) > 0 {
		freq.Attrs["channel_width"] = p.ChanWidth[0]
	}

	scans := make([]string, nt)
	for i, s := range p.ScanByTime {
		scans[i] = strconv.Itoa(s)
	}

	coords := []struct {
		name string
		v    *xds.Variable
	}{
		{"time", timeVar},
		{"baseline_id", xds.Vector("baseline_id", blIDs)},
		{"baseline_antenna1_name", xds.Vector("baseline_id", ant1)},
		{"baseline_antenna2_name", xds.Vector("baseline_id", ant2)},
		{"frequency", freq},
		{"polarization", xds.Vector("polarization", append([]string(nil), p.Correlations...))},
		{"uvw_label", xds.Vector("uvw_label", []string{"u", "v", "w"})},
		{"scan_name", xds.Vector("time", scans)},
	}
	for _, c := range coords {
		if err := ds.SetCoord(c.name, c.v); err != nil {
			return nil, err
		}
	}

	dims := []string{"time", "baseline_id", "frequency", "polarization"}
	shape := []int{nt, nb, nc, ncorr}
	vars := []struct {
		name   string
		dims   []string
		shape  []int
		values interface{}
		attrs  map[string]interface{}
	}{
		{"VISIBILITY", dims, shape, p.Data, map[string]interface{}{"type": "quantity", "units": []string{"Jy"}}},
		{"FLAG", dims, shape, p.Flag, nil},
		{"WEIGHT", dims, shape, p.Weight, nil},
		{"UVW", []string{"time", "baseline_id", "uvw_label"}, []int{nt, nb, 3}, p.UVW, map[string]interface{}{"type": "uvw", "frame": "fk5", "units": []string{"m", "m", "m"}}},
	}
	for _, v := range vars {
		variable, err := xds.NewVariable(v.dims, v.shape, v.values, v.attrs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.name, err)
		}
		if err := ds.SetVar(v.name, variable); err != nil {
			return nil, err
		}
	}

	info := measurementset.ObservationInfo{Intents: append([]string{}, p.Intents...)}
	if len(ms.Observation) > 0 {
		obs := ms.Observation[0]
		info.TelescopeName = obs.TelescopeName
		info.Project = obs.Project
		info.ReleaseDate = obs.ReleaseDate
		if obs.Observer != "" {
			info.Observer = []string{obs.Observer}
		}
	}
	ds.Attrs[measurementset.AttrType] = measurementset.TypeVisibility
	base := measurementset.DataGroup{
		measurementset.RoleCorrelatedData: "VISIBILITY",
		measurementset.RoleFlag:           "FLAG",
		measurementset.RoleWeight:         "WEIGHT",
		measurementset.RoleUVW:            "UVW",
		measurementset.RoleFieldAndSource: measurementset.FieldAndSourceChild(measurementset.BaseDataGroup),
	}
	base["description"] = "Data group derived from the data column of an MSv2"
	ds.Attrs[measurementset.AttrDataGroups] = map[string]measurementset.DataGroup{measurementset.BaseDataGroup: base}
	ds.Attrs[measurementset.AttrPartitionIDs] = p.IDs
	ds.Attrs[measurementset.AttrObservationInfo] = info
	ds.Attrs[measurementset.AttrSchemaVersion] = measurementset.SchemaVersion
	ds.Attrs[measurementset.AttrCreator] = map[string]interface{}{
		"software_name": "xradio",
		"version":       Version,
		"run_id":        runID,
	}
	if p.ScanSubscanIntents != nil {
		ds.Attrs["scan_subscan_intents"] = p.ScanSubscanIntents
	}

	node := xds.NewTree(name, ds)
	ant, err := antennaDataset(ms, p.Antennas())
	if err != nil {
		return nil, fmt.Errorf("antenna: %w", err)
	}
	if err := node.AddChild(xds.NewTree(measurementset.AntennaChild, ant)); err != nil {
		return nil, err
	}
	fs, err := fieldAndSourceDataset(ms, p)
	if err != nil {
		return nil, fmt.Errorf("field and source: %w", err)
	}
	if err := node.AddChild(xds.NewTree(measurementset.FieldAndSourceChild(measurementset.BaseDataGroup), fs)); err != nil {
		return nil, err
	}
	if p.PointingBeam != nil {
		pt, err := pointingDataset(ms, p)
		if err != nil {
			return nil, fmt.Errorf("pointing: %w", err)
		}
		if err := node.AddChild(xds.NewTree(PointingChild, pt)); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func antennaNames(ms *MeasurementSet, ids []int) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = ms.Antenna[id].Name
	}
	return names
}

func antennaDataset(ms *MeasurementSet, ids []int) (*xds.Dataset, error) {
	ds := xds.New()
	n := len(ids)
	stations := make([]string, n)
	mounts := make([]string, n)
	pos := make([]float64, 0, 3*n)
	dish := make([]float64, n)
	for i, id := range ids {
		a := ms.Antenna[id]
		stations[i] = a.Station
		mounts[i] = a.Mount
		pos = append(pos, a.Position[:]...)
		dish[i] = a.DishDiameter
	}
	telescope := ""
	if len(ms.Observation) > 0 {
		telescope = ms.Observation[0].TelescopeName
	}

	if err := ds.SetCoord("antenna_name", xds.Vector("antenna_name", antennaNames(ms, ids))); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("station_name", xds.Vector("antenna_name", stations)); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("mount", xds.Vector("antenna_name", mounts)); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("cartesian_pos_label", xds.Vector("cartesian_pos_label", []string{"x", "y", "z"})); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("telescope_name", xds.Scalar(telescope)); err != nil {
		return nil, err
	}
	position, err := xds.NewVariable([]string{"antenna_name", "cartesian_pos_label"}, []int{n, 3}, pos, map[string]interface{}{
		"type":  "location",
		"frame": "ITRS",
		"units": []string{"m", "m", "m"},
	})
	if err != nil {
		return nil, err
	}
	if err := ds.SetVar("ANTENNA_POSITION", position); err != nil {
		return nil, err
	}
	diameter := xds.Vector("antenna_name", dish)
	diameter.Attrs["units"] = []string{"m"}
	if err := ds.SetVar("ANTENNA_DISH_DIAMETER", diameter); err != nil {
		return nil, err
	}
	ds.Attrs[measurementset.AttrType] = "antenna"
	return ds, nil
}

// fieldAndSourceDataset describes the partition's fields. When they carry an
// ephemeris the directions are tabulated over the ephemeris times, which all
// fields of the partition must share.
func fieldAndSourceDataset(ms *MeasurementSet, p *Partition) (*xds.Dataset, error) {
	ds := xds.New()
	fieldIDs := p.IDs.FieldID
	n := len(fieldIDs)
	names := make([]string, n)
	sources := make([]string, n)
	var srcDirs [][2]float64
	ephemeris := 0
	for i, id := range fieldIDs {
		f := ms.Field[id]
		names[i] = f.Name
		src, ok := ms.SourceFor(f.SourceID, p.IDs.SpwID)
		if !ok {
			src = Source{Name: f.Name, Direction: f.PhaseDir}
		}
		sources[i] = src.Name
		srcDirs = append(srcDirs, src.Direction)
		if f.Ephemeris != nil {
			ephemeris++
		}
	}
	if ephemeris != 0 && ephemeris != n {
		return nil, fmt.Errorf("%d of %d fields have an ephemeris", ephemeris, n)
	}

	if err := ds.SetCoord("field_name", xds.Vector("field_name", names)); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("source_name", xds.Vector("field_name", sources)); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("sky_dir_label", xds.Vector("sky_dir_label", []string{"ra", "dec"})); err != nil {
		return nil, err
	}

	if ephemeris == 0 {
		center := make([]float64, 0, 2*n)
		location := make([]float64, 0, 2*n)
		for i, id := range fieldIDs {
			center = append(center, ms.Field[id].PhaseDir[:]...)
			location = append(location, srcDirs[i][:]...)
		}
		if err := setSkyVar(ds, measurementset.VarFieldPhaseCenter, []string{"field_name", "sky_dir_label"}, []int{n, 2}, center); err != nil {
			return nil, err
		}
		if err := setSkyVar(ds, measurementset.VarSourceLocation, []string{"field_name", "sky_dir_label"}, []int{n, 2}, location); err != nil {
			return nil, err
		}
		ds.Attrs[measurementset.AttrType] = measurementset.TypeFieldAndSource
		return ds, nil
	}

	first := ms.Field[fieldIDs[0]].Ephemeris
	nt := len(first.Time)
	var center, location, velocity []float64
	for _, id := range fieldIDs {
		f := ms.Field[id]
		e := f.Ephemeris
		if len(e.Time) != nt {
			return nil, fmt.Errorf("field %q: ephemeris has %d samples, want %d", f.Name, len(e.Time), nt)
		}
		for t := 0; t < nt; t++ {
			if e.Time[t] != first.Time[t] {
				return nil, fmt.Errorf("field %q: ephemeris times differ", f.Name)
			}
			center = append(center, e.RA[t]+f.PhaseDir[0], e.Dec[t]+f.PhaseDir[1])
			location = append(location, e.RA[t], e.Dec[t])
			rv := 0.0
			if e.RadialVelocity != nil {
				rv = e.RadialVelocity[t]
			}
			velocity = append(velocity, rv)
		}
	}
	timeVar := xds.Vector("time", unixTimes(first.Time))
	timeVar.Attrs = map[string]interface{}{"type": "time", "units": []string{"s"}, "scale": "utc", "format": "unix"}
	if err := ds.SetCoord("time", timeVar); err != nil {
		return nil, err
	}
	dims := []string{"field_name", "time", "sky_dir_label"}
	if err := setSkyVar(ds, measurementset.VarFieldPhaseCenter, dims, []int{n, nt, 2}, center); err != nil {
		return nil, err
	}
	if err := setSkyVar(ds, measurementset.VarSourceLocation, dims, []int{n, nt, 2}, location); err != nil {
		return nil, err
	}
	rv, err := xds.NewVariable([]string{"field_name", "time"}, []int{n, nt}, velocity, map[string]interface{}{
		"type":  "quantity",
		"units": []string{"m/s"},
	})
	if err != nil {
		return nil, err
	}
	if err := ds.SetVar(measurementset.VarSourceRadialVelocity, rv); err != nil {
		return nil, err
	}
	ds.Attrs[measurementset.AttrType] = measurementset.TypeFieldAndSourceEphemeris
	return ds, nil
}

func setSkyVar(ds *xds.Dataset, name string, dims []string, shape []int, values []float64) error {
	v, err := xds.NewVariable(dims, shape, values, skyCoordAttrs())
	if err != nil {
		return err
	}
	return ds.SetVar(name, v)
}

func pointingDataset(ms *MeasurementSet, p *Partition) (*xds.Dataset, error) {
	ds := xds.New()
	beam := p.PointingBeam
	timeVar := xds.Vector("time", unixTimes(p.Time))
	timeVar.Attrs = map[string]interface{}{"type": "time", "units": []string{"s"}, "scale": "utc", "format": "unix"}
	if err := ds.SetCoord("time", timeVar); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("antenna_name", xds.Vector("antenna_name", antennaNames(ms, beam.Antennas))); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("sky_dir_label", xds.Vector("sky_dir_label", []string{"ra", "dec"})); err != nil {
		return nil, err
	}
	if err := setSkyVar(ds, "POINTING_BEAM", []string{"time", "antenna_name", "sky_dir_label"}, []int{len(p.Time), len(beam.Antennas), 2}, beam.Direction); err != nil {
		return nil, err
	}
	ds.Attrs[measurementset.AttrType] = "pointing"
	return ds, nil
}
