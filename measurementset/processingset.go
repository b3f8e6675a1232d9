package measurementset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qri-io/xradio/xds"
)

// IsProcessingSet reports whether t is marked as a processing set node
func IsProcessingSet(t *xds.Tree) bool {
	typ, _ := t.Attrs()[AttrType].(string)
	return typ == TypeProcessingSet
}

// ProcessingSet accesses a processing set node, whose children are MSv4
// nodes
type ProcessingSet struct {
	tree *xds.Tree
}

// NewProcessingSet wraps t. Operations fail with ErrInvalidAccessorLocation
// if t is not a processing set node.
func NewProcessingSet(t *xds.Tree) *ProcessingSet {
	return &ProcessingSet{tree: t}
}

// NewProcessingSetTree creates an empty processing set root
func NewProcessingSetTree() *xds.Tree {
	root := xds.NewTree("", nil)
	root.Attrs()[AttrType] = TypeProcessingSet
	return root
}

// Tree returns the wrapped node
func (ps *ProcessingSet) Tree() *xds.Tree { return ps.tree }

func (ps *ProcessingSet) check() error {
	if !IsProcessingSet(ps.tree) {
		return fmt.Errorf("%w: %s is not a processing set node.", ErrInvalidAccessorLocation, ps.tree.Path())
	}
	return nil
}

// measurementSets lists the MSv4 children ordered by name
func (ps *ProcessingSet) measurementSets() []*xds.Tree {
	var out []*xds.Tree
	for _, c := range ps.tree.Children() {
		if IsMeasurementSet(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FieldCoords is the phase center of a partition's first field
type FieldCoords struct {
	Frame string  `json:"frame"`
	RA    float64 `json:"ra"`
	Dec   float64 `json:"dec"`
}

// SummaryRow describes one measurement set of a processing set
type SummaryRow struct {
	Name           string      `json:"name"`
	Intents        []string    `json:"intents"`
	Shape          []int       `json:"shape"`
	Polarization   []string    `json:"polarization"`
	ScanName       []string    `json:"scan_name"`
	SpwName        string      `json:"spw_name"`
	FieldName      []string    `json:"field_name"`
	SourceName     []string    `json:"source_name"`
	LineName       []string    `json:"line_name"`
	FieldCoords    FieldCoords `json:"field_coords"`
	StartFrequency float64     `json:"start_frequency"`
	EndFrequency   float64     `json:"end_frequency"`
}

// Summary describes every measurement set, ordered by name. dataGroup picks
// the correlated data variable whose shape is reported, "" for each node's
// default group.
func (ps *ProcessingSet) Summary(dataGroup string) ([]SummaryRow, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	var rows []SummaryRow
	for _, node := range ps.measurementSets() {
		row, err := summarize(NewMeasurementSet(node), dataGroup)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Path(), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func summarize(ms *MeasurementSet, dataGroup string) (SummaryRow, error) {
	row := SummaryRow{Name: ms.tree.Name}
	if dataGroup == "" {
		var err error
		if dataGroup, err = ms.DefaultDataGroup(); err != nil {
			return row, err
		}
	}
	groups, err := ms.DataGroups()
	if err != nil {
		return row, err
	}
	group, ok := groups[dataGroup]
	if !ok {
		return row, fmt.Errorf("no data group %q", dataGroup)
	}
	data, ok := ms.tree.Dataset.Var(group[RoleCorrelatedData])
	if !ok {
		return row, fmt.Errorf("data group %q: no variable %q", dataGroup, group[RoleCorrelatedData])
	}
	row.Shape = append([]int(nil), data.Shape...)

	pi, err := ms.PartitionInfo()
	if err != nil {
		return row, err
	}
	row.Intents = pi.Intents
	row.Polarization = pi.PolarizationSetup
	row.ScanName = pi.ScanName
	row.SpwName = pi.SpectralWindowName
	row.FieldName = pi.FieldName
	row.SourceName = pi.SourceName
	row.LineName = pi.LineName

	freq, err := ms.tree.Dataset.Coords["frequency"].Float64s()
	if err != nil {
		return row, err
	}
	if len(freq) > 0 {
		row.StartFrequency = freq[0]
		row.EndFrequency = freq[len(freq)-1]
	}

	fs, err := ms.FieldAndSource(dataGroup)
	if err != nil {
		return row, err
	}
	if row.FieldCoords, err = firstFieldCoords(fs); err != nil {
		return row, err
	}
	return row, nil
}

// firstFieldCoords reads the ra/dec of the first field, at the first time of
// an ephemeris
func firstFieldCoords(fs *xds.Dataset) (FieldCoords, error) {
	fc := FieldCoords{}
	center, ok := fs.DataVars[VarFieldPhaseCenter]
	if !ok {
		return fc, fmt.Errorf("no %s variable", VarFieldPhaseCenter)
	}
	v := center
	var err error
	for _, d := range []string{"field_name", "time"} {
		if v.Axis(d) >= 0 {
			if v, err = v.At(d, 0); err != nil {
				return fc, err
			}
		}
	}
	ra, dec, err := skyDir(fs, v)
	if err != nil {
		return fc, err
	}
	fc.RA, fc.Dec = ra, dec
	fc.Frame, _ = center.Attrs["frame"].(string)
	return fc, nil
}

// MaxDims is the largest size of every dimension across the measurement sets
func (ps *ProcessingSet) MaxDims() (map[string]int, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	dims := map[string]int{}
	for _, node := range ps.measurementSets() {
		for d, n := range node.Dataset.Dims() {
			if n > dims[d] {
				dims[d] = n
			}
		}
	}
	return dims, nil
}

// FreqAxis is the sorted union of every frequency coordinate
func (ps *ProcessingSet) FreqAxis() (*xds.Variable, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	var (
		all   []float64
		attrs map[string]interface{}
	)
	for _, node := range ps.measurementSets() {
		freq, ok := node.Dataset.Coords["frequency"]
		if !ok {
			continue
		}
		f, err := freq.Float64s()
		if err != nil {
			return nil, fmt.Errorf("%s frequency: %w", node.Path(), err)
		}
		if attrs == nil {
			attrs = freq.Attrs
		}
		all = append(all, f...)
	}
	axis := sortedUnique(all)
	v := xds.Vector("frequency", axis)
	for k, a := range attrs {
		v.Attrs[k] = a
	}
	return v, nil
}

func sortedUnique(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := make([]float64, 0, len(sorted))
	for i, f := range sorted {
		if i == 0 || f != sorted[i-1] {
			out = append(out, f)
		}
	}
	return out
}

// QueryOptions filter a processing set
type QueryOptions struct {
	// Name keeps only the measurement set with this exact name
	Name string
	// DataGroupName keeps measurement sets holding this data group and
	// reduces each to it
	DataGroupName string
	// Fields maps partition info fields to accepted values. A measurement set
	// matches a field when any of its values equals any accepted value.
	Fields map[string][]string
	// Substring relaxes field matching to substring containment
	Substring bool
}

// Query returns a new processing set holding the measurement sets matching
// every criterion of opts
func (ps *ProcessingSet) Query(opts QueryOptions) (*xds.Tree, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	out := xds.NewTree(ps.tree.Name, ps.tree.Dataset.DropVars())

	for _, node := range ps.measurementSets() {
		if opts.Name != "" && node.Name != opts.Name {
			continue
		}
		ms := NewMeasurementSet(node)
		if len(opts.Fields) > 0 {
			pi, err := ms.PartitionInfo()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", node.Path(), err)
			}
			ok, err := matchFields(pi, opts.Fields, opts.Substring)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		selected := node.Copy()
		if opts.DataGroupName != "" {
			groups, err := ms.DataGroups()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", node.Path(), err)
			}
			if _, ok := groups[opts.DataGroupName]; !ok {
				continue
			}
			if selected, err = ms.Sel(map[string]interface{}{DataGroupSelector: opts.DataGroupName}, xds.SelOptions{}); err != nil {
				return nil, err
			}
		}
		if err := out.AddChild(selected); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func matchFields(pi PartitionInfo, fields map[string][]string, substring bool) (bool, error) {
	for field, accepted := range fields {
		have, ok := pi.Field(field)
		if !ok {
			return false, fmt.Errorf("unknown partition info field %q", field)
		}
		if !anyMatch(have, accepted, substring) {
			return false, nil
		}
	}
	return true, nil
}

func anyMatch(have, accepted []string, substring bool) bool {
	for _, h := range have {
		for _, a := range accepted {
			if h == a || (substring && strings.Contains(h, a)) {
				return true
			}
		}
	}
	return false
}

// CombinedAntenna concatenates every antenna dataset along antenna_name,
// keeping the first occurrence of each antenna
func (ps *ProcessingSet) CombinedAntenna() (*xds.Dataset, error) {
	if err := ps.check(); err != nil {
		return nil, err
	}
	var parts []*xds.Dataset
	for _, node := range ps.measurementSets() {
		ant, err := NewMeasurementSet(node).Antenna()
		if err != nil {
			return nil, err
		}
		parts = append(parts, ant)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s holds no measurement sets", ps.tree.Path())
	}
	combined, err := xds.Concat("antenna_name", parts...)
	if err != nil {
		return nil, err
	}
	return combined.DropDuplicates("antenna_name")
}
