// Package measurementset provides accessors over trees of MSv4 datasets: a
// single measurement set node, and a processing set grouping many of them
package measurementset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/qri-io/xradio/xds"
)

// Node types
const (
	TypeVisibility    = "visibility"
	TypeSpectrum      = "spectrum"
	TypeWVR           = "wvr"
	TypeProcessingSet = "processing_set"

	TypeFieldAndSource          = "field_and_source"
	TypeFieldAndSourceEphemeris = "field_and_source_ephemeris"
)

// DatasetTypes are the values of the "type" attribute marking an MSv4 node
var DatasetTypes = map[string]struct{}{
	TypeVisibility: {},
	TypeSpectrum:   {},
	TypeWVR:        {},
}

// Attribute, child and selector names shared by readers and writers
const (
	AttrType            = "type"
	AttrDataGroups      = "data_groups"
	AttrObservationInfo = "observation_info"
	AttrPartitionIDs    = "partition_ids"
	AttrSchemaVersion   = "schema_version"
	AttrCreator         = "creator"
	AttrCenterFieldName = "center_field_name"

	AttrSpectralWindowName = "spectral_window_name"

	DataGroupSelector = "data_group_name"
	BaseDataGroup     = "base"

	AntennaChild              = "antenna_xds"
	FieldAndSourceChildPrefix = "field_and_source_xds_"

	SchemaVersion = "4.0.0"
)

// Data group roles
const (
	RoleCorrelatedData = "correlated_data"
	RoleFlag           = "flag"
	RoleWeight         = "weight"
	RoleUVW            = "uvw"
	RoleFieldAndSource = "field_and_source"
)

// ErrInvalidAccessorLocation is returned when an accessor is used on a node of
// the wrong kind
var ErrInvalidAccessorLocation = errors.New("invalid accessor location")

// DataGroup maps roles (correlated_data, flag, weight, ...) to the variable
// or child names filling them
type DataGroup map[string]string

// ObservationInfo is the observation_info attribute of an MSv4 node
type ObservationInfo struct {
	Observer      []string `json:"observer,omitempty"`
	Project       string   `json:"project,omitempty"`
	ReleaseDate   string   `json:"release_date,omitempty"`
	TelescopeName string   `json:"telescope_name,omitempty"`
	Intents       []string `json:"intents"`
}

// FieldAndSourceChild is the child node name holding the field and source
// dataset of a data group
func FieldAndSourceChild(dataGroup string) string {
	return FieldAndSourceChildPrefix + dataGroup
}

// IsMeasurementSet reports whether t is marked as an MSv4 node
func IsMeasurementSet(t *xds.Tree) bool {
	typ, _ := t.Attrs()[AttrType].(string)
	_, ok := DatasetTypes[typ]
	return ok
}

// MeasurementSet accesses a single MSv4 node
type MeasurementSet struct {
	tree *xds.Tree
}

// NewMeasurementSet wraps t. Operations fail with ErrInvalidAccessorLocation
// if t is not an MSv4 node.
func NewMeasurementSet(t *xds.Tree) *MeasurementSet {
	return &MeasurementSet{tree: t}
}

// Tree returns the wrapped node
func (ms *MeasurementSet) Tree() *xds.Tree { return ms.tree }

func (ms *MeasurementSet) check() error {
	if !IsMeasurementSet(ms.tree) {
		return fmt.Errorf("%w: %s is not a MSv4node.", ErrInvalidAccessorLocation, ms.tree.Path())
	}
	return nil
}

// Type is the node's type attribute
func (ms *MeasurementSet) Type() string {
	typ, _ := ms.tree.Attrs()[AttrType].(string)
	return typ
}

// DataGroups decodes the data_groups attribute
func (ms *MeasurementSet) DataGroups() (map[string]DataGroup, error) {
	if err := ms.check(); err != nil {
		return nil, err
	}
	groups := map[string]DataGroup{}
	if err := xds.DecodeAttr(ms.tree.Attrs(), AttrDataGroups, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// DefaultDataGroup is "base" when present, otherwise the first group name in
// lexical order
func (ms *MeasurementSet) DefaultDataGroup() (string, error) {
	groups, err := ms.DataGroups()
	if err != nil {
		return "", err
	}
	if _, ok := groups[BaseDataGroup]; ok {
		return BaseDataGroup, nil
	}
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%s has no data groups", ms.tree.Path())
	}
	sort.Strings(names)
	return names[0], nil
}

// ObservationInfo decodes the observation_info attribute
func (ms *MeasurementSet) ObservationInfo() (ObservationInfo, error) {
	info := ObservationInfo{}
	if err := ms.check(); err != nil {
		return info, err
	}
	err := xds.DecodeAttr(ms.tree.Attrs(), AttrObservationInfo, &info)
	return info, err
}

// Sel selects data by label. The "data_group_name" indexer picks one data
// group: variables used only by other data groups are dropped and the
// data_groups attribute is reduced to the chosen group. Remaining indexers
// select along dimensions of the node's dataset. The receiver is not modified.
func (ms *MeasurementSet) Sel(indexers map[string]interface{}, opts xds.SelOptions) (*xds.Tree, error) {
	if err := ms.check(); err != nil {
		return nil, err
	}
	if typ := ms.Type(); typ != TypeVisibility && typ != TypeSpectrum {
		return nil, fmt.Errorf("%w: the type of %s must be %q or %q, got %q", ErrInvalidAccessorLocation, ms.tree.Path(), TypeVisibility, TypeSpectrum, typ)
	}

	rest := make(map[string]interface{}, len(indexers))
	var dataGroup string
	for k, v := range indexers {
		if k == DataGroupSelector {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string, got %T", DataGroupSelector, v)
			}
			dataGroup = s
			continue
		}
		rest[k] = v
	}

	out := ms.tree.Copy()
	if len(rest) > 0 {
		ds, err := out.Dataset.Sel(rest, opts)
		if err != nil {
			return nil, err
		}
		out.Dataset = ds
	}
	if dataGroup == "" {
		return out, nil
	}

	groups, err := ms.DataGroups()
	if err != nil {
		return nil, err
	}
	selected, ok := groups[dataGroup]
	if !ok {
		return nil, fmt.Errorf("%s has no data group %q", ms.tree.Path(), dataGroup)
	}
	keep := map[string]bool{}
	for _, v := range selected {
		keep[v] = true
	}
	var drop []string
	for name, g := range groups {
		if name == dataGroup {
			continue
		}
		for _, v := range g {
			if !keep[v] {
				drop = append(drop, v)
			}
		}
	}
	out.Dataset = out.Dataset.DropVars(drop...)
	out.Dataset.Attrs[AttrDataGroups] = map[string]DataGroup{dataGroup: selected}
	return out, nil
}

// FieldAndSource returns the field and source dataset of a data group. An
// empty name picks the default data group.
func (ms *MeasurementSet) FieldAndSource(dataGroup string) (*xds.Dataset, error) {
	if err := ms.check(); err != nil {
		return nil, err
	}
	if dataGroup == "" {
		var err error
		if dataGroup, err = ms.DefaultDataGroup(); err != nil {
			return nil, err
		}
	}
	child, ok := ms.tree.Child(FieldAndSourceChild(dataGroup))
	if !ok {
		return nil, fmt.Errorf("%s has no %s child", ms.tree.Path(), FieldAndSourceChild(dataGroup))
	}
	return child.Dataset, nil
}

// Antenna returns the antenna dataset
func (ms *MeasurementSet) Antenna() (*xds.Dataset, error) {
	if err := ms.check(); err != nil {
		return nil, err
	}
	child, ok := ms.tree.Child(AntennaChild)
	if !ok {
		return nil, fmt.Errorf("%s has no %s child", ms.tree.Path(), AntennaChild)
	}
	return child.Dataset, nil
}

// PartitionInfo summarizes what a measurement set partition holds
type PartitionInfo struct {
	SpectralWindowName string   `json:"spectral_window_name"`
	FieldName          []string `json:"field_name"`
	PolarizationSetup  []string `json:"polarization_setup"`
	ScanName           []string `json:"scan_name"`
	SourceName         []string `json:"source_name"`
	Intents            []string `json:"intents"`
	LineName           []string `json:"line_name"`
}

// Field returns the values of a partition info field by its JSON name
func (pi PartitionInfo) Field(name string) ([]string, bool) {
	switch name {
	case "spectral_window_name", "spw_name":
		return []string{pi.SpectralWindowName}, true
	case "field_name":
		return pi.FieldName, true
	case "polarization_setup", "polarization":
		return pi.PolarizationSetup, true
	case "scan_name":
		return pi.ScanName, true
	case "source_name":
		return pi.SourceName, true
	case "intents":
		return pi.Intents, true
	case "line_name":
		return pi.LineName, true
	}
	return nil, false
}

// PartitionInfo collects the spectral window, fields, polarizations, scans,
// sources, intents and lines of the node
func (ms *MeasurementSet) PartitionInfo() (PartitionInfo, error) {
	pi := PartitionInfo{}
	if err := ms.check(); err != nil {
		return pi, err
	}
	fs, err := ms.FieldAndSource("")
	if err != nil {
		return pi, err
	}
	ds := ms.tree.Dataset

	freq, ok := ds.Coords["frequency"]
	if !ok {
		return pi, fmt.Errorf("%s has no frequency coordinate", ms.tree.Path())
	}
	pi.SpectralWindowName, _ = freq.Attrs[AttrSpectralWindowName].(string)

	if pi.FieldName, err = fs.UniqueLabels("field_name"); err != nil {
		return pi, err
	}
	if pi.SourceName, err = fs.UniqueLabels("source_name"); err != nil {
		return pi, err
	}
	pi.LineName = []string{}
	if fs.IsCoord("line_name") {
		if pi.LineName, err = fs.UniqueLabels("line_name"); err != nil {
			return pi, err
		}
	}
	if pol, ok := ds.Coords["polarization"]; ok {
		pi.PolarizationSetup = append([]string(nil), pol.Labels()...)
	}
	if pi.ScanName, err = ds.UniqueLabels("scan_name"); err != nil {
		return pi, err
	}

	info, err := ms.ObservationInfo()
	if err != nil {
		return pi, err
	}
	pi.Intents = info.Intents
	return pi, nil
}
