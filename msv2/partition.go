package msv2

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrUnknownScheme is returned for partition schemes other than the
// PartitionScheme constants
var ErrUnknownScheme = errors.New("unknown partition scheme")

// PartitionScheme decides which main table columns split rows into
// partitions
type PartitionScheme string

// Partition schemes
const (
	SchemeDDI         PartitionScheme = "ddi"
	SchemeIntent      PartitionScheme = "intent"
	SchemeScan        PartitionScheme = "scan"
	SchemeScanSubscan PartitionScheme = "scan/subscan"
)

// ParseScheme validates a scheme name
func ParseScheme(s string) (PartitionScheme, error) {
	switch ps := PartitionScheme(s); ps {
	case SchemeDDI, SchemeIntent, SchemeScan, SchemeScanSubscan:
		return ps, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

// SplitIntents breaks a STATE obs mode into scan intents and their subscan
// intents. The subscan separator is '#', or '.' when no '#' is present. ok
// is false when s holds neither separator, in which case s is used as is.
// Parts with more than one separator keep everything after the first as the
// subscan intent.
func SplitIntents(s string) (intents map[string][]string, ok bool) {
	sep := "#"
	if !strings.Contains(s, sep) {
		sep = "."
		if !strings.Contains(s, sep) {
			return nil, false
		}
	}

	intents = map[string][]string{}
	for _, part := range strings.Split(s, ",") {
		scan, subscan := part, ""
		if i := strings.Index(part, sep); i >= 0 {
			scan, subscan = part[:i], part[i+len(sep):]
		}
		intents[scan] = append(intents[scan], subscan)
	}
	return intents, true
}

// PartitionAttrs are the ids a partition was built from, stored as the
// partition_ids attribute
type PartitionAttrs struct {
	DataDescID int   `json:"data_description_id"`
	SpwID      int   `json:"spw_id"`
	PolSetupID int   `json:"pol_setup_id"`
	FieldID    []int `json:"field_id"`
	ScanNumber []int `json:"scan_number"`
	StateID    []int `json:"state_id"`
}

// ScanState is the scan number and state id a partition is restricted to
type ScanState struct {
	Scan, State int
}

// PartKey identifies a partition. Which fields take part depends on Scheme:
// (spw, pol) for ddi, (spw, pol, intent) for intent, (spw, pol, scan) for
// scan and (spw, pol, scan, state) for scan/subscan.
type PartKey struct {
	Scheme     PartitionScheme
	SpwID      int
	PolSetupID int
	Intent     string
	Scan       int
	State      int
}

func (k PartKey) String() string {
	switch k.Scheme {
	case SchemeIntent:
		return fmt.Sprintf("(%d, %d, %q)", k.SpwID, k.PolSetupID, k.Intent)
	case SchemeScan:
		return fmt.Sprintf("(%d, %d, %d)", k.SpwID, k.PolSetupID, k.Scan)
	case SchemeScanSubscan:
		return fmt.Sprintf("(%d, %d, %d, %d)", k.SpwID, k.PolSetupID, k.Scan, k.State)
	}
	return fmt.Sprintf("(%d, %d)", k.SpwID, k.PolSetupID)
}

// MakePartKey builds the key of a partition
func MakePartKey(ids PartitionAttrs, scheme PartitionScheme, intent string, ss ScanState) (PartKey, error) {
	key := PartKey{Scheme: scheme, SpwID: ids.SpwID, PolSetupID: ids.PolSetupID}
	switch scheme {
	case SchemeDDI:
	case SchemeIntent:
		key.Intent = intent
	case SchemeScan:
		key.Scan = ss.Scan
	case SchemeScanSubscan:
		key.Scan, key.State = ss.Scan, ss.State
	default:
		return key, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return key, nil
}

// PartitionID selects the main table rows of one partition. Scan and State
// are -1 when not part of the selection. States lists the state ids sharing
// Intent.
type PartitionID struct {
	DDI    int
	Scan   int
	State  int
	Intent string
	States []int
}

func (p PartitionID) matches(r Row) bool {
	if r.DataDescID != p.DDI {
		return false
	}
	if p.Scan >= 0 && r.ScanNumber != p.Scan {
		return false
	}
	if p.State >= 0 && r.StateID != p.State {
		return false
	}
	if p.States != nil {
		i := sort.SearchInts(p.States, r.StateID)
		return i < len(p.States) && p.States[i] == r.StateID
	}
	return true
}

// PartitionIDs lists the distinct row selections of a scheme in ddi order
func PartitionIDs(ms *MeasurementSet, scheme PartitionScheme) ([]PartitionID, error) {
	type triple struct{ ddi, scan, state int }
	seen := map[triple]bool{}
	var ids []PartitionID

	switch scheme {
	case SchemeDDI, SchemeScan, SchemeScanSubscan:
		for _, r := range ms.Main {
			t := triple{r.DataDescID, -1, -1}
			if scheme != SchemeDDI {
				t.scan = r.ScanNumber
			}
			if scheme == SchemeScanSubscan {
				t.state = r.StateID
			}
			if !seen[t] {
				seen[t] = true
				ids = append(ids, PartitionID{DDI: t.ddi, Scan: t.scan, State: t.state})
			}
		}
	case SchemeIntent:
		type ddiIntent struct {
			ddi    int
			intent string
		}
		states := map[ddiIntent]map[int]bool{}
		for _, r := range ms.Main {
			k := ddiIntent{r.DataDescID, ms.ObsMode(r.StateID)}
			if states[k] == nil {
				states[k] = map[int]bool{}
				ids = append(ids, PartitionID{DDI: k.ddi, Scan: -1, State: -1, Intent: k.intent})
			}
			states[k][r.StateID] = true
		}
		for i := range ids {
			for s := range states[ddiIntent{ids[i].DDI, ids[i].Intent}] {
				ids[i].States = append(ids[i].States, s)
			}
			sort.Ints(ids[i].States)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	sort.SliceStable(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.DDI != b.DDI {
			return a.DDI < b.DDI
		}
		if a.Scan != b.Scan {
			return a.Scan < b.Scan
		}
		if a.State != b.State {
			return a.State < b.State
		}
		return a.Intent < b.Intent
	})
	return ids, nil
}

// SpwNamesByDDI maps every data description to its spectral window's name
func SpwNamesByDDI(ms *MeasurementSet) map[int]string {
	names := make(map[int]string, len(ms.DataDescription))
	for ddi, dd := range ms.DataDescription {
		names[ddi] = ms.SpectralWindow[dd.SpectralWindowID].Name
	}
	return names
}

// RowSelection narrows the rows and channels read for a data description.
// nil slices select everything.
type RowSelection struct {
	Rows     []int
	Channels []int
}

// PartitionOptions configure PartitionMS
type PartitionOptions struct {
	// Rowmap restricts partitioning to its data descriptions and their row
	// and channel selections
	Rowmap map[int]RowSelection
}

// Partition holds the main table rows of one partition expanded to a
// (time, baseline) grid. Flattened arrays are C ordered with shapes
// (time, baseline, channel, correlation), or (time, baseline, 3) for UVW.
// Grid cells without a row hold NaN data, a set flag and zero weight.
type Partition struct {
	Key PartKey
	IDs PartitionAttrs

	// ScanSubscanIntents is set for the intent scheme: the split intents, or
	// the raw obs mode when it does not split
	ScanSubscanIntents interface{}
	SpwName            string

	// Time holds the distinct row times in MJD seconds
	Time      []float64
	Interval  []float64
	Baselines [][2]int
	// ScanByTime and FieldByTime hold the scan and field of the first row
	// at each time
	ScanByTime  []int
	FieldByTime []int
	Intents     []string

	Frequency    []float64
	ChanWidth    []float64
	Correlations []string

	Data   []complex64
	Flag   []bool
	Weight []float32
	UVW    []float64

	// PointingBeam is set by FinalizePartitions
	PointingBeam *PointingBeam
}

// Shape is the (time, baseline, channel, correlation) shape of the data
func (p *Partition) Shape() []int {
	return []int{len(p.Time), len(p.Baselines), len(p.Frequency), len(p.Correlations)}
}

// Antennas lists the antenna ids of the partition's baselines
func (p *Partition) Antennas() []int {
	seen := map[int]bool{}
	var ids []int
	for _, b := range p.Baselines {
		for _, a := range b {
			if !seen[a] {
				seen[a] = true
				ids = append(ids, a)
			}
		}
	}
	sort.Ints(ids)
	return ids
}

// PointingBeam holds the direction each antenna pointed at per partition
// time, shaped (time, antenna, 2)
type PointingBeam struct {
	Antennas  []int
	Direction []float64
}

// PartitionMS splits the main table per scheme. Data descriptions with an empty
// row or channel selection, and selections matching no row, are skipped.
func PartitionMS(ms *MeasurementSet, scheme PartitionScheme, opts PartitionOptions) ([]*Partition, error) {
	ids, err := PartitionIDs(ms, scheme)
	if err != nil {
		return nil, err
	}
	spwNames := SpwNamesByDDI(ms)

	var parts []*Partition
	for _, pid := range ids {
		sel, hasSel := opts.Rowmap[pid.DDI]
		if opts.Rowmap != nil && !hasSel {
			continue
		}
		if hasSel && ((sel.Rows != nil && len(sel.Rows) == 0) || (sel.Channels != nil && len(sel.Channels) == 0)) {
			continue
		}

		rows, err := selectRows(ms, pid, sel.Rows)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		p, err := expand(ms, pid.DDI, rows, sel.Channels)
		if err != nil {
			return nil, fmt.Errorf("ddi %d: %w", pid.DDI, err)
		}
		p.SpwName = spwNames[pid.DDI]
		if p.Key, err = MakePartKey(p.IDs, scheme, pid.Intent, ScanState{Scan: pid.Scan, State: pid.State}); err != nil {
			return nil, err
		}
		if scheme == SchemeIntent {
			if split, ok := SplitIntents(pid.Intent); ok {
				p.ScanSubscanIntents = split
			} else {
				p.ScanSubscanIntents = pid.Intent
			}
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func selectRows(ms *MeasurementSet, pid PartitionID, subset []int) ([]int, error) {
	var rows []int
	if subset == nil {
		for i, r := range ms.Main {
			if pid.matches(r) {
				rows = append(rows, i)
			}
		}
		return rows, nil
	}
	for _, i := range subset {
		if i < 0 || i >= len(ms.Main) {
			return nil, fmt.Errorf("row %d out of range", i)
		}
		if pid.matches(ms.Main[i]) {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

func distinctSorted(values map[int]bool) []int {
	out := make([]int, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// expand lays rows out on the (time, baseline) grid
func expand(ms *MeasurementSet, ddi int, rows []int, channels []int) (*Partition, error) {
	dd := ms.DataDescription[ddi]
	spw := ms.SpectralWindow[dd.SpectralWindowID]
	if channels == nil {
		channels = make([]int, len(spw.ChanFreq))
		for i := range channels {
			channels[i] = i
		}
	}
	for _, c := range channels {
		if c < 0 || c >= len(spw.ChanFreq) {
			return nil, fmt.Errorf("channel %d out of range", c)
		}
	}

	p := &Partition{
		Correlations: append([]string(nil), ms.Polarization[dd.PolarizationID].CorrType...),
	}
	for _, c := range channels {
		p.Frequency = append(p.Frequency, spw.ChanFreq[c])
		if len(spw.ChanWidth) == len(spw.ChanFreq) {
			p.ChanWidth = append(p.ChanWidth, spw.ChanWidth[c])
		}
	}

	timeIdx := map[float64]int{}
	blIdx := map[[2]int]int{}
	fields, scans, states := map[int]bool{}, map[int]bool{}, map[int]bool{}
	intents := map[string]bool{}
	for _, i := range rows {
		r := ms.Main[i]
		timeIdx[r.Time] = 0
		blIdx[[2]int{r.Antenna1, r.Antenna2}] = 0
		fields[r.FieldID] = true
		scans[r.ScanNumber] = true
		states[r.StateID] = true
		for _, in := range strings.Split(ms.ObsMode(r.StateID), ",") {
			if in != "" {
				intents[in] = true
			}
		}
	}
	for t := range timeIdx {
		p.Time = append(p.Time, t)
	}
	sort.Float64s(p.Time)
	for i, t := range p.Time {
		timeIdx[t] = i
	}
	for b := range blIdx {
		p.Baselines = append(p.Baselines, b)
	}
	sort.Slice(p.Baselines, func(i, j int) bool {
		a, b := p.Baselines[i], p.Baselines[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	for i, b := range p.Baselines {
		blIdx[b] = i
	}
	for in := range intents {
		p.Intents = append(p.Intents, in)
	}
	sort.Strings(p.Intents)

	p.IDs = PartitionAttrs{
		DataDescID: ddi,
		SpwID:      dd.SpectralWindowID,
		PolSetupID: dd.PolarizationID,
		FieldID:    distinctSorted(fields),
		ScanNumber: distinctSorted(scans),
		StateID:    distinctSorted(states),
	}

	nt, nb, nc, ncorr := len(p.Time), len(p.Baselines), len(channels), len(p.Correlations)
	p.Data = make([]complex64, nt*nb*nc*ncorr)
	p.Flag = make([]bool, len(p.Data))
	p.Weight = make([]float32, len(p.Data))
	p.UVW = make([]float64, nt*nb*3)
	nan := float32(math.NaN())
	for i := range p.Data {
		p.Data[i] = complex(nan, nan)
		p.Flag[i] = true
	}
	for i := range p.UVW {
		p.UVW[i] = math.NaN()
	}
	p.Interval = make([]float64, nt)
	p.ScanByTime = make([]int, nt)
	p.FieldByTime = make([]int, nt)
	filled := make([]bool, nt)

	for _, i := range rows {
		r := ms.Main[i]
		ti, bi := timeIdx[r.Time], blIdx[[2]int{r.Antenna1, r.Antenna2}]
		if !filled[ti] {
			filled[ti] = true
			p.Interval[ti] = r.Interval
			p.ScanByTime[ti] = r.ScanNumber
			p.FieldByTime[ti] = r.FieldID
		}
		copy(p.UVW[(ti*nb+bi)*3:], r.UVW[:])
		for k, c := range channels {
			for j := 0; j < ncorr; j++ {
				at := ((ti*nb+bi)*nc+k)*ncorr + j
				p.Data[at] = r.Data[c][j].Value()
				p.Flag[at] = r.Flag != nil && r.Flag[c][j]
				p.Weight[at] = 1
				if r.Weight != nil {
					p.Weight[at] = r.Weight[j]
				}
			}
		}
	}
	return p, nil
}

// FinalizePartitions adds the pointing direction nearest in time for every
// antenna and time of each partition. Without a POINTING subtable it does
// nothing. Antennas without pointing rows get NaN directions.
func FinalizePartitions(ms *MeasurementSet, parts []*Partition) {
	if len(ms.Pointing) == 0 {
		return
	}
	byAntenna := map[int][]Pointing{}
	for _, pt := range ms.Pointing {
		byAntenna[pt.AntennaID] = append(byAntenna[pt.AntennaID], pt)
	}
	times := map[int][]float64{}
	for a, pts := range byAntenna {
		sort.Slice(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })
		ts := make([]float64, len(pts))
		for i, pt := range pts {
			ts[i] = pt.Time
		}
		times[a] = ts
	}

	for _, p := range parts {
		ants := p.Antennas()
		beam := &PointingBeam{
			Antennas:  ants,
			Direction: make([]float64, len(p.Time)*len(ants)*2),
		}
		for ti, t := range p.Time {
			for ai, a := range ants {
				at := (ti*len(ants) + ai) * 2
				pts := byAntenna[a]
				if len(pts) == 0 {
					beam.Direction[at], beam.Direction[at+1] = math.NaN(), math.NaN()
					continue
				}
				dir := pts[nearest(times[a], t)].Direction
				beam.Direction[at], beam.Direction[at+1] = dir[0], dir[1]
			}
		}
		p.PointingBeam = beam
	}
}

// nearest returns the index of the sorted ts closest to t
func nearest(ts []float64, t float64) int {
	i := sort.SearchFloat64s(ts, t)
	if i == 0 {
		return 0
	}
	if i == len(ts) {
		return len(ts) - 1
	}
	if t-ts[i-1] <= ts[i]-t {
		return i - 1
	}
	return i
}
