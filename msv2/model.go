// Package msv2 models MSv2 measurement sets (main table and subtables),
// partitions their rows and converts the partitions to MSv4 processing sets
package msv2

import (
	"encoding/json"
	"fmt"
	"io"
)

// MeasurementSet is an MSv2 main table with the subtables needed to
// partition and convert it. Ids in rows index the subtable slices.
type MeasurementSet struct {
	Main            []Row             `json:"main"`
	Antenna         []Antenna         `json:"antenna"`
	SpectralWindow  []SpectralWindow  `json:"spectral_window"`
	Polarization    []Polarization    `json:"polarization"`
	DataDescription []DataDescription `json:"data_description"`
	Field           []Field           `json:"field"`
	Source          []Source          `json:"source,omitempty"`
	State           []State           `json:"state,omitempty"`
	Observation     []Observation     `json:"observation,omitempty"`
	Pointing        []Pointing        `json:"pointing,omitempty"`
}

// Row is a main table row. Data and Flag are indexed [channel][correlation].
type Row struct {
	// Time is the mid point of the integration in MJD seconds
	Time       float64     `json:"time"`
	Interval   float64     `json:"interval"`
	Antenna1   int         `json:"antenna1"`
	Antenna2   int         `json:"antenna2"`
	DataDescID int         `json:"data_desc_id"`
	ScanNumber int         `json:"scan_number"`
	StateID    int         `json:"state_id"`
	FieldID    int         `json:"field_id"`
	UVW        [3]float64  `json:"uvw"`
	Data       [][]Complex `json:"data"`
	Flag       [][]bool    `json:"flag,omitempty"`
	Weight     []float32   `json:"weight,omitempty"`
}

// Complex is a visibility serialized as [re, im]
type Complex [2]float32

// Value converts c to a complex64
func (c Complex) Value() complex64 { return complex(c[0], c[1]) }

// Antenna is a row of the ANTENNA subtable
type Antenna struct {
	Name         string     `json:"name"`
	Station      string     `json:"station"`
	Type         string     `json:"type,omitempty"`
	Mount        string     `json:"mount,omitempty"`
	Position     [3]float64 `json:"position"`
	DishDiameter float64    `json:"dish_diameter"`
}

// SpectralWindow is a row of the SPECTRAL_WINDOW subtable
type SpectralWindow struct {
	Name         string    `json:"name"`
	ChanFreq     []float64 `json:"chan_freq"`
	ChanWidth    []float64 `json:"chan_width,omitempty"`
	RefFrequency float64   `json:"ref_frequency"`
	MeasFreqRef  string    `json:"meas_freq_ref,omitempty"`
}

// Polarization is a row of the POLARIZATION subtable
type Polarization struct {
	CorrType []string `json:"corr_type"`
}

// DataDescription is a row of the DATA_DESCRIPTION subtable
type DataDescription struct {
	SpectralWindowID int `json:"spectral_window_id"`
	PolarizationID   int `json:"polarization_id"`
}

// Field is a row of the FIELD subtable. With an ephemeris, PhaseDir is an
// offset from the ephemeris position.
type Field struct {
	Name      string     `json:"name"`
	Code      string     `json:"code,omitempty"`
	PhaseDir  [2]float64 `json:"phase_dir"`
	SourceID  int        `json:"source_id"`
	Ephemeris *Ephemeris `json:"ephemeris,omitempty"`
}

// Ephemeris tabulates a moving source. Time is in MJD seconds, angles in
// radians, velocities in m/s.
type Ephemeris struct {
	Time           []float64 `json:"time"`
	RA             []float64 `json:"ra"`
	Dec            []float64 `json:"dec"`
	RadialVelocity []float64 `json:"radial_velocity,omitempty"`
}

// Source is a row of the SOURCE subtable. SpectralWindowID -1 applies to
// every window.
type Source struct {
	SourceID         int        `json:"source_id"`
	SpectralWindowID int        `json:"spectral_window_id"`
	Name             string     `json:"name"`
	Code             string     `json:"code,omitempty"`
	Direction        [2]float64 `json:"direction"`
}

// State is a row of the STATE subtable
type State struct {
	ObsMode string `json:"obs_mode"`
	SubScan int    `json:"sub_scan"`
}

// Observation is a row of the OBSERVATION subtable
type Observation struct {
	TelescopeName string `json:"telescope_name"`
	Observer      string `json:"observer,omitempty"`
	Project       string `json:"project,omitempty"`
	ReleaseDate   string `json:"release_date,omitempty"`
}

// Pointing is a row of the POINTING subtable
type Pointing struct {
	AntennaID int        `json:"antenna_id"`
	Time      float64    `json:"time"`
	Direction [2]float64 `json:"direction"`
}

// ReadJSON decodes and validates a measurement set export
func ReadJSON(r io.Reader) (*MeasurementSet, error) {
	ms := &MeasurementSet{}
	if err := json.NewDecoder(r).Decode(ms); err != nil {
		return nil, fmt.Errorf("decoding measurement set: %w", err)
	}
	if err := ms.Validate(); err != nil {
		return nil, err
	}
	return ms, nil
}

// Validate checks subtable references and data shapes
func (ms *MeasurementSet) Validate() error {
	for i, dd := range ms.DataDescription {
		if dd.SpectralWindowID < 0 || dd.SpectralWindowID >= len(ms.SpectralWindow) {
			return fmt.Errorf("data description %d: invalid spectral window %d", i, dd.SpectralWindowID)
		}
		if dd.PolarizationID < 0 || dd.PolarizationID >= len(ms.Polarization) {
			return fmt.Errorf("data description %d: invalid polarization %d", i, dd.PolarizationID)
		}
	}
	for i, f := range ms.Field {
		if e := f.Ephemeris; e != nil {
			if len(e.Time) == 0 || len(e.RA) != len(e.Time) || len(e.Dec) != len(e.Time) {
				return fmt.Errorf("field %d: ephemeris columns differ in length", i)
			}
			if e.RadialVelocity != nil && len(e.RadialVelocity) != len(e.Time) {
				return fmt.Errorf("field %d: ephemeris radial velocity has %d samples, want %d", i, len(e.RadialVelocity), len(e.Time))
			}
		}
	}
	for i, r := range ms.Main {
		if r.Antenna1 < 0 || r.Antenna1 >= len(ms.Antenna) || r.Antenna2 < 0 || r.Antenna2 >= len(ms.Antenna) {
			return fmt.Errorf("row %d: invalid antenna pair (%d, %d)", i, r.Antenna1, r.Antenna2)
		}
		if r.DataDescID < 0 || r.DataDescID >= len(ms.DataDescription) {
			return fmt.Errorf("row %d: invalid data description %d", i, r.DataDescID)
		}
		if r.FieldID < 0 || r.FieldID >= len(ms.Field) {
			return fmt.Errorf("row %d: invalid field %d", i, r.FieldID)
		}
		if r.StateID >= len(ms.State) {
			return fmt.Errorf("row %d: invalid state %d", i, r.StateID)
		}
		dd := ms.DataDescription[r.DataDescID]
		nchan := len(ms.SpectralWindow[dd.SpectralWindowID].ChanFreq)
		ncorr := len(ms.Polarization[dd.PolarizationID].CorrType)
		if len(r.Data) != nchan {
			return fmt.Errorf("row %d: %d data channels, spectral window has %d", i, len(r.Data), nchan)
		}
		if r.Flag != nil && len(r.Flag) != nchan {
			return fmt.Errorf("row %d: %d flag channels, want %d", i, len(r.Flag), nchan)
		}
		for c := range r.Data {
			if len(r.Data[c]) != ncorr {
				return fmt.Errorf("row %d: %d correlations in channel %d, want %d", i, len(r.Data[c]), c, ncorr)
			}
			if r.Flag != nil && len(r.Flag[c]) != ncorr {
				return fmt.Errorf("row %d: %d flags in channel %d, want %d", i, len(r.Flag[c]), c, ncorr)
			}
		}
		if r.Weight != nil && len(r.Weight) != ncorr {
			return fmt.Errorf("row %d: %d weights, want %d", i, len(r.Weight), ncorr)
		}
	}
	return nil
}

// ObsMode returns the STATE obs mode of a state id, "" for rows without
// state
func (ms *MeasurementSet) ObsMode(stateID int) string {
	if stateID < 0 || stateID >= len(ms.State) {
		return ""
	}
	return ms.State[stateID].ObsMode
}

// SourceFor finds the SOURCE row of a source id, preferring one specific to
// the spectral window
func (ms *MeasurementSet) SourceFor(sourceID, spwID int) (Source, bool) {
	var (
		found Source
		ok    bool
	)
	for _, s := range ms.Source {
		if s.SourceID != sourceID {
			continue
		}
		if s.SpectralWindowID == spwID {
			return s, true
		}
		if s.SpectralWindowID == -1 && !ok {
			found, ok = s, true
		}
	}
	return found, ok
}
