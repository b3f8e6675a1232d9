// Package schema checks trees and image datasets against the structure MSv4
// readers rely on, collecting every problem rather than stopping at the first
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qri-io/xradio/measurementset"
	"github.com/qri-io/xradio/xds"
)

// Issue is one schema violation at a node or variable path
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Issues collects violations in the order they were found
type Issues []Issue

func (is Issues) String() string {
	if len(is) == 0 {
		return "No schema issues found"
	}
	lines := make([]string, len(is))
	for i, issue := range is {
		lines[i] = issue.String()
	}
	return strings.Join(lines, "\n")
}

// Err returns nil without issues, otherwise an error listing them
func (is Issues) Err() error {
	if len(is) == 0 {
		return nil
	}
	return fmt.Errorf("schema issues found:\n%s", is)
}

func (is *Issues) add(path, format string, args ...interface{}) {
	*is = append(*is, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// requiredDims are the dimensions, each with an index coordinate, every node
// of a type carries
var requiredDims = map[string][]string{
	measurementset.TypeVisibility: {"time", "baseline_id", "frequency", "polarization"},
	measurementset.TypeSpectrum:   {"time", "antenna_name", "frequency", "polarization"},
	measurementset.TypeWVR:        {"time", "antenna_name", "frequency"},
}

// CheckDatatree checks a processing set root, all of whose children must be
// MSv4 nodes, or a single MSv4 node
func CheckDatatree(t *xds.Tree) Issues {
	var issues Issues
	switch {
	case measurementset.IsProcessingSet(t):
		for _, c := range t.Children() {
			if !measurementset.IsMeasurementSet(c) {
				typ, _ := c.Attrs()[measurementset.AttrType].(string)
				issues.add(c.Path(), "not an MSv4 node, type is %q", typ)
				continue
			}
			checkMeasurementSet(c, &issues)
		}
	case measurementset.IsMeasurementSet(t):
		checkMeasurementSet(t, &issues)
	default:
		typ, _ := t.Attrs()[measurementset.AttrType].(string)
		issues.add(t.Path(), "unknown node type %q", typ)
	}
	return issues
}

func checkMeasurementSet(node *xds.Tree, issues *Issues) {
	path := node.Path()
	ds := node.Dataset
	ms := measurementset.NewMeasurementSet(node)

	for _, dim := range requiredDims[ms.Type()] {
		if !ds.HasDim(dim) {
			issues.add(path, "missing dimension %q", dim)
		}
		if !ds.IsCoord(dim) {
			issues.add(path, "missing coordinate %q", dim)
		}
	}

	if freq, ok := ds.Coords["frequency"]; ok {
		if _, ok := freq.Attrs[measurementset.AttrSpectralWindowName].(string); !ok {
			issues.add(path+"/frequency", "missing attribute %q", measurementset.AttrSpectralWindowName)
		}
	}

	var info map[string]interface{}
	if err := xds.DecodeAttr(node.Attrs(), measurementset.AttrObservationInfo, &info); err != nil {
		issues.add(path, "%s: %v", measurementset.AttrObservationInfo, err)
	} else if _, ok := info["intents"]; !ok {
		issues.add(path, "%s has no intents", measurementset.AttrObservationInfo)
	}

	if _, ok := node.Child(measurementset.AntennaChild); !ok {
		issues.add(path, "missing child %q", measurementset.AntennaChild)
	}

	groups, err := ms.DataGroups()
	if err != nil {
		issues.add(path, "%s: %v", measurementset.AttrDataGroups, err)
		return
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checkDataGroup(node, name, groups[name], issues)
	}
}

func checkDataGroup(node *xds.Tree, name string, group measurementset.DataGroup, issues *Issues) {
	path := node.Path()
	if _, ok := group[measurementset.RoleCorrelatedData]; !ok {
		issues.add(path, "data group %q has no %s", name, measurementset.RoleCorrelatedData)
	}
	roles := make([]string, 0, len(group))
	for role := range group {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		switch role {
		case "description", measurementset.RoleFieldAndSource:
			continue
		}
		if _, ok := node.Dataset.Var(group[role]); !ok {
			issues.add(path, "data group %q: %s variable %q does not exist", name, role, group[role])
		}
	}

	childName := measurementset.FieldAndSourceChild(name)
	child, ok := node.Child(childName)
	if !ok {
		issues.add(path, "data group %q: missing child %q", name, childName)
		return
	}
	for _, v := range []string{measurementset.VarFieldPhaseCenter, measurementset.VarSourceLocation} {
		if _, ok := child.Dataset.DataVars[v]; !ok {
			issues.add(child.Path(), "missing data variable %q", v)
		}
	}
}

// CheckImage checks that an image dataset has (l, m) or (u, v) coordinates
// and a direction attribute
func CheckImage(ds *xds.Dataset) Issues {
	var issues Issues
	hasLM := ds.IsCoord("l") && ds.IsCoord("m")
	hasUV := ds.IsCoord("u") && ds.IsCoord("v")
	if !hasLM && !hasUV {
		issues.add("/", "image needs l and m or u and v coordinates")
	}
	for _, dim := range []string{"time", "frequency", "polarization"} {
		if !ds.IsCoord(dim) {
			issues.add("/", "missing coordinate %q", dim)
		}
	}
	var direction map[string]interface{}
	if err := xds.DecodeAttr(ds.Attrs, "direction", &direction); err != nil {
		issues.add("/", "direction: %v", err)
		return issues
	}
	for _, key := range []string{"reference", "projection"} {
		if _, ok := direction[key]; !ok {
			issues.add("/", "direction has no %s", key)
		}
	}
	return issues
}
