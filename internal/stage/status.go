package stage

import (
	"regexp"
	"strconv"
	"strings"
)

// Position is an absolute machine position in millimeters.
type Position struct {
	X float64
	Y float64
	Z float64
}

// MachineStatus is one parsed status report. Position is nil when the
// report carried no MPos field.
type MachineStatus struct {
	State    string
	Position *Position
}

// Idle reports whether the controller is in the Idle state.
func (s *MachineStatus) Idle() bool {
	return strings.EqualFold(s.State, "Idle")
}

// statusPattern matches grbl/FluidNC status reports of the form
// <State|...MPos:x,y,z...>. The MPos group is optional; everything else
// between the angle brackets is ignored.
var statusPattern = regexp.MustCompile(
	`<([A-Za-z]+)(?:\|[^>]*?MPos:(-?\d+\.?\d*),(-?\d+\.?\d*),(-?\d+\.?\d*))?`)

// parseStatusLine extracts a MachineStatus from one serial line. The second
// return is false when the line does not match the status grammar.
func parseStatusLine(line string) (*MachineStatus, bool) {
	m := statusPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	status := &MachineStatus{State: m[1]}
	if m[2] != "" {
		x, errX := strconv.ParseFloat(m[2], 64)
		y, errY := strconv.ParseFloat(m[3], 64)
		z, errZ := strconv.ParseFloat(m[4], 64)
		if errX == nil && errY == nil && errZ == nil {
			status.Position = &Position{X: x, Y: y, Z: z}
		}
	}
	return status, true
}
