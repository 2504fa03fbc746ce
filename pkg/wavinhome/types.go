package wavinhome

// OutsideID keys the synthetic directory entry carrying the outside
// temperature reading. It can never collide with a real room because room
// identifiers are numeric path segments.
const OutsideID = "outside_temperature"

// Room is one reading from the portal. Values are kept as the decimal
// strings the portal renders, with unit suffixes stripped. The mode flags
// are tri-state: nil means the page carried no marker for that mode, which
// is not the same as a confirmed false.
type Room struct {
	ID                string
	Name              string
	Temperature       string
	Humidity          string
	TargetTemperature string

	HeatingOn *bool
	CoolingOn *bool
	DayOn     *bool
	NightOn   *bool
}

// SetResult reports what a setpoint change actually did.
type SetResult int

const (
	// SetFailed accompanies a non-nil error.
	SetFailed SetResult = iota
	// SetApplied means the change request was accepted by the portal.
	SetApplied
	// SetUnchanged means the room was already at the requested target.
	SetUnchanged
	// SetUnsupported means the settings page did not carry the selector
	// widget, or the requested temperature is outside its range.
	SetUnsupported
)

func (r SetResult) String() string {
	switch r {
	case SetApplied:
		return "applied"
	case SetUnchanged:
		return "unchanged"
	case SetUnsupported:
		return "unsupported"
	default:
		return "failed"
	}
}
