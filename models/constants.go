package models

// ✅ Search Modes (pairing eligibility filter)
const (
	ModeRandom   = "RANDOM"
	ModeLocal    = "LOCAL"
	ModeFounder  = "FOUNDER"
	ModeAcademic = "ACADEMIC"
	ModeGlobal   = "GLOBAL"
)

// ✅ Seeker Statuses
const (
	StatusSearching    = "searching"
	StatusMatched      = "matched"
	StatusDisconnected = "disconnected"
)

// ✅ Call Roles (each role writes only its own candidate stream)
const (
	RoleCaller = "caller"
	RoleCallee = "callee"
)

// IsKnownMode reports whether mode is one of the supported search modes
func IsKnownMode(mode string) bool {
	switch mode {
	case ModeRandom, ModeLocal, ModeFounder, ModeAcademic, ModeGlobal:
		return true
	}
	return false
}
