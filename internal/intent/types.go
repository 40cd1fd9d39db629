package intent

// Role scopes the grammar to one portal persona.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleEmployer Role = "employer"
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a string to a known role, defaulting to patient.
func ParseRole(s string) Role {
	switch Role(s) {
	case RolePatient, RoleProvider, RoleEmployer, RoleOwner, RoleAdmin:
		return Role(s)
	default:
		return RolePatient
	}
}

// Command is a tag from the closed, role-scoped vocabulary.
type Command string

const (
	CommandUnresolved         Command = "unresolved"
	CommandNavigate           Command = "navigate"
	CommandHelp               Command = "help"
	CommandBookAppointment    Command = "book_appointment"
	CommandCancelAppointment  Command = "cancel_appointment"
	CommandAddMedication      Command = "add_medication"
	CommandRefillPrescription Command = "refill_prescription"
	CommandAddAvailability    Command = "add_availability"
)

// Intent is the structured result of resolving one utterance. An unresolved
// intent carries no slots and is never dispatched as an action.
type Intent struct {
	Command Command
	Slots   map[string]string
	RawText string
}

// Unresolved reports whether the intent fell outside the role's vocabulary.
func (i Intent) Unresolved() bool { return i.Command == CommandUnresolved }

const (
	SlotTarget  = "target"
	SlotRoute   = "route"
	SlotDetails = "details"
)
