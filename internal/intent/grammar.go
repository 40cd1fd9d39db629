package intent

import "strings"

// routeEntry maps spoken destination keywords to one portal route.
type routeEntry struct {
	Keywords []string
	Target   string
	Path     string
}

// rule is one row of the grammar: trigger phrases, the command they resolve
// to, and an optional slot extractor over the remainder of the utterance.
// Rules are evaluated in table order, so specific triggers must precede
// generic catch-alls.
type rule struct {
	Triggers []string
	Command  Command
	Extract  func(g *grammar, rest string) map[string]string
}

type grammar struct {
	routes        []routeEntry
	fallbackRoute string
	rules         map[Role][]rule
}

// The route table is closed: anything a user can ask to open maps to one of
// these entries or the fallback.
func defaultRoutes() []routeEntry {
	return []routeEntry{
		{Keywords: []string{"dashboard", "home"}, Target: "dashboard", Path: "/dashboard"},
		{Keywords: []string{"appointments", "appointment", "schedule"}, Target: "appointments", Path: "/appointments"},
		{Keywords: []string{"medications", "medication", "prescriptions"}, Target: "medications", Path: "/medications"},
		{Keywords: []string{"billing", "invoices", "invoice"}, Target: "invoices", Path: "/billing/invoices"},
		{Keywords: []string{"labs", "lab results", "results"}, Target: "labs", Path: "/labs"},
		{Keywords: []string{"messages", "inbox"}, Target: "messages", Path: "/messages"},
		{Keywords: []string{"employees", "staff"}, Target: "employees", Path: "/employees"},
		{Keywords: []string{"settings", "preferences"}, Target: "settings", Path: "/settings"},
		{Keywords: []string{"profile", "account"}, Target: "profile", Path: "/profile"},
	}
}

func newGrammar(fallbackRoute string) *grammar {
	g := &grammar{
		routes:        defaultRoutes(),
		fallbackRoute: fallbackRoute,
	}

	navigate := []rule{
		{Triggers: []string{"navigate to"}, Command: CommandNavigate, Extract: extractRoute},
		{Triggers: []string{"go to", "open", "show me", "show"}, Command: CommandNavigate, Extract: extractRoute},
	}
	help := rule{Triggers: []string{"help", "what can i say", "what can you do"}, Command: CommandHelp}

	patient := []rule{
		{Triggers: []string{"book an appointment", "book appointment", "schedule an appointment", "make an appointment"}, Command: CommandBookAppointment, Extract: extractDetails},
		{Triggers: []string{"cancel my appointment", "cancel appointment"}, Command: CommandCancelAppointment, Extract: extractDetails},
		{Triggers: []string{"add medication", "add a medication", "new medication"}, Command: CommandAddMedication, Extract: extractDetails},
		{Triggers: []string{"refill my prescription", "refill prescription", "order a refill"}, Command: CommandRefillPrescription, Extract: extractDetails},
	}
	provider := []rule{
		{Triggers: []string{"add availability", "open a slot", "add a slot"}, Command: CommandAddAvailability, Extract: extractDetails},
	}

	g.rules = map[Role][]rule{
		RolePatient:  appendRules(patient, navigate, help),
		RoleProvider: appendRules(provider, navigate, help),
		RoleEmployer: appendRules(nil, navigate, help),
		RoleOwner:    appendRules(nil, navigate, help),
		RoleAdmin:    appendRules(nil, navigate, help),
	}
	return g
}

func appendRules(specific []rule, navigate []rule, help rule) []rule {
	out := append([]rule{}, specific...)
	out = append(out, navigate...)
	out = append(out, help)
	return out
}

// extractRoute maps the remainder of a navigation utterance onto the closed
// route table. An unrecognized destination still navigates, to the fallback
// route.
func extractRoute(g *grammar, rest string) map[string]string {
	rest = strings.TrimSpace(rest)
	for _, entry := range g.routes {
		for _, kw := range entry.Keywords {
			if rest == kw || strings.Contains(rest, kw) {
				return map[string]string{
					SlotTarget: entry.Target,
					SlotRoute:  entry.Path,
				}
			}
		}
	}
	return map[string]string{
		SlotTarget: "dashboard",
		SlotRoute:  g.fallbackRoute,
	}
}

func extractDetails(_ *grammar, rest string) map[string]string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}
	return map[string]string{SlotDetails: rest}
}
