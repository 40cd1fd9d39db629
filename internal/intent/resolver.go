package intent

import "strings"

// Resolver turns normalized utterance text into an Intent. It is pure and
// deterministic: the grammar is built once and never mutated, and the same
// text and role always yield the same Intent.
type Resolver struct {
	grammar *grammar
}

func NewResolver(fallbackRoute string) *Resolver {
	if fallbackRoute == "" {
		fallbackRoute = "/dashboard"
	}
	return &Resolver{grammar: newGrammar(fallbackRoute)}
}

// Resolve matches text against the role's ordered rule table. The first
// matching trigger wins. Text outside the role's vocabulary resolves to
// CommandUnresolved with no slots.
func (r *Resolver) Resolve(text string, role Role) Intent {
	raw := text
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Intent{Command: CommandUnresolved, RawText: raw}
	}

	rules, ok := r.grammar.rules[role]
	if !ok {
		rules = r.grammar.rules[RolePatient]
	}

	for _, rl := range rules {
		for _, trigger := range rl.Triggers {
			rest, matched := matchTrigger(normalized, trigger)
			if !matched {
				continue
			}
			intent := Intent{Command: rl.Command, RawText: raw}
			if rl.Extract != nil {
				intent.Slots = rl.Extract(r.grammar, rest)
			}
			return intent
		}
	}
	return Intent{Command: CommandUnresolved, RawText: raw}
}

// matchTrigger reports whether text begins with the trigger phrase on a word
// boundary, returning the remainder.
func matchTrigger(text, trigger string) (string, bool) {
	if text == trigger {
		return "", true
	}
	if strings.HasPrefix(text, trigger+" ") {
		return text[len(trigger)+1:], true
	}
	return "", false
}
