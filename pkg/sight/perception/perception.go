// Package perception derives a coarse perception indicator from the model's
// own transcribed speech.
package perception

import "strings"

// State is the perception indicator shown to the user.
type State string

const (
	Idle     State = "idle"
	Scanning State = "scanning"
	Locking  State = "locking"
	Guiding  State = "guiding"
)

func (s State) String() string { return string(s) }

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Idle, Scanning, Locking, Guiding:
		return true
	}
	return false
}

// Rule maps a set of lower-case phrases to a target state.
type Rule struct {
	State    State
	Keywords []string
}

// Rules is evaluated in order; the first matching rule wins.
var Rules = []Rule{
	{State: Locking, Keywords: []string{"found", "acquired", "see it"}},
	{State: Guiding, Keywords: []string{"step", "move", "left", "right", "ahead"}},
	{State: Scanning, Keywords: []string{"scanning", "lost sight", "looking"}},
}

// Next returns the state implied by text, or current when no rule matches.
// Matching is case-insensitive substring containment.
func Next(current State, text string) State {
	return NextWith(Rules, current, text)
}

// NextWith is Next over a caller-supplied rule table.
func NextWith(rules []Rule, current State, text string) State {
	if text == "" {
		return current
	}
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.State
			}
		}
	}
	return current
}
