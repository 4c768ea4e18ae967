package phone

// SubmitGuard decides when an input should auto-submit. Auto-submit fires
// only when the value became valid on the current edit (the digit count grew
// into validity), which prevents re-submitting when a user navigates back to
// a field that already holds a complete value. The guard re-arms whenever
// the value is edited back below the valid length, and on Reset.
type SubmitGuard struct {
	validLength int
	prevDigits  int
	fired       bool
}

// NewSubmitGuard creates a guard for inputs that are valid at exactly
// validLength digits.
func NewSubmitGuard(validLength int) *SubmitGuard {
	return &SubmitGuard{validLength: validLength}
}

// Observe records the field's current value and reports whether auto-submit
// should fire for this edit.
func (g *SubmitGuard) Observe(value string) bool {
	n := len(Digits(value))
	grew := n > g.prevDigits
	g.prevDigits = n

	if n != g.validLength {
		// Editing below the valid length re-arms the guard.
		if n < g.validLength {
			g.fired = false
		}
		return false
	}
	if g.fired || !grew {
		return false
	}
	g.fired = true
	return true
}

// Prime seeds the guard with a value that is already present when the input
// mounts. A complete value seen at mount time does not count as growth, so
// revisiting a filled field never auto-submits until the user edits it.
func (g *SubmitGuard) Prime(value string) {
	g.prevDigits = len(Digits(value))
	g.fired = false
}

// Reset re-arms the guard, as on a fresh mount of an empty input.
func (g *SubmitGuard) Reset() {
	g.prevDigits = 0
	g.fired = false
}
