package command

// PayloadKind tags the sum-typed scratch payload a Command may carry
// across a multi-step protocol (e.g. RNFR publishing its source path for
// RNTO to consume). This replaces the untyped "object" field design note
// flags in original_source's AbstractCommand.setObject/getObject with a
// small closed union, since Go has no ambient "any mutable field" idiom
// worth reaching for when the set of payload shapes is this small.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadRename
)

// RenamePayload carries RNFR's source path forward to RNTO.
type RenamePayload struct {
	FromPath string
}

// Payload is the sum-typed scratch slot. Only one field is meaningful,
// selected by Kind.
type Payload struct {
	Kind   PayloadKind
	Rename *RenamePayload
}

// Command is one dispatch cycle's parsed, session-bound instruction.
// Per spec.md #3's Command invariant, it exists only for the duration of
// one dispatch cycle: the dispatcher constructs it, sequences it,
// executes it, then rotates it into the session's "previous command"
// slot (see dispatch.Session.rotate).
type Command struct {
	Code Code
	Verb string
	Arg  string

	// ExtraNext, when set (non-Unknown), is consulted by Admissible ahead
	// of the static nextValids table -- the mechanism RNFR uses to force
	// RNTO as the only legal successor.
	ExtraNext Code

	// Payload carries multi-step command state (see PayloadKind above).
	Payload Payload
}

// FromLine builds a Command from a parsed Line.
func FromLine(l *Line) *Command {
	return &Command{Code: l.Code, Verb: l.Verb, Arg: l.Arg}
}

// SetExtraNext records an override successor, or clears it when set to
// Unknown. Grounded on AbstractCommand.setExtraNextCommand's NOOP-means-
// clear convention, expressed here as the zero value instead of a magic
// sentinel constant.
func (c *Command) SetExtraNext(next Code) {
	c.ExtraNext = next
}
