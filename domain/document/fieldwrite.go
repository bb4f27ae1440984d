package document

// WriteOp is a field-level write modifier. Partial updates need an
// explicit Keep: an omitted field reads as "no change" to some engines
// and as "clear" to others, so fields that must survive unrelated
// updates (content transform status, the content fingerprint) name
// themselves with Keep instead of being omitted.
type WriteOp int

// WriteOp values.
const (
	// OpSet replaces the stored value.
	OpSet WriteOp = iota
	// OpAdd appends to the stored values.
	OpAdd
	// OpKeep preserves the stored value verbatim.
	OpKeep
)

// FieldWrite is the tagged union of the three write modifiers.
type FieldWrite struct {
	op    WriteOp
	value any
}

// Set returns a write that replaces the stored value.
func Set(value any) FieldWrite {
	return FieldWrite{op: OpSet, value: value}
}

// Add returns a write that appends to the stored values.
func Add(value any) FieldWrite {
	return FieldWrite{op: OpAdd, value: value}
}

// Keep returns a write that preserves the stored value verbatim.
func Keep() FieldWrite {
	return FieldWrite{op: OpKeep}
}

// Op returns the write modifier.
func (w FieldWrite) Op() WriteOp { return w.op }

// Value returns the write value (nil for Keep).
func (w FieldWrite) Value() any { return w.value }
