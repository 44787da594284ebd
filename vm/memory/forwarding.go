package memory

// Forwarding is the answer a collector gives when offered a reference:
// either the object stayed where it was, or it moved and every slot that
// held the old reference must be rewritten to the new one.
type Forwarding struct {
	to    Value
	moved bool
}

// Unmoved reports that the offered reference is still valid.
func Unmoved() Forwarding { return Forwarding{} }

// MovedTo reports that the offered object now lives at v.
func MovedTo(v Value) Forwarding { return Forwarding{to: v, moved: true} }

// Moved returns the new reference and true if the object moved.
func (f Forwarding) Moved() (Value, bool) { return f.to, f.moved }

// ForwardFunc is the move/mark callback of the active collector. owner is
// the structure holding the slot (a thread, a buffer, a handle, an object)
// and is informational only.
type ForwardFunc func(c *Cycle, owner any, ref Value) Forwarding

// Visitor is handed to GCScanner hooks. It offers the reference in slot to
// the active collector and rewrites the slot if the object moved.
type Visitor func(owner any, slot *Value)

// update offers *slot to f and rewrites it on a move. Symbols are noted
// for the symbol sweep; other immediates are skipped.
func update(c *Cycle, f ForwardFunc, owner any, slot *Value) {
	cur := *slot
	if cur.IsSymbol() {
		c.noteSymbol(cur)
		return
	}
	if !cur.IsObject() {
		return
	}
	c.stats.RootsVisited++
	if to, ok := f(c, owner, cur).Moved(); ok {
		*slot = to
		c.stats.RootsMoved++
	}
}
