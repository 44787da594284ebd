package memory

// Address identifies a heap object. Addresses are handed out by a bump
// counter and never reused, so a stale reference can always be detected.
type Address uint64

// Region is the allocation space an object lives in.
type Region uint8

const (
	RegionYoung  Region = iota // immix space, objects move
	RegionMature               // promoted and pinned objects, mark-sweep
	RegionLarge                // large objects, mark-sweep
	RegionCode                 // executables, code manager
)

func (r Region) String() string {
	switch r {
	case RegionYoung:
		return "young"
	case RegionMature:
		return "mature"
	case RegionLarge:
		return "large"
	case RegionCode:
		return "code"
	default:
		return "unknown"
	}
}

// Mark is the per-cycle mark value. The manager alternates between
// MarkOne and MarkTwo so that marks never need clearing.
type Mark uint8

const (
	Unmarked Mark = 0
	MarkOne  Mark = 1
	MarkTwo  Mark = 2
)

// Flags carries the header bits other subsystems classify objects by.
type Flags uint8

const (
	FlagFinalizer Flags = 1 << iota // has a finalizer handle
	FlagWeakRef                     // is the target of a weak handle
	FlagHandle                      // has an extended header with a handle
)

// Header is the collector-visible part of every heap object.
type Header struct {
	addr      Address
	region    Region
	age       uint8
	mark      Mark
	flags     Flags
	forwarded Address
	handle    *Handle
}

// Object is a heap object. Class and Fields are traced; Data is an untraced
// payload and must never hold managed references.
type Object struct {
	Header

	Class  Value
	Fields []Value
	Data   any
}

// objectHeaderBytes is the accounted size of a header plus class slot.
const objectHeaderBytes = 24

// Size returns the number of bytes the object is accounted as.
func (o *Object) Size() int {
	return objectHeaderBytes + 8*len(o.Fields)
}

// Addr returns the object's current address.
func (o *Object) Addr() Address { return o.addr }

// Value returns a reference to the object.
func (o *Object) Value() Value { return FromAddress(o.addr) }

// Region returns the allocation space the object lives in.
func (o *Object) Region() Region { return o.region }

// Age returns the number of young collections the object has survived.
func (o *Object) Age() int { return int(o.age) }

// Forwarded reports whether the object has moved and, if so, where to.
func (o *Object) Forwarded() (Address, bool) {
	return o.forwarded, o.forwarded != 0
}

// MarkedIn reports whether the object carries mark m.
func (o *Object) MarkedIn(m Mark) bool { return m != Unmarked && o.mark == m }

func (o *Object) HasFlag(f Flags) bool { return o.flags&f != 0 }

func (o *Object) SetFlag(f Flags) { o.flags |= f }

func (o *Object) ClearFlag(f Flags) { o.flags &^= f }

// FinalizerP reports whether the object is registered for finalization.
func (o *Object) FinalizerP() bool { return o.HasFlag(FlagFinalizer) }

// WeakRefP reports whether the object is the target of a weak handle.
func (o *Object) WeakRefP() bool { return o.HasFlag(FlagWeakRef) }

// Handle returns the handle recorded in the extended header, if any.
func (o *Object) Handle() *Handle {
	if !o.HasFlag(FlagHandle) {
		return nil
	}
	return o.handle
}

// Field returns field i, or Nil when out of range.
func (o *Object) Field(i int) Value {
	if i < 0 || i >= len(o.Fields) {
		return Nil
	}
	return o.Fields[i]
}

// SetField stores v into field i. Out of range stores are ignored.
func (o *Object) SetField(i int, v Value) {
	if i < 0 || i >= len(o.Fields) {
		return
	}
	o.Fields[i] = v
}
