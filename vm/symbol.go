package vm

import (
	"sync"

	"github.com/ebrahimk/rubinius/vm/memory"
)

// ---------------------------------------------------------------------------
// SymbolTable: Interned symbols
// ---------------------------------------------------------------------------

type symbolEntry struct {
	name      string
	transient bool
	touched   bool
}

// SymbolTable interns symbol strings to unique IDs.
//
// Permanent symbols live for the life of the VM. Transient symbols, created
// at run time from computed names, are dropped by Sweep unless a live slot
// holds them or they were used since the previous sweep. IDs are never reused, so a dropped symbol's
// ID resolves to "" rather than to another name.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]uint32 // name -> ID
	byID   []*symbolEntry    // ID -> entry, nil once swept
	live   int
}

// NewSymbolTable creates a new empty symbol table. ID 0 is reserved.
func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{
		byName: make(map[string]uint32),
		byID:   make([]*symbolEntry, 1, 256),
	}
	return st
}

// Intern returns the ID of a permanent symbol, creating it if needed. A
// transient symbol of the same name becomes permanent.
func (st *SymbolTable) Intern(name string) uint32 {
	return st.intern(name, false)
}

// InternTransient returns the ID of a symbol that may be swept once it is
// no longer used.
func (st *SymbolTable) InternTransient(name string) uint32 {
	return st.intern(name, true)
}

func (st *SymbolTable) intern(name string, transient bool) uint32 {
	// Fast path: read-only lookup of a permanent symbol
	st.mu.RLock()
	if id, ok := st.byName[name]; ok && !st.byID[id].transient {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.byName[name]; ok {
		e := st.byID[id]
		e.touched = true
		if !transient {
			e.transient = false
		}
		return id
	}

	id := uint32(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, &symbolEntry{name: name, transient: transient, touched: true})
	st.live++
	return id
}

// Lookup returns the ID for a symbol, or 0 and false if not found.
func (st *SymbolTable) Lookup(name string) (uint32, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	id, ok := st.byName[name]
	if ok {
		st.byID[id].touched = true
	}
	return id, ok
}

// Name returns the symbol name for an ID, or "" if invalid or swept.
func (st *SymbolTable) Name(id uint32) string {
	st.mu.Lock()
	defer st.mu.Unlock()

	if int(id) >= len(st.byID) || st.byID[id] == nil {
		return ""
	}
	e := st.byID[id]
	e.touched = true
	return e.name
}

// Len returns the number of live symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.live
}

// Sweep drops transient symbols that are neither reachable nor used since
// the last sweep and clears the usage bit of the others. It runs once per
// collection with the cycle's reachability; a nil reachable treats no
// symbol as held.
func (st *SymbolTable) Sweep(reachable func(id uint32) bool) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	dropped := 0
	for id, e := range st.byID {
		if e == nil || !e.transient {
			continue
		}
		if e.touched || (reachable != nil && reachable(uint32(id))) {
			e.touched = false
			continue
		}
		delete(st.byName, e.name)
		st.byID[id] = nil
		st.live--
		dropped++
	}
	return dropped
}

// SymbolValue creates a Value from a symbol name.
func (st *SymbolTable) SymbolValue(name string) Value {
	return memory.FromSymbolID(st.Intern(name))
}

// SymbolName returns the name of a symbol Value, or "" if v is not a
// symbol.
func (st *SymbolTable) SymbolName(v Value) string {
	if !v.IsSymbol() {
		return ""
	}
	return st.Name(v.SymbolID())
}
