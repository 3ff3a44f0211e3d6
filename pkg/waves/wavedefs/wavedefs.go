// Package wavedefs contains definitions shared by the waveform backends.
//
// It is a separate package so that a backend only needs to depend on the
// definitions, not on the other backends.
package wavedefs

import (
	"math/big"
	"strings"
)

// NoID marks a reference without a backend-specific handle.
const NoID = -1

// ScopeID is a backend-specific numeric handle for fast access to the
// associated scope. It is a performance hint only: it is never compared and
// never part of a reference's identity.
type ScopeID int

// VarID is a backend-specific numeric handle for fast access to the
// associated variable. Like ScopeID it is never part of identity.
type VarID int

// ScopeRef identifies a hierarchy scope by its path segments. Two refs are
// the same scope exactly when their segments are equal, regardless of IDs.
type ScopeRef struct {
	Strs []string
	ID   ScopeID
}

// NewScopeRef creates a ScopeRef without a handle.
func NewScopeRef(strs ...string) ScopeRef {
	return ScopeRef{Strs: strs, ID: NoID}
}

// ScopeRefFromHierarchyString parses a dot-separated scope path.
func ScopeRefFromHierarchyString(s string) ScopeRef {
	return ScopeRef{Strs: strings.Split(s, "."), ID: NoID}
}

// WithSubscope returns a ref for a child scope. The child is a different
// scope, whose handle we do not know.
func (s ScopeRef) WithSubscope(name string, id ScopeID) ScopeRef {
	strs := make([]string, 0, len(s.Strs)+1)
	strs = append(strs, s.Strs...)
	return ScopeRef{Strs: append(strs, name), ID: id}
}

// WithID returns a copy of the ref carrying the given handle.
func (s ScopeRef) WithID(id ScopeID) ScopeRef {
	return ScopeRef{Strs: s.Strs, ID: id}
}

// Name returns the last path segment.
func (s ScopeRef) Name() string {
	if len(s.Strs) == 0 {
		return ""
	}
	return s.Strs[len(s.Strs)-1]
}

// Empty reports whether the ref has no path segments, which refers to the
// toplevel of the design.
func (s ScopeRef) Empty() bool { return len(s.Strs) == 0 }

// String returns the dot-joined path. It is the identity of the scope and is
// usable as a map key.
func (s ScopeRef) String() string { return strings.Join(s.Strs, ".") }

// VariableRef identifies a variable by its scope path and local name.
// Identity is the path plus the name; the ID is a hint only.
type VariableRef struct {
	Path ScopeRef
	Name string
	ID   VarID
}

// NewVariableRef creates a VariableRef without a handle.
func NewVariableRef(path ScopeRef, name string) VariableRef {
	return VariableRef{Path: path, Name: name, ID: NoID}
}

// VariableRefFromHierarchyString parses a dot-separated variable path; the
// last segment is the variable name.
func VariableRefFromHierarchyString(s string) VariableRef {
	parts := strings.Split(s, ".")
	if len(parts) == 0 {
		return VariableRef{Path: NewScopeRef(), ID: NoID}
	}
	return VariableRef{
		Path: ScopeRef{Strs: parts[:len(parts)-1], ID: NoID},
		Name: parts[len(parts)-1],
		ID:   NoID,
	}
}

// FullPath returns all path segments including the name.
func (v VariableRef) FullPath() []string {
	out := make([]string, 0, len(v.Path.Strs)+1)
	out = append(out, v.Path.Strs...)
	return append(out, v.Name)
}

// String returns the dot-joined full path. It is the identity of the
// variable and is usable as a map key.
func (v VariableRef) String() string {
	if v.Path.Empty() {
		return v.Name
	}
	return v.Path.String() + "." + v.Name
}

// ClearID strips the backend-specific handle, e.g. when the backend that
// produced it is replaced.
func (v *VariableRef) ClearID() { v.ID = NoID }

// VariableMeta describes a variable beyond its identity.
type VariableMeta struct {
	Var VariableRef
	// NumBits is nil when the width is unknown.
	NumBits *uint32
	Kind    string
}

// TimeValue is a value active since a given time.
type TimeValue struct {
	Time  *big.Int
	Value string
}

// QueryResult is the answer to "what is the value of this variable at this
// time". Current is nil before the variable's first change or while its
// history is still loading; Next is the time of the next change, if any.
type QueryResult struct {
	Current *TimeValue
	Next    *big.Int
}

// SimulationStatus is the state of an attached live simulation.
type SimulationStatus uint8

// Simulation states.
const (
	SimRunning SimulationStatus = iota
	SimPaused
	SimFinished
)

func (s SimulationStatus) String() string {
	switch s {
	case SimRunning:
		return "running"
	case SimPaused:
		return "paused"
	case SimFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Notifier is the handle the backends use to talk to the front end: request
// a redraw after new data arrived, or report an error to the user. Both must
// be safe to call from any goroutine and must never block.
type Notifier interface {
	RequestRedraw()
	Error(err error)
}
