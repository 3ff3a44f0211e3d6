// Package trace contains the waveform data model: the design hierarchy, the
// time table, per-signal value change lists, a VCD reader, and the binary
// codec used by the remote streaming protocol.
package trace

import (
	"errors"
	"sort"
	"strings"
)

// Time is a simulation timestamp in the trace's own time unit.
type Time = uint64

// TimeTable is the ordered sequence of distinct timestamps at which any
// signal in the trace changes value.
type TimeTable []Time

// SignalRef identifies a signal within a trace. Multiple variables may alias
// the same signal.
type SignalRef uint32

// FileFormat identifies the on-disk format a trace was parsed from.
type FileFormat uint8

// Supported file formats.
const (
	FormatVcd FileFormat = iota
	FormatFst
	FormatGhw
	FormatUnknown
)

func (f FileFormat) String() string {
	switch f {
	case FormatVcd:
		return "VCD"
	case FormatFst:
		return "FST"
	case FormatGhw:
		return "GHW"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the format as its name.
func (f FileFormat) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// UnmarshalJSON decodes the format from its name.
func (f *FileFormat) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "VCD":
		*f = FormatVcd
	case "FST":
		*f = FormatFst
	case "GHW":
		*f = FormatGhw
	default:
		*f = FormatUnknown
	}
	return nil
}

// ErrNotFound is returned when a scope or variable lookup by name fails.
var ErrNotFound = errors.New("no such scope or variable")

// Scope is a node of the design hierarchy.
type Scope struct {
	Name string
	// Kind is the scope kind as declared in the trace file, e.g. "module".
	Kind   string
	Parent int // index into Hierarchy.Scopes, -1 for root scopes
	// Derived; rebuilt after decoding.
	Children []int
	Vars     []int
}

// Var is a variable declared in the design hierarchy.
type Var struct {
	Name  string
	Kind  string
	Width uint32
	Scope int // index into Hierarchy.Scopes, -1 for toplevel variables
	// Signal is the signal holding this variable's value changes. Several
	// variables may share one signal.
	Signal SignalRef
}

// Hierarchy is the parsed design hierarchy of a trace.
type Hierarchy struct {
	Scopes  []Scope
	Vars    []Var
	Version string
	// Timescale as declared by the trace, e.g. "1ns". Empty if undeclared.
	Timescale  string
	NumSignals int

	// Derived; rebuilt after decoding.
	Roots   []int
	TopVars []int
}

// Rebuild recomputes the derived navigation indices (children, per-scope
// variables, roots) from the Parent and Scope fields. It must be called after
// decoding a hierarchy from the wire.
func (h *Hierarchy) Rebuild() {
	h.Roots = nil
	h.TopVars = nil
	for i := range h.Scopes {
		h.Scopes[i].Children = nil
		h.Scopes[i].Vars = nil
	}
	for i := range h.Scopes {
		if p := h.Scopes[i].Parent; p >= 0 {
			h.Scopes[p].Children = append(h.Scopes[p].Children, i)
		} else {
			h.Roots = append(h.Roots, i)
		}
	}
	for i := range h.Vars {
		if s := h.Vars[i].Scope; s >= 0 {
			h.Scopes[s].Vars = append(h.Scopes[s].Vars, i)
		} else {
			h.TopVars = append(h.TopVars, i)
		}
	}
}

// LookupScope finds a scope by its path segments.
func (h *Hierarchy) LookupScope(path []string) (int, error) {
	if len(path) == 0 {
		return -1, ErrNotFound
	}
	candidates := h.Roots
	current := -1
	for _, seg := range path {
		found := -1
		for _, i := range candidates {
			if h.Scopes[i].Name == seg {
				found = i
				break
			}
		}
		if found == -1 {
			return -1, ErrNotFound
		}
		current = found
		candidates = h.Scopes[found].Children
	}
	return current, nil
}

// LookupVar finds a variable by the path of its enclosing scope and its name.
// An empty path looks among toplevel variables.
func (h *Hierarchy) LookupVar(path []string, name string) (int, error) {
	vars := h.TopVars
	if len(path) > 0 {
		scope, err := h.LookupScope(path)
		if err != nil {
			return -1, err
		}
		vars = h.Scopes[scope].Vars
	}
	for _, i := range vars {
		if h.Vars[i].Name == name {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

// ScopeFullName returns the dot-joined full name of a scope.
func (h *Hierarchy) ScopeFullName(i int) string {
	var parts []string
	for ; i >= 0; i = h.Scopes[i].Parent {
		parts = append(parts, h.Scopes[i].Name)
	}
	reverse(parts)
	return strings.Join(parts, ".")
}

// VarFullName returns the dot-joined full name of a variable.
func (h *Hierarchy) VarFullName(i int) string {
	v := h.Vars[i]
	if v.Scope < 0 {
		return v.Name
	}
	return h.ScopeFullName(v.Scope) + "." + v.Name
}

// ScopeNames returns the full names of all scopes.
func (h *Hierarchy) ScopeNames() []string {
	names := make([]string, len(h.Scopes))
	for i := range h.Scopes {
		names[i] = h.ScopeFullName(i)
	}
	return names
}

// VarNames returns the full names of all variables.
func (h *Hierarchy) VarNames() []string {
	names := make([]string, len(h.Vars))
	for i := range h.Vars {
		names[i] = h.VarFullName(i)
	}
	return names
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Signal is the loaded value history of one signal: a sparse list of value
// changes, each at an index into the trace's time table.
type Signal struct {
	Ref SignalRef
	// TimeIndices is ascending; Values[i] becomes active at
	// TimeIndices[i] and stays active until the next entry.
	TimeIndices []uint32
	Values      []string
}

// Offset returns the position of the last change at or before the given time
// table index, or false if the signal has no change at or before it.
func (s *Signal) Offset(idx uint32) (int, bool) {
	n := sort.Search(len(s.TimeIndices), func(i int) bool {
		return s.TimeIndices[i] > idx
	})
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}

// FirstTimeIdx returns the time table index of the signal's first change.
func (s *Signal) FirstTimeIdx() (uint32, bool) {
	if len(s.TimeIndices) == 0 {
		return 0, false
	}
	return s.TimeIndices[0], true
}

// SignalSource owns the value changes extracted from a trace body and hands
// out per-signal histories on demand.
type SignalSource struct {
	signals map[SignalRef]*Signal
}

// NewSignalSource creates a source from fully extracted signals. Intended for
// the body reader and for tests.
func NewSignalSource(signals map[SignalRef]*Signal) *SignalSource {
	return &SignalSource{signals: signals}
}

// LoadSignals returns the histories for the given refs. Unknown refs yield a
// signal with an empty change list rather than an error, so that a variable
// declared in the header but absent from the body still displays as "no
// value".
func (src *SignalSource) LoadSignals(ids []SignalRef) []*Signal {
	out := make([]*Signal, 0, len(ids))
	for _, id := range ids {
		if s, ok := src.signals[id]; ok {
			out = append(out, s)
		} else {
			out = append(out, &Signal{Ref: id})
		}
	}
	return out
}

// Body is the result of parsing the body of a trace file.
type Body struct {
	TimeTable TimeTable
	Source    *SignalSource
}
