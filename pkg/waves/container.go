package waves

import (
	"math/big"

	"github.com/voltai-inc/Surfer-sub001/pkg/sim"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

// Kind identifies the backend behind a Container.
type Kind int

const (
	// Empty is a container with nothing loaded. It answers every query
	// with the empty result and never errors.
	Empty Kind = iota
	// Trace is a parsed trace, local or remote.
	Trace
	// Sim is a live simulator session.
	Sim
)

// Container is the closed union of waveform backends. The zero value is the
// Empty container. All methods must be called from a single goroutine.
type Container struct {
	kind  Kind
	trace *TraceContainer
	sim   *sim.Container
}

// NewEmpty returns a container with nothing loaded.
func NewEmpty() *Container { return &Container{kind: Empty} }

// NewTrace wraps a trace backend.
func NewTrace(tc *TraceContainer) *Container {
	return &Container{kind: Trace, trace: tc}
}

// NewSim wraps a live simulator session.
func NewSim(sc *sim.Container) *Container {
	return &Container{kind: Sim, sim: sc}
}

// Kind returns the backend kind.
func (c *Container) Kind() Kind { return c.kind }

// AsTrace returns the trace backend, or nil if the container holds none.
func (c *Container) AsTrace() *TraceContainer {
	if c.kind == Trace {
		return c.trace
	}
	return nil
}

// Tick drives periodic backend work. Only the simulator backend has any:
// draining responses and events from the connection.
func (c *Container) Tick() {
	if c.kind == Sim {
		c.sim.Tick()
	}
}

// BodyLoaded reports whether the full body of the waveform is available.
// The simulator produces data continuously and always counts as loaded.
func (c *Container) BodyLoaded() bool {
	switch c.kind {
	case Trace:
		return c.trace.BodyLoaded()
	case Sim:
		return true
	default:
		return false
	}
}

// IsFullyLoaded reports whether all requested signal histories have been
// delivered.
func (c *Container) IsFullyLoaded() bool {
	switch c.kind {
	case Trace:
		return c.trace.IsFullyLoaded()
	case Sim:
		return true
	default:
		return false
	}
}

// MaxTimestamp returns the latest known timestamp, or nil if no data has
// been seen yet.
func (c *Container) MaxTimestamp() *big.Int {
	switch c.kind {
	case Trace:
		return c.trace.MaxTimestamp()
	case Sim:
		return c.sim.MaxTimestamp()
	default:
		return nil
	}
}

// ScopeNames returns the full names of all scopes.
func (c *Container) ScopeNames() []string {
	switch c.kind {
	case Trace:
		return c.trace.ScopeNames()
	case Sim:
		return c.sim.ScopeNames()
	default:
		return nil
	}
}

// VariableNames returns the full names of all variables.
func (c *Container) VariableNames() []string {
	switch c.kind {
	case Trace:
		return c.trace.VariableNames()
	case Sim:
		return c.sim.VariableNames()
	default:
		return nil
	}
}

// RootScopes returns the root scopes of the design.
func (c *Container) RootScopes() []wavedefs.ScopeRef {
	switch c.kind {
	case Trace:
		return c.trace.RootScopes()
	case Sim:
		return c.sim.RootScopes()
	default:
		return nil
	}
}

// ChildScopes returns the children of a scope.
func (c *Container) ChildScopes(scope wavedefs.ScopeRef) ([]wavedefs.ScopeRef, error) {
	switch c.kind {
	case Trace:
		return c.trace.ChildScopes(scope)
	case Sim:
		return c.sim.ChildScopes(scope)
	default:
		return nil, nil
	}
}

// ScopeExists reports whether the scope can be resolved.
func (c *Container) ScopeExists(scope wavedefs.ScopeRef) bool {
	switch c.kind {
	case Trace:
		return c.trace.ScopeExists(scope)
	case Sim:
		return c.sim.ScopeExists(scope)
	default:
		return false
	}
}

// VariablesInScope returns the variables directly inside a scope.
func (c *Container) VariablesInScope(scope wavedefs.ScopeRef) []wavedefs.VariableRef {
	switch c.kind {
	case Trace:
		return c.trace.VariablesInScope(scope)
	case Sim:
		return c.sim.VariablesInScope(scope)
	default:
		return nil
	}
}

// UpdateVariableRef re-resolves a reference, possibly from an older
// container, by name.
func (c *Container) UpdateVariableRef(ref wavedefs.VariableRef) (wavedefs.VariableRef, bool) {
	switch c.kind {
	case Trace:
		return c.trace.UpdateVariableRef(ref)
	case Sim:
		return c.sim.UpdateVariableRef(ref)
	default:
		return wavedefs.VariableRef{}, false
	}
}

// VariableMeta describes a variable.
func (c *Container) VariableMeta(ref wavedefs.VariableRef) (wavedefs.VariableMeta, error) {
	switch c.kind {
	case Trace:
		return c.trace.VariableMeta(ref)
	case Sim:
		return c.sim.VariableMeta(ref)
	default:
		return wavedefs.VariableMeta{Var: ref}, nil
	}
}

// LoadVariables requests the histories of the given variables. For a trace
// backend the returned command, if non-nil, must be executed asynchronously
// and its result fed back through OnSignalsLoaded.
func (c *Container) LoadVariables(refs []wavedefs.VariableRef) (*LoadSignalsCmd, error) {
	switch c.kind {
	case Trace:
		return c.trace.LoadVariables(refs)
	case Sim:
		return nil, c.sim.LoadVariables(refs)
	default:
		return nil, nil
	}
}

// QueryVariable returns the value of a variable at a time and the time of
// its next change.
func (c *Container) QueryVariable(ref wavedefs.VariableRef, t *big.Int) (wavedefs.QueryResult, error) {
	switch c.kind {
	case Trace:
		return c.trace.QueryVariable(ref, t)
	case Sim:
		return c.sim.QueryVariable(ref, t)
	default:
		return wavedefs.QueryResult{}, nil
	}
}

// AddBody installs a parsed trace body. Only valid on a trace backend.
func (c *Container) AddBody(body BodyResult) (*LoadSignalsCmd, error) {
	if c.kind != Trace {
		return nil, ErrNoTraceBackend
	}
	return c.trace.AddBody(body)
}

// OnSignalsLoaded feeds delivered signal histories back into the trace
// backend. Only valid on a trace backend.
func (c *Container) OnSignalsLoaded(res *LoadSignalsResult) (*LoadSignalsCmd, error) {
	if c.kind != Trace {
		return nil, ErrNoTraceBackend
	}
	return c.trace.OnSignalsLoaded(res)
}

// SimulationStatus returns the simulator's run state. The second return is
// false for non-simulator backends or before the first status has arrived.
func (c *Container) SimulationStatus() (wavedefs.SimulationStatus, bool) {
	if c.kind == Sim {
		return c.sim.SimulationStatus()
	}
	return 0, false
}

// PauseSimulation asks a live simulator to pause. No-op on other backends.
func (c *Container) PauseSimulation() {
	if c.kind == Sim {
		c.sim.Pause()
	}
}

// UnpauseSimulation asks a live simulator to resume. No-op on other
// backends.
func (c *Container) UnpauseSimulation() {
	if c.kind == Sim {
		c.sim.Unpause()
	}
}
