// Package waves implements the waveform data access layer: the local trace
// backend, and the closed union over all backends that the front end talks
// to.
package waves

import (
	"math/big"
	"sort"
	"sync/atomic"

	"github.com/voltai-inc/Surfer-sub001/pkg/logutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

var logger = logutil.GetLogger("[waves] ")

// generationCounter stamps each TraceContainer with a process-wide unique,
// monotonically increasing id. Results of asynchronous loads carry the id of
// the container that issued them; a result whose id does not match the live
// container is discarded, which is how a reload renders in-flight loads
// harmless.
var generationCounter atomic.Uint64

// BodyResult is the parsed body of a trace, from a local file (Source set)
// or from a remote server (Server set).
type BodyResult struct {
	TimeTable trace.TimeTable
	Source    *trace.SignalSource
	Server    string
}

// LoadSignalsCmd asks for signal histories to be loaded on a background
// goroutine. It is immutable once created and consumed exactly once.
type LoadSignalsCmd struct {
	Signals    []trace.SignalRef
	Generation uint64

	// Exactly one of Source (local load) and Server (remote fetch) is set.
	Source    *trace.SignalSource
	Hierarchy *trace.Hierarchy
	Server    string
}

// LoadSignalsResult carries loaded signal histories back to the issuing
// container, together with the generation id of the issuer.
type LoadSignalsResult struct {
	Signals    []*trace.Signal
	Generation uint64

	// The signal source (or server URL) borrowed by the load command,
	// returned so that the container can issue the next command.
	Source *trace.SignalSource
	Server string

	// Refs the command asked for but could not deliver. They are abandoned
	// rather than retried; a later LoadVariables call requests them anew.
	Failed []trace.SignalRef
}

// LocalResult wraps locally loaded signals.
func LocalResult(source *trace.SignalSource, signals []*trace.Signal, generation uint64) *LoadSignalsResult {
	return &LoadSignalsResult{Signals: signals, Generation: generation, Source: source}
}

// RemoteResult wraps signals fetched from a remote server.
func RemoteResult(server string, signals []*trace.Signal, generation uint64) *LoadSignalsResult {
	return &LoadSignalsResult{Signals: signals, Generation: generation, Server: server}
}

// RemoteFailure reports a failed remote fetch. It returns the server URL so
// that later loads are not wedged, and names the refs to abandon.
func RemoteFailure(server string, refs []trace.SignalRef, generation uint64) *LoadSignalsResult {
	return &LoadSignalsResult{Generation: generation, Server: server, Failed: refs}
}

// TraceContainer is the backend for a parsed trace, fed either by a local
// file or by a remote streaming server. The hierarchy is available from
// creation; the time table and signal histories arrive later via AddBody and
// OnSignalsLoaded.
type TraceContainer struct {
	hierarchy *trace.Hierarchy
	// URL of the remote server; empty when the trace is local.
	server string

	signals map[trace.SignalRef]*trace.Signal
	// Signals requested but not yet dispatched or delivered.
	toLoad map[trace.SignalRef]bool

	timeTable  trace.TimeTable
	source     *trace.SignalSource
	generation uint64
	bodyLoaded bool
}

// NewTraceContainer creates a backend for a locally parsed trace.
func NewTraceContainer(hierarchy *trace.Hierarchy) *TraceContainer {
	return newTraceContainer(hierarchy, "")
}

// NewRemoteTraceContainer creates a backend fed by a remote streaming
// server.
func NewRemoteTraceContainer(hierarchy *trace.Hierarchy, server string) *TraceContainer {
	return newTraceContainer(hierarchy, server)
}

func newTraceContainer(hierarchy *trace.Hierarchy, server string) *TraceContainer {
	return &TraceContainer{
		hierarchy:  hierarchy,
		server:     server,
		signals:    make(map[trace.SignalRef]*trace.Signal),
		toLoad:     make(map[trace.SignalRef]bool),
		generation: generationCounter.Add(1),
	}
}

// Generation returns the container's generation id.
func (c *TraceContainer) Generation() uint64 { return c.generation }

// BodyLoaded reports whether the trace body has arrived.
func (c *TraceContainer) BodyLoaded() bool { return c.bodyLoaded }

// IsFullyLoaded reports whether all requested signals have been delivered.
func (c *TraceContainer) IsFullyLoaded() bool {
	return (c.source != nil || c.server != "") && len(c.toLoad) == 0
}

// AddBody installs the parsed body. It returns a load command if signals
// were requested while the body was still being parsed.
func (c *TraceContainer) AddBody(body BodyResult) (*LoadSignalsCmd, error) {
	if c.bodyLoaded {
		return nil, errBodyLoadedTwice
	}
	if body.Server != "" {
		if c.server == "" {
			return nil, errRemoteBodyForLocalTrace
		}
		if c.server != body.Server {
			return nil, errInconsistentServer
		}
	} else {
		if c.server != "" {
			return nil, errLocalBodyForRemoteTrace
		}
		c.source = body.Source
	}
	c.timeTable = body.TimeTable
	c.bodyLoaded = true
	return c.loadSignals(nil), nil
}

// MaxTimestamp returns the last timestamp of the trace, or nil if the body
// has not arrived yet.
func (c *TraceContainer) MaxTimestamp() *big.Int {
	if len(c.timeTable) == 0 {
		return nil
	}
	return new(big.Int).SetUint64(c.timeTable[len(c.timeTable)-1])
}

// ScopeNames returns the full names of all scopes in the design.
func (c *TraceContainer) ScopeNames() []string { return c.hierarchy.ScopeNames() }

// VariableNames returns the full names of all variables in the design.
func (c *TraceContainer) VariableNames() []string { return c.hierarchy.VarNames() }

// RootScopes returns the root scopes of the design.
func (c *TraceContainer) RootScopes() []wavedefs.ScopeRef {
	out := make([]wavedefs.ScopeRef, 0, len(c.hierarchy.Roots))
	for _, i := range c.hierarchy.Roots {
		out = append(out, wavedefs.ScopeRef{
			Strs: []string{c.hierarchy.Scopes[i].Name},
			ID:   wavedefs.ScopeID(i),
		})
	}
	return out
}

// ChildScopes returns the children of a scope.
func (c *TraceContainer) ChildScopes(scope wavedefs.ScopeRef) ([]wavedefs.ScopeRef, error) {
	idx, err := c.scopeIndex(scope)
	if err != nil {
		return nil, err
	}
	children := c.hierarchy.Scopes[idx].Children
	out := make([]wavedefs.ScopeRef, 0, len(children))
	for _, i := range children {
		out = append(out, scope.WithSubscope(c.hierarchy.Scopes[i].Name, wavedefs.ScopeID(i)))
	}
	return out, nil
}

// ScopeExists reports whether the scope can be resolved. The empty ref
// refers to the toplevel and always exists.
func (c *TraceContainer) ScopeExists(scope wavedefs.ScopeRef) bool {
	if scope.Empty() {
		return true
	}
	_, err := c.scopeIndex(scope)
	return err == nil
}

// VariablesInScope returns the variables directly inside a scope. The empty
// ref lists toplevel variables. An unresolvable scope yields no variables.
func (c *TraceContainer) VariablesInScope(scope wavedefs.ScopeRef) []wavedefs.VariableRef {
	varIdxs := c.hierarchy.TopVars
	if !scope.Empty() {
		idx, err := c.scopeIndex(scope)
		if err != nil {
			logger.Printf("found no scope %q, defaulting to no variables", scope.String())
			return nil
		}
		varIdxs = c.hierarchy.Scopes[idx].Vars
	}
	out := make([]wavedefs.VariableRef, 0, len(varIdxs))
	for _, i := range varIdxs {
		out = append(out, wavedefs.VariableRef{
			Path: scope, Name: c.hierarchy.Vars[i].Name, ID: wavedefs.VarID(i),
		})
	}
	return out
}

// UpdateVariableRef looks the variable up by name and returns a new
// reference with a fresh handle. Handles from a previous container are not
// trusted; the lookup is by name only.
func (c *TraceContainer) UpdateVariableRef(ref wavedefs.VariableRef) (wavedefs.VariableRef, bool) {
	i, err := c.hierarchy.LookupVar(ref.Path.Strs, ref.Name)
	if err != nil {
		return wavedefs.VariableRef{}, false
	}
	newPath := ref.Path
	if !ref.Path.Empty() {
		if s, err := c.hierarchy.LookupScope(ref.Path.Strs); err == nil {
			newPath = ref.Path.WithID(wavedefs.ScopeID(s))
		}
	}
	return wavedefs.VariableRef{Path: newPath, Name: ref.Name, ID: wavedefs.VarID(i)}, true
}

// VariableMeta describes the variable.
func (c *TraceContainer) VariableMeta(ref wavedefs.VariableRef) (wavedefs.VariableMeta, error) {
	i, err := c.varIndex(ref)
	if err != nil {
		return wavedefs.VariableMeta{}, err
	}
	v := c.hierarchy.Vars[i]
	width := v.Width
	return wavedefs.VariableMeta{Var: ref, NumBits: &width, Kind: v.Kind}, nil
}

// LoadVariables requests the histories of the given variables.
// Refs that cannot be resolved are skipped. The returned command is nil if
// nothing needs to be dispatched right now: either everything is already
// loaded or requested, or the body has not arrived, or a previous command is
// still in flight; in the latter cases the pending set is dispatched by the
// next OnSignalsLoaded or AddBody.
func (c *TraceContainer) LoadVariables(refs []wavedefs.VariableRef) (*LoadSignalsCmd, error) {
	var ids []trace.SignalRef
	for _, ref := range refs {
		i, err := c.varIndex(ref)
		if err != nil {
			logger.Printf("failed to find variable %q: %v", ref.String(), err)
			continue
		}
		ids = append(ids, c.hierarchy.Vars[i].Signal)
	}
	return c.loadSignals(ids), nil
}

// OnSignalsLoaded installs delivered histories if they were issued by this
// container; a result from a superseded container leaves the state
// untouched. In both cases, signals requested in the meantime are dispatched
// as a new command.
func (c *TraceContainer) OnSignalsLoaded(res *LoadSignalsResult) (*LoadSignalsCmd, error) {
	if res.Generation == c.generation {
		// The command borrowed the source (or server URL); take it back.
		c.source = res.Source
		c.server = res.Server
		for _, sig := range res.Signals {
			c.signals[sig.Ref] = sig
			delete(c.toLoad, sig.Ref)
		}
		// Abandon failed refs instead of retrying them, so that a dead
		// server does not turn into a fetch loop. A later LoadVariables
		// call requests them again.
		for _, id := range res.Failed {
			delete(c.toLoad, id)
		}
	}
	return c.loadSignals(nil), nil
}

// loadSignals merges ids into the pending set and dispatches one command
// covering the whole set if the container is currently able to load. Taking
// the source (or the server URL) out of the container while the command is
// in flight guarantees at most one outstanding load command.
func (c *TraceContainer) loadSignals(ids []trace.SignalRef) *LoadSignalsCmd {
	for _, id := range ids {
		if _, loaded := c.signals[id]; !loaded {
			c.toLoad[id] = true
		}
	}
	if len(c.toLoad) == 0 || !c.bodyLoaded {
		return nil
	}
	switch {
	case c.server != "":
		cmd := &LoadSignalsCmd{
			Signals:    c.drainPending(),
			Generation: c.generation,
			Server:     c.server,
		}
		c.server = ""
		return cmd
	case c.source != nil:
		cmd := &LoadSignalsCmd{
			Signals:    c.drainPending(),
			Generation: c.generation,
			Source:     c.source,
			Hierarchy:  c.hierarchy,
		}
		c.source = nil
		return cmd
	default:
		// A previous command is in flight; it will requeue us.
		return nil
	}
}

func (c *TraceContainer) drainPending() []trace.SignalRef {
	ids := make([]trace.SignalRef, 0, len(c.toLoad))
	for id := range c.toLoad {
		ids = append(ids, id)
	}
	// Deterministic dispatch order.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// QueryVariable returns the variable's value at the given time and the time
// of its next change. A variable whose history has not been delivered yet
// yields an empty result rather than an error.
func (c *TraceContainer) QueryVariable(ref wavedefs.VariableRef, t *big.Int) (wavedefs.QueryResult, error) {
	i, err := c.varIndex(ref)
	if err != nil {
		return wavedefs.QueryResult{}, err
	}
	sig, ok := c.signals[c.hierarchy.Vars[i].Signal]
	if !ok {
		return wavedefs.QueryResult{}, nil
	}
	if idx, ok := c.timeToTableIdx(t); ok {
		if off, ok := sig.Offset(idx); ok {
			curTime := c.timeTable[sig.TimeIndices[off]]
			res := wavedefs.QueryResult{
				Current: &wavedefs.TimeValue{
					Time:  new(big.Int).SetUint64(curTime),
					Value: sig.Values[off],
				},
			}
			if off+1 < len(sig.TimeIndices) {
				next := c.timeTable[sig.TimeIndices[off+1]]
				res.Next = new(big.Int).SetUint64(next)
			}
			return res, nil
		}
	}
	// No change at or before the requested time.
	res := wavedefs.QueryResult{}
	if first, ok := sig.FirstTimeIdx(); ok {
		res.Next = new(big.Int).SetUint64(c.timeTable[first])
	}
	return res, nil
}

// timeToTableIdx returns the greatest time table index whose timestamp is at
// or before t.
func (c *TraceContainer) timeToTableIdx(t *big.Int) (uint32, bool) {
	if len(c.timeTable) == 0 || t.Sign() < 0 {
		return 0, false
	}
	if !t.IsUint64() {
		// Beyond any representable timestamp; the last entry wins.
		return uint32(len(c.timeTable) - 1), true
	}
	tv := t.Uint64()
	if c.timeTable[0] > tv {
		return 0, false
	}
	n := sort.Search(len(c.timeTable), func(i int) bool { return c.timeTable[i] > tv })
	return uint32(n - 1), true
}

func (c *TraceContainer) scopeIndex(scope wavedefs.ScopeRef) (int, error) {
	if i := int(scope.ID); scope.ID != wavedefs.NoID && i < len(c.hierarchy.Scopes) {
		return i, nil
	}
	return c.hierarchy.LookupScope(scope.Strs)
}

func (c *TraceContainer) varIndex(ref wavedefs.VariableRef) (int, error) {
	if i := int(ref.ID); ref.ID != wavedefs.NoID && i < len(c.hierarchy.Vars) {
		return i, nil
	}
	return c.hierarchy.LookupVar(ref.Path.Strs, ref.Name)
}
