// Package sim implements the live simulator backend: a client for the
// cxxrtl debug protocol that fetches the design on demand, samples variable
// values with interval queries, and controls the simulation run state.
package sim

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"sort"

	"github.com/voltai-inc/Surfer-sub001/pkg/cache"
	"github.com/voltai-inc/Surfer-sub001/pkg/logutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

var logger = logutil.GetLogger("[sim] ")

// referenceName is the item reference under which all loaded variables are
// registered on the simulator, so that one interval query samples all of
// them.
const referenceName = "ALL_VARIABLES"

// unpauseStep is how far the simulation is run per unpause, in femtoseconds.
const unpauseStep = 100_000_000

// callback consumes the response to one command. Responses arrive in command
// order, so callbacks are queued and popped FIFO.
type callback func(msg *scMessage, d *data)

type itemInfo struct {
	Ref   wavedefs.VariableRef
	Width uint32
}

type statusInfo struct {
	Status     wavedefs.SimulationStatus
	LatestTime Timestamp
}

// data is the cached view of the simulator. Callbacks receive it explicitly
// so that they mutate the container's state without closing over the
// container itself.
type data struct {
	// Scope refs keyed by ref string.
	scopes cache.Cell[map[string]wavedefs.ScopeRef]
	// Per-scope variable lists, keyed by scope ref string.
	moduleItems map[string]*cache.Cell[[]wavedefs.VariableRef]
	// All items in the design, keyed by variable ref string.
	allItems cache.Cell[map[string]itemInfo]

	// queryResult tracks whether an interval query covering the simulated
	// range is outstanding or valid; its value is the end of the covered
	// range. The decoded samples live in queries.
	queryResult cache.Cell[Timestamp]
	queries     *queryIndex

	// Variables registered under referenceName, in registration order. The
	// order defines the packing of sample data.
	loadedSignals []wavedefs.VariableRef
	signalIndex   map[string]int

	status cache.Cell[statusInfo]

	notifier wavedefs.Notifier
}

func (d *data) onStatusUpdate(s statusInfo) {
	d.status.Fill(s)
	d.notifier.RequestRedraw()
	// New simulation time means the current interval query no longer
	// covers everything.
	d.invalidateQueryResult()
}

func (d *data) invalidateQueryResult() {
	d.queryResult.Invalidate()
	d.notifier.RequestRedraw()
}

// Container is a live simulator session. Apart from background decode work
// in the query index, all state is owned by the goroutine calling the
// container's methods.
type Container struct {
	data data
	conn *conn

	callbacks []callback

	disconnectedReported bool
}

// Dial connects to a simulator over TCP and starts the session.
func Dial(ctx context.Context, addr string, notifier wavedefs.Notifier) (*Container, error) {
	conn, err := dialConn(ctx, addr)
	if err != nil {
		return nil, err
	}
	return newContainer(conn, notifier), nil
}

// NewContainer starts a session on an established duplex stream. Used by
// Dial and by tests.
func NewContainer(rwc io.ReadWriteCloser, notifier wavedefs.Notifier) *Container {
	return newContainer(newConn(rwc), notifier)
}

func newContainer(conn *conn, notifier wavedefs.Notifier) *Container {
	c := &Container{
		conn: conn,
		data: data{
			moduleItems: make(map[string]*cache.Cell[[]wavedefs.VariableRef]),
			signalIndex: make(map[string]int),
			queries:     newQueryIndex(),
			notifier:    notifier,
		},
	}
	logger.Printf("sending greeting")
	c.conn.send(encodeGreeting())
	return c
}

// Close tears the connection down.
func (c *Container) Close() {
	c.conn.close()
}

// runCommand sends a command and queues the callback for its response.
func (c *Container) runCommand(msg string, cb callback) {
	c.callbacks = append(c.callbacks, cb)
	c.conn.send(msg)
}

// Tick drains everything the simulator has sent since the last tick. It
// never blocks.
func (c *Container) Tick() {
	for {
		select {
		case s, ok := <-c.conn.in:
			if !ok {
				if !c.disconnectedReported {
					logger.Printf("simulator disconnected")
					c.disconnectedReported = true
				}
				return
			}
			c.handleMessage(s)
		default:
			return
		}
	}
}

func (c *Container) handleMessage(s string) {
	var msg scMessage
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		logger.Printf("unrecognised message from simulator: %v", err)
		return
	}
	switch msg.Type {
	case "greeting":
		logger.Printf("simulator speaks protocol version %d", msg.Version)
	case "response":
		if len(c.callbacks) == 0 {
			logger.Printf("got a response with no outstanding command")
			return
		}
		cb := c.callbacks[0]
		c.callbacks = c.callbacks[1:]
		cb(&msg, &c.data)
	case "error":
		logger.Printf("simulator error: %q", msg.Message)
		// The errored command still consumes its callback slot.
		if len(c.callbacks) > 0 {
			c.callbacks = c.callbacks[1:]
		}
	case "event":
		c.handleEvent(&msg)
	default:
		logger.Printf("message with unknown type %q", msg.Type)
	}
}

func (c *Container) handleEvent(msg *scMessage) {
	switch msg.Event {
	case "simulation_paused":
		c.data.onStatusUpdate(statusInfo{Status: wavedefs.SimPaused, LatestTime: msg.Time})
	case "simulation_finished":
		c.data.onStatusUpdate(statusInfo{Status: wavedefs.SimFinished, LatestTime: msg.Time})
	default:
		logger.Printf("unknown event %q", msg.Event)
	}
}

func expectResponse(msg *scMessage, command string) bool {
	if msg.Command != command {
		logger.Printf("got response to %q, expected %q", msg.Command, command)
		return false
	}
	return true
}

func (c *Container) scopes() (map[string]wavedefs.ScopeRef, bool) {
	return c.data.scopes.FetchIfNeeded(func() {
		c.runCommand(encodeListScopes(nil), func(msg *scMessage, d *data) {
			if !expectResponse(msg, "list_scopes") {
				return
			}
			scopes := make(map[string]wavedefs.ScopeRef, len(msg.Scopes))
			for name := range msg.Scopes {
				ref := scopeFromRepr(name)
				scopes[ref.String()] = ref
			}
			d.scopes.Fill(scopes)
		})
	})
}

// RootScopes returns the design's root. On this protocol the root scope is
// always the nameless toplevel.
func (c *Container) RootScopes() []wavedefs.ScopeRef {
	if _, ok := c.scopes(); !ok {
		return nil
	}
	return []wavedefs.ScopeRef{wavedefs.NewScopeRef()}
}

// ChildScopes returns the scopes directly below parent.
func (c *Container) ChildScopes(parent wavedefs.ScopeRef) ([]wavedefs.ScopeRef, error) {
	scopes, ok := c.scopes()
	if !ok {
		return nil, nil
	}
	var out []wavedefs.ScopeRef
	for _, scope := range scopes {
		if len(scope.Strs) != len(parent.Strs)+1 {
			continue
		}
		match := true
		for i, seg := range parent.Strs {
			if scope.Strs[i] != seg {
				match = false
				break
			}
		}
		if match {
			out = append(out, scope)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// ScopeExists reports whether the scope is known to the simulator.
func (c *Container) ScopeExists(scope wavedefs.ScopeRef) bool {
	scopes, ok := c.scopes()
	if !ok {
		return false
	}
	_, found := scopes[scope.String()]
	return found
}

// ScopeNames returns the full names of all scopes.
func (c *Container) ScopeNames() []string {
	scopes, _ := c.scopes()
	names := make([]string, 0, len(scopes))
	for name := range scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariableNames returns the full names of all variables.
func (c *Container) VariableNames() []string {
	items, _ := c.fetchAllItems()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariablesInScope returns the variables directly inside a scope. The data
// is fetched per scope; an empty result may just mean the fetch is still in
// flight.
func (c *Container) VariablesInScope(scope wavedefs.ScopeRef) []wavedefs.VariableRef {
	key := scope.String()
	cell, ok := c.data.moduleItems[key]
	if !ok {
		cell = &cache.Cell[[]wavedefs.VariableRef]{}
		c.data.moduleItems[key] = cell
	}
	items, _ := cell.FetchIfNeeded(func() {
		repr := scopeRepr(scope)
		c.runCommand(encodeListItems(&repr), func(msg *scMessage, d *data) {
			if !expectResponse(msg, "list_items") {
				return
			}
			d.moduleItems[key].Fill(itemRefs(msg.Items))
		})
	})
	return items
}

// itemRefs converts a wire item map into sorted variable refs.
func itemRefs(items map[string]scItem) []wavedefs.VariableRef {
	out := make([]wavedefs.VariableRef, 0, len(items))
	for name := range items {
		ref, ok := varFromRepr(name)
		if !ok {
			logger.Printf("found an empty variable name, skipping")
			continue
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (c *Container) fetchAllItems() (map[string]itemInfo, bool) {
	return c.data.allItems.FetchIfNeeded(func() {
		c.runCommand(encodeListItems(nil), func(msg *scMessage, d *data) {
			if !expectResponse(msg, "list_items") {
				return
			}
			all := make(map[string]itemInfo, len(msg.Items))
			for name, item := range msg.Items {
				ref, ok := varFromRepr(name)
				if !ok {
					continue
				}
				all[ref.String()] = itemInfo{Ref: ref, Width: item.Width}
			}
			d.allItems.Fill(all)
		})
	})
}

// UpdateVariableRef re-resolves a reference. Names are the identity on this
// backend, so only the stale handle is dropped.
func (c *Container) UpdateVariableRef(ref wavedefs.VariableRef) (wavedefs.VariableRef, bool) {
	ref.ClearID()
	return ref, true
}

// VariableMeta describes a variable. The width is unknown until the item
// list has been fetched.
func (c *Container) VariableMeta(ref wavedefs.VariableRef) (wavedefs.VariableMeta, error) {
	meta := wavedefs.VariableMeta{Var: ref}
	if items, ok := c.fetchAllItems(); ok {
		if item, found := items[ref.String()]; found {
			width := item.Width
			meta.NumBits = &width
		}
	}
	return meta, nil
}

// LoadVariables registers the variables for sampling. Already registered
// variables keep their position; the whole reference is re-sent since the
// protocol replaces references wholesale.
func (c *Container) LoadVariables(refs []wavedefs.VariableRef) error {
	d := &c.data
	for _, ref := range refs {
		key := ref.String()
		if _, ok := d.signalIndex[key]; !ok {
			d.signalIndex[key] = len(d.loadedSignals)
			d.loadedSignals = append(d.loadedSignals, ref)
		}
	}
	items := make([][]string, len(d.loadedSignals))
	for i, s := range d.loadedSignals {
		items[i] = []string{varRepr(s)}
	}
	c.runCommand(encodeReferenceItems(referenceName, items), func(msg *scMessage, d *data) {
		logger.Printf("item references updated")
		d.invalidateQueryResult()
	})
	return nil
}

// QueryVariable returns the value of a variable at a time (in femtoseconds)
// and the time of the next sample. While the status, item list or interval
// query is still in flight it returns the empty result; the pending fetches
// will trigger a redraw when they land.
func (c *Container) QueryVariable(ref wavedefs.VariableRef, t *big.Int) (wavedefs.QueryResult, error) {
	status, ok := c.rawStatus()
	if !ok {
		return wavedefs.QueryResult{}, nil
	}
	items, ok := c.fetchAllItems()
	if !ok {
		return wavedefs.QueryResult{}, nil
	}

	end := status.LatestTime
	loaded := append([]wavedefs.VariableRef(nil), c.data.loadedSignals...)
	_, ok = c.data.queryResult.FetchIfNeeded(func() {
		logger.Printf("running interval query up to %s", end)
		widths := make(map[string]uint32, len(items))
		for name, item := range items {
			widths[name] = item.Width
		}
		c.runCommand(encodeQueryInterval(ZeroTimestamp(), end, referenceName),
			func(msg *scMessage, d *data) {
				if !expectResponse(msg, "query_interval") {
					return
				}
				d.queryResult.Fill(end)
				d.queries.populate(loaded, widths, msg.Samples, d.notifier)
			})
	})
	if !ok {
		return wavedefs.QueryResult{}, nil
	}
	return c.data.queries.query(ref, t), nil
}

func (c *Container) rawStatus() (statusInfo, bool) {
	return c.data.status.FetchIfNeeded(func() {
		c.runCommand(encodeGetSimulationStatus(), func(msg *scMessage, d *data) {
			if !expectResponse(msg, "get_simulation_status") {
				return
			}
			status, ok := statusFromWire(msg.Status)
			if !ok {
				logger.Printf("unknown simulation status %q", msg.Status)
				return
			}
			d.onStatusUpdate(statusInfo{Status: status, LatestTime: msg.LatestTime})
		})
	})
}

func statusFromWire(s string) (wavedefs.SimulationStatus, bool) {
	switch s {
	case "running":
		return wavedefs.SimRunning, true
	case "paused":
		return wavedefs.SimPaused, true
	case "finished":
		return wavedefs.SimFinished, true
	default:
		return 0, false
	}
}

// SimulationStatus returns the run state, or false before the first status
// has arrived.
func (c *Container) SimulationStatus() (wavedefs.SimulationStatus, bool) {
	status, ok := c.rawStatus()
	if !ok {
		return 0, false
	}
	return status.Status, true
}

// MaxTimestamp returns the latest simulated time in femtoseconds, or nil if
// no status has arrived yet.
func (c *Container) MaxTimestamp() *big.Int {
	status, ok := c.rawStatus()
	if !ok {
		return nil
	}
	return status.LatestTime.AsFemtoseconds()
}

// MaxDisplayedTimestamp returns the end of the range the current query data
// covers, or nil if no query has completed.
func (c *Container) MaxDisplayedTimestamp() *big.Int {
	end, ok := c.data.queryResult.Get()
	if !ok {
		return nil
	}
	return end.AsFemtoseconds()
}

// Unpause runs the simulation a short step beyond its latest time. Sustained
// running comes from the caller unpausing again once the resulting pause
// event arrives.
func (c *Container) Unpause() {
	base := new(big.Int)
	if status, ok := c.rawStatus(); ok {
		base = status.LatestTime.AsFemtoseconds()
	}
	until := TimestampFromFemtoseconds(base.Add(base, big.NewInt(unpauseStep)))
	c.runCommand(encodeRunSimulation(until), func(msg *scMessage, d *data) {
		logger.Printf("unpausing simulation")
		d.status.Fill(statusInfo{Status: wavedefs.SimRunning, LatestTime: ZeroTimestamp()})
	})
}

// Pause asks the simulator to pause. The new status is applied when the
// response arrives.
func (c *Container) Pause() {
	c.runCommand(encodePauseSimulation(), func(msg *scMessage, d *data) {
		if !expectResponse(msg, "pause_simulation") {
			return
		}
		d.onStatusUpdate(statusInfo{Status: wavedefs.SimPaused, LatestTime: msg.Time})
	})
}
