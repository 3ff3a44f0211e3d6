package sim

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voltai-inc/Surfer-sub001/pkg/testutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

type testNotifier struct {
	mu      sync.Mutex
	redraws int
	errs    []error
}

func (n *testNotifier) RequestRedraw() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redraws++
}

func (n *testNotifier) Error(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *testNotifier) errors() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.errs...)
}

// serve runs a scripted simulator on the server end of a pipe. The handler
// maps each incoming message to zero or more reply frames.
func serve(conn net.Conn, handle func(msg map[string]any) []string) {
	go func() {
		r := bufio.NewReader(conn)
		for {
			s, err := r.ReadString('\x00')
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSuffix(s, "\x00")), &m); err != nil {
				panic(fmt.Sprintf("sim test server got bad JSON %q: %v", s, err))
			}
			for _, reply := range handle(m) {
				if _, err := conn.Write(append([]byte(reply), 0)); err != nil {
					return
				}
			}
		}
	}()
}

// simHandler serves a two-scope design: top contains clk (1 bit), top.sub
// contains data (8 bits). It records run_simulation and pause_simulation
// commands.
type simHandler struct {
	mu       sync.Mutex
	status   string
	latest   string
	runUntil []string
	samples  []sample
}

func (h *simHandler) handle(m map[string]any) []string {
	switch m["type"] {
	case "greeting":
		return []string{`{"type": "greeting", "version": 0, "commands": [], "events": [], "features": {}}`}
	case "command":
		return h.handleCommand(m)
	default:
		panic(fmt.Sprintf("sim test server got message of type %v", m["type"]))
	}
}

func (h *simHandler) handleCommand(m map[string]any) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch m["command"] {
	case "list_scopes":
		return []string{`{"type": "response", "command": "list_scopes",
			"scopes": {"top": {}, "top sub": {}}}`}
	case "list_items":
		if m["scope"] == nil {
			return []string{`{"type": "response", "command": "list_items",
				"items": {"top clk": {"width": 1}, "top sub data": {"width": 8}}}`}
		}
		if m["scope"] == "top" {
			return []string{`{"type": "response", "command": "list_items",
				"items": {"top clk": {"width": 1}}}`}
		}
		return []string{`{"type": "response", "command": "list_items", "items": {}}`}
	case "get_simulation_status":
		return []string{fmt.Sprintf(
			`{"type": "response", "command": "get_simulation_status", "status": %q, "latest_time": %q}`,
			h.status, h.latest)}
	case "reference_items":
		return []string{`{"type": "response", "command": "reference_items"}`}
	case "query_interval":
		body, err := json.Marshal(h.samples)
		if err != nil {
			panic(err)
		}
		return []string{fmt.Sprintf(
			`{"type": "response", "command": "query_interval", "samples": %s}`, body)}
	case "run_simulation":
		h.runUntil = append(h.runUntil, m["until_time"].(string))
		return []string{`{"type": "response", "command": "run_simulation"}`}
	case "pause_simulation":
		return []string{fmt.Sprintf(
			`{"type": "response", "command": "pause_simulation", "time": %q}`, h.latest)}
	default:
		panic(fmt.Sprintf("sim test server got command %v", m["command"]))
	}
}

func startSim(t *testing.T, h *simHandler) *Container {
	t.Helper()
	client, server := net.Pipe()
	serve(server, h.handle)
	c := NewContainer(client, &testNotifier{})
	t.Cleanup(c.Close)
	return c
}

// tickUntil pumps the container until the condition holds.
func tickUntil(t *testing.T, c *Container, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testutil.Scaled(5 * time.Second))
	for time.Now().Before(deadline) {
		c.Tick()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestContainer_ScopesAndVariables(t *testing.T) {
	c := startSim(t, &simHandler{status: "paused", latest: "0.000000000001000"})

	tickUntil(t, c, "root scopes", func() bool { return len(c.RootScopes()) == 1 })
	if !c.RootScopes()[0].Empty() {
		t.Errorf("root scope is %q, want the nameless toplevel", c.RootScopes()[0])
	}

	children, err := c.ChildScopes(wavedefs.NewScopeRef())
	if err != nil {
		t.Fatalf("ChildScopes -> error %v", err)
	}
	if len(children) != 1 || children[0].String() != "top" {
		t.Fatalf("ChildScopes(toplevel) -> %v, want [top]", children)
	}
	sub, _ := c.ChildScopes(children[0])
	if len(sub) != 1 || sub[0].String() != "top.sub" {
		t.Fatalf("ChildScopes(top) -> %v, want [top.sub]", sub)
	}
	if !c.ScopeExists(children[0]) {
		t.Errorf("ScopeExists(top) -> false")
	}
	if c.ScopeExists(wavedefs.NewScopeRef("bogus")) {
		t.Errorf("ScopeExists(bogus) -> true")
	}

	var vars []wavedefs.VariableRef
	tickUntil(t, c, "variables in top", func() bool {
		vars = c.VariablesInScope(children[0])
		return len(vars) > 0
	})
	if len(vars) != 1 || vars[0].String() != "top.clk" {
		t.Errorf("VariablesInScope(top) -> %v, want [top.clk]", vars)
	}

	var meta wavedefs.VariableMeta
	tickUntil(t, c, "variable meta", func() bool {
		meta, _ = c.VariableMeta(wavedefs.VariableRefFromHierarchyString("top.sub.data"))
		return meta.NumBits != nil
	})
	if *meta.NumBits != 8 {
		t.Errorf("NumBits = %d, want 8", *meta.NumBits)
	}
}

func TestContainer_SimulationStatus(t *testing.T) {
	c := startSim(t, &simHandler{status: "running", latest: "0.000000000001000"})

	if _, ok := c.SimulationStatus(); ok {
		t.Errorf("SimulationStatus available before first response")
	}
	tickUntil(t, c, "status", func() bool { _, ok := c.SimulationStatus(); return ok })
	if status, _ := c.SimulationStatus(); status != wavedefs.SimRunning {
		t.Errorf("SimulationStatus -> %v, want running", status)
	}
	if got := c.MaxTimestamp(); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("MaxTimestamp -> %v, want 1000", got)
	}
}

func TestContainer_UnpauseRunsOneStep(t *testing.T) {
	h := &simHandler{status: "paused", latest: "0.000000000001000"}
	c := startSim(t, h)

	tickUntil(t, c, "status", func() bool { _, ok := c.SimulationStatus(); return ok })
	c.Unpause()
	tickUntil(t, c, "run_simulation command", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.runUntil) > 0
	})

	h.mu.Lock()
	until := h.runUntil[0]
	h.mu.Unlock()
	// 1000 fs of simulated time plus the 100 ns step.
	if want := "0.000000100001000"; until != want {
		t.Errorf("run_simulation until_time = %q, want %q", until, want)
	}
	tickUntil(t, c, "running status", func() bool {
		status, ok := c.SimulationStatus()
		return ok && status == wavedefs.SimRunning
	})
}

func TestContainer_PauseEventUpdatesStatus(t *testing.T) {
	client, server := net.Pipe()
	h := &simHandler{status: "running", latest: "0.000000000001000"}
	serve(server, h.handle)
	c := NewContainer(client, &testNotifier{})
	defer c.Close()

	tickUntil(t, c, "status", func() bool { _, ok := c.SimulationStatus(); return ok })

	// An unsolicited pause event from the simulator.
	event := `{"type": "event", "event": "simulation_paused", "time": "0.000000000002000", "cause": "until_time"}`
	if _, err := server.Write(append([]byte(event), 0)); err != nil {
		t.Fatalf("write event: %v", err)
	}
	tickUntil(t, c, "paused status", func() bool {
		status, ok := c.SimulationStatus()
		return ok && status == wavedefs.SimPaused
	})
	if got := c.MaxTimestamp(); got.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("MaxTimestamp after pause event -> %v, want 2000", got)
	}
}

func TestContainer_QueryVariable(t *testing.T) {
	// Samples pack clk into one u32 word and data into the next.
	pack := func(clk, data uint32) string {
		return base64.StdEncoding.EncodeToString([]byte{
			byte(clk), 0, 0, 0, byte(data), 0, 0, 0,
		})
	}
	h := &simHandler{
		status: "paused",
		latest: "0.000000000002000",
		samples: []sample{
			{Time: TimestampFromFemtoseconds(big.NewInt(0)), ItemValues: pack(1, 0xa5)},
			{Time: TimestampFromFemtoseconds(big.NewInt(1000)), ItemValues: pack(0, 0x5a)},
		},
	}
	c := startSim(t, h)

	clk := wavedefs.VariableRefFromHierarchyString("top.clk")
	data := wavedefs.VariableRefFromHierarchyString("top.sub.data")
	if err := c.LoadVariables([]wavedefs.VariableRef{clk, data}); err != nil {
		t.Fatalf("LoadVariables -> error %v", err)
	}

	var res wavedefs.QueryResult
	tickUntil(t, c, "query data", func() bool {
		var err error
		res, err = c.QueryVariable(clk, big.NewInt(500))
		if err != nil {
			t.Fatalf("QueryVariable -> error %v", err)
		}
		return res.Current != nil
	})
	if res.Current.Value != "1" || res.Current.Time.Sign() != 0 {
		t.Errorf("clk at 500 fs -> %q at %v, want 1 at 0", res.Current.Value, res.Current.Time)
	}
	if res.Next == nil || res.Next.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("next change -> %v, want 1000", res.Next)
	}

	res, _ = c.QueryVariable(data, big.NewInt(1500))
	if res.Current == nil || res.Current.Value != "01011010" {
		t.Errorf("data at 1500 fs -> %v, want 01011010", res.Current)
	}
	if res.Next != nil {
		t.Errorf("next change after last sample -> %v, want none", res.Next)
	}
}
