package sim

import (
	"encoding/json"
	"strings"

	"github.com/voltai-inc/Surfer-sub001/pkg/must"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

// The simulator speaks version 0 of the cxxrtl debug protocol: null-delimited
// JSON messages over a byte stream. Client-to-server messages are a greeting
// or a command; server-to-client messages are a greeting, a response, an
// error or an event. Responses arrive in command order, so a response is
// paired with its command by position alone.

const protocolVersion = 0

// itemValuesEncoding is the only sample encoding we ask for: little-endian
// u32 words, base64-encoded.
const itemValuesEncoding = "base64(u32)"

// Client-to-server messages. One struct per message so that optional fields
// serialize as null exactly where the protocol has them.

type csGreeting struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
}

type csListScopes struct {
	Type    string  `json:"type"`
	Command string  `json:"command"`
	Scope   *string `json:"scope"`
}

type csListItems struct {
	Type    string  `json:"type"`
	Command string  `json:"command"`
	Scope   *string `json:"scope"`
}

type csGetSimulationStatus struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type csQueryInterval struct {
	Type               string       `json:"type"`
	Command            string       `json:"command"`
	Interval           [2]Timestamp `json:"interval"`
	Collapse           bool         `json:"collapse"`
	Items              *string      `json:"items"`
	ItemValuesEncoding string       `json:"item_values_encoding"`
	Diagnostics        bool         `json:"diagnostics"`
}

type csReferenceItems struct {
	Type      string     `json:"type"`
	Command   string     `json:"command"`
	Reference string     `json:"reference"`
	Items     [][]string `json:"items"`
}

type csRunSimulation struct {
	Type             string     `json:"type"`
	Command          string     `json:"command"`
	UntilTime        *Timestamp `json:"until_time"`
	UntilDiagnostics []string   `json:"until_diagnostics"`
	SampleItemValues bool       `json:"sample_item_values"`
}

type csPauseSimulation struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

func encodeGreeting() string {
	return encode(csGreeting{Type: "greeting", Version: protocolVersion})
}

func encodeListScopes(scope *string) string {
	return encode(csListScopes{Type: "command", Command: "list_scopes", Scope: scope})
}

func encodeListItems(scope *string) string {
	return encode(csListItems{Type: "command", Command: "list_items", Scope: scope})
}

func encodeGetSimulationStatus() string {
	return encode(csGetSimulationStatus{Type: "command", Command: "get_simulation_status"})
}

func encodeQueryInterval(from, to Timestamp, items string) string {
	return encode(csQueryInterval{
		Type: "command", Command: "query_interval",
		Interval:           [2]Timestamp{from, to},
		Collapse:           true,
		Items:              &items,
		ItemValuesEncoding: itemValuesEncoding,
		Diagnostics:        false,
	})
}

func encodeReferenceItems(reference string, items [][]string) string {
	return encode(csReferenceItems{
		Type: "command", Command: "reference_items",
		Reference: reference, Items: items,
	})
}

func encodeRunSimulation(until Timestamp) string {
	return encode(csRunSimulation{
		Type: "command", Command: "run_simulation",
		UntilTime:        &until,
		UntilDiagnostics: []string{},
		SampleItemValues: true,
	})
}

func encodePauseSimulation() string {
	return encode(csPauseSimulation{Type: "command", Command: "pause_simulation"})
}

// encode never fails for our own message types.
func encode(msg any) string {
	return string(must.OK1(json.Marshal(msg)))
}

// Server-to-client messages, decoded into one flat struct. Which fields are
// populated depends on Type, and for responses on Command.

type scMessage struct {
	Type string `json:"type"` // "greeting", "response", "error" or "event"

	// greeting
	Version int `json:"version"`

	// response; Command names the command this responds to
	Command    string             `json:"command"`
	Scopes     map[string]scScope `json:"scopes"` // list_scopes
	Items      map[string]scItem  `json:"items"`  // list_items
	Status     string             `json:"status"` // get_simulation_status
	LatestTime Timestamp          `json:"latest_time"`
	Samples    []sample           `json:"samples"` // query_interval
	Time       Timestamp          `json:"time"`    // pause_simulation, events

	// error
	Message string `json:"message"`

	// event
	Event string `json:"event"` // "simulation_paused" or "simulation_finished"
	Cause string `json:"cause"`
}

type scScope struct{}

type scItem struct {
	Width uint32 `json:"width"`
}

// sample is one row of a query_interval response: every referenced item's
// value at one point in time, packed and base64-encoded.
type sample struct {
	Time       Timestamp `json:"time"`
	ItemValues string    `json:"item_values"`
}

// Scope and item names on the wire are space-separated hierarchy paths.

func scopeRepr(s wavedefs.ScopeRef) string {
	return strings.Join(s.Strs, " ")
}

func varRepr(v wavedefs.VariableRef) string {
	return strings.Join(v.FullPath(), " ")
}

func scopeFromRepr(s string) wavedefs.ScopeRef {
	if s == "" {
		return wavedefs.ScopeRef{ID: wavedefs.NoID}
	}
	return wavedefs.NewScopeRef(strings.Split(s, " ")...)
}

func varFromRepr(s string) (wavedefs.VariableRef, bool) {
	parts := strings.Split(s, " ")
	if len(parts) == 0 || s == "" {
		return wavedefs.VariableRef{}, false
	}
	return wavedefs.NewVariableRef(
		wavedefs.NewScopeRef(parts[:len(parts)-1]...), parts[len(parts)-1]), true
}
