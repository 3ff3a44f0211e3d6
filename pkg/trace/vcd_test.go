package trace

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/voltai-inc/Surfer-sub001/pkg/testutil"
)

const testVcd = `$date today $end
$version handwritten $end
$timescale 1 ns $end
$scope module tb $end
$var wire 1 ! clk $end
$scope module dut $end
$var wire 8 " data [7:0] $end
$var wire 1 ! clk_copy $end
$upscope $end
$upscope $end
$enddefinitions $end
#0
$dumpvars
0!
b10100101 "
$end
#10
1!
#20
0!
b1011010 "
`

func TestReadHeader(t *testing.T) {
	h, err := ReadHeader(strings.NewReader(testVcd))
	if err != nil {
		t.Fatalf("ReadHeader -> error %v", err)
	}
	hier := h.Hierarchy
	if hier.Version != "handwritten" {
		t.Errorf("Version = %q, want %q", hier.Version, "handwritten")
	}
	if hier.Timescale != "1ns" {
		t.Errorf("Timescale = %q, want %q", hier.Timescale, "1ns")
	}
	wantScopes := []Scope{
		{Name: "tb", Kind: "module", Parent: -1, Children: []int{1}, Vars: []int{0}},
		{Name: "dut", Kind: "module", Parent: 0, Vars: []int{1, 2}},
	}
	if diff := cmp.Diff(wantScopes, hier.Scopes, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Scopes mismatch (-want +got):\n%s", diff)
	}
	wantVars := []Var{
		{Name: "clk", Kind: "wire", Width: 1, Scope: 0, Signal: 0},
		{Name: "data", Kind: "wire", Width: 8, Scope: 1, Signal: 1},
		// Same id code as clk, so the same signal.
		{Name: "clk_copy", Kind: "wire", Width: 1, Scope: 1, Signal: 0},
	}
	if diff := cmp.Diff(wantVars, hier.Vars); diff != "" {
		t.Errorf("Vars mismatch (-want +got):\n%s", diff)
	}
	if hier.NumSignals != 2 {
		t.Errorf("NumSignals = %d, want 2", hier.NumSignals)
	}
	if h.Format != FormatVcd {
		t.Errorf("Format = %v, want %v", h.Format, FormatVcd)
	}
}

func TestReadHeader_Errors(t *testing.T) {
	tests := []struct {
		name, src string
	}{
		{"truncated declarations", "$scope module tb $end\n"},
		{"upscope without scope", "$upscope $end\n$enddefinitions $end\n"},
		{"malformed var width", "$var wire eight ! x $end\n$enddefinitions $end\n"},
		{"malformed scope", "$scope module $end\n$enddefinitions $end\n"},
		{"truncated declaration body", "$comment never ends\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ReadHeader(strings.NewReader(test.src)); err == nil {
				t.Errorf("ReadHeader -> no error")
			}
		})
	}
}

func TestReadBody(t *testing.T) {
	h, err := ReadHeader(strings.NewReader(testVcd))
	if err != nil {
		t.Fatalf("ReadHeader -> error %v", err)
	}
	body, err := h.ReadBody(nil)
	if err != nil {
		t.Fatalf("ReadBody -> error %v", err)
	}
	if diff := cmp.Diff(TimeTable{0, 10, 20}, body.TimeTable); diff != "" {
		t.Errorf("TimeTable mismatch (-want +got):\n%s", diff)
	}
	want := []*Signal{
		{Ref: 0, TimeIndices: []uint32{0, 1, 2}, Values: []string{"0", "1", "0"}},
		{Ref: 1, TimeIndices: []uint32{0, 2}, Values: []string{"10100101", "1011010"}},
	}
	got := body.Source.LoadSignals([]SignalRef{0, 1})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("signals mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBody_LastChangeInTimeStepWins(t *testing.T) {
	src := "$var wire 1 ! x $end\n$enddefinitions $end\n#0\n0!\n1!\n#5\n0!\n"
	h, err := ReadHeader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadHeader -> error %v", err)
	}
	body, err := h.ReadBody(nil)
	if err != nil {
		t.Fatalf("ReadBody -> error %v", err)
	}
	want := &Signal{Ref: 0, TimeIndices: []uint32{0, 1}, Values: []string{"1", "0"}}
	got := body.Source.LoadSignals([]SignalRef{0})[0]
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("signal mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBody_InitialDumpBeforeFirstTimestamp(t *testing.T) {
	src := "$var wire 1 ! x $end\n$enddefinitions $end\n$dumpvars\nx!\n$end\n#10\n1!\n"
	h, err := ReadHeader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadHeader -> error %v", err)
	}
	body, err := h.ReadBody(nil)
	if err != nil {
		t.Fatalf("ReadBody -> error %v", err)
	}
	if diff := cmp.Diff(TimeTable{0, 10}, body.TimeTable); diff != "" {
		t.Errorf("TimeTable mismatch (-want +got):\n%s", diff)
	}
	got := body.Source.LoadSignals([]SignalRef{0})[0]
	want := &Signal{Ref: 0, TimeIndices: []uint32{0, 1}, Values: []string{"x", "1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("signal mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBody_Errors(t *testing.T) {
	tests := []struct {
		name, body string
	}{
		{"undeclared id", "#0\n0?\n"},
		{"malformed timestamp", "#zero\n"},
		{"scalar change without id", "#0\n0\n"},
		{"vector change without id", "#0\nb101\n"},
		{"unrecognized token", "#0\nwat\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			src := "$var wire 1 ! x $end\n$enddefinitions $end\n" + test.body
			h, err := ReadHeader(strings.NewReader(src))
			if err != nil {
				t.Fatalf("ReadHeader -> error %v", err)
			}
			if _, err := h.ReadBody(nil); err == nil {
				t.Errorf("ReadBody -> no error")
			}
		})
	}
}

func TestReadHeaderFromFile_Progress(t *testing.T) {
	testutil.InTempDir(t)
	testutil.MustWriteFile("trace.vcd", testVcd)
	h, err := ReadHeaderFromFile("trace.vcd")
	if err != nil {
		t.Fatalf("ReadHeaderFromFile -> error %v", err)
	}
	if h.HeaderLen == 0 || h.BodyLen == 0 {
		t.Errorf("HeaderLen = %d, BodyLen = %d, want both non-zero", h.HeaderLen, h.BodyLen)
	}
	var progress atomic.Uint64
	if _, err := h.ReadBody(&progress); err != nil {
		t.Fatalf("ReadBody -> error %v", err)
	}
	if got := progress.Load(); got != h.BodyLen {
		t.Errorf("final progress = %d, want %d", got, h.BodyLen)
	}
}
