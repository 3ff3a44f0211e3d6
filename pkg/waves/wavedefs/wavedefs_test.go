package wavedefs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScopeRef(t *testing.T) {
	top := NewScopeRef()
	if !top.Empty() {
		t.Errorf("empty ref not Empty")
	}
	if top.Name() != "" || top.String() != "" {
		t.Errorf("empty ref has Name %q, String %q", top.Name(), top.String())
	}

	tb := ScopeRefFromHierarchyString("tb")
	dut := tb.WithSubscope("dut", 3)
	if dut.String() != "tb.dut" {
		t.Errorf("String = %q, want %q", dut.String(), "tb.dut")
	}
	if dut.Name() != "dut" {
		t.Errorf("Name = %q, want %q", dut.Name(), "dut")
	}
	if dut.ID != 3 {
		t.Errorf("ID = %d, want 3", dut.ID)
	}
	// The parent ref must not see the appended segment.
	if tb.String() != "tb" {
		t.Errorf("parent mutated to %q", tb.String())
	}
}

func TestVariableRef(t *testing.T) {
	v := VariableRefFromHierarchyString("tb.dut.data")
	if diff := cmp.Diff([]string{"tb", "dut", "data"}, v.FullPath()); diff != "" {
		t.Errorf("FullPath mismatch (-want +got):\n%s", diff)
	}
	if v.String() != "tb.dut.data" {
		t.Errorf("String = %q, want %q", v.String(), "tb.dut.data")
	}
	if v.ID != NoID {
		t.Errorf("ID = %d, want NoID", v.ID)
	}

	topVar := VariableRefFromHierarchyString("clk")
	if !topVar.Path.Empty() {
		t.Errorf("toplevel variable has non-empty path %q", topVar.Path.String())
	}
	if topVar.String() != "clk" {
		t.Errorf("String = %q, want %q", topVar.String(), "clk")
	}

	withID := VariableRef{Path: NewScopeRef("tb"), Name: "clk", ID: 7}
	withID.ClearID()
	if withID.ID != NoID {
		t.Errorf("ClearID left ID %d", withID.ID)
	}
}
