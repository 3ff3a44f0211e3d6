package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/voltai-inc/Surfer-sub001/pkg/remote"
	"github.com/voltai-inc/Surfer-sub001/pkg/testutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
)

const testVcd = `$timescale 1ns $end
$scope module tb $end
$var wire 1 ! clk $end
$scope module dut $end
$var wire 8 " data $end
$upscope $end
$upscope $end
$enddefinitions $end
#0
0!
b10100101 "
#10
1!
#20
0!
b1011010 "
`

const testToken = "testtoken123"

func startServer(t *testing.T, opts Options) string {
	t.Helper()
	testutil.InTempDir(t)
	testutil.MustWriteFile("trace.vcd", testVcd)
	opts.Filename = "trace.vcd"
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New -> error %v", err)
	}
	url, err := s.Listen(0)
	if err != nil {
		t.Fatalf("Listen -> error %v", err)
	}
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return url
}

func TestServer_GetStatus(t *testing.T) {
	url := startServer(t, Options{Token: testToken, DisableCache: true})
	status, err := remote.GetStatus(context.Background(), url)
	if err != nil {
		t.Fatalf("GetStatus -> error %v", err)
	}
	if status.Filename != "trace.vcd" {
		t.Errorf("status filename = %q, want trace.vcd", status.Filename)
	}
	if status.FileFormat != trace.FormatVcd {
		t.Errorf("status file format = %v, want VCD", status.FileFormat)
	}
	if status.Bytes == 0 {
		t.Errorf("status bytes = 0, want the file size")
	}
}

func TestServer_RejectsBadToken(t *testing.T) {
	url := startServer(t, Options{Token: testToken, DisableCache: true})
	base := url[:strings.LastIndex(url, "/")]

	for _, bad := range []string{base + "/wrongtoken9", base} {
		resp, err := http.Get(bad + "/get_status")
		if err != nil {
			t.Fatalf("Get(%s) -> error %v", bad, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Get(%s) -> %d, want 404", bad, resp.StatusCode)
		}
		if _, err := remote.GetStatus(context.Background(), bad); err == nil {
			t.Errorf("GetStatus with bad token -> no error")
		}
	}
}

func TestServer_InfoPage(t *testing.T) {
	url := startServer(t, Options{Token: testToken, DisableCache: true})
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Get(info page) -> error %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(remote.ServerHeader); got != remote.ServerHeaderValue {
		t.Errorf("info page server header = %q, want %q", got, remote.ServerHeaderValue)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "trace.vcd") {
		t.Errorf("info page does not mention the trace file:\n%s", body)
	}
	if !strings.Contains(string(body), url) {
		t.Errorf("info page does not contain the connection URL:\n%s", body)
	}
}

func TestServer_InfoPageEscapesFilename(t *testing.T) {
	testutil.InTempDir(t)
	testutil.MustWriteFile("trace<i>.vcd", testVcd)
	s, err := New(Options{Token: testToken, Filename: "trace<i>.vcd", DisableCache: true})
	if err != nil {
		t.Fatalf("New -> error %v", err)
	}
	page := s.infoPage()
	if strings.Contains(page, "trace<i>.vcd") {
		t.Errorf("info page contains unescaped filename:\n%s", page)
	}
	if !strings.Contains(page, "trace&lt;i&gt;.vcd") {
		t.Errorf("info page does not contain the escaped filename:\n%s", page)
	}
}

func TestServer_GetHierarchy(t *testing.T) {
	url := startServer(t, Options{Token: testToken, DisableCache: true})
	resp, err := remote.GetHierarchy(context.Background(), url)
	if err != nil {
		t.Fatalf("GetHierarchy -> error %v", err)
	}
	if resp.FileFormat != trace.FormatVcd {
		t.Errorf("file format = %v, want VCD", resp.FileFormat)
	}
	wantScopes := []string{"tb", "tb.dut"}
	if diff := cmp.Diff(wantScopes, resp.Hierarchy.ScopeNames()); diff != "" {
		t.Errorf("scope names (-want +got):\n%s", diff)
	}
	wantVars := []string{"tb.clk", "tb.dut.data"}
	if diff := cmp.Diff(wantVars, resp.Hierarchy.VarNames()); diff != "" {
		t.Errorf("var names (-want +got):\n%s", diff)
	}
}

func TestServer_GetTimeTable(t *testing.T) {
	url := startServer(t, Options{Token: testToken, DisableCache: true})
	table, err := remote.GetTimeTable(context.Background(), url)
	if err != nil {
		t.Fatalf("GetTimeTable -> error %v", err)
	}
	if diff := cmp.Diff(trace.TimeTable{0, 10, 20}, table); diff != "" {
		t.Errorf("time table (-want +got):\n%s", diff)
	}
}

func TestServer_GetSignals(t *testing.T) {
	url := startServer(t, Options{Token: testToken, DisableCache: true})
	ctx := context.Background()

	h, err := remote.GetHierarchy(ctx, url)
	if err != nil {
		t.Fatalf("GetHierarchy -> error %v", err)
	}
	clkIdx, err := h.Hierarchy.LookupVar([]string{"tb"}, "clk")
	if err != nil {
		t.Fatalf("LookupVar(tb.clk) -> error %v", err)
	}
	dataIdx, err := h.Hierarchy.LookupVar([]string{"tb", "dut"}, "data")
	if err != nil {
		t.Fatalf("LookupVar(tb.dut.data) -> error %v", err)
	}
	ids := []trace.SignalRef{
		h.Hierarchy.Vars[clkIdx].Signal, h.Hierarchy.Vars[dataIdx].Signal,
	}

	signals, err := remote.GetSignals(ctx, url, ids)
	if err != nil {
		t.Fatalf("GetSignals -> error %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("GetSignals -> %d signals, want 2", len(signals))
	}
	clk := signals[0]
	if diff := cmp.Diff([]string{"0", "1", "0"}, clk.Values); diff != "" {
		t.Errorf("clk values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0, 1, 2}, clk.TimeIndices); diff != "" {
		t.Errorf("clk time indices (-want +got):\n%s", diff)
	}
	data := signals[1]
	if diff := cmp.Diff([]string{"10100101", "1011010"}, data.Values); diff != "" {
		t.Errorf("data values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0, 2}, data.TimeIndices); diff != "" {
		t.Errorf("data time indices (-want +got):\n%s", diff)
	}

	// A repeated request is served from the state map.
	again, err := remote.GetSignals(ctx, url, ids[:1])
	if err != nil {
		t.Fatalf("second GetSignals -> error %v", err)
	}
	if len(again) != 1 || again[0].Ref != ids[0] {
		t.Errorf("second GetSignals -> %v", again)
	}
}

func TestServer_SignalCachePersists(t *testing.T) {
	testutil.InTempDir(t)
	testutil.MustWriteFile("trace.vcd", testVcd)
	ctx := context.Background()

	fetch := func() []*trace.Signal {
		s, err := New(Options{Token: testToken, Filename: "trace.vcd"})
		if err != nil {
			t.Fatalf("New -> error %v", err)
		}
		url, err := s.Listen(0)
		if err != nil {
			t.Fatalf("Listen -> error %v", err)
		}
		go s.Serve()
		defer s.Close()
		signals, err := remote.GetSignals(ctx, url, []trace.SignalRef{0, 1})
		if err != nil {
			t.Fatalf("GetSignals -> error %v", err)
		}
		return signals
	}

	first := fetch()
	// A second server over the same trace serves identical signals, now
	// seeded from the on-disk cache.
	second := fetch()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached signals differ from first load (-first +second):\n%s", diff)
	}
}

func TestNew_RejectsShortToken(t *testing.T) {
	testutil.InTempDir(t)
	testutil.MustWriteFile("trace.vcd", testVcd)
	if _, err := New(Options{Token: "short", Filename: "trace.vcd"}); err == nil {
		t.Errorf("New with 5-char token -> no error")
	}
}

func TestServer_CloseStopsServeCleanly(t *testing.T) {
	testutil.InTempDir(t)
	testutil.MustWriteFile("trace.vcd", testVcd)
	s, err := New(Options{Token: testToken, Filename: "trace.vcd", DisableCache: true})
	if err != nil {
		t.Fatalf("New -> error %v", err)
	}
	if _, err := s.Listen(0); err != nil {
		t.Fatalf("Listen -> error %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()
	if err := s.Close(); err != nil {
		t.Errorf("Close -> error %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve after Close -> error %v, want nil", err)
		}
	case <-time.After(testutil.Scaled(5 * time.Second)):
		t.Fatalf("Serve did not return after Close")
	}
}

func TestRandomToken(t *testing.T) {
	token := randomToken()
	if len(token) != randTokenLen {
		t.Errorf("len(randomToken()) = %d, want %d", len(token), randTokenLen)
	}
	if token == randomToken() {
		t.Errorf("two random tokens are equal")
	}
	for _, r := range token {
		if !strings.ContainsRune(tokenAlphabet, r) {
			t.Errorf("token %q contains %q outside the alphabet", token, r)
		}
	}
}
