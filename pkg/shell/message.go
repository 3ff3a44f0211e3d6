package shell

import (
	"github.com/voltai-inc/Surfer-sub001/pkg/remote"
	"github.com/voltai-inc/Surfer-sub001/pkg/sim"
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves"
)

// Message is a unit of work posted to the shell's loop by background
// goroutines.
type Message interface{ isMessage() }

// HierarchyLoaded announces a freshly parsed or fetched hierarchy. The shell
// replaces its container with a new trace backend; Server is set when the
// trace lives on a remote server.
type HierarchyLoaded struct {
	Hierarchy *trace.Hierarchy
	Format    trace.FileFormat
	Filename  string
	Server    string
}

// BodyLoaded delivers the trace body.
type BodyLoaded struct {
	Body waves.BodyResult
}

// SignalsLoaded delivers the result of a signal load command.
type SignalsLoaded struct {
	Result *waves.LoadSignalsResult
}

// StatusReceived delivers a remote server status poll result.
type StatusReceived struct {
	Status *remote.Status
}

// SimConnected announces an established simulator session.
type SimConnected struct {
	Container *sim.Container
}

// Redraw asks the display layer to repaint.
type Redraw struct{}

// ErrorMessage reports a failure from a background goroutine.
type ErrorMessage struct {
	Err error
}

func (HierarchyLoaded) isMessage() {}
func (BodyLoaded) isMessage()      {}
func (SignalsLoaded) isMessage()   {}
func (StatusReceived) isMessage()  {}
func (SimConnected) isMessage()    {}
func (Redraw) isMessage()          {}
func (ErrorMessage) isMessage()    {}
