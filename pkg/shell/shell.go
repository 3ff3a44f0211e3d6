// Package shell ties the waveform backends to a message loop.
//
// All backend state lives on a single goroutine, the one that calls Run or
// HandleMessage. Loaders and the signal fetchers run on their own goroutines
// and report back by posting messages; they never touch the container
// directly.
package shell

import (
	"context"
	"strings"
	"time"

	"github.com/voltai-inc/Surfer-sub001/pkg/config"
	"github.com/voltai-inc/Surfer-sub001/pkg/logutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/remote"
	"github.com/voltai-inc/Surfer-sub001/pkg/sim"
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

var logger = logutil.GetLogger("[shell] ")

const messageBacklog = 256

// Shell owns the waveform container and the message queue feeding it.
type Shell struct {
	cfg  *config.Config
	msgs chan Message

	waves      *waves.Container
	lastStatus *remote.Status
	// Name of the loaded trace file, or the URL of the remote server.
	source string
	format trace.FileFormat

	// OnRedraw, if set, is invoked from the loop goroutine whenever a
	// backend asked for a repaint.
	OnRedraw func()
}

// New creates a shell with an empty waveform container.
func New(cfg *config.Config) *Shell {
	return &Shell{
		cfg:   cfg,
		msgs:  make(chan Message, messageBacklog),
		waves: waves.NewEmpty(),
	}
}

// Waves returns the current waveform container. Only call this from the loop
// goroutine.
func (sh *Shell) Waves() *waves.Container { return sh.waves }

// Source returns what is being displayed: a trace file name, a server URL,
// or the empty string before anything is loaded.
func (sh *Shell) Source() string { return sh.source }

// Format returns the file format of the loaded trace.
func (sh *Shell) Format() trace.FileFormat { return sh.format }

// Progress returns the load progress reported by the remote server, if any.
func (sh *Shell) Progress() (loaded, total uint64, ok bool) {
	if sh.lastStatus == nil {
		return 0, 0, false
	}
	return sh.lastStatus.BytesLoaded, sh.lastStatus.Bytes, true
}

// post delivers a message from a background goroutine. Data messages must not
// be dropped, so this blocks when the queue is full.
func (sh *Shell) post(m Message) { sh.msgs <- m }

// notifier adapts the shell's queue to wavedefs.Notifier. Redraw requests
// coalesce: when the queue is full one is already pending.
type notifier struct{ sh *Shell }

func (n notifier) RequestRedraw() {
	select {
	case n.sh.msgs <- Redraw{}:
	default:
	}
}

func (n notifier) Error(err error) {
	select {
	case n.sh.msgs <- ErrorMessage{err}:
	default:
		logger.Printf("dropping error, queue full: %v", err)
	}
}

// Notifier returns the handle backends use to reach the shell. It is safe to
// share across goroutines.
func (sh *Shell) Notifier() wavedefs.Notifier { return notifier{sh} }

// LoadFile parses the named trace file in the background. The hierarchy is
// posted as soon as the header is read; the body follows.
func (sh *Shell) LoadFile(fname string) {
	go func() {
		header, err := trace.ReadHeaderFromFile(fname)
		if err != nil {
			sh.post(ErrorMessage{err})
			return
		}
		sh.post(HierarchyLoaded{
			Hierarchy: header.Hierarchy, Format: header.Format, Filename: fname})
		body, err := header.ReadBody(nil)
		if err != nil {
			sh.post(ErrorMessage{err})
			return
		}
		sh.post(BodyLoaded{waves.BodyResult{TimeTable: body.TimeTable, Source: body.Source}})
	}()
}

// ConnectURL attaches to a remote streaming server. The hierarchy and time
// table are fetched in the background, then the server is polled until it has
// the whole trace in memory.
func (sh *Shell) ConnectURL(ctx context.Context, url string) {
	url = strings.TrimSuffix(url, "/")
	go func() {
		resp, err := remote.GetHierarchy(ctx, url)
		if err != nil {
			sh.post(ErrorMessage{err})
			return
		}
		sh.post(HierarchyLoaded{
			Hierarchy: resp.Hierarchy, Format: resp.FileFormat, Server: url})
		table, err := remote.GetTimeTable(ctx, url)
		if err != nil {
			sh.post(ErrorMessage{err})
			return
		}
		sh.post(BodyLoaded{waves.BodyResult{TimeTable: table, Server: url}})
		sh.pollStatus(ctx, url)
	}()
}

func (sh *Shell) pollStatus(ctx context.Context, url string) {
	for {
		status, err := remote.GetStatus(ctx, url)
		if err != nil {
			if ctx.Err() == nil {
				sh.post(ErrorMessage{err})
			}
			return
		}
		sh.post(StatusReceived{status})
		if status.BytesLoaded >= status.Bytes {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sh.cfg.PollInterval()):
		}
	}
}

// ConnectSim attaches to a live simulator at the given TCP address.
func (sh *Shell) ConnectSim(ctx context.Context, addr string) {
	notifier := sh.Notifier()
	go func() {
		ctr, err := sim.Dial(ctx, addr, notifier)
		if err != nil {
			sh.post(ErrorMessage{err})
			return
		}
		sh.post(SimConnected{ctr})
	}()
}

// LoadVariables asks the backend for the given variables and dispatches any
// resulting fetch.
func (sh *Shell) LoadVariables(refs []wavedefs.VariableRef) {
	cmd, err := sh.waves.LoadVariables(refs)
	if err != nil {
		logger.Printf("load variables: %v", err)
		return
	}
	sh.dispatch(cmd)
}

// HandleMessage applies one message to the shell state.
func (sh *Shell) HandleMessage(m Message) {
	switch m := m.(type) {
	case HierarchyLoaded:
		var tc *waves.TraceContainer
		if m.Server != "" {
			tc = waves.NewRemoteTraceContainer(m.Hierarchy, m.Server)
		} else {
			tc = waves.NewTraceContainer(m.Hierarchy)
		}
		sh.waves = waves.NewTrace(tc)
		sh.format = m.Format
		if m.Server != "" {
			sh.source = m.Server
		} else {
			sh.source = m.Filename
		}
		sh.requestRedraw()
	case BodyLoaded:
		cmd, err := sh.waves.AddBody(m.Body)
		if err != nil {
			logger.Printf("add body: %v", err)
			return
		}
		sh.dispatch(cmd)
		sh.requestRedraw()
	case SignalsLoaded:
		cmd, err := sh.waves.OnSignalsLoaded(m.Result)
		if err != nil {
			logger.Printf("signals loaded: %v", err)
			return
		}
		sh.dispatch(cmd)
		sh.requestRedraw()
	case StatusReceived:
		sh.lastStatus = m.Status
		sh.requestRedraw()
	case SimConnected:
		sh.waves = waves.NewSim(m.Container)
		sh.requestRedraw()
	case Redraw:
		if sh.OnRedraw != nil {
			sh.OnRedraw()
		}
	case ErrorMessage:
		logger.Printf("error: %v", m.Err)
		sh.requestRedraw()
	}
}

func (sh *Shell) requestRedraw() {
	if sh.OnRedraw != nil {
		sh.OnRedraw()
	}
}

// dispatch runs a signal load command in the background. The command carries
// the source it borrowed from the container; the result returns it even when
// the fetch failed, so that later loads are not wedged.
func (sh *Shell) dispatch(cmd *waves.LoadSignalsCmd) {
	if cmd == nil {
		return
	}
	go func() {
		if cmd.Server != "" {
			signals, err := remote.GetSignals(context.Background(), cmd.Server, cmd.Signals)
			if err != nil {
				sh.post(ErrorMessage{err})
				sh.post(SignalsLoaded{waves.RemoteFailure(cmd.Server, cmd.Signals, cmd.Generation)})
				return
			}
			sh.post(SignalsLoaded{waves.RemoteResult(cmd.Server, signals, cmd.Generation)})
			return
		}
		signals := cmd.Source.LoadSignals(cmd.Signals)
		sh.post(SignalsLoaded{waves.LocalResult(cmd.Source, signals, cmd.Generation)})
	}()
}

// PumpOnce handles all queued messages without blocking and returns how many
// it handled.
func (sh *Shell) PumpOnce() int {
	n := 0
	for {
		select {
		case m := <-sh.msgs:
			sh.HandleMessage(m)
			n++
		default:
			return n
		}
	}
}

// Run drives the message loop until the context is canceled. A ticker keeps
// the simulator backend pumped even when no messages arrive.
func (sh *Shell) Run(ctx context.Context) error {
	ticker := time.NewTicker(sh.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-sh.msgs:
			sh.HandleMessage(m)
		case <-ticker.C:
			sh.waves.Tick()
		}
	}
}
