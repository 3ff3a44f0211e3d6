package shell

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/voltai-inc/Surfer-sub001/pkg/config"
	"github.com/voltai-inc/Surfer-sub001/pkg/prog"
)

// Program is the interactive viewer subprogram. It runs when -serve is not
// given.
var Program prog.Program = program{}

type program struct{}

func (program) Run(fds [3]*os.File, f *prog.Flags, args []string) error {
	if f.Serve {
		return prog.ErrNotSuitable
	}
	if len(args) > 1 {
		return prog.BadUsage("accepts at most one trace file or server URL")
	}
	cfg, err := config.Load(f.Config)
	if err != nil {
		return err
	}

	sh := New(cfg)
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case f.Sim != "":
		sh.ConnectSim(ctx, f.Sim)
	case len(args) == 1:
		if isURL(args[0]) {
			sh.ConnectURL(ctx, args[0])
		} else {
			sh.LoadFile(args[0])
		}
	case cfg.Sim.Address != "":
		sh.ConnectSim(ctx, cfg.Sim.Address)
	default:
		return prog.BadUsage("requires a trace file, a server URL or -sim")
	}

	fmt.Fprintln(fds[1], "viewer is running; press Ctrl-C to quit")
	err = sh.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
