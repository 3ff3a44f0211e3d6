package server

import (
	"fmt"
	"os"

	"github.com/voltai-inc/Surfer-sub001/pkg/config"
	"github.com/voltai-inc/Surfer-sub001/pkg/prog"
)

const defaultPort = 8911

// Program is the remote streaming server subprogram. It runs when -serve is
// given.
var Program prog.Program = program{}

type program struct{}

func (program) Run(fds [3]*os.File, f *prog.Flags, args []string) error {
	if !f.Serve {
		return prog.ErrNotSuitable
	}
	if len(args) != 1 {
		return prog.BadUsage("-serve requires exactly one trace file")
	}
	cfg, err := config.Load(f.Config)
	if err != nil {
		return err
	}

	port := f.Port
	if port == 0 {
		port = cfg.Server.Port
	}
	if port == 0 {
		port = defaultPort
	}
	if port < 0 || port > 65535 {
		return prog.BadUsage(fmt.Sprintf("port %d is out of range", port))
	}
	token := f.Token
	if token == "" {
		token = cfg.Server.Token
	}

	s, err := New(Options{Token: token, Filename: args[0]})
	if err != nil {
		return err
	}
	url, err := s.Listen(uint16(port))
	if err != nil {
		return err
	}
	fmt.Fprintln(fds[1], "Server is up. Connect the viewer with:")
	fmt.Fprintln(fds[1], "  surfview", url)
	return s.Serve()
}
