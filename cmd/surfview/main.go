// Surfview is a waveform viewer for digital design traces. It reads VCD trace
// files, streams traces from a remote server, and attaches to live
// simulations speaking the cxxrtl debug protocol. With -serve it runs the
// remote streaming server instead.
package main

import (
	"os"

	"github.com/voltai-inc/Surfer-sub001/pkg/buildinfo"
	"github.com/voltai-inc/Surfer-sub001/pkg/prog"
	"github.com/voltai-inc/Surfer-sub001/pkg/server"
	"github.com/voltai-inc/Surfer-sub001/pkg/shell"
)

func main() {
	os.Exit(prog.Run(
		[3]*os.File{os.Stdin, os.Stdout, os.Stderr}, os.Args,
		prog.Composite(buildinfo.Program, server.Program, shell.Program)))
}
