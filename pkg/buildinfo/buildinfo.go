// Package buildinfo contains build information.
package buildinfo

import (
	"fmt"
	"os"
	"runtime"

	"github.com/voltai-inc/Surfer-sub001/pkg/prog"
)

// Version identifies the version of the application. It is shown in the
// remote server's info page and sent in the x-surfer-version header.
const Version = "0.3.0"

// FormatVersion identifies the version of the trace data layouts used on the
// wire. Client and server must agree on it for the binary blobs exchanged by
// the streaming protocol to be compatible. Sent in the x-wellen-version
// header.
const FormatVersion = "0.9.1"

// Program is the subprogram that handles -version.
var Program prog.Program = program{}

type program struct{}

func (program) Run(fds [3]*os.File, f *prog.Flags, _ []string) error {
	if !f.Version {
		return prog.ErrNotSuitable
	}
	fmt.Fprintln(fds[1], "Version:", Version)
	fmt.Fprintln(fds[1], "Format version:", FormatVersion)
	fmt.Fprintln(fds[1], "Go version:", runtime.Version())
	return nil
}
