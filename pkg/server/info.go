package server

import (
	"fmt"
	"html"

	"github.com/voltai-inc/Surfer-sub001/pkg/buildinfo"
)

// infoPage renders the human-readable landing page served on the bare token
// URL.
func (s *Server) infoPage() string {
	loaded := s.shared.bodyProgress.Load()
	var progress string
	if loaded == s.shared.bodyLen {
		progress = fmt.Sprintf("%s loaded", byteSize(s.shared.bodyLen+s.shared.headerLen))
	} else {
		progress = fmt.Sprintf("%s / %s",
			byteSize(loaded+s.shared.headerLen),
			byteSize(s.shared.bodyLen+s.shared.headerLen))
	}
	return fmt.Sprintf(`<!DOCTYPE html><html lang="en">
<head><title>Surfview Remote Server</title></head><body>
<h1>Surfview Remote Server</h1>
<b>To connect, run:</b> <code>surfview %s</code><br>
<b>Format version:</b> %s<br>
<b>Server version:</b> %s<br>
<b>Filename:</b> %s<br>
<b>Progress:</b> %s<br>
</body></html>
`, html.EscapeString(s.shared.url), buildinfo.FormatVersion, buildinfo.Version,
		html.EscapeString(s.shared.filename), progress)
}

func byteSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
