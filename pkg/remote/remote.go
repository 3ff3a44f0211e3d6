// Package remote implements the client side of the remote trace streaming
// protocol, and the definitions shared between client and server.
//
// The server exposes a small HTTP API below a secret token path segment:
// /<token>/get_status, /<token>/get_hierarchy, /<token>/get_time_table and
// /<token>/get_signals/<id>/<id>/... . Everything except the JSON status is
// a compressed binary payload.
package remote

import (
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
)

// HTTP headers identifying the server and its versions. The format version
// decides whether client and server can talk at all; the application version
// is informational.
const (
	ServerHeader        = "Server"
	ServerHeaderValue   = "Surfer"
	AppVersionHeader    = "x-surfer-version"
	FormatVersionHeader = "x-wellen-version"
)

// Status describes the server's trace and load progress.
type Status struct {
	Bytes         uint64           `json:"bytes"`
	BytesLoaded   uint64           `json:"bytes_loaded"`
	Filename      string           `json:"filename"`
	FormatVersion string           `json:"wellen_version"`
	AppVersion    string           `json:"surfer_version"`
	FileFormat    trace.FileFormat `json:"file_format"`
}

// HierarchyResponse is the decoded get_hierarchy payload.
type HierarchyResponse struct {
	Hierarchy  *trace.Hierarchy
	FileFormat trace.FileFormat
}
