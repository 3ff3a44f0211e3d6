package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	"github.com/voltai-inc/Surfer-sub001/pkg/buildinfo"
	"github.com/voltai-inc/Surfer-sub001/pkg/logutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
)

var logger = logutil.GetLogger("[remote] ")

// checkResponse verifies that the response comes from a compatible server.
// A different application version is logged but tolerated; a format version
// with a different major.minor is a hard error since the binary payloads
// would not decode.
func checkResponse(server string, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("server %s returned %s", server, resp.Status)
	}
	kind := resp.Header.Get(ServerHeader)
	if kind == "" {
		return errors.Errorf("no server header from %s", server)
	}
	if kind != ServerHeaderValue {
		return errors.Errorf("unexpected server %q from %s", kind, server)
	}
	appVersion := resp.Header.Get(AppVersionHeader)
	if appVersion == "" {
		return errors.Errorf("no application version header from %s", server)
	}
	if appVersion != buildinfo.Version {
		// May still be fine as long as the format version matches.
		logger.Printf("server at %s runs version %s, we are %s", server, appVersion, buildinfo.Version)
	}
	formatVersion := resp.Header.Get(FormatVersionHeader)
	if formatVersion == "" {
		return errors.Errorf("no format version header from %s", server)
	}
	if semver.MajorMinor("v"+formatVersion) != semver.MajorMinor("v"+buildinfo.FormatVersion) {
		return errors.Errorf(
			"version incompatibility: the server uses format version %s, this client uses %s",
			formatVersion, buildinfo.FormatVersion)
	}
	return nil
}

func get(ctx context.Context, server, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", server)
	}
	defer resp.Body.Close()
	if err := checkResponse(server, resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response from %s", server)
	}
	return body, nil
}

// GetStatus fetches the server's status.
func GetStatus(ctx context.Context, server string) (*Status, error) {
	body, err := get(ctx, server, "/get_status")
	if err != nil {
		return nil, err
	}
	status := &Status{}
	if err := json.Unmarshal(body, status); err != nil {
		return nil, errors.Wrap(err, "bad status payload")
	}
	return status, nil
}

// GetHierarchy fetches and decodes the design hierarchy.
func GetHierarchy(ctx context.Context, server string) (*HierarchyResponse, error) {
	body, err := get(ctx, server, "/get_hierarchy")
	if err != nil {
		return nil, err
	}
	raw, err := trace.DecompressSizePrepended(body)
	if err != nil {
		return nil, errors.Wrap(err, "bad hierarchy payload")
	}
	d := trace.NewDecoder(raw)
	// The format comes first, with the hierarchy following it.
	format, err := trace.DecodeFileFormat(d)
	if err != nil {
		return nil, errors.Wrap(err, "bad hierarchy payload")
	}
	hierarchy, err := trace.DecodeHierarchy(d)
	if err != nil {
		return nil, errors.Wrap(err, "bad hierarchy payload")
	}
	// The hierarchy must consume the rest of the payload.
	if err := d.Finish(); err != nil {
		return nil, errors.Wrap(err, "bad hierarchy payload")
	}
	return &HierarchyResponse{Hierarchy: hierarchy, FileFormat: format}, nil
}

// GetTimeTable fetches and decompresses the time table.
func GetTimeTable(ctx context.Context, server string) (trace.TimeTable, error) {
	body, err := get(ctx, server, "/get_time_table")
	if err != nil {
		return nil, err
	}
	d := trace.NewDecoder(body)
	table, err := trace.DecodeCompressedTimeTable(d)
	if err != nil {
		return nil, errors.Wrap(err, "bad time table payload")
	}
	if err := d.Finish(); err != nil {
		return nil, errors.Wrap(err, "bad time table payload")
	}
	return table, nil
}

// GetSignals fetches the value histories of the given signals. The server
// may return fewer signals than requested, but never more.
func GetSignals(ctx context.Context, server string, ids []trace.SignalRef) ([]*trace.Signal, error) {
	var path strings.Builder
	path.WriteString("/get_signals")
	for _, id := range ids {
		fmt.Fprintf(&path, "/%d", id)
	}
	body, err := get(ctx, server, path.String())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	d := trace.NewDecoder(body)
	count, err := d.Uvarint()
	if err != nil {
		return nil, errors.Wrap(err, "bad signals payload")
	}
	if count > uint64(len(ids)) {
		return nil, errors.Errorf("too many signals in response: %d, expected at most %d",
			count, len(ids))
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]*trace.Signal, 0, count)
	for i := uint64(0); i < count; i++ {
		sig, err := trace.DecodeCompressedSignal(d)
		if err != nil {
			return nil, errors.Wrapf(err, "bad signal %d in payload", i)
		}
		out = append(out, sig)
	}
	// The last signal must consume all remaining bytes.
	if err := d.Finish(); err != nil {
		return nil, errors.Wrap(err, "bad signals payload")
	}
	return out, nil
}
