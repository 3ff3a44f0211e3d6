// Package server implements the remote trace streaming server: it parses a
// trace file, then serves its hierarchy, time table and signal histories
// over HTTP to remote viewers. All endpoints sit below a secret token path
// segment; requests with a wrong or missing token get a plain 404.
package server

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/voltai-inc/Surfer-sub001/pkg/buildinfo"
	"github.com/voltai-inc/Surfer-sub001/pkg/logutil"
	"github.com/voltai-inc/Surfer-sub001/pkg/remote"
	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
)

var logger = logutil.GetLogger("[server] ")

const (
	minTokenLen  = 8
	randTokenLen = 24

	// How often the request handlers re-check whether the loader has
	// produced the data they are waiting for.
	pollInterval = 100 * time.Millisecond
)

// Options configures a server.
type Options struct {
	// Token guarding all endpoints. Generated when empty; must be at
	// least 8 characters otherwise.
	Token string
	// Filename of the trace to serve.
	Filename string
	// CachePath overrides the signal cache location, which defaults to
	// the trace file with a ".sigcache" suffix.
	CachePath string
	// DisableCache turns the persistent signal cache off.
	DisableCache bool
}

// readOnly is the data shared by all request handlers, fixed after startup
// except for the atomic progress counter.
type readOnly struct {
	url          string
	token        string
	filename     string
	hierarchy    *trace.Hierarchy
	fileFormat   trace.FileFormat
	headerLen    uint64
	bodyLen      uint64
	bodyProgress *atomic.Uint64
}

// state is written by the loader goroutine and read by request handlers.
type state struct {
	mu        sync.RWMutex
	timeTable trace.TimeTable
	signals   map[trace.SignalRef]*trace.Signal
}

// Server serves one trace file.
type Server struct {
	shared   *readOnly
	state    *state
	requests chan []trace.SignalRef
	listener net.Listener

	reqMu  sync.Mutex
	closed bool
}

// New parses the header of the trace file and starts loading its body in the
// background. Call Listen and Serve to accept connections.
func New(opts Options) (*Server, error) {
	token := opts.Token
	if token == "" {
		token = randomToken()
	}
	if len(token) < minTokenLen {
		return nil, errors.Errorf(
			"token %q is too short, at least %d characters are required", token, minTokenLen)
	}

	start := time.Now()
	header, err := trace.ReadHeaderFromFile(opts.Filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse trace file %s", opts.Filename)
	}
	logger.Printf("loaded header of %s in %v", opts.Filename, time.Since(start))

	s := &Server{
		shared: &readOnly{
			token:        token,
			filename:     opts.Filename,
			hierarchy:    header.Hierarchy,
			fileFormat:   header.Format,
			headerLen:    header.HeaderLen,
			bodyLen:      header.BodyLen,
			bodyProgress: new(atomic.Uint64),
		},
		state:    &state{signals: make(map[trace.SignalRef]*trace.Signal)},
		requests: make(chan []trace.SignalRef, 128),
	}

	var cache *sigCache
	if !opts.DisableCache {
		path := opts.CachePath
		if path == "" {
			path = opts.Filename + ".sigcache"
		}
		cache = openSigCache(path, s.shared)
	}
	go s.load(header, cache)
	return s, nil
}

// Listen binds the server to localhost and returns the URL, including the
// token, that clients connect to.
func (s *Server) Listen(port uint16) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", errors.Wrap(err, "failed to listen")
	}
	s.listener = ln
	s.shared.url = fmt.Sprintf("http://%s/%s", ln.Addr(), s.shared.token)
	logger.Printf("listening on %s", ln.Addr())
	return s.shared.url, nil
}

// URL returns the connection URL. Only valid after Listen.
func (s *Server) URL() string { return s.shared.url }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	srv := &http.Server{Handler: s.handler()}
	err := srv.Serve(s.listener)
	// Close closes the listener directly, so a clean shutdown surfaces as
	// net.ErrClosed rather than http.ErrServerClosed.
	if err == http.ErrServerClosed || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close stops accepting connections and shuts the loader down, releasing
// the signal cache.
func (s *Server) Close() error {
	s.reqMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.requests)
	}
	s.reqMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// requestSignals forwards a signal request to the loader. It reports false
// if the server is shutting down.
func (s *Server) requestSignals(ids []trace.SignalRef) bool {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.closed {
		return false
	}
	s.requests <- ids
	return true
}

func (s *Server) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if len(parts) == 0 || parts[0] != s.shared.token {
			logger.Printf("request with missing or invalid token: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if len(parts) == 1 || parts[1] == "" {
			// Valid token but no command: serve the info page.
			s.defaultHeaders(w)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, s.infoPage())
			return
		}
		cmd, args := parts[1], parts[2:]
		switch {
		case cmd == "get_status" && len(args) == 0:
			s.handleGetStatus(w)
		case cmd == "get_hierarchy" && len(args) == 0:
			s.handleGetHierarchy(w)
		case cmd == "get_time_table" && len(args) == 0:
			s.handleGetTimeTable(w, r)
		case cmd == "get_signals":
			s.handleGetSignals(w, r, args)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (s *Server) defaultHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set(remote.ServerHeader, remote.ServerHeaderValue)
	h.Set(remote.FormatVersionHeader, buildinfo.FormatVersion)
	h.Set(remote.AppVersionHeader, buildinfo.Version)
	h.Set("Cache-Control", "no-cache")
}

func (s *Server) handleGetStatus(w http.ResponseWriter) {
	status := remote.Status{
		Bytes:         s.shared.bodyLen + s.shared.headerLen,
		BytesLoaded:   s.shared.bodyProgress.Load() + s.shared.headerLen,
		Filename:      s.shared.filename,
		FormatVersion: buildinfo.FormatVersion,
		AppVersion:    buildinfo.Version,
		FileFormat:    s.shared.fileFormat,
	}
	body, err := json.Marshal(&status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.defaultHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleGetHierarchy(w http.ResponseWriter) {
	e := &trace.Encoder{}
	trace.EncodeFileFormat(e, s.shared.fileFormat)
	trace.EncodeHierarchy(e, s.shared.hierarchy)
	raw := e.Data()
	compressed := trace.CompressPrependSize(raw)
	logger.Printf("sending hierarchy, %d bytes raw, %d compressed", len(raw), len(compressed))
	s.defaultHeaders(w)
	w.Write(compressed)
}

func (s *Server) handleGetTimeTable(w http.ResponseWriter, r *http.Request) {
	// The time table appears once the loader finishes parsing the body.
	var table trace.TimeTable
	for table == nil {
		s.state.mu.RLock()
		if len(s.state.timeTable) > 0 {
			table = s.state.timeTable
		}
		s.state.mu.RUnlock()
		if table == nil {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(pollInterval):
			}
		}
	}
	e := &trace.Encoder{}
	trace.EncodeCompressedTimeTable(e, table)
	body := e.Data()
	logger.Printf("sending time table, %d entries, %d bytes compressed", len(table), len(body))
	s.defaultHeaders(w)
	w.Write(body)
}

func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request, args []string) {
	ids := make([]trace.SignalRef, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ids = append(ids, trace.SignalRef(id))
	}
	if len(ids) == 0 {
		s.defaultHeaders(w)
		return
	}

	if !s.requestSignals(ids) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Poll until the loader has produced all requested signals.
	for {
		s.state.mu.RLock()
		ready := true
		for _, id := range ids {
			if _, ok := s.state.signals[id]; !ok {
				ready = false
				break
			}
		}
		if ready {
			e := &trace.Encoder{}
			e.Uvarint(uint64(len(ids)))
			for _, id := range ids {
				trace.EncodeCompressedSignal(e, s.state.signals[id])
			}
			s.state.mu.RUnlock()
			body := e.Data()
			logger.Printf("sending %d signals, %d bytes", len(ids), len(body))
			s.defaultHeaders(w)
			w.Write(body)
			return
		}
		s.state.mu.RUnlock()
		select {
		case <-r.Context().Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// load runs on its own goroutine: it parses the trace body, then serves
// signal extraction requests for the rest of the server's life.
func (s *Server) load(header *trace.Header, cache *sigCache) {
	defer cache.close()
	start := time.Now()
	body, err := header.ReadBody(s.shared.bodyProgress)
	if err != nil {
		logger.Printf("failed to parse body of %s: %v", s.shared.filename, err)
		return
	}
	logger.Printf("loaded body in %v", time.Since(start))

	s.state.mu.Lock()
	s.state.timeTable = body.TimeTable
	s.state.mu.Unlock()

	for ids := range s.requests {
		// Skip signals that are already served. The handler still polls
		// on ids, so build a fresh slice.
		s.state.mu.RLock()
		pending := make([]trace.SignalRef, 0, len(ids))
		for _, id := range ids {
			if _, ok := s.state.signals[id]; !ok {
				pending = append(pending, id)
			}
		}
		s.state.mu.RUnlock()
		if len(pending) == 0 {
			continue
		}

		loaded := make([]*trace.Signal, 0, len(pending))
		var misses []trace.SignalRef
		for _, id := range pending {
			if sig := cache.get(id); sig != nil {
				loaded = append(loaded, sig)
			} else {
				misses = append(misses, id)
			}
		}
		for _, sig := range body.Source.LoadSignals(misses) {
			cache.put(sig)
			loaded = append(loaded, sig)
		}

		s.state.mu.Lock()
		for _, sig := range loaded {
			s.state.signals[sig.Ref] = sig
		}
		s.state.mu.Unlock()
	}
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomToken() string {
	// Rejection sampling keeps the pick uniform over the alphabet.
	const limit = 256 - 256%len(tokenAlphabet)
	token := make([]byte, 0, randTokenLen)
	buf := make([]byte, randTokenLen)
	for len(token) < randTokenLen {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand is documented to never fail on supported platforms
			panic(err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == randTokenLen {
				break
			}
		}
	}
	return string(token)
}
