package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Header is the result of parsing the declaration part of a VCD file. The
// body can be read afterwards with ReadBody; splitting the two lets a caller
// publish the hierarchy while the (much larger) body is still being parsed.
type Header struct {
	Hierarchy *Hierarchy
	Format    FileFormat
	// HeaderLen and BodyLen are byte counts, used for load progress.
	HeaderLen uint64
	BodyLen   uint64

	words   *wordReader
	closer  io.Closer
	idCodes map[string]SignalRef
}

// wordReader yields whitespace-separated tokens and tracks the exact number
// of bytes consumed, which is what the load progress reports.
type wordReader struct {
	r        *bufio.Reader
	consumed uint64
	buf      []byte
}

// next returns the next token, or io.EOF after the last one.
func (w *wordReader) next() (string, error) {
	b, err := w.skipSpace()
	if err != nil {
		return "", err
	}
	w.buf = append(w.buf[:0], b)
	for {
		b, err := w.r.ReadByte()
		if err == io.EOF {
			return string(w.buf), nil
		}
		if err != nil {
			return "", err
		}
		w.consumed++
		if isSpace(b) {
			return string(w.buf), nil
		}
		w.buf = append(w.buf, b)
	}
}

func (w *wordReader) skipSpace() (byte, error) {
	for {
		b, err := w.r.ReadByte()
		if err != nil {
			return 0, err
		}
		w.consumed++
		if !isSpace(b) {
			return b, nil
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ReadHeaderFromFile opens a VCD file and parses its declarations. The
// returned header holds the open file; Close it if the body will not be
// read.
func ReadHeaderFromFile(fname string) (*Header, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	h, err := ReadHeader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	h.closer = file
	if size := uint64(info.Size()); size > h.HeaderLen {
		h.BodyLen = size - h.HeaderLen
	}
	return h, nil
}

// ReadHeader parses VCD declarations from r up to $enddefinitions.
func ReadHeader(r io.Reader) (*Header, error) {
	words := &wordReader{r: bufio.NewReaderSize(r, 64*1024)}

	hier := &Hierarchy{}
	idCodes := make(map[string]SignalRef)
	scopeStack := []int{}

	for {
		tok, err := words.next()
		if err == io.EOF {
			return nil, fmt.Errorf("unexpected end of file before $enddefinitions")
		}
		if err != nil {
			return nil, err
		}
		switch tok {
		case "$date", "$comment":
			if _, err := readUntilEnd(words); err != nil {
				return nil, err
			}
		case "$version":
			decl, err := readUntilEnd(words)
			if err != nil {
				return nil, err
			}
			hier.Version = strings.Join(decl, " ")
		case "$timescale":
			decl, err := readUntilEnd(words)
			if err != nil {
				return nil, err
			}
			hier.Timescale = strings.Join(decl, "")
		case "$scope":
			decl, err := readUntilEnd(words)
			if err != nil {
				return nil, err
			}
			if len(decl) != 2 {
				return nil, fmt.Errorf("malformed $scope: %q", strings.Join(decl, " "))
			}
			parent := -1
			if len(scopeStack) > 0 {
				parent = scopeStack[len(scopeStack)-1]
			}
			hier.Scopes = append(hier.Scopes, Scope{
				Name: decl[1], Kind: decl[0], Parent: parent,
			})
			scopeStack = append(scopeStack, len(hier.Scopes)-1)
		case "$upscope":
			if _, err := readUntilEnd(words); err != nil {
				return nil, err
			}
			if len(scopeStack) == 0 {
				return nil, fmt.Errorf("$upscope without matching $scope")
			}
			scopeStack = scopeStack[:len(scopeStack)-1]
		case "$var":
			decl, err := readUntilEnd(words)
			if err != nil {
				return nil, err
			}
			if len(decl) < 4 {
				return nil, fmt.Errorf("malformed $var: %q", strings.Join(decl, " "))
			}
			width, err := strconv.ParseUint(decl[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("malformed $var width %q: %v", decl[1], err)
			}
			id := decl[2]
			// The name may be followed by a bus range token, e.g. "[7:0]".
			name := decl[3]
			ref, seen := idCodes[id]
			if !seen {
				ref = SignalRef(hier.NumSignals)
				idCodes[id] = ref
				hier.NumSignals++
			}
			scope := -1
			if len(scopeStack) > 0 {
				scope = scopeStack[len(scopeStack)-1]
			}
			hier.Vars = append(hier.Vars, Var{
				Name: name, Kind: decl[0], Width: uint32(width),
				Scope: scope, Signal: ref,
			})
		case "$enddefinitions":
			if _, err := readUntilEnd(words); err != nil {
				return nil, err
			}
			hier.Rebuild()
			return &Header{
				Hierarchy: hier,
				Format:    FormatVcd,
				HeaderLen: words.consumed,
				words:     words,
				idCodes:   idCodes,
			}, nil
		default:
			// Unknown declaration; skip to its $end if it looks like one.
			if strings.HasPrefix(tok, "$") {
				if _, err := readUntilEnd(words); err != nil {
					return nil, err
				}
			}
		}
	}
}

func readUntilEnd(w *wordReader) ([]string, error) {
	var decl []string
	for {
		tok, err := w.next()
		if err == io.EOF {
			return nil, fmt.Errorf("unexpected end of file inside declaration")
		}
		if err != nil {
			return nil, err
		}
		if tok == "$end" {
			return decl, nil
		}
		decl = append(decl, tok)
	}
}

// Close releases the underlying file without reading the body.
func (h *Header) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// ReadBody parses the value change part of the file. If progress is not nil,
// it is updated with the number of body bytes consumed so far; it may be read
// concurrently.
func (h *Header) ReadBody(progress *atomic.Uint64) (*Body, error) {
	defer h.Close()

	signals := make(map[SignalRef]*Signal, h.Hierarchy.NumSignals)
	for _, ref := range h.idCodes {
		if _, ok := signals[ref]; !ok {
			signals[ref] = &Signal{Ref: ref}
		}
	}

	var table TimeTable

	record := func(id string, value string) error {
		ref, ok := h.idCodes[id]
		if !ok {
			return fmt.Errorf("value change for undeclared id %q", id)
		}
		if len(table) == 0 {
			// Initial dump before the first timestamp.
			table = append(table, 0)
		}
		idx := uint32(len(table) - 1)
		sig := signals[ref]
		if n := len(sig.TimeIndices); n > 0 && sig.TimeIndices[n-1] == idx {
			// Several changes within one time step; the last one wins.
			sig.Values[n-1] = value
		} else {
			sig.TimeIndices = append(sig.TimeIndices, idx)
			sig.Values = append(sig.Values, value)
		}
		return nil
	}

	for {
		tok, err := h.words.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case tok[0] == '#':
			t, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed timestamp %q: %v", tok, err)
			}
			if len(table) == 0 || t > table[len(table)-1] {
				table = append(table, t)
			}
			if progress != nil {
				progress.Store(h.words.consumed - h.HeaderLen)
			}
		case tok[0] == '0' || tok[0] == '1' || tok[0] == 'x' || tok[0] == 'X' ||
			tok[0] == 'z' || tok[0] == 'Z':
			if len(tok) < 2 {
				return nil, fmt.Errorf("malformed scalar change %q", tok)
			}
			if err := record(tok[1:], strings.ToLower(tok[:1])); err != nil {
				return nil, err
			}
		case tok[0] == 'b' || tok[0] == 'B' || tok[0] == 'r' || tok[0] == 'R' ||
			tok[0] == 's' || tok[0] == 'S':
			value := tok[1:]
			id, err := h.words.next()
			if err != nil {
				return nil, fmt.Errorf("missing id after vector change %q", tok)
			}
			if err := record(id, value); err != nil {
				return nil, err
			}
		case tok[0] == '$':
			// $dumpvars, $dumpall, $dumpon, $dumpoff and their $end markers
			// carry no information beyond the changes inside them.
		default:
			return nil, fmt.Errorf("unrecognized token %q in body", tok)
		}
	}
	if progress != nil && h.BodyLen > 0 {
		progress.Store(h.BodyLen)
	}
	return &Body{TimeTable: table, Source: NewSignalSource(signals)}, nil
}
