package sim

import (
	"encoding/base64"
	"math/big"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/voltai-inc/Surfer-sub001/pkg/waves/wavedefs"
)

// queryIndex holds the decoded result of the latest interval query: for each
// sampled time, the value of every referenced variable. Population happens
// on background goroutines while the owner keeps answering queries from the
// previous data, so the index carries its own lock.
type queryIndex struct {
	mu sync.RWMutex
	// Ascending by time (femtoseconds).
	entries []queryEntry
}

type queryEntry struct {
	time *big.Int
	// Values keyed by wavedefs.VariableRef.String.
	values map[string]string
}

func newQueryIndex() *queryIndex {
	return &queryIndex{}
}

// populate decodes samples into the index, replacing its previous contents.
// Decoding is CPU bound and parallelized across samples; the notifier is
// told to redraw when the data is in place.
//
// The sample encoding is base64(u32): each referenced variable occupies a
// whole number of little-endian u32 words, concatenated in reference order.
func (q *queryIndex) populate(variables []wavedefs.VariableRef, widths map[string]uint32, samples []sample, notifier wavedefs.Notifier) {
	// Byte range of each variable within a decoded sample.
	type byteRange struct{ from, to int }
	ranges := make([]byteRange, len(variables))
	offset := 0
	for i, v := range variables {
		width, ok := widths[v.String()]
		if !ok || width == 0 {
			width = 1
		}
		words := 1 + (int(width)-1)/32
		ranges[i] = byteRange{from: offset * 4, to: (offset + words) * 4}
		offset += words
	}

	go func() {
		entries := make([]queryEntry, len(samples))
		var firstErr error
		var errOnce sync.Once

		var wg sync.WaitGroup
		jobs := make(chan int)
		for w := 0; w < runtime.NumCPU(); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					s := samples[i]
					raw, err := base64.StdEncoding.DecodeString(s.ItemValues)
					if err != nil {
						errOnce.Do(func() {
							firstErr = errors.Wrapf(err,
								"got non-base64 sample data at time %s", s.Time)
						})
						continue
					}
					values := make(map[string]string, len(variables))
					for j, v := range variables {
						if ranges[j].to > len(raw) {
							continue
						}
						word := leBytesToBig(raw[ranges[j].from:ranges[j].to])
						values[v.String()] = bitString(word, widths[v.String()])
					}
					entries[i] = queryEntry{time: s.Time.AsFemtoseconds(), values: values}
				}
			}()
		}
		for i := range samples {
			jobs <- i
		}
		close(jobs)
		wg.Wait()

		if firstErr != nil {
			notifier.Error(firstErr)
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.time != nil {
				kept = append(kept, e)
			}
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].time.Cmp(kept[j].time) < 0 })

		q.mu.Lock()
		q.entries = kept
		q.mu.Unlock()
		notifier.RequestRedraw()
	}()
}

// query returns the value at the last sample strictly before t, and the time
// of the first sample at or after t.
func (q *queryIndex) query(ref wavedefs.VariableRef, t *big.Int) wavedefs.QueryResult {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].time.Cmp(t) >= 0
	})
	var res wavedefs.QueryResult
	if n < len(q.entries) {
		res.Next = new(big.Int).Set(q.entries[n].time)
	}
	if n == 0 {
		return wavedefs.QueryResult{}
	}
	cur := q.entries[n-1]
	val, ok := cur.values[ref.String()]
	if !ok {
		return wavedefs.QueryResult{}
	}
	res.Current = &wavedefs.TimeValue{Time: new(big.Int).Set(cur.time), Value: val}
	return res
}

func leBytesToBig(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	return new(big.Int).SetBytes(be)
}

// bitString renders a value as a fixed-width binary string, matching the
// value representation of parsed traces.
func bitString(v *big.Int, width uint32) string {
	if width == 0 {
		width = 1
	}
	s := v.Text(2)
	if n := int(width) - len(s); n > 0 {
		s = strings.Repeat("0", n) + s
	}
	return s
}
