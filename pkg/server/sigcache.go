package server

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/voltai-inc/Surfer-sub001/pkg/trace"
)

// sigCache persists extracted signal histories in a bolt database next to
// the trace file, so that a restarted server can serve popular signals
// without re-extracting them. Entries live in a bucket keyed by a digest of
// the trace, so a changed trace file simply starts an empty bucket.
//
// The cache is best effort: a nil *sigCache is valid and caches nothing,
// and read or write failures only cost the caching.
type sigCache struct {
	db     *bolt.DB
	bucket []byte
}

func openSigCache(path string, shared *readOnly) *sigCache {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		logger.Printf("failed to open signal cache at %s: %v; serving without cache", path, err)
		return nil
	}
	c := &sigCache{db: db, bucket: traceDigest(shared)}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(c.bucket)
		return err
	})
	if err != nil {
		logger.Printf("failed to initialize signal cache: %v; serving without cache", err)
		db.Close()
		return nil
	}
	return c
}

// traceDigest identifies the trace the cached signals belong to.
func traceDigest(shared *readOnly) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%d\x00%d\x00%d",
		shared.filename, shared.headerLen, shared.bodyLen,
		shared.hierarchy.NumSignals, len(shared.hierarchy.Scopes), len(shared.hierarchy.Vars))
	return h.Sum(nil)
}

func sigKey(ref trace.SignalRef) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(ref))
	return key[:]
}

func (c *sigCache) get(ref trace.SignalRef) *trace.Signal {
	if c == nil {
		return nil
	}
	var sig *trace.Signal
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(c.bucket).Get(sigKey(ref))
		if raw == nil {
			return nil
		}
		d := trace.NewDecoder(raw)
		decoded, err := trace.DecodeCompressedSignal(d)
		if err != nil {
			return err
		}
		if err := d.Finish(); err != nil {
			return err
		}
		sig = decoded
		return nil
	})
	if err != nil {
		logger.Printf("dropping bad signal cache entry for %d: %v", ref, err)
		return nil
	}
	return sig
}

func (c *sigCache) put(sig *trace.Signal) {
	if c == nil {
		return
	}
	e := &trace.Encoder{}
	trace.EncodeCompressedSignal(e, sig)
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Put(sigKey(sig.Ref), e.Data())
	})
	if err != nil {
		logger.Printf("failed to cache signal %d: %v", sig.Ref, err)
	}
}

func (c *sigCache) close() {
	if c == nil {
		return
	}
	c.db.Close()
}
