// SPDX-License-Identifier: GPL-2.0-or-later

// Package verdict keeps the latest sanitizer verdict for each input
// in a bbolt database.
//
// Two buckets are kept in sync. "verdicts" maps an input ID to its
// CBOR encoded record. "order" maps a big endian time and sequence
// number to the input ID and drives eviction and newest first queries.
package verdict

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"mediasan/pkg/log"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const defaultMaxInputs = 100000

var (
	verdictsBucket = []byte("verdicts")
	orderBucket    = []byte("order")
)

// Store errors.
var (
	ErrNotFound = errors.New("verdict not found")
	ErrClosed   = errors.New("verdict store closed")
	ErrNoInput  = errors.New("verdict without input ID")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("verdict: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("verdict: CBOR decoder initialization failed: " + err.Error())
	}
}

// Verdict is the outcome of sanitizing one input.
type Verdict struct {
	Input    string        `cbor:"input"`
	Time     log.UnixMicro `cbor:"time"`
	Size     int           `cbor:"size"`
	Accepted bool          `cbor:"accepted"`

	// Boxes is the number of boxes in an accepted tree.
	Boxes int `cbor:"boxes,omitempty"`

	// Reason is the terminal error of a rejection.
	Reason string `cbor:"reason,omitempty"`
}

// record is the stored value, order is the record's key in orderBucket.
type record struct {
	Verdict Verdict `cbor:"verdict"`
	Order   []byte  `cbor:"order"`
}

// Store is a bounded verdict database.
type Store struct {
	path      string
	maxInputs int

	mu     sync.RWMutex
	db     *bolt.DB
	closed bool

	wg *sync.WaitGroup
}

// NewStore returns a store at path, call Init before use.
func NewStore(path string, wg *sync.WaitGroup) *Store {
	return &Store{
		path:      path,
		maxInputs: defaultMaxInputs,
		wg:        wg,
	}
}

// Init opens the database, it is closed when ctx is canceled.
func (s *Store) Init(ctx context.Context) error {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open verdict database %v: %w", s.path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{verdictsBucket, orderBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	s.db = db

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		db.Close()
	}()
	return nil
}

// Save stores v as the latest verdict for v.Input. The oldest
// input is evicted once the store holds maxInputs inputs.
func (s *Store) Save(v Verdict) error {
	if v.Input == "" {
		return ErrNoInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		verdicts := tx.Bucket(verdictsBucket)
		order := tx.Bucket(orderBucket)

		if raw := verdicts.Get([]byte(v.Input)); raw != nil {
			prev, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if err := order.Delete(prev.Order); err != nil {
				return fmt.Errorf("delete previous order key: %w", err)
			}
		} else if order.Stats().KeyN >= s.maxInputs {
			if err := evictOldest(verdicts, order); err != nil {
				return fmt.Errorf("evict oldest: %w", err)
			}
		}

		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		key := encodeOrderKey(v.Time, seq)
		value, err := encMode.Marshal(record{Verdict: v, Order: key})
		if err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
		if err := order.Put(key, []byte(v.Input)); err != nil {
			return err
		}
		return verdicts.Put([]byte(v.Input), value)
	})
}

func evictOldest(verdicts, order *bolt.Bucket) error {
	c := order.Cursor()
	k, input := c.First()
	if k == nil {
		return nil
	}
	if err := verdicts.Delete(input); err != nil {
		return err
	}
	return c.Delete()
}

// Get returns the latest verdict for input.
func (s *Store) Get(input string) (Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Verdict{}, ErrClosed
	}

	var v Verdict
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(verdictsBucket).Get([]byte(input))
		if raw == nil {
			return fmt.Errorf("%w: %v", ErrNotFound, input)
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		v = r.Verdict
		return nil
	})
	return v, err
}

// Query filters Recent.
type Query struct {
	// Before, if set, only matches verdicts strictly older than it.
	Before log.UnixMicro

	// RejectedOnly skips accepted inputs.
	RejectedOnly bool

	// Limit caps the result, zero means no cap.
	Limit int
}

// Recent returns verdicts matching q, newest first.
func (s *Store) Recent(q Query) ([]Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	verdicts := []Verdict{}
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(verdictsBucket)
		c := tx.Bucket(orderBucket).Cursor()

		var k, input []byte
		if q.Before == 0 {
			k, input = c.Last()
		} else if k, _ = c.Seek(encodeOrderKey(q.Before, 0)); k == nil {
			k, input = c.Last()
		} else {
			k, input = c.Prev()
		}

		for ; k != nil; k, input = c.Prev() {
			if q.Limit != 0 && len(verdicts) >= q.Limit {
				return nil
			}
			r, err := decodeRecord(records.Get(input))
			if err != nil {
				return fmt.Errorf("input %s: %w", input, err)
			}
			if q.RejectedOnly && r.Verdict.Accepted {
				continue
			}
			verdicts = append(verdicts, r.Verdict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verdicts, nil
}

func decodeRecord(raw []byte) (record, error) {
	var r record
	if err := decMode.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode verdict: %w", err)
	}
	return r, nil
}

// Keys with the same time sort by sequence, so equal
// timestamps never overwrite each other.
func encodeOrderKey(t log.UnixMicro, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, uint64(t))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
