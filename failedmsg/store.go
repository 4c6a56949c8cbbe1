// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package failedmsg records inbound cross-chain messages whose processing
// failed, keyed by channel and nonce, so they can be retried or rescued
// without blocking the channel.
package failedmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

var (
	ErrDuplicateRecord = errors.New("failed message already recorded")
	ErrNoStoredMessage = errors.New("no stored message")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrSourceTooLong   = errors.New("source address too long")
	ErrCorruptRecord   = errors.New("corrupt failed message record")
)

var (
	hashPrefix = []byte("fmsg")
	metaPrefix = []byte("fatt")
	seenPrefix = []byte("fdon")
)

const metaLen = 8 + 4

// Key identifies one delivery on one channel
type Key struct {
	SrcChainID uint16
	SrcAddress []byte
	Nonce      uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/0x%x/%d", k.SrcChainID, k.SrcAddress, k.Nonce)
}

// Meta is the bookkeeping kept beside each record
type Meta struct {
	FailedAt uint64 // chain time of the first failure, unix seconds
	Attempts uint32 // failed processing attempts, including the first delivery
}

// Record is an open failed message
type Record struct {
	Key  Key
	Hash common.Hash
	Meta Meta
}

// Store is the durable failed message map
type Store struct {
	db database.Database
	mu sync.Mutex
}

// New creates a store over [db]
func New(db database.Database) *Store {
	return &Store{db: db}
}

// Hash is the digest stored for a failed payload
func Hash(payload []byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(payload))
}

// Record stores the hash of [payload] under [k]. It fails with
// ErrDuplicateRecord when [k] already has an open record.
func (s *Store) Record(k Key, payload []byte, failedAt uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hk, err := makeKey(hashPrefix, k)
	if err != nil {
		return common.Hash{}, err
	}
	exists, err := s.db.Has(hk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("record %s: %w", k, err)
	}
	if exists {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateRecord, k)
	}

	h := Hash(payload)
	mk, _ := makeKey(metaPrefix, k)
	batch := s.db.NewBatch()
	if err := batch.Put(hk, h.Bytes()); err != nil {
		return common.Hash{}, err
	}
	if err := batch.Put(mk, encodeMeta(Meta{FailedAt: failedAt, Attempts: 1})); err != nil {
		return common.Hash{}, err
	}
	if err := batch.Write(); err != nil {
		return common.Hash{}, fmt.Errorf("record %s: %w", k, err)
	}
	return h, nil
}

// Verify checks that [k] has an open record whose hash matches [payload]
func (s *Store) Verify(k Key, payload []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.get(k)
	if err != nil {
		return common.Hash{}, err
	}
	if stored == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrNoStoredMessage, k)
	}
	if h := Hash(payload); h != stored {
		return common.Hash{}, fmt.Errorf("%w: %s stored %s, got %s", ErrInvalidPayload, k, stored.Hex(), h.Hex())
	}
	return stored, nil
}

// Clear removes the record under [k]. Clearing an absent key is an error so
// a resolution can never be applied twice.
func (s *Store) Clear(k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hk, err := makeKey(hashPrefix, k)
	if err != nil {
		return err
	}
	exists, err := s.db.Has(hk)
	if err != nil {
		return fmt.Errorf("clear %s: %w", k, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoStoredMessage, k)
	}
	mk, _ := makeKey(metaPrefix, k)
	batch := s.db.NewBatch()
	if err := batch.Delete(hk); err != nil {
		return err
	}
	if err := batch.Delete(mk); err != nil {
		return err
	}
	return batch.Write()
}

// MarkProcessed records that the delivery [k] reached the channel, whether
// it was applied or stored as failed. The marker is never removed.
func (s *Store) MarkProcessed(k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk, err := makeKey(seenPrefix, k)
	if err != nil {
		return err
	}
	if err := s.db.Put(dk, []byte{1}); err != nil {
		return fmt.Errorf("mark %s: %w", k, err)
	}
	return nil
}

// Processed reports whether [k] was marked by MarkProcessed
func (s *Store) Processed(k Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk, err := makeKey(seenPrefix, k)
	if err != nil {
		return false, err
	}
	ok, err := s.db.Has(dk)
	if err != nil {
		return false, fmt.Errorf("processed %s: %w", k, err)
	}
	return ok, nil
}

// Get returns the stored hash for [k], or the zero hash when there is none
func (s *Store) Get(k Key) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(k)
}

// Meta returns the bookkeeping for an open record
func (s *Store) Meta(k Key) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta(k)
}

// Reopen puts a cleared record back with one more failed attempt counted.
// It fails with ErrDuplicateRecord when [r.Key] is already open.
func (s *Store) Reopen(r Record) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hk, err := makeKey(hashPrefix, r.Key)
	if err != nil {
		return Meta{}, err
	}
	exists, err := s.db.Has(hk)
	if err != nil {
		return Meta{}, fmt.Errorf("reopen %s: %w", r.Key, err)
	}
	if exists {
		return Meta{}, fmt.Errorf("%w: %s", ErrDuplicateRecord, r.Key)
	}

	m := r.Meta
	if m.Attempts < math.MaxUint32 {
		m.Attempts++
	}
	mk, _ := makeKey(metaPrefix, r.Key)
	batch := s.db.NewBatch()
	if err := batch.Put(hk, r.Hash.Bytes()); err != nil {
		return Meta{}, err
	}
	if err := batch.Put(mk, encodeMeta(m)); err != nil {
		return Meta{}, err
	}
	if err := batch.Write(); err != nil {
		return Meta{}, fmt.Errorf("reopen %s: %w", r.Key, err)
	}
	return m, nil
}

// Pending lists every open record in key order
func (s *Store) Pending() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.db.NewIteratorWithPrefix(hashPrefix)
	defer it.Release()

	var out []Record
	for it.Next() {
		k, err := parseKey(it.Key())
		if err != nil {
			return nil, err
		}
		if len(it.Value()) != common.HashLength {
			return nil, fmt.Errorf("%w: %s has %d byte hash", ErrCorruptRecord, k, len(it.Value()))
		}
		m, err := s.meta(k)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Key: k, Hash: common.BytesToHash(it.Value()), Meta: m})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) get(k Key) (common.Hash, error) {
	hk, err := makeKey(hashPrefix, k)
	if err != nil {
		return common.Hash{}, err
	}
	v, err := s.db.Get(hk)
	if errors.Is(err, database.ErrNotFound) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("get %s: %w", k, err)
	}
	if len(v) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s has %d byte hash", ErrCorruptRecord, k, len(v))
	}
	return common.BytesToHash(v), nil
}

func (s *Store) meta(k Key) (Meta, error) {
	mk, err := makeKey(metaPrefix, k)
	if err != nil {
		return Meta{}, err
	}
	v, err := s.db.Get(mk)
	if errors.Is(err, database.ErrNotFound) {
		return Meta{}, fmt.Errorf("%w: %s", ErrNoStoredMessage, k)
	}
	if err != nil {
		return Meta{}, fmt.Errorf("meta %s: %w", k, err)
	}
	if len(v) != metaLen {
		return Meta{}, fmt.Errorf("%w: %s has %d byte metadata", ErrCorruptRecord, k, len(v))
	}
	return Meta{
		FailedAt: binary.BigEndian.Uint64(v[:8]),
		Attempts: binary.BigEndian.Uint32(v[8:]),
	}, nil
}

// makeKey lays out prefix | chainID(2) | len(src)(2) | src | nonce(8) so
// iteration order is channel then nonce.
func makeKey(prefix []byte, k Key) ([]byte, error) {
	if len(k.SrcAddress) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSourceTooLong, len(k.SrcAddress))
	}
	out := make([]byte, 0, len(prefix)+2+2+len(k.SrcAddress)+8)
	out = append(out, prefix...)
	out = binary.BigEndian.AppendUint16(out, k.SrcChainID)
	out = binary.BigEndian.AppendUint16(out, uint16(len(k.SrcAddress)))
	out = append(out, k.SrcAddress...)
	out = binary.BigEndian.AppendUint64(out, k.Nonce)
	return out, nil
}

func parseKey(raw []byte) (Key, error) {
	b := raw[len(hashPrefix):]
	if len(b) < 2+2+8 {
		return Key{}, fmt.Errorf("%w: key 0x%x", ErrCorruptRecord, raw)
	}
	chainID := binary.BigEndian.Uint16(b[:2])
	srcLen := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) != 4+srcLen+8 {
		return Key{}, fmt.Errorf("%w: key 0x%x", ErrCorruptRecord, raw)
	}
	src := make([]byte, srcLen)
	copy(src, b[4:4+srcLen])
	return Key{
		SrcChainID: chainID,
		SrcAddress: src,
		Nonce:      binary.BigEndian.Uint64(b[4+srcLen:]),
	}, nil
}

func encodeMeta(m Meta) []byte {
	out := make([]byte, metaLen)
	binary.BigEndian.PutUint64(out[:8], m.FailedAt)
	binary.BigEndian.PutUint32(out[8:], m.Attempts)
	return out
}
