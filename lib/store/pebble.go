// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/codec"
)

// Pebble is a Store backend on an embedded Pebble LSM.
//
// Key layout, per table:
//
//	s/<table>                   -> next id (uint64 big-endian)
//	r/<table>/<id>              -> CBOR pebbleRecord
//	k/<table>/<key>\x00<id>     -> empty (secondary index)
//
// Writes go through one mutex so id allocation and the record and
// index updates commit together in a single synced batch.
type Pebble struct {
	db     *pebble.DB
	clock  clock.Clock
	logger *slog.Logger

	writeMu sync.Mutex
}

type pebbleRecord struct {
	Key       string `cbor:"k"`
	Value     []byte `cbor:"v"`
	CreatedAt int64  `cbor:"t"`
}

// OpenPebble opens (creating if needed) the database directory at
// cfg.Path.
func OpenPebble(cfg Config) (*Pebble, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	db, err := pebble.Open(cfg.Path, &pebble.Options{Logger: pebbleLogger{cfg.Logger}})
	if err != nil {
		return nil, &Error{Op: "open", Table: cfg.Path, Err: err}
	}
	cfg.Logger.Info("pebble store opened", "path", cfg.Path)
	return &Pebble{db: db, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// pebbleLogger routes Pebble's internal logging into slog.
type pebbleLogger struct{ logger *slog.Logger }

func (l pebbleLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "pebble")
}

func (l pebbleLogger) Fatalf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	l.logger.Error(message, "component", "pebble")
	panic("pebble: " + message)
}

// Close closes the database.
func (p *Pebble) Close() error {
	return p.db.Close()
}

func sequenceKey(table string) []byte { return []byte("s/" + table) }

func recordPrefix(table string) []byte { return []byte("r/" + table + "/") }

func recordKey(table string, id int64) []byte {
	return binary.BigEndian.AppendUint64(recordPrefix(table), uint64(id))
}

func indexPrefix(table, key string) []byte {
	return []byte("k/" + table + "/" + key + "\x00")
}

func indexKey(table, key string, id int64) []byte {
	return binary.BigEndian.AppendUint64(indexPrefix(table, key), uint64(id))
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for index := len(end) - 1; index >= 0; index-- {
		end[index]++
		if end[index] != 0 {
			return end[:index+1]
		}
	}
	return nil
}

func checkPebbleKey(table, key string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if strings.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("store: key %q contains NUL", key)
	}
	return nil
}

func (p *Pebble) nextID(table string) (int64, error) {
	value, closer, err := p.db.Get(sequenceKey(table))
	if errors.Is(err, pebble.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return int64(binary.BigEndian.Uint64(value)), nil
}

// stage adds a new record for key to batch. Caller holds writeMu.
func (p *Pebble) stage(batch *pebble.Batch, table, key string, value []byte) (int64, error) {
	id, err := p.nextID(table)
	if err != nil {
		return 0, err
	}
	encoded, err := codec.Marshal(pebbleRecord{Key: key, Value: value, CreatedAt: p.clock.Now().UnixNano()})
	if err != nil {
		return 0, err
	}
	if err := batch.Set(recordKey(table, id), encoded, nil); err != nil {
		return 0, err
	}
	if err := batch.Set(indexKey(table, key, id), nil, nil); err != nil {
		return 0, err
	}
	if err := batch.Set(sequenceKey(table), binary.BigEndian.AppendUint64(nil, uint64(id+1)), nil); err != nil {
		return 0, err
	}
	return id, nil
}

// idsForKey returns the ids indexed under key in ascending order.
func (p *Pebble) idsForKey(table, key string) ([]int64, error) {
	prefix := indexPrefix(table, key)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []int64
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, int64(binary.BigEndian.Uint64(iter.Key()[len(prefix):])))
	}
	return ids, iter.Error()
}

// stageDeleteKey removes every record of key. Caller holds writeMu.
func (p *Pebble) stageDeleteKey(batch *pebble.Batch, table, key string) error {
	ids, err := p.idsForKey(table, key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := batch.Delete(recordKey(table, id), nil); err != nil {
			return err
		}
		if err := batch.Delete(indexKey(table, key, id), nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pebble) readRecord(table string, id int64) (Record, error) {
	value, closer, err := p.db.Get(recordKey(table, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodePebbleRecord(id, value)
}

func decodePebbleRecord(id int64, value []byte) (Record, error) {
	var stored pebbleRecord
	if err := codec.Unmarshal(value, &stored); err != nil {
		return Record{}, fmt.Errorf("decoding record %d: %w", id, err)
	}
	if stored.Value == nil {
		stored.Value = []byte{}
	}
	return Record{
		ID:        id,
		Key:       stored.Key,
		Value:     stored.Value,
		CreatedAt: time.Unix(0, stored.CreatedAt).UTC(),
	}, nil
}

func wrapPebble(op, table string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Table: table, Err: err}
}

func (p *Pebble) commit(op, table string, fn func(batch *pebble.Batch) error) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := fn(batch); err != nil {
		return wrapPebble(op, table, err)
	}
	return wrapPebble(op, table, batch.Commit(pebble.Sync))
}

func (p *Pebble) Append(ctx context.Context, table, key string, value []byte) (int64, error) {
	if err := checkPebbleKey(table, key); err != nil {
		return 0, err
	}
	var id int64
	err := p.commit("append", table, func(batch *pebble.Batch) error {
		var err error
		id, err = p.stage(batch, table, key, value)
		return err
	})
	return id, err
}

func (p *Pebble) Set(ctx context.Context, table, key string, value []byte) (int64, error) {
	if err := checkPebbleKey(table, key); err != nil {
		return 0, err
	}
	var id int64
	err := p.commit("set", table, func(batch *pebble.Batch) error {
		if err := p.stageDeleteKey(batch, table, key); err != nil {
			return err
		}
		var err error
		id, err = p.stage(batch, table, key, value)
		return err
	})
	return id, err
}

// recordsForKey returns the records of key ordered by (created_at, id).
func (p *Pebble) recordsForKey(op, table, key string) ([]Record, error) {
	if err := checkPebbleKey(table, key); err != nil {
		return nil, err
	}
	ids, err := p.idsForKey(table, key)
	if err != nil {
		return nil, wrapPebble(op, table, err)
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := p.readRecord(table, id)
		if errors.Is(err, ErrNotFound) {
			// Deleted between the index scan and the read.
			continue
		}
		if err != nil {
			return nil, wrapPebble(op, table, err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (p *Pebble) Get(ctx context.Context, table, key string) (Record, error) {
	records, err := p.recordsForKey("get", table, key)
	if err != nil {
		return Record{}, err
	}
	return records[len(records)-1], nil
}

func (p *Pebble) GetAll(ctx context.Context, table, key string) ([]Record, error) {
	return p.recordsForKey("get_all", table, key)
}

func (p *Pebble) GetLast(ctx context.Context, table, key string, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	records, err := p.recordsForKey("get_last", table, key)
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

func (p *Pebble) Keys(ctx context.Context, table string) ([]string, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	prefix := []byte("k/" + table + "/")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, wrapPebble("keys", table, err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		rest := iter.Key()[len(prefix):]
		separator := bytes.IndexByte(rest, 0)
		if separator < 0 {
			continue
		}
		key := string(rest[:separator])
		if len(keys) == 0 || keys[len(keys)-1] != key {
			keys = append(keys, key)
		}
	}
	return keys, wrapPebble("keys", table, iter.Error())
}

func (p *Pebble) Scan(ctx context.Context, table string) ([]Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	prefix := recordPrefix(table)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, wrapPebble("scan", table, err)
	}
	defer iter.Close()

	var records []Record
	for iter.First(); iter.Valid(); iter.Next() {
		id := int64(binary.BigEndian.Uint64(iter.Key()[len(prefix):]))
		record, err := decodePebbleRecord(id, iter.Value())
		if err != nil {
			return nil, wrapPebble("scan", table, err)
		}
		records = append(records, record)
	}
	return records, wrapPebble("scan", table, iter.Error())
}

func (p *Pebble) Delete(ctx context.Context, table, key string) error {
	if err := checkPebbleKey(table, key); err != nil {
		return err
	}
	return p.commit("delete", table, func(batch *pebble.Batch) error {
		return p.stageDeleteKey(batch, table, key)
	})
}

func (p *Pebble) DeleteByID(ctx context.Context, table string, id int64) error {
	if err := checkTable(table); err != nil {
		return err
	}
	return p.commit("delete_by_id", table, func(batch *pebble.Batch) error {
		record, err := p.readRecord(table, id)
		if err != nil {
			return err
		}
		if err := batch.Delete(recordKey(table, id), nil); err != nil {
			return err
		}
		return batch.Delete(indexKey(table, record.Key, id), nil)
	})
}
