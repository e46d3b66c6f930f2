package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	valueKeyPrefix   = "kv:"
	journalKeyPrefix = "wal:"
)

// LevelDBBackend is the local durable cache. Each batch is written as one
// leveldb.Batch holding the journal entry and every put.
type LevelDBBackend struct {
	db     *leveldb.DB
	seq    atomic.Uint64
	retain uint64
}

// NewLevelDBBackend opens (or creates) a LevelDB database at path
func NewLevelDBBackend(path string) (*LevelDBBackend, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb cache path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb cache path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb cache: %w", err)
	}

	b := &LevelDBBackend{db: db, retain: JournalRetention}
	b.seq.Store(b.lastJournalSeq())
	return b, nil
}

func (l *LevelDBBackend) Name() string { return "leveldb" }

func (l *LevelDBBackend) Authoritative() bool { return false }

func (l *LevelDBBackend) Ping(ctx context.Context) error {
	_, err := l.db.GetProperty("leveldb.stats")
	return err
}

func (l *LevelDBBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := l.db.Get([]byte(valueKeyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

func (l *LevelDBBackend) Commit(ctx context.Context, batch *Batch) error {
	entry, err := batch.Encode()
	if err != nil {
		return err
	}

	seq := l.seq.Add(1)
	wb := new(leveldb.Batch)
	wb.Put([]byte(journalKey(seq, batch.ID)), entry)
	for _, p := range batch.Puts {
		wb.Put([]byte(valueKeyPrefix+p.Key), p.Value)
	}
	if err := l.trimJournal(wb, seq); err != nil {
		return err
	}
	if err := l.db.Write(wb, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write batch %s: %w", batch.ID, err)
	}
	return nil
}

// Journal returns up to limit write-ahead entries, newest first
func (l *LevelDBBackend) Journal(ctx context.Context, limit int) ([]*Batch, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(journalKeyPrefix)), nil)
	defer iter.Release()

	batches := make([]*Batch, 0)
	for ok := iter.Last(); ok && len(batches) < limit; ok = iter.Prev() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		b, err := DecodeBatch(iter.Value())
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return batches, nil
}

// trimJournal adds deletes to wb for every entry that falls out of the
// retention window once seq is written
func (l *LevelDBBackend) trimJournal(wb *leveldb.Batch, seq uint64) error {
	if seq <= l.retain {
		return nil
	}
	cutoff := seq - l.retain
	iter := l.db.NewIterator(&util.Range{
		Start: []byte(journalKeyPrefix),
		Limit: []byte(fmt.Sprintf("%s%020d", journalKeyPrefix, cutoff+1)),
	}, nil)
	defer iter.Release()

	for iter.Next() {
		wb.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("trim journal: %w", err)
	}
	return nil
}

func (l *LevelDBBackend) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *LevelDBBackend) lastJournalSeq() uint64 {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(journalKeyPrefix)), nil)
	defer iter.Release()
	if !iter.Last() {
		return 0
	}
	rest := strings.TrimPrefix(string(iter.Key()), journalKeyPrefix)
	digits, _, _ := strings.Cut(rest, ":")
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func journalKey(seq uint64, id string) string {
	return fmt.Sprintf("%s%020d:%s", journalKeyPrefix, seq, id)
}
