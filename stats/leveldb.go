package stats

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/JellyTony/poolboard/protocol"
)

// LevelStore is an embedded on-disk store for single node deployments.
// Counter updates are serialized by mu since leveldb has no atomic add.
type LevelStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return &LevelStore{db: db}, nil
}

func countKey(key string, minute time.Time) []byte {
	return []byte(fmt.Sprintf("count/%s/%d", key, minute.Truncate(time.Minute).Unix()))
}

func windowPrefix(series string) []byte {
	return []byte("window/" + series + "/")
}

// windowKey orders by height under the series prefix.
func windowKey(series string, height int64) []byte {
	p := windowPrefix(series)
	k := make([]byte, len(p)+8)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], uint64(height))
	return k
}

func (s *LevelStore) Increment(key string, minute time.Time) error {
	k := countKey(key, minute)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.getCount(k)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n+1))
	return s.db.Put(k, buf, nil)
}

func (s *LevelStore) Get(key string, minute time.Time) (int, error) {
	return s.getCount(countKey(key, minute))
}

func (s *LevelStore) getCount(k []byte) (int, error) {
	v, err := s.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.Errorf("corrupt counter %q", k)
	}
	return int(binary.BigEndian.Uint64(v)), nil
}

// SaveWindow replaces the stored series with recs in one batch.
func (s *LevelStore) SaveWindow(series string, recs []protocol.BlockRecord) error {
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix(windowPrefix(series)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	for _, r := range recs {
		b, err := protocol.Encode(r)
		if err != nil {
			return errors.Wrap(err, "encode record")
		}
		batch.Put(windowKey(series, r.Height), b)
	}
	return s.db.Write(batch, nil)
}

func (s *LevelStore) LoadWindow(series string) ([]protocol.BlockRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix(windowPrefix(series)), nil)
	defer iter.Release()
	var out []protocol.BlockRecord
	for iter.Next() {
		var r protocol.BlockRecord
		if err := protocol.Decode(iter.Value(), &r); err != nil {
			return nil, errors.Wrapf(err, "decode %s", series)
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

func (s *LevelStore) Close() error { return s.db.Close() }
