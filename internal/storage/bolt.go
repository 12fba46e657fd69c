package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "alarmd/pkg/logx"

	bbolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	bucketAlarms = []byte("alarms")
	bucketAudit  = []byte("audit")
)

type boltStore struct {
	db  *bbolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for bolt driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAlarms, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Alarm keys are 8-byte big-endian positions so a cursor walk yields saved order.
func seqKey(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func (s *boltStore) LoadAlarms(ctx context.Context) ([]Record, error) {
	_ = ctx
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlarms).ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("bolt: decode alarm at %x: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (s *boltStore) SaveAlarms(ctx context.Context, recs []Record) error {
	_ = ctx
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketAlarms); err != nil && !errors.Is(err, berrors.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketAlarms)
		if err != nil {
			return err
		}
		for i, r := range recs {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("bolt: encode alarm %s: %w", r.ID, err)
			}
			if err := b.Put(seqKey(uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		n, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(n), data)
	})
}
