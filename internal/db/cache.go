package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CacheRecord is a record of an executed notebook, content-addressed by its
// fingerprint (the "nbcache" table in the original).
type CacheRecord struct {
	PK          int64
	Hashkey     string
	URI         string
	Description string
	Data        map[string]interface{}
	Created     time.Time
	Accessed    time.Time
}

// CacheCreate inserts a new cache record. Returns ErrAlreadyExists if the
// fingerprint is already cached.
func (s *Store) CacheCreate(ctx context.Context, uri, hashkey, description string, data map[string]interface{}) (*CacheRecord, error) {
	var dataRaw []byte
	var err error
	if data != nil {
		dataRaw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal cache data: %w", err)
		}
	}
	now := Now()

	var pk int64
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache WHERE hashkey = ?`, hashkey).Scan(&existing)
		if err != nil {
			return fmt.Errorf("%w: check existing cache record: %v", ErrUnavailable, err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: hashkey already cached: %s", ErrAlreadyExists, hashkey)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cache (hashkey, uri, description, data, created, accessed)
			VALUES (?, ?, ?, ?, ?, ?)
		`, hashkey, uri, description, nullableString(dataRaw), now, now)
		if err != nil {
			return fmt.Errorf("%w: insert cache record: %v", ErrUnavailable, err)
		}
		pk, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: insert cache record: %v", ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CacheRecord{
		PK: pk, Hashkey: hashkey, URI: uri, Description: description,
		Data: data, Created: now, Accessed: now,
	}, nil
}

// CacheGetByPK returns ErrNotFound if no cache record has the given pk.
func (s *Store) CacheGetByPK(ctx context.Context, pk int64) (*CacheRecord, error) {
	var rec *CacheRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT pk, hashkey, uri, description, data, created, accessed
			FROM cache WHERE pk = ?
		`, pk)
		r, err := scanCache(row)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CacheGetByFingerprint returns ErrNotFound if no cache record has the given
// fingerprint.
func (s *Store) CacheGetByFingerprint(ctx context.Context, hashkey string) (*CacheRecord, error) {
	var rec *CacheRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT pk, hashkey, uri, description, data, created, accessed
			FROM cache WHERE hashkey = ?
		`, hashkey)
		r, err := scanCache(row)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CacheGetByURI returns every historical cache record created for uri; a
// single origin uri may be cached multiple times across edits.
func (s *Store) CacheGetByURI(ctx context.Context, uri string) ([]*CacheRecord, error) {
	var out []*CacheRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT pk, hashkey, uri, description, data, created, accessed
			FROM cache WHERE uri = ?
		`, uri)
		if err != nil {
			return fmt.Errorf("%w: list cache records for %q: %v", ErrUnavailable, uri, err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanCache(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CacheAll returns every cache record.
func (s *Store) CacheAll(ctx context.Context) ([]*CacheRecord, error) {
	var out []*CacheRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT pk, hashkey, uri, description, data, created, accessed
			FROM cache ORDER BY pk
		`)
		if err != nil {
			return fmt.Errorf("%w: list cache records: %v", ErrUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanCache(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CacheTouch updates a cache record's accessed time to now, on retrieval.
func (s *Store) CacheTouch(ctx context.Context, pk int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE cache SET accessed = ? WHERE pk = ?`, Now(), pk)
		if err != nil {
			return fmt.Errorf("%w: touch cache record %d: %v", ErrUnavailable, pk, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: touch cache record %d: %v", ErrUnavailable, pk, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: cache record %d", ErrNotFound, pk)
		}
		return nil
	})
}

// CacheRemove deletes cache records by primary key.
func (s *Store) CacheRemove(ctx context.Context, pks []int64) error {
	if len(pks) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query, args := inClause(`DELETE FROM cache WHERE pk IN (%s)`, pks)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: remove cache records: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// CacheSelectEvictable returns the primary keys of every cache record
// except the keep most-recently-accessed ones, mirroring
// NbCacheRecord.records_to_delete.
func (s *Store) CacheSelectEvictable(ctx context.Context, keep int) ([]int64, error) {
	var out []int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT pk FROM cache
			WHERE pk NOT IN (
				SELECT pk FROM cache ORDER BY accessed DESC LIMIT ?
			)
		`, keep)
		if err != nil {
			return fmt.Errorf("%w: select evictable cache records: %v", ErrUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			var pk int64
			if err := rows.Scan(&pk); err != nil {
				return fmt.Errorf("%w: scan evictable pk: %v", ErrUnavailable, err)
			}
			out = append(out, pk)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanCache(row rowScanner) (*CacheRecord, error) {
	var (
		pk                    int64
		hashkey, uri, descr   string
		dataRaw               sql.NullString
		created, accessed     time.Time
	)
	if err := row.Scan(&pk, &hashkey, &uri, &descr, &dataRaw, &created, &accessed); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: cache record", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: scan cache record: %v", ErrUnavailable, err)
	}
	rec := &CacheRecord{PK: pk, Hashkey: hashkey, URI: uri, Description: descr, Created: created, Accessed: accessed}
	if dataRaw.Valid {
		if err := json.Unmarshal([]byte(dataRaw.String), &rec.Data); err != nil {
			return nil, fmt.Errorf("decode cache data for %q: %w", hashkey, err)
		}
	}
	return rec, nil
}
