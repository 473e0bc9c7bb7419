package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ProjectRecord is a record of a notebook tracked by the project registry
// (the "nbproject" table in the original), not yet necessarily executed.
type ProjectRecord struct {
	PK        int64
	URI       string
	ReadData  map[string]interface{} // must contain "name": the reader to use
	Assets    []string
	ExecData  map[string]interface{}
	Created   time.Time
	Traceback *string
}

func (p *ProjectRecord) readerName() string {
	if p.ReadData == nil {
		return ""
	}
	if n, ok := p.ReadData["name"].(string); ok {
		return n
	}
	return ""
}

// ProjectCreate inserts a new project record. Returns ErrAlreadyExists if
// the uri is already tracked.
func (s *Store) ProjectCreate(ctx context.Context, uri string, readData map[string]interface{}, assets []string, execData map[string]interface{}) (*ProjectRecord, error) {
	if readData == nil || readData["name"] == nil {
		return nil, fmt.Errorf("read_data must have a name")
	}
	readRaw, err := json.Marshal(readData)
	if err != nil {
		return nil, fmt.Errorf("marshal read_data: %w", err)
	}
	if assets == nil {
		assets = []string{}
	}
	assetsRaw, err := json.Marshal(assets)
	if err != nil {
		return nil, fmt.Errorf("marshal assets: %w", err)
	}
	var execRaw []byte
	if execData != nil {
		execRaw, err = json.Marshal(execData)
		if err != nil {
			return nil, fmt.Errorf("marshal exec_data: %w", err)
		}
	}
	created := Now()

	var pk int64
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM project WHERE uri = ?`, uri).Scan(&existing)
		if err != nil {
			return fmt.Errorf("%w: check existing project: %v", ErrUnavailable, err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: uri already in project: %s", ErrAlreadyExists, uri)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO project (uri, reader, read_data, assets, exec_data, created, traceback)
			VALUES (?, ?, ?, ?, ?, ?, NULL)
		`, uri, readData["name"], string(readRaw), string(assetsRaw), nullableString(execRaw), created)
		if err != nil {
			return fmt.Errorf("%w: insert project: %v", ErrUnavailable, err)
		}
		pk, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: insert project: %v", ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ProjectRecord{
		PK:       pk,
		URI:      uri,
		ReadData: readData,
		Assets:   assets,
		ExecData: execData,
		Created:  created,
	}, nil
}

// ProjectRemoveByPKs deletes project records by primary key.
func (s *Store) ProjectRemoveByPKs(ctx context.Context, pks []int64) error {
	if len(pks) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query, args := inClause(`DELETE FROM project WHERE pk IN (%s)`, pks)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: remove project records: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// ProjectRemoveByURIs deletes project records by uri.
func (s *Store) ProjectRemoveByURIs(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query, args := inClauseStr(`DELETE FROM project WHERE uri IN (%s)`, uris)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: remove project records: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// ProjectGetByPK returns ErrNotFound if no project record has the given pk.
func (s *Store) ProjectGetByPK(ctx context.Context, pk int64) (*ProjectRecord, error) {
	var rec *ProjectRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT pk, uri, read_data, assets, exec_data, created, traceback
			FROM project WHERE pk = ?
		`, pk)
		r, err := scanProject(row)
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

// ProjectGetByURI returns ErrNotFound if no project record has the given uri.
func (s *Store) ProjectGetByURI(ctx context.Context, uri string) (*ProjectRecord, error) {
	var rec *ProjectRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT pk, uri, read_data, assets, exec_data, created, traceback
			FROM project WHERE uri = ?
		`, uri)
		r, err := scanProject(row)
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

// ProjectAllOrderedByPK returns every project record, ordered by insertion.
func (s *Store) ProjectAllOrderedByPK(ctx context.Context) ([]*ProjectRecord, error) {
	var out []*ProjectRecord
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT pk, uri, read_data, assets, exec_data, created, traceback
			FROM project ORDER BY pk
		`)
		if err != nil {
			return fmt.Errorf("%w: list project records: %v", ErrUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanProject(rows)
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

// ProjectSetTraceback records (or clears, if traceback is nil) the
// traceback for the notebook at uri. Returns ErrNotFound if uri is untracked.
func (s *Store) ProjectSetTraceback(ctx context.Context, uri string, traceback *string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE project SET traceback = ? WHERE uri = ?`, traceback, uri)
		if err != nil {
			return fmt.Errorf("%w: set traceback for %q: %v", ErrUnavailable, uri, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: set traceback for %q: %v", ErrUnavailable, uri, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: project record for uri %q", ErrNotFound, uri)
		}
		return nil
	})
}

// ProjectClearTracebacks clears tracebacks for the given primary keys,
// ahead of a fresh execution run (spec §4.6).
func (s *Store) ProjectClearTracebacks(ctx context.Context, pks []int64) error {
	if len(pks) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query, args := inClause(`UPDATE project SET traceback = NULL WHERE pk IN (%s)`, pks)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: clear tracebacks: %v", ErrUnavailable, err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*ProjectRecord, error) {
	var (
		pk                          int64
		uri, readRaw, assetsRaw     string
		execRaw, traceback          sql.NullString
		created                     time.Time
	)
	if err := row.Scan(&pk, &uri, &readRaw, &assetsRaw, &execRaw, &created, &traceback); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: project record", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: scan project record: %v", ErrUnavailable, err)
	}
	rec := &ProjectRecord{PK: pk, URI: uri, Created: created}
	if err := json.Unmarshal([]byte(readRaw), &rec.ReadData); err != nil {
		return nil, fmt.Errorf("decode read_data for %q: %w", uri, err)
	}
	if err := json.Unmarshal([]byte(assetsRaw), &rec.Assets); err != nil {
		return nil, fmt.Errorf("decode assets for %q: %w", uri, err)
	}
	if execRaw.Valid {
		if err := json.Unmarshal([]byte(execRaw.String), &rec.ExecData); err != nil {
			return nil, fmt.Errorf("decode exec_data for %q: %w", uri, err)
		}
	}
	if traceback.Valid {
		tb := traceback.String
		rec.Traceback = &tb
	}
	return rec, nil
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
