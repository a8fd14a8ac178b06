// Package store implements the durable job registry described in
// spec.md §4.1. It is backed by BoltDB (go.etcd.io/bbolt), the same
// embedded-database dependency the teacher codebase uses for its own job
// persistence, reused here because its single-file ACID transactions give
// the crash-atomicity the spec calls for without a hand-rolled
// temp-write-fsync-rename dance.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tablecron/tablecron/internal/types"
)

const jobsBucket = "jobs"

// Sentinel errors returned by Store operations; callers type-switch or use
// errors.Is against these.
var (
	ErrNameInUse = errors.New("job name already in use")
	ErrNotFound  = errors.New("job not found")
)

// StorageError wraps an underlying I/O failure from the BoltDB file.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the durable mapping from job name to Job.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the BoltDB file at path and ensures the
// jobs bucket exists. A corrupt or unreadable file is returned as a
// *StorageError and left in place; Open does not fall back to an empty
// registry, and the serve command exits when Open fails.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "init bucket", Err: err}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts a new job. It fails with ErrNameInUse if the name already
// exists.
func (s *Store) Put(job types.Job) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		if b.Get([]byte(job.Name)) != nil {
			return ErrNameInUse
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.Name), encoded)
	})
	if err != nil {
		if errors.Is(err, ErrNameInUse) {
			return ErrNameInUse
		}
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// Replace overwrites an existing job, preserving CreatedAt and LastRun from
// the prior row. It fails with ErrNotFound if the name is absent.
func (s *Store) Replace(name string, job types.Job) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		existing := b.Get([]byte(name))
		if existing == nil {
			return ErrNotFound
		}
		var prior types.Job
		if err := json.Unmarshal(existing, &prior); err != nil {
			return err
		}
		job.Name = name
		job.CreatedAt = prior.CreatedAt
		job.LastRun = prior.LastRun
		encoded, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), encoded)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return &StorageError{Op: "replace", Err: err}
	}
	return nil
}

// Get retrieves a job by name.
func (s *Store) Get(name string) (types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		val := b.Get([]byte(name))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &job)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Job{}, ErrNotFound
		}
		return types.Job{}, &StorageError{Op: "get", Err: err}
	}
	return job, nil
}

// List returns every stored job in unspecified order.
func (s *Store) List() ([]types.Job, error) {
	var jobs []types.Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		return b.ForEach(func(_, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return jobs, nil
}

// Remove deletes a job by name.
func (s *Store) Remove(name string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		if b.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(name))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return &StorageError{Op: "remove", Err: err}
	}
	return nil
}

// TouchLastRun updates last_run for name. A missing job is silently
// dropped, covering the race where a job is deleted mid-run.
func (s *Store) TouchLastRun(name string, t time.Time) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		val := b.Get([]byte(name))
		if val == nil {
			return nil
		}
		var job types.Job
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		job.LastRun = &t
		encoded, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), encoded)
	})
	if err != nil {
		return &StorageError{Op: "touch_last_run", Err: err}
	}
	return nil
}
