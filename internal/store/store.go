// Package store is the durable record of each URL's progress, backed by
// bbolt. Records are keyed by URL and safe to delete at any time: losing
// one forces a full restart for that task only.
package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"talkgrab"
)

var buckets = struct {
	Metadata []byte
	Tasks    []byte
}{
	Metadata: []byte("__metadata__"),
	Tasks:    []byte("tasks"),
}

var metadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		metadata, err := tx.CreateBucketIfNotExists(buckets.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(buckets.Tasks); err != nil {
			return err
		}

		var version int
		if versionBytes := metadata.Get(metadataKeys.Version); versionBytes != nil {
			if err := json.Unmarshal(versionBytes, &version); err != nil {
				return err
			}
		}
		if version > currentVersion {
			return fmt.Errorf("task store version %d is newer than supported %d", version, currentVersion)
		}

		versionBytes, err := json.Marshal(currentVersion)
		if err != nil {
			return err
		}
		return metadata.Put(metadataKeys.Version, versionBytes)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// List returns all recorded tasks.
func (s *Store) List() (tasks []talkgrab.Task, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(buckets.Tasks)
		return bucket.ForEach(func(k, v []byte) error {
			var task talkgrab.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("corrupt task record %q: %w", k, err)
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// Get returns the task recorded for url, or nil if none exists.
func (s *Store) Get(url string) (*talkgrab.Task, error) {
	var task *talkgrab.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(buckets.Tasks).Get([]byte(url))
		if v == nil {
			return nil
		}
		task = &talkgrab.Task{}
		return json.Unmarshal(v, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Put writes the task record keyed by its URL.
func (s *Store) Put(task *talkgrab.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Tasks).Put([]byte(task.URL), data)
	})
}

// Delete removes the record for url. Missing records are not an error.
func (s *Store) Delete(url string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Tasks).Delete([]byte(url))
	})
}
