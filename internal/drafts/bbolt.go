// Package drafts is the durable local staging queue for recorded voice notes
// that have not reached the object store yet. It is the one piece of state
// that must survive a process restart: the recording exists nowhere else.
package drafts

import (
	"fmt"
	"sort"
	"time"

	"tetatet/internal/models"

	"go.etcd.io/bbolt"
)

var bucketDrafts = []byte("voice_drafts")

type Store struct {
	db *bbolt.DB
}

func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDrafts)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a new or updated draft. No retry on storage failure; the error
// propagates to the caller.
func (s *Store) Save(draft *VoiceNoteDraft) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		data, err := draft.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal draft: %w", err)
		}
		return b.Put(draft.Key(), data)
	})
}

func (s *Store) Get(id string) (*VoiceNoteDraft, error) {
	var draft VoiceNoteDraft
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		data := b.Get([]byte(keyPrefix + id))
		if data == nil {
			return models.ErrNotFound
		}
		return draft.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		return b.Delete([]byte(keyPrefix + id))
	})
}

// ListAll returns all pending drafts, newest first.
func (s *Store) ListAll() ([]VoiceNoteDraft, error) {
	var result []VoiceNoteDraft
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		return b.ForEach(func(k, v []byte) error {
			var draft VoiceNoteDraft
			if err := draft.UnmarshalBinary(v); err != nil {
				return err
			}
			result = append(result, draft)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})
	return result, nil
}

// IncrementRetry bumps the retry counter of an existing draft. The counter is
// informational; it never triggers deletion.
func (s *Store) IncrementRetry(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		key := []byte(keyPrefix + id)
		data := b.Get(key)
		if data == nil {
			return models.ErrNotFound
		}
		var draft VoiceNoteDraft
		if err := draft.UnmarshalBinary(data); err != nil {
			return err
		}
		draft.RetryCount++
		newData, err := draft.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, newData)
	})
}
