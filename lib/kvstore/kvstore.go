// Package kvstore wraps badger for the engine's durable state: settings
// keys, the inactive-lot and greeting caches and the raise timestamp.
// Values the settings contract requires to round-trip as JSON use the
// JSON helpers, internal-only values use gob.
package kvstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = badger.ErrKeyNotFound

type Store struct {
	db *badger.DB
}

func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory is for tests.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getRaw(key string) ([]byte, error) {
	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	item, err := tx.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) setRaw(key string, value []byte) error {
	tx := s.db.NewTransaction(true)
	err := tx.Set([]byte(key), value)
	if err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(key string) error {
	tx := s.db.NewTransaction(true)
	err := tx.Delete([]byte(key))
	if err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

func (s *Store) GetGob(key string, out any) error {
	raw, err := s.getRaw(key)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewBuffer(raw)).Decode(out)
}

func (s *Store) SetGob(key string, value any) error {
	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(value)
	if err != nil {
		return err
	}
	return s.setRaw(key, serialized.Bytes())
}

func (s *Store) GetJSON(key string, out any) error {
	raw, err := s.getRaw(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) SetJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.setRaw(key, raw)
}

func (s *Store) GetString(key string) (string, error) {
	raw, err := s.getRaw(key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) SetString(key, value string) error {
	return s.setRaw(key, []byte(value))
}

// GetBool returns fallback when the key is missing.
func (s *Store) GetBool(key string, fallback bool) bool {
	raw, err := s.getRaw(key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseBool(string(raw))
	if err != nil {
		return fallback
	}
	return v
}

func (s *Store) SetBool(key string, value bool) error {
	return s.setRaw(key, []byte(strconv.FormatBool(value)))
}

// GetInt64 returns fallback when the key is missing.
func (s *Store) GetInt64(key string, fallback int64) int64 {
	raw, err := s.getRaw(key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Store) SetInt64(key string, value int64) error {
	return s.setRaw(key, []byte(strconv.FormatInt(value, 10)))
}
