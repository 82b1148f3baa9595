package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"loanchain/storage"
)

// Manager keeps ledger and loan state as RLP values in a flat key/value
// store. Every key is keccak256-hashed before it reaches the database.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// load decodes the value under a hashed key into out. It reports false when
// the key is absent and leaves out untouched.
func (m *Manager) load(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(data) == 0) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

func (m *Manager) store(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

func kvKey(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("kv: key must not be empty")
	}
	return ethcrypto.Keccak256(key), nil
}

// KVPut RLP-encodes value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	hashed, err := kvKey(key)
	if err != nil {
		return err
	}
	return m.store(hashed, value)
}

// KVGet decodes the value under key into out and reports whether it existed.
// A nil out only checks for presence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	hashed, err := kvKey(key)
	if err != nil {
		return false, err
	}
	return m.load(hashed, out)
}

func (m *Manager) KVDelete(key []byte) error {
	hashed, err := kvKey(key)
	if err != nil {
		return err
	}
	return m.db.Delete(hashed)
}
