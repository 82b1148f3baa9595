package state

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"loanchain/crypto"
)

// roleMembers loads the sorted member list of a role.
func (m *Manager) roleMembers(role string) ([][]byte, error) {
	var members [][]byte
	if _, err := m.load(roleKey(role), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// SetRole grants role to addr. Members are kept sorted; granting twice is a
// no-op.
func (m *Manager) SetRole(role string, addr crypto.Address) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("role must not be empty")
	}
	if addr.IsZero() {
		return fmt.Errorf("address must not be empty")
	}
	members, err := m.roleMembers(role)
	if err != nil {
		return err
	}
	raw := addr.Bytes()
	pos, found := slices.BinarySearchFunc(members, raw, bytes.Compare)
	if found {
		return nil
	}
	return m.store(roleKey(role), slices.Insert(members, pos, raw))
}

// HasRole reports membership. Read errors count as not a member.
func (m *Manager) HasRole(role string, addr crypto.Address) bool {
	if addr.IsZero() {
		return false
	}
	members, err := m.roleMembers(strings.TrimSpace(role))
	if err != nil {
		return false
	}
	_, found := slices.BinarySearchFunc(members, addr.Bytes(), bytes.Compare)
	return found
}
