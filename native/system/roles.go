package system

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"greenledger/crypto"
)

const (
	// RoleAdmin may register assets, manage validators and tune parameters.
	RoleAdmin = "ROLE_ADMIN"
	// RoleGuardian may pause modules and force-cancel bridge transfers.
	RoleGuardian = "ROLE_GUARDIAN"
)

// ErrRoleUnknown rejects grants of role names outside the fixed set.
var ErrRoleUnknown = errors.New("system: unknown role")

const rolePrefix = "system/roles/"

type storedRole struct {
	Members [][]byte
}

func roleKey(role string) []byte {
	buf := make([]byte, 0, len(rolePrefix)+len(role))
	buf = append(buf, rolePrefix...)
	buf = append(buf, role...)
	return buf
}

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleGuardian
}

// Roles maps role names to member addresses.
type Roles struct {
	store Storage
	mu    sync.Mutex
}

func NewRoles(store Storage) *Roles {
	return &Roles{store: store}
}

func (r *Roles) load(role string) (*storedRole, error) {
	var stored storedRole
	ok, err := r.store.KVGet(roleKey(role), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &storedRole{}, nil
	}
	return &stored, nil
}

// Grant adds the address to the role. Granting twice is a no-op.
func (r *Roles) Grant(role string, addr crypto.Address) error {
	if r == nil || r.store == nil {
		return errors.New("system: roles not configured")
	}
	if !validRole(role) {
		return ErrRoleUnknown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.load(role)
	if err != nil {
		return err
	}
	for _, member := range stored.Members {
		if bytes.Equal(member, addr.Bytes()) {
			return nil
		}
	}
	stored.Members = append(stored.Members, append([]byte(nil), addr.Bytes()...))
	sort.Slice(stored.Members, func(i, j int) bool {
		return bytes.Compare(stored.Members[i], stored.Members[j]) < 0
	})
	return r.store.KVPut(roleKey(role), stored)
}

// Revoke removes the address from the role. Revoking a non-member is a no-op.
func (r *Roles) Revoke(role string, addr crypto.Address) error {
	if r == nil || r.store == nil {
		return errors.New("system: roles not configured")
	}
	if !validRole(role) {
		return ErrRoleUnknown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.load(role)
	if err != nil {
		return err
	}
	for i, member := range stored.Members {
		if bytes.Equal(member, addr.Bytes()) {
			stored.Members = append(stored.Members[:i], stored.Members[i+1:]...)
			return r.store.KVPut(roleKey(role), stored)
		}
	}
	return nil
}

// Has reports whether the address holds the role.
func (r *Roles) Has(role string, addr crypto.Address) (bool, error) {
	if r == nil || r.store == nil {
		return false, errors.New("system: roles not configured")
	}
	if !validRole(role) {
		return false, ErrRoleUnknown
	}
	stored, err := r.load(role)
	if err != nil {
		return false, err
	}
	for _, member := range stored.Members {
		if bytes.Equal(member, addr.Bytes()) {
			return true, nil
		}
	}
	return false, nil
}
