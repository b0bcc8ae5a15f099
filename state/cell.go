// Package state implements the finite-state holders for auth and sync
// (§4.3), grounded on the teacher's authn package's role/token lifecycle
// (authn/utils.go) generalized from a fixed enum to a reusable cell type.
package state

import (
	"sync"

	"github.com/golang/glog"
)

// AuthState values (§4.3).
const (
	AuthIdle         = "idle"
	AuthInitializing = "initializing"
	AuthAuthorizing  = "authorizing"
	AuthAuthorized   = "authorized"
	AuthUnauthorized = "unauthorized"
	AuthError        = "error"
)

// SyncState values (§4.3).
const (
	SyncIdle    = "idle"
	SyncReady   = "ready"
	SyncSyncing = "syncing"
	SyncError   = "error"
)

// AuthStateValues and SyncStateValues enumerate the allowed values in a
// stable order, for callers (e.g. metrics.ObserveState) that need to zero
// every gauge series but the currently-held one.
var (
	AuthStateValues = []string{AuthIdle, AuthInitializing, AuthAuthorizing, AuthAuthorized, AuthUnauthorized, AuthError}
	SyncStateValues = []string{SyncIdle, SyncReady, SyncSyncing, SyncError}

	authStates = set(AuthStateValues...)
	syncStates = set(SyncStateValues...)
)

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

// Cell is a finite-state holder: Set is a no-op (with a logged warning) for
// any value outside the allowed set, and every accepted Set fires onChange.
// Unrestricted transitions among the allowed values are permitted (§4.3).
type Cell struct {
	mu       sync.Mutex
	name     string
	value    string
	allowed  map[string]struct{}
	onChange func(old, new string)
}

func newCell(name, initial string, allowed map[string]struct{}, onChange func(old, new string)) *Cell {
	return &Cell{name: name, value: initial, allowed: allowed, onChange: onChange}
}

// NewAuthCell returns a Cell initialized to AuthIdle (§4.3).
func NewAuthCell(onChange func(old, new string)) *Cell {
	return newCell("authState", AuthIdle, authStates, onChange)
}

// NewSyncCell returns a Cell initialized to SyncIdle (§4.3).
func NewSyncCell(onChange func(old, new string)) *Cell {
	return newCell("syncState", SyncIdle, syncStates, onChange)
}

// Get returns the cell's current value.
func (c *Cell) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set transitions the cell to v. Returns false without changing state (and
// logs a warning) if v is outside the cell's allowed set.
func (c *Cell) Set(v string) bool {
	c.mu.Lock()
	if _, ok := c.allowed[v]; !ok {
		c.mu.Unlock()
		glog.Warningf("state: rejecting invalid %s transition to %q", c.name, v)
		return false
	}
	old := c.value
	c.value = v
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(old, v)
	}
	return true
}
