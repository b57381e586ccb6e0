package controller

import (
	"errors"
	"strings"
	"sync"

	"github.com/lukeponga-dev/rotorwise/pkg/store"
)

const credentialKey = "credential"

// ErrEmptyCredential is returned when saving a blank credential.
var ErrEmptyCredential = errors.New("controller: credential is empty")

// Credentials persists the API credential in the local store. The value is
// cached in memory after the first read so the hot path does not hit disk.
type Credentials struct {
	mu     sync.Mutex
	kv     store.KV
	cached string
	loaded bool
}

// NewCredentials wraps the given store.
func NewCredentials(kv store.KV) *Credentials {
	return &Credentials{kv: kv}
}

// Set trims and persists the credential.
func (c *Credentials) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmptyCredential
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.Put(credentialKey, []byte(value)); err != nil {
		return err
	}
	c.cached, c.loaded = value, true
	return nil
}

// Get returns the credential, or "" when none is stored.
func (c *Credentials) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

// Present reports whether a credential is stored.
func (c *Credentials) Present() bool {
	return c.Get() != ""
}

// Clear removes the credential. Clearing an absent credential is a no-op.
func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.Delete(credentialKey); err != nil {
		return err
	}
	c.cached, c.loaded = "", true
	return nil
}

func (c *Credentials) loadLocked() string {
	if c.loaded {
		return c.cached
	}
	raw, err := c.kv.Get(credentialKey)
	if err == nil {
		c.cached = string(raw)
	}
	c.loaded = true
	return c.cached
}
