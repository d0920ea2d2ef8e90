// Package querycache caches backend query results per (user, active role)
// scope, so a role switch can drop one scope instead of every entry.
package querycache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Scope identifies whose view of the data an entry belongs to.
type Scope struct {
	UserID     string
	ActiveRole string
}

func (s Scope) prefix() string {
	return s.UserID + "\x00" + s.ActiveRole + "\x00"
}

// Cache is a size- and age-bounded scoped cache. It is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, []byte]

	mu     sync.Mutex
	scopes map[Scope]map[string]struct{}
}

// New creates a cache holding at most size entries for ttl each.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	c := &Cache{scopes: make(map[Scope]map[string]struct{})}
	c.lru = expirable.NewLRU[string, []byte](size, c.onEvict, ttl)
	return c
}

// Get returns the cached value for key in scope.
func (c *Cache) Get(scope Scope, key string) ([]byte, bool) {
	return c.lru.Get(scope.prefix() + key)
}

// Set stores value for key in scope. An InvalidateScope racing with Set
// never leaves an untracked entry behind.
func (c *Cache) Set(scope Scope, key string, value []byte) {
	full := scope.prefix() + key
	c.mu.Lock()
	keys, ok := c.scopes[scope]
	if !ok {
		keys = make(map[string]struct{})
		c.scopes[scope] = keys
	}
	keys[full] = struct{}{}
	c.mu.Unlock()

	// The LRU calls onEvict under its own lock, so mu cannot be held here.
	c.lru.Add(full, value)

	if !c.tracked(scope, full) {
		c.lru.Remove(full)
	}
}

func (c *Cache) tracked(scope Scope, full string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.scopes[scope][full]
	return ok
}

// InvalidateScope removes every entry of scope and returns how many were
// dropped.
func (c *Cache) InvalidateScope(scope Scope) int {
	c.mu.Lock()
	keys := c.scopes[scope]
	delete(c.scopes, scope)
	c.mu.Unlock()

	n := 0
	for k := range keys {
		if c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// InvalidateUser removes every entry of userID across all roles.
func (c *Cache) InvalidateUser(userID string) int {
	c.mu.Lock()
	var scopes []Scope
	for s := range c.scopes {
		if s.UserID == userID {
			scopes = append(scopes, s)
		}
	}
	c.mu.Unlock()

	n := 0
	for _, s := range scopes {
		n += c.InvalidateScope(s)
	}
	return n
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) onEvict(key string, _ []byte) {
	userID, rest, ok := strings.Cut(key, "\x00")
	if !ok {
		return
	}
	role, _, ok := strings.Cut(rest, "\x00")
	if !ok {
		return
	}
	scope := Scope{UserID: userID, ActiveRole: role}

	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.scopes[scope]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.scopes, scope)
		}
	}
}
