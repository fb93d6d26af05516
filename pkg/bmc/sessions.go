package bmc

import (
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openstack/ironic-sub002/pkg/utils"
)

// Session is one authenticated connection to a controller
type Session struct {
	Token     string
	Location  string
	HTTP      *http.Client
	CreatedAt time.Time
}

// SessionCache bounds the number of live authenticated sessions across
// the fleet. Capacity is fixed; when full, the oldest entry is evicted
// regardless of recent use. A connection-level error must evict the
// session so the next call re-authenticates.
type SessionCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*Session
	order    []string // insertion order, oldest first

	logger *log.Entry
}

// DefaultSessionCacheSize bounds live BMC sessions per process
const DefaultSessionCacheSize = 64

// NewSessionCache creates a cache holding at most capacity sessions
func NewSessionCache(capacity int) *SessionCache {
	if capacity <= 0 {
		capacity = DefaultSessionCacheSize
	}
	return &SessionCache{
		capacity: capacity,
		entries:  map[string]*Session{},
		logger:   log.WithField("Module", "BMCSessionCache"),
	}
}

// CacheKey fingerprints an endpoint+credentials pair
func CacheKey(addr Address) string {
	return utils.Hash(addr.Endpoint + "\x00" + addr.Username + "\x00" + addr.Password)
}

// Get returns the cached session for the key, if any
func (c *SessionCache) Get(key string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	return s, ok
}

// Put stores a session, evicting the oldest entry when full
func (c *SessionCache) Put(key string, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = s
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.WithField("key", oldest).Debug("Evicted the oldest BMC session")
	}
	c.entries[key] = s
	c.order = append(c.order, key)
}

// Evict drops the session for the key
func (c *SessionCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.order = utils.RemoveStringItem(c.order, key)
}

// Len returns the number of cached sessions
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
