package timeline

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Context owns the entity arena, the event bus and the name counters for
// every timeline built from it.
type Context struct {
	log      *zap.Logger
	bus      *Bus
	entities arena

	mu       sync.Mutex
	counters map[string]int
}

// NewContext builds a context. A nil logger is replaced by zap.NewNop.
func NewContext(log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{
		log:      log,
		bus:      newBus(),
		counters: make(map[string]int),
	}
}

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger { return c.log }

// Bus returns the event bus shared by the context entities.
func (c *Context) Bus() *Bus { return c.bus }

// Lookup resolves a handle to its entity.
func (c *Context) Lookup(h Handle) (any, bool) {
	return c.entities.get(h)
}

// Live returns the number of entities registered in the context.
func (c *Context) Live() int { return c.entities.len() }

func (c *Context) register(kind Kind, v any) Handle {
	return c.entities.insert(kind, v)
}

// release drops an entity from the arena and its bus subscriptions.
func (c *Context) release(h Handle) {
	c.bus.Drop(h)
	c.entities.release(h)
}

// nextName generates "<prefix><n>" with a per-prefix counter.
func (c *Context) nextName(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix = strings.ToLower(prefix)
	n := c.counters[prefix]
	c.counters[prefix] = n + 1
	return fmt.Sprintf("%s%d", prefix, n)
}

// bumpName makes sure generated names never reuse an explicit name of the
// same prefix form.
func (c *Context) bumpName(name string) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == 0 || i == len(name) {
		return
	}
	var n int
	if _, err := fmt.Sscanf(name[i:], "%d", &n); err != nil {
		return
	}
	prefix := strings.ToLower(name[:i])

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters[prefix] <= n {
		c.counters[prefix] = n + 1
	}
}

func (c *Context) timeline(h Handle) (*Timeline, bool) {
	v, ok := c.entities.get(h)
	if !ok {
		return nil, false
	}
	tl, ok := v.(*Timeline)
	return tl, ok
}

func (c *Context) layer(h Handle) (*Layer, bool) {
	v, ok := c.entities.get(h)
	if !ok {
		return nil, false
	}
	l, ok := v.(*Layer)
	return l, ok
}

func (c *Context) track(h Handle) (*Track, bool) {
	v, ok := c.entities.get(h)
	if !ok {
		return nil, false
	}
	t, ok := v.(*Track)
	return t, ok
}

func (c *Context) element(h Handle) (Element, bool) {
	v, ok := c.entities.get(h)
	if !ok {
		return nil, false
	}
	el, ok := v.(Element)
	return el, ok
}
