package notify

import "sync"

// Counter is the unread notification count shared by every surface of a
// session. Only a Channel writes it; everyone else reads Value or
// subscribes.
type Counter struct {
	mu   sync.Mutex
	n    int
	subs map[int]func(int)
	next int
}

func NewCounter() *Counter {
	return &Counter{subs: make(map[int]func(int))}
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Subscribe registers fn to receive every new value. The returned func
// removes the subscription.
func (c *Counter) Subscribe(fn func(int)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Counter) set(n int) { c.update(func(int) int { return n }) }

func (c *Counter) incr() { c.update(func(v int) int { return v + 1 }) }

func (c *Counter) decr() { c.update(func(v int) int { return v - 1 }) }

func (c *Counter) update(f func(int) int) {
	c.mu.Lock()
	v := f(c.n)
	if v < 0 {
		v = 0
	}
	c.n = v
	subs := make([]func(int), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}
