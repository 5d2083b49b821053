package acpprovider

import "sync"

// ModelInfo is one pseudo-model entry, one per configured agent.
type ModelInfo struct {
	ID   string
	Name string
}

// modelListBroadcaster publishes model-list-changed notifications to every
// subscriber registered at the time of a publish (spec §4.5's enable-state
// transition behavior). There is no unsubscribe: every subscriber keeps
// being called on each publish, so this stays a flat slice behind a mutex.
type modelListBroadcaster struct {
	mu          sync.RWMutex
	subscribers []func([]ModelInfo)
}

func newModelListBroadcaster() *modelListBroadcaster {
	return &modelListBroadcaster{}
}

// Subscribe registers fn to be called on every future publish.
func (b *modelListBroadcaster) Subscribe(fn func([]ModelInfo)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish notifies every subscriber of the current model list, in
// registration order.
func (b *modelListBroadcaster) Publish(models []ModelInfo) {
	b.mu.RLock()
	subs := append([]func([]ModelInfo){}, b.subscribers...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(models)
	}
}
