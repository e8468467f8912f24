package cache

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMemCapacity is the per-namespace entry capacity of a MemStorage
// when none is given.
const DefaultMemCapacity = 10000

// MemStorage keeps entries in memory, one hashicorp LRU per namespace.
// Reads use Peek, so the LRU order is the insertion order.
// The LRU capacity is only a backstop, namespace limits are enforced by the expiration policy.
type MemStorage struct {
	mutex    *sync.RWMutex
	capacity int
	spaces   map[string]*lru.Cache
}

// NewMemStorage returns an empty in-memory storage.
// capacity is the maximum number of entries kept per namespace (DefaultMemCapacity if <= 0).
func NewMemStorage(capacity int) *MemStorage {
	if capacity <= 0 {
		capacity = DefaultMemCapacity
	}
	return &MemStorage{
		mutex:    &sync.RWMutex{},
		capacity: capacity,
		spaces:   make(map[string]*lru.Cache),
	}
}

func (m *MemStorage) space(namespace string, create bool) (*lru.Cache, error) {
	m.mutex.RLock()
	space, ok := m.spaces[namespace]
	m.mutex.RUnlock()
	if ok || !create {
		return space, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if space, ok := m.spaces[namespace]; ok {
		return space, nil
	}
	space, err := lru.New(m.capacity)
	if err != nil {
		return nil, storageError("create namespace", err)
	}
	m.spaces[namespace] = space
	return space, nil
}

func (m *MemStorage) Get(namespace, key string) (Entry, bool, error) {
	space, _ := m.space(namespace, false)
	if space == nil {
		return Entry{}, false, nil
	}
	val, ok := space.Peek(key)
	if !ok {
		return Entry{}, false, nil
	}
	return val.(Entry), true, nil
}

func (m *MemStorage) Put(namespace, key string, entry Entry) error {
	space, err := m.space(namespace, true)
	if err != nil {
		return err
	}
	space.Add(key, entry)
	return nil
}

func (m *MemStorage) Delete(namespace, key string) error {
	if space, _ := m.space(namespace, false); space != nil {
		space.Remove(key)
	}
	return nil
}

func (m *MemStorage) Keys(namespace string) ([]Meta, error) {
	metas := make([]Meta, 0)
	space, _ := m.space(namespace, false)
	if space == nil {
		return metas, nil
	}
	for _, k := range space.Keys() {
		// the entry may have been removed concurrently
		if val, ok := space.Peek(k); ok {
			metas = append(metas, Meta{Key: k.(string), Timestamp: val.(Entry).Timestamp})
		}
	}
	return metas, nil
}

func (m *MemStorage) Namespaces() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	namespaces := make([]string, 0, len(m.spaces))
	for ns, space := range m.spaces {
		if space.Len() > 0 {
			namespaces = append(namespaces, ns)
		}
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

func (m *MemStorage) DeleteNamespace(namespace string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.spaces, namespace)
	return nil
}
