package sandbox

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// record wraps a Sandbox with the lock that serializes touch/destroy for that
// one sandbox. All mutation goes through the record, never the copy handed to
// callers.
type record struct {
	_data Sandbox

	mu sync.Mutex
}

func (r *record) data() Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r._data
}

// Store is the in-memory sandbox record store. The project and container
// indexes always point at the most recent sandbox for their key.
type Store struct {
	items       cmap.ConcurrentMap[string, *record]
	byProject   cmap.ConcurrentMap[string, string]
	byContainer cmap.ConcurrentMap[string, string]
}

func NewStore() *Store {
	return &Store{
		items:       cmap.New[*record](),
		byProject:   cmap.New[string](),
		byContainer: cmap.New[string](),
	}
}

func (s *Store) insert(data Sandbox) *record {
	rec := &record{_data: data}

	s.items.Set(data.ID, rec)
	s.byProject.Set(data.ProjectID, data.ID)
	s.byContainer.Set(data.ContainerID, data.ID)

	return rec
}

func (s *Store) get(sandboxID string) (*record, bool) {
	return s.items.Get(sandboxID)
}

func (s *Store) getByProject(projectID string) (*record, bool) {
	id, ok := s.byProject.Get(projectID)
	if !ok {
		return nil, false
	}

	return s.items.Get(id)
}

func (s *Store) getByContainer(containerID string) (*record, bool) {
	id, ok := s.byContainer.Get(containerID)
	if !ok {
		return nil, false
	}

	return s.items.Get(id)
}

func (s *Store) list() []*record {
	records := make([]*record, 0, s.items.Count())
	for item := range s.items.IterBuffered() {
		records = append(records, item.Val)
	}

	return records
}
