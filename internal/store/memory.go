package store

import (
	"container/list"
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// MemoryStore is a bounded in-memory ResponseStore and CompletionStore
// with LRU eviction. Reads promote; writes promote and may evict the
// least recently used record.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int

	order    *list.List               // front = most recent
	elements map[string]*list.Element // response id -> order element
}

type memoryEntry struct {
	id          string
	response    *models.Response
	inputItems  []models.Item
	outputItems []models.Item
	completion  *openai.ChatCompletionResponse
}

// NewMemoryStore creates a memory store holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{
		capacity: capacity,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (s *MemoryStore) entry(id string, promote bool) *memoryEntry {
	elem, ok := s.elements[id]
	if !ok {
		return nil
	}
	if promote {
		s.order.MoveToFront(elem)
	}
	return elem.Value.(*memoryEntry)
}

func (s *MemoryStore) upsert(id string) *memoryEntry {
	if e := s.entry(id, true); e != nil {
		return e
	}
	e := &memoryEntry{id: id}
	s.elements[id] = s.order.PushFront(e)
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.elements, oldest.Value.(*memoryEntry).id)
	}
	return e
}

func (s *MemoryStore) StoreResponse(_ context.Context, response *models.Response, inputItems []models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.upsert(response.ID)
	clone := *response
	e.response = &clone
	e.inputItems = mergeItems(e.inputItems, projectToInput(inputItems))
	e.outputItems = mergeItems(e.outputItems, response.Output)
	return nil
}

func (s *MemoryStore) GetResponse(_ context.Context, id string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(id, true)
	if e == nil || e.response == nil {
		return nil, ErrNotFound
	}
	clone := *e.response
	return &clone, nil
}

func (s *MemoryStore) GetInputItems(_ context.Context, id string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(id, true)
	if e == nil || e.response == nil {
		return nil, ErrNotFound
	}
	items := make([]models.Item, len(e.inputItems))
	copy(items, e.inputItems)
	return items, nil
}

func (s *MemoryStore) GetOutputItems(_ context.Context, id string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(id, true)
	if e == nil || e.response == nil {
		return nil, ErrNotFound
	}
	items := make([]models.Item, len(e.outputItems))
	copy(items, e.outputItems)
	return items, nil
}

func (s *MemoryStore) DeleteResponse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.elements[id]
	if !ok || elem.Value.(*memoryEntry).response == nil {
		return ErrNotFound
	}
	s.order.Remove(elem)
	delete(s.elements, id)
	return nil
}

func (s *MemoryStore) StoreCompletion(_ context.Context, completion openai.ChatCompletionResponse, _ []openai.ChatCompletionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.upsert(completion.ID)
	clone := completion
	e.completion = &clone
	return nil
}

func (s *MemoryStore) GetCompletion(_ context.Context, id string) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(id, true)
	if e == nil || e.completion == nil {
		return openai.ChatCompletionResponse{}, ErrNotFound
	}
	return *e.completion, nil
}

func (s *MemoryStore) DeleteCompletion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.elements[id]
	if !ok || elem.Value.(*memoryEntry).completion == nil {
		return ErrNotFound
	}
	s.order.Remove(elem)
	delete(s.elements, id)
	return nil
}
