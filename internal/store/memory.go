package store

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Memory is an in-memory Store used in tests. Values are normalized through
// bson marshaling so documents round-trip the same way they do against Mongo.
//
// OnRead and OnWrite, when set, run before the matching operation takes the
// lock; a hook may call back into the store, which is how tests interleave a
// concurrent writer between a count check and a write.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]bson.M

	OnRead  func(collection, id string) error
	OnWrite func(collection, id string) error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]bson.M)}
}

func (m *Memory) Get(ctx context.Context, collection, id string, out interface{}) error {
	if m.OnRead != nil {
		if err := m.OnRead(collection, id); err != nil {
			return err
		}
	}

	m.mu.RLock()
	doc, ok := m.data[collection][id]
	if ok {
		copied := bson.M{"_id": id}
		for k, v := range doc {
			copied[k] = v
		}
		doc = copied
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decodeInto(doc, out)
}

func (m *Memory) Set(ctx context.Context, collection, id string, doc interface{}, merge bool) error {
	if m.OnWrite != nil {
		if err := m.OnWrite(collection, id); err != nil {
			return err
		}
	}

	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	delete(fields, "_id")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[collection] == nil {
		m.data[collection] = make(map[string]bson.M)
	}
	existing, ok := m.data[collection][id]
	if !merge || !ok {
		m.data[collection][id] = fields
		return nil
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if m.OnWrite != nil {
		if err := m.OnWrite(collection, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], id)
	return nil
}

func (m *Memory) FindOne(ctx context.Context, collection, field string, value interface{}, out interface{}) error {
	if m.OnRead != nil {
		if err := m.OnRead(collection, ""); err != nil {
			return err
		}
	}

	want, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, doc := range m.data[collection] {
		if reflect.DeepEqual(doc[field], want) {
			copied := bson.M{"_id": id}
			for k, v := range doc {
				copied[k] = v
			}
			return decodeInto(copied, out)
		}
	}
	return ErrNotFound
}

func (m *Memory) All(ctx context.Context, collection string, out interface{}) error {
	if m.OnRead != nil {
		if err := m.OnRead(collection, ""); err != nil {
			return err
		}
	}

	m.mu.RLock()
	docs := make([]bson.M, 0, len(m.data[collection]))
	for id, doc := range m.data[collection] {
		copied := bson.M{"_id": id}
		for k, v := range doc {
			copied[k] = v
		}
		docs = append(docs, copied)
	}
	m.mu.RUnlock()

	data, err := bson.Marshal(bson.M{"v": docs})
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}
	var wrapper bson.Raw
	if err := bson.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("failed to unmarshal collection: %w", err)
	}
	return wrapper.Lookup("v").Unmarshal(out)
}

func (m *Memory) SetFieldAll(ctx context.Context, collection, field string, value interface{}) error {
	if m.OnWrite != nil {
		if err := m.OnWrite(collection, ""); err != nil {
			return err
		}
	}

	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.data[collection] {
		doc[field] = normalized
	}
	return nil
}

func (m *Memory) Append(ctx context.Context, collection, id, field string, value interface{}) error {
	return m.append(collection, id, field, value, -1)
}

func (m *Memory) AppendBounded(ctx context.Context, collection, id, field string, value interface{}, limit int) error {
	return m.append(collection, id, field, value, limit)
}

func (m *Memory) append(collection, id, field string, value interface{}, limit int) error {
	if m.OnWrite != nil {
		if err := m.OnWrite(collection, id); err != nil {
			return err
		}
	}

	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[collection] == nil {
		m.data[collection] = make(map[string]bson.M)
	}
	doc, ok := m.data[collection][id]
	if !ok {
		doc = bson.M{}
		m.data[collection][id] = doc
	}

	arr, _ := doc[field].(bson.A)
	if limit >= 0 && len(arr) >= limit {
		return ErrLimitExceeded
	}
	doc[field] = append(arr, normalized)
	return nil
}

func (m *Memory) Remove(ctx context.Context, collection, id, field string, match Match) error {
	if m.OnWrite != nil {
		if err := m.OnWrite(collection, id); err != nil {
			return err
		}
	}

	want, err := normalize(map[string]interface{}(match))
	if err != nil {
		return err
	}
	wantDoc, _ := want.(bson.M)

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.data[collection][id]
	if !ok {
		return ErrNotFound
	}
	arr, _ := doc[field].(bson.A)
	kept := make(bson.A, 0, len(arr))
	for _, elem := range arr {
		if !matches(elem, wantDoc) {
			kept = append(kept, elem)
		}
	}
	doc[field] = kept
	return nil
}

func (m *Memory) Count(ctx context.Context, collection, id, field string) (int, error) {
	if m.OnRead != nil {
		if err := m.OnRead(collection, id); err != nil {
			return 0, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[collection][id]
	if !ok {
		return 0, nil
	}
	arr, _ := doc[field].(bson.A)
	return len(arr), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// matches mirrors $pull document matching: every field of want must equal the
// corresponding field of the element.
func matches(elem interface{}, want bson.M) bool {
	elemDoc, ok := elem.(bson.M)
	if !ok {
		return false
	}
	for k, v := range want {
		if !reflect.DeepEqual(elemDoc[k], v) {
			return false
		}
	}
	return true
}

// normalize runs a value through bson so stored representations match what the
// Mongo implementation would persist.
func normalize(value interface{}) (interface{}, error) {
	data, err := bson.Marshal(bson.M{"v": value})
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var wrapper bson.M
	if err := bson.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return wrapper["v"], nil
}

func decodeInto(doc bson.M, out interface{}) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := bson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
