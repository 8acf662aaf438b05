package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Memory is an in-process Provider. Documents are round-tripped through BSON so
// they decode exactly as they would from MongoDB.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]map[string]any)}
}

func (m *Memory) Get(_ context.Context, p Path, id string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[p.String()][id]
	if !ok {
		return ErrNotFound
	}
	return decodeDoc(doc, out)
}

func (m *Memory) Set(_ context.Context, p Path, id string, doc any) error {
	v, err := normalize(doc)
	if err != nil {
		return err
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("set %s/%s: document must encode to an object, got %T", p, id, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(p)[id] = fields
	return nil
}

func (m *Memory) Merge(_ context.Context, p Path, id string, fields Fields) error {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		if isNil(v) {
			normalized[k] = nil
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("merge %s/%s field %s: %w", p, id, k, err)
		}
		normalized[k] = nv
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(p)
	doc, ok := coll[id]
	if !ok {
		doc = make(map[string]any)
		coll[id] = doc
	}
	for k, v := range normalized {
		if v == nil {
			unsetPath(doc, k)
			continue
		}
		setPath(doc, k, v)
	}
	return nil
}

func (m *Memory) Increment(_ context.Context, p Path, id, field string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[p.String()][id]
	if !ok {
		return ErrNotFound
	}
	current, _ := getPath(doc, field)
	switch n := current.(type) {
	case nil:
		setPath(doc, field, int64(delta))
	case int32:
		setPath(doc, field, int64(n)+int64(delta))
	case int64:
		setPath(doc, field, n+int64(delta))
	case float64:
		setPath(doc, field, n+float64(delta))
	default:
		return fmt.Errorf("increment %s/%s: field %s is %T, not a number", p, id, field, current)
	}
	return nil
}

func (m *Memory) Query(_ context.Context, p Path, q Query, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("query %s: out must be a pointer to a slice, got %T", p, out)
	}

	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		nv, err := normalize(f.Value)
		if err != nil {
			return fmt.Errorf("query %s filter %s: %w", p, f.Field, err)
		}
		filters[i] = Filter{Field: f.Field, Op: f.Op, Value: nv}
	}

	m.mu.Lock()
	type entry struct {
		id  string
		doc map[string]any
	}
	var matched []entry
	for id, doc := range m.collections[p.String()] {
		ok, err := matches(doc, filters)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("query %s: %w", p, err)
		}
		if ok {
			matched = append(matched, entry{id: id, doc: doc})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if q.OrderBy != "" {
			a, _ := getPath(matched[i].doc, q.OrderBy)
			b, _ := getPath(matched[j].doc, q.OrderBy)
			if c := compareValues(a, b); c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
			if q.Desc {
				return matched[i].id > matched[j].id
			}
		}
		return matched[i].id < matched[j].id
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	slice := rv.Elem()
	elemType := slice.Type().Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(matched))
	for _, e := range matched {
		var target reflect.Value
		if elemType.Kind() == reflect.Pointer {
			target = reflect.New(elemType.Elem())
		} else {
			target = reflect.New(elemType)
		}
		if err := decodeDoc(e.doc, target.Interface()); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("query %s: decode %s: %w", p, e.id, err)
		}
		if elemType.Kind() != reflect.Pointer {
			target = target.Elem()
		}
		result = reflect.Append(result, target)
	}
	m.mu.Unlock()

	slice.Set(result)
	return nil
}

func (m *Memory) collection(p Path) map[string]map[string]any {
	key := p.String()
	coll, ok := m.collections[key]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[key] = coll
	}
	return coll
}

func decodeDoc(doc map[string]any, out any) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := bson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// normalize encodes v to BSON and back so stored values have the same types a
// MongoDB read would produce (int32/int64, bson.DateTime, nested objects as maps).
func normalize(v any) (any, error) {
	data, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var d bson.D
	if err := bson.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if len(d) != 1 {
		return nil, fmt.Errorf("decode value: unexpected document length %d", len(d))
	}
	return generic(d[0].Value), nil
}

func generic(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = generic(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = generic(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = generic(e)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = generic(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = generic(e)
		}
		return out
	default:
		return v
	}
}

func getPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func unsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func matches(doc map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		v, _ := getPath(doc, f.Field)
		switch f.Op {
		case OpEq:
			if compareValues(v, f.Value) != 0 {
				return false, nil
			}
		case OpIn:
			list, ok := f.Value.([]any)
			if !ok {
				return false, fmt.Errorf("filter %s: %q needs a list, got %T", f.Field, f.Op, f.Value)
			}
			found := false
			for _, candidate := range list {
				if compareValues(v, candidate) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("filter %s: unsupported operator %q", f.Field, f.Op)
		}
	}
	return true, nil
}

// compareValues orders normalized BSON values. Missing values sort first and
// values of unrelated types compare by type name.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case bson.DateTime:
		if y, ok := b.(bson.DateTime); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
