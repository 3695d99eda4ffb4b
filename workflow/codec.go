package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/BaSui01/flowgraph/types"
)

const errorTypeName = "error"

// EncodedValue is the persisted form of a step value.
type EncodedValue struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TypeRegistry maps stable type names to Go types so persisted values decode
// back into their original types.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
}

// NewTypeRegistry creates a registry preloaded with common builtin types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{byName: make(map[string]reflect.Type)}
	for _, t := range []reflect.Type{
		TypeOf[string](), TypeOf[bool](), TypeOf[int](), TypeOf[int64](), TypeOf[float64](),
		TypeOf[[]byte](), TypeOf[[]string](), TypeOf[[]any](), TypeOf[map[string]any](),
		TypeOf[map[string]string](), TypeOf[json.RawMessage](),
	} {
		r.Register(t)
	}
	return r
}

// Register adds t and returns its name.
func (r *TypeRegistry) Register(t reflect.Type) string {
	if IsObjectType(t) {
		return TypeName(t)
	}
	name := TypeName(t)
	if t.Kind() == reflect.Interface {
		return name
	}
	r.mu.Lock()
	r.byName[name] = t
	r.mu.Unlock()
	return name
}

// RegisterType registers T with r.
func RegisterType[T any](r *TypeRegistry) string {
	return r.Register(TypeOf[T]())
}

// Lookup finds a registered type by name.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Encode serializes v together with its type name. nil encodes to nil.
func (r *TypeRegistry) Encode(v any) (*EncodedValue, error) {
	if v == nil {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		data, _ := json.Marshal(err.Error())
		return &EncodedValue{Type: errorTypeName, Data: data}, nil
	}
	name := r.Register(reflect.TypeOf(v))
	data, err := json.Marshal(v)
	if err != nil {
		return nil, types.NewError(types.ErrCodec, fmt.Sprintf("encode %s", name)).WithCause(err)
	}
	return &EncodedValue{Type: name, Data: data}, nil
}

// Decode restores a value. Unknown type names decode into generic JSON values.
func (r *TypeRegistry) Decode(ev *EncodedValue) (any, error) {
	if ev == nil {
		return nil, nil
	}
	if ev.Type == errorTypeName {
		var msg string
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return nil, types.NewError(types.ErrCodec, "decode error value").WithCause(err)
		}
		return errors.New(msg), nil
	}
	t, ok := r.Lookup(ev.Type)
	if !ok {
		var generic any
		if err := json.Unmarshal(ev.Data, &generic); err != nil {
			return nil, types.NewError(types.ErrCodec, fmt.Sprintf("decode %s", ev.Type)).WithCause(err)
		}
		return generic, nil
	}
	p := reflect.New(t)
	if err := json.Unmarshal(ev.Data, p.Interface()); err != nil {
		return nil, types.NewError(types.ErrCodec, fmt.Sprintf("decode %s", ev.Type)).WithCause(err)
	}
	return p.Elem().Interface(), nil
}

// ResolveType maps a stored type name back to a Go type. "any" and "" resolve to nil.
func (r *TypeRegistry) ResolveType(name string) (reflect.Type, bool) {
	switch name {
	case "", "any":
		return nil, true
	case errorTypeName:
		return errorType, true
	}
	return r.Lookup(name)
}
