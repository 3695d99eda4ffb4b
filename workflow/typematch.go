package workflow

import "reflect"

var (
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// TypeOf returns the reflect.Type of T, interface types included.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// ValueType returns the runtime type of v, or nil for a nil value.
func ValueType(v any) reflect.Type {
	if v == nil {
		return nil
	}
	return reflect.TypeOf(v)
}

// IsObjectType reports whether t accepts any value (nil or the empty interface).
func IsObjectType(t reflect.Type) bool {
	return t == nil || (t.Kind() == reflect.Interface && t.NumMethod() == 0)
}

// IsExactType reports whether actual is precisely the expected type.
func IsExactType(expected, actual reflect.Type) bool {
	return expected != nil && actual != nil && expected == actual
}

// CanAccept reports whether a value of type actual can satisfy a consumer declaring expected.
// Besides Go assignability, T and *T are treated as equivalent.
func CanAccept(expected, actual reflect.Type) bool {
	if IsObjectType(expected) {
		return true
	}
	if actual == nil {
		return false
	}
	if actual == expected || actual.AssignableTo(expected) {
		return true
	}
	return pointerEquivalent(expected, actual)
}

func pointerEquivalent(a, b reflect.Type) bool {
	if a.Kind() == reflect.Pointer && a.Elem() == b {
		return true
	}
	if b.Kind() == reflect.Pointer && b.Elem() == a {
		return true
	}
	return false
}

// Coerce adapts v to expected, dereferencing or boxing pointers when needed.
func Coerce(v any, expected reflect.Type) (any, bool) {
	if IsObjectType(expected) {
		return v, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	actual := rv.Type()
	switch {
	case actual == expected, actual.AssignableTo(expected):
		return v, true
	case expected.Kind() == reflect.Pointer && expected.Elem() == actual:
		p := reflect.New(actual)
		p.Elem().Set(rv)
		return p.Interface(), true
	case actual.Kind() == reflect.Pointer && actual.Elem() == expected:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Elem().Interface(), true
	}
	return nil, false
}

// TypeName returns a stable, package-qualified name for t.
func TypeName(t reflect.Type) string {
	if IsObjectType(t) {
		return "any"
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeName(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
