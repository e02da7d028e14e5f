package universe

import "reflect"

// Kind is the storage slot key of a component. Components that embed another
// component type inherit its Kind method and therefore its slot.
type Kind string

func (k Kind) String() string { return string(k) }

// KindOf derives the kind key of component type T.
func KindOf[T any]() Kind {
	return KindFor(reflect.TypeFor[T]())
}

// KindFor derives a kind key from t, ignoring pointer indirection.
func KindFor(t reflect.Type) Kind {
	return Kind(KeyFor(t))
}

// KeyFor returns the qualified, pointer-free name of t, e.g. "armory.Sword".
func KeyFor(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// TypeOf is shorthand for reflect.TypeFor.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
