package universe

import (
	"fmt"
	"reflect"
)

// Failure records one type that could not be loaded, or a hook that failed.
type Failure struct {
	Kind     Subject
	Type     reflect.Type
	Err      error
	Metadata map[string]any
}

func (f Failure) Error() string {
	return f.String()
}

func (f Failure) Unwrap() error { return f.Err }

func (f Failure) String() string {
	if len(f.Metadata) == 0 {
		return fmt.Sprintf("%s %s: %v", f.Kind, typeName(f.Type), f.Err)
	}
	return fmt.Sprintf("%s %s: %v %v", f.Kind, typeName(f.Type), f.Err, f.Metadata)
}
