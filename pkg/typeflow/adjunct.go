package typeflow

import (
	"fmt"
	"reflect"
)

// Cancellable is implemented by adjuncts that must stop when their Context
// is cancelled or faulted. completion.Buffer satisfies it.
type Cancellable interface {
	Cancel(reason error)
}

// StoreAdjunct attaches v to c under type T.
// Each Context holds at most one adjunct per type.
func StoreAdjunct[T any](c *Context, v T) error {
	key := reflect.TypeFor[T]()
	if !c.adjuncts.Add(key, v) {
		return fmt.Errorf("%w: %s", ErrDuplicateAdjunct, key)
	}
	return nil
}

// Adjunct returns the adjunct of type T stored on c.
func Adjunct[T any](c *Context) (T, bool) {
	v, ok := c.adjuncts.Get(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// AdjunctOrCreate returns the adjunct of type T, storing the result of
// factory first if there is none. factory runs at most once per Context.
func AdjunctOrCreate[T any](c *Context, factory func() T) T {
	v := c.adjuncts.GetOrCreate(reflect.TypeFor[T](), func() any { return factory() })
	return v.(T)
}

// RemoveAdjunct detaches and returns the adjunct of type T.
// It is not closed or cancelled.
func RemoveAdjunct[T any](c *Context) (T, bool) {
	v, ok := c.adjuncts.Delete(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
