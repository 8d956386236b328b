package typeflow

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

type tapDecl struct {
	name string
	recv *receiver
	cfg  conduitConfig
}

// Tap observes every message of a type flowing anywhere in a pipeline.
type Tap[T any] struct {
	count atomic.Int64
}

// CreateMessageTap subscribes fn to every message whose type is assignable
// to T: emissions between components (except on private routes) and
// pipeline-level emissions. Taps deliver inline unless opts say otherwise.
func CreateMessageTap[T any](p *Pipeline, fn func(*Message[T]), opts ...ConduitOption) *Tap[T] {
	if fn == nil {
		panic("typeflow: tap function cannot be nil")
	}
	t := &Tap[T]{}
	typ := reflect.TypeFor[T]()
	recv := &receiver{
		typ: typ,
		handle: func(env Envelope) error {
			t.count.Add(1)
			fn(viewAs[T](env))
			return nil
		},
	}

	p.declMu.Lock()
	defer p.declMu.Unlock()
	p.checkDeclarable()
	p.taps = append(p.taps, tapDecl{
		name: fmt.Sprintf("tap[%s]#%d", typeName(typ), len(p.taps)),
		recv: recv,
		cfg:  newConduitConfig(opts),
	})
	return t
}

// Count returns the number of messages the tap has observed.
func (t *Tap[T]) Count() int64 {
	return t.count.Load()
}
