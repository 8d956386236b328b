// Package registry provides a concurrent map keyed by any comparable type.
//
// typeflow uses it for state that is created lazily while messages are in
// flight: the worker queue of each ordered delivery target, and the adjunct
// store of each Context, where values are keyed by reflect.Type.
//
//	queues := registry.New[reflect.Type, *workqueue.Queue]()
//	q := queues.GetOrCreate(target, func() *workqueue.Queue {
//	    return workqueue.New()
//	})
//
// GetOrCreate calls its factory at most once per key, even under concurrent
// access. Add refuses to replace an existing entry, which is how duplicate
// adjuncts are detected.
//
// Range iterates over a snapshot, so the callback may mutate the registry.
package registry
