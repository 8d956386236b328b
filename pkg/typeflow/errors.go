package typeflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline construction.
var (
	// ErrBlackHoleReceiver indicates Receives was called without assigning a handler.
	ErrBlackHoleReceiver = errors.New("receiver has no handler")

	// ErrBlackHoleConstructor indicates a constructor with no factory, or a factory returning nil.
	ErrBlackHoleConstructor = errors.New("constructor has no factory")

	// ErrBlackHoleInvocation indicates an invocation whose input reaches no
	// receiver or whose output is never emitted.
	ErrBlackHoleInvocation = errors.New("invocation is not connected")

	// ErrReusedConstructor indicates a component type constructed twice, or a
	// factory handing out an instance that is already attached.
	ErrReusedConstructor = errors.New("constructor reused")

	// ErrDuplicateReceiver indicates a component receiving the same type twice
	// or assigning a receiver handler twice.
	ErrDuplicateReceiver = errors.New("duplicate receiver")

	// ErrAmbiguousReceiver indicates a message type accepted by several
	// interface receivers of one component with no exact match.
	ErrAmbiguousReceiver = errors.New("ambiguous receiver")

	// ErrUnderSpecifiedRoute indicates a declared route that matches no
	// transmitter and receiver pair.
	ErrUnderSpecifiedRoute = errors.New("route matches nothing")

	// ErrOverSpecifiedRoute indicates several routes claiming the same
	// transmitter and receiver pair.
	ErrOverSpecifiedRoute = errors.New("route specified more than once")

	// ErrManifoldShape indicates manifold instances that describe different
	// receivers or transmitters.
	ErrManifoldShape = errors.New("manifold instances disagree")

	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("pipeline already initialized")
)

// Sentinel errors for routing and delivery.
var (
	// ErrNotInitialized indicates routing on a pipeline that was never
	// successfully initialized.
	ErrNotInitialized = errors.New("pipeline not initialized")

	// ErrPipelineTerminated indicates routing on a pipeline that was closed
	// or terminated by a fault.
	ErrPipelineTerminated = errors.New("pipeline terminated")

	// ErrNotAttached indicates Emit from a component that belongs to no pipeline.
	ErrNotAttached = errors.New("component not attached to a pipeline")

	// ErrMaxDepthExceeded indicates a message chain deeper than the configured limit.
	ErrMaxDepthExceeded = errors.New("message depth limit exceeded")

	// ErrNoResult indicates an invocation whose context went idle without
	// emitting the expected output.
	ErrNoResult = errors.New("invocation produced no result")
)

// Sentinel errors for contexts.
var (
	// ErrDuplicateAdjunct indicates a second adjunct of the same type.
	ErrDuplicateAdjunct = errors.New("adjunct already stored")

	// ErrCounterUnderflow indicates a context counter released more often than acquired.
	ErrCounterUnderflow = errors.New("context counter underflow")
)

// BuildError wraps a construction problem with the component it concerns.
type BuildError struct {
	// Component is the component type name, or the declaration that failed.
	Component string
	// Op is the construction step ("construct", "describe", "route", "tap", "invoke").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s %s: %v", e.Op, e.Component, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// RouteError reports a message the router could not dispatch.
type RouteError struct {
	// Sender is the sending component type, or the pipeline.
	Sender string
	// MessageType is the static payload type.
	MessageType string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	return fmt.Sprintf("route %s from %s: %v", e.MessageType, e.Sender, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouteError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a receiver that failed while handling a message.
// It is the error escalated to the pipeline.
type DeliveryError struct {
	// Target is the receiving component type. Empty for an error payload
	// that found no receiver.
	Target string
	// MessageType is the payload type the receiver accepted.
	MessageType string
	// Err is the error returned by, or recovered from, the receiver.
	Err error

	escalated bool
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("unhandled error message %s: %v", e.MessageType, e.Err)
	}
	return fmt.Sprintf("deliver %s to %s: %v", e.MessageType, e.Target, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic recovered from a receiver.
type PanicError struct {
	// Target is the receiving component type.
	Target string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("receiver %s panicked: %v", e.Target, e.Value)
}

// alreadyEscalated reports whether err carries a delivery failure that a
// nested route has already offered to the pipeline.
func alreadyEscalated(err error) bool {
	if errors.Is(err, ErrPipelineTerminated) {
		return true
	}
	for {
		var de *DeliveryError
		if !errors.As(err, &de) {
			return false
		}
		if de.escalated {
			return true
		}
		err = de.Err
	}
}
