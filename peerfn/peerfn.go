// Package peerfn implements the two wrapper types spec.md §4.5 describes
// for values a Callback or HeapRef handed back a reference to the native
// side's own functions and objects: PeerFunctionWrapper (a callable native
// function JS can invoke) and PeerObjectWrapper (an opaque native object
// JS can call exported methods on). Both use runtime.SetFinalizer the way
// spec.md §9 suggests as the idiomatic Go analog of a JS
// FinalizationRegistry: when the wrapper becomes unreachable, the
// finalizer tells the native peer to release its side of the reference.
package peerfn

import (
	"fmt"
	"runtime"

	"github.com/wirebridge/jsrt/descriptor"
	"github.com/wirebridge/jsrt/errs"
)

// Dropper is the subset of dispatch.Runtime a PeerFunctionWrapper
// finalizer needs — just enough to send the one-shot drop-native-reference
// Evaluate, never a full call (a finalizer must not block on, or fail
// because of, a round trip through the re-entrant dispatch loop).
type Dropper interface {
	SendDropNativeRef(nativeFnID uint32) error
}

// Invoker is the subset of dispatch.Runtime a live call needs.
type Invoker interface {
	InvokeCallback(fnID uint64, params []descriptor.Descriptor, ret descriptor.Descriptor, args []any) (any, error)
}

// PeerFunctionWrapper is the Go-side handle for a native function ID that
// flowed into JS as a Callback-typed value (spec.md §3 Callback, §4.5).
// Calling it drives a synchronous outbound Evaluate through the owning
// Runtime; going out of scope drops the native peer's bookkeeping for
// fnID via a drop-native-reference Evaluate (spec.md §4.4 reserved ID
// 0xFFFFFFFF).
type PeerFunctionWrapper struct {
	fnID   uint64
	params []descriptor.Descriptor
	ret    descriptor.Descriptor
	invoke Invoker
}

// NewPeerFunctionWrapper builds a wrapper around fnID and registers a
// finalizer with dropper. The returned wrapper must be kept reachable for
// as long as the native function may still be called — once it is
// collected, further calls are impossible by construction.
func NewPeerFunctionWrapper(fnID uint64, params []descriptor.Descriptor, ret descriptor.Descriptor, invoke Invoker, dropper Dropper) *PeerFunctionWrapper {
	w := &PeerFunctionWrapper{fnID: fnID, params: params, ret: ret, invoke: invoke}
	runtime.SetFinalizer(w, func(w *PeerFunctionWrapper) {
		_ = dropper.SendDropNativeRef(uint32(w.fnID))
	})
	return w
}

// Call invokes the native function with args, blocking until the native
// peer replies (or, per spec.md §4.4, until a chain of nested callbacks
// resolves back to a Respond for this call).
func (w *PeerFunctionWrapper) Call(args []any) (any, error) {
	if len(args) != len(w.params) {
		return nil, fmt.Errorf("peerfn: function %d expects %d args, got %d: %w", w.fnID, len(w.params), len(args), errs.ErrProtocolViolation)
	}
	return w.invoke.InvokeCallback(w.fnID, w.params, w.ret, args)
}

// ID reports the native function ID this wrapper calls. Exposed for
// diagnostics, not part of the wire protocol.
func (w *PeerFunctionWrapper) ID() uint64 { return w.fnID }

// PeerObjectWrapper is the Go-side handle for an opaque native object:
// a class name plus an object handle the native side understands, whose
// methods are invoked through the reserved call-exported-peer-method
// function ID (spec.md §4.4 reserved ID 0xFFFFFFFE). Unlike
// PeerFunctionWrapper (grounded on HeapRef/Callback-flavoured native
// functions), this models a plain handle-and-class-name pair for
// arbitrary exported native classes.
type PeerObjectWrapper struct {
	handle    uint32
	className string
	invoke    Invoker
}

// callExportedMethodParams builds the parameter list every
// call-exported-method Evaluate uses: the method selector comes first as a
// String, the object's handle as a U32, followed by one HeapRef per
// argument the method itself takes. callExportedMethodReturn is the fixed
// Option<HeapRef> return used for every method, since the real return
// type depends on which method was called and only the native peer knows
// it ahead of time.
func callExportedMethodParams(argc int) []descriptor.Descriptor {
	params := make([]descriptor.Descriptor, 2+argc)
	params[0] = descriptor.String
	params[1] = descriptor.U32
	for i := 0; i < argc; i++ {
		params[2+i] = descriptor.HeapRef
	}
	return params
}

var callExportedMethodReturn descriptor.Descriptor = &descriptor.OptionDescriptor{Inner: descriptor.HeapRef}

// NewPeerObjectWrapper builds a wrapper around a native object handle and
// registers a finalizer that invokes the class's `__drop` export (spec.md
// §3: "a finalizer that invokes the class's __drop export") through the
// same call-exported-peer-method path CallMethod uses — no separate
// reserved function ID is needed for object lifetime notification.
func NewPeerObjectWrapper(handle uint32, className string, invoke Invoker) *PeerObjectWrapper {
	w := &PeerObjectWrapper{handle: handle, className: className, invoke: invoke}
	runtime.SetFinalizer(w, func(w *PeerObjectWrapper) {
		_, _ = w.CallMethod("__drop", nil)
	})
	return w
}

// CallMethod invokes method on the wrapped native object. Each element of
// args is inserted into the heap as a HeapRef the way any other
// heap-allocated argument would be (spec.md §4.4: "the peer interprets
// the first argument as a ClassName::method selector").
func (w *PeerObjectWrapper) CallMethod(method string, args []any) (any, error) {
	selector := w.className + "::" + method
	fullArgs := make([]any, 2+len(args))
	fullArgs[0] = selector
	fullArgs[1] = uint64(w.handle)
	copy(fullArgs[2:], args)

	params := callExportedMethodParams(len(args))
	result, err := w.invoke.InvokeCallback(0xFFFFFFFE, params, callExportedMethodReturn, fullArgs)
	if err != nil {
		return nil, fmt.Errorf("peerfn: calling %s: %w", selector, err)
	}
	return result, nil
}

// ClassName reports the native class this wrapper was constructed with.
func (w *PeerObjectWrapper) ClassName() string { return w.className }

// Handle reports the opaque native handle this wrapper carries.
func (w *PeerObjectWrapper) Handle() uint32 { return w.handle }
