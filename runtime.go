// Package jsrt is the public entry point tying the heap, wire codec,
// type descriptors, dispatch loop, and peer-reference wrappers into one
// embeddable runtime for a single webview/native boundary (spec.md §1,
// §5). Spec.md describes the JS-side state as process-global singletons;
// this package threads the same state through an explicit Runtime value
// instead, per spec.md §9's own note that languages which discourage
// ambient singletons should do exactly that.
package jsrt

import (
	"fmt"
	"log"

	"github.com/wirebridge/jsrt/descriptor"
	"github.com/wirebridge/jsrt/dispatch"
	"github.com/wirebridge/jsrt/errs"
	"github.com/wirebridge/jsrt/peerfn"
	"github.com/wirebridge/jsrt/wire"
)

// Config configures a Runtime. Mirrors the teacher's EngineConfig: a
// plain struct the embedder builds by hand, no env/flag parsing.
type Config struct {
	// CompressStrings wraps every message crossing the Transport, in both
	// directions, in a one-byte framing envelope and brotli-compresses
	// whole messages of 256 bytes or more when that shrinks them
	// (SPEC_FULL.md DOMAIN STACK; andybalholm/brotli).
	CompressStrings bool
	// MaxNestingDepth bounds re-entrant callback recursion. Zero uses
	// dispatch.DefaultMaxNestingDepth.
	MaxNestingDepth int
	// Logger receives one line per handled Evaluate, one per outbound
	// call, and one more when an operation's type slot fails to resolve;
	// nil disables logging.
	Logger *log.Logger
}

// Transport is the pair of synchronous POST endpoints a host embeds a
// Runtime against (spec.md §6): one the dispatch loop uses to answer a
// native-initiated Evaluate with a Respond, one peer function/object
// wrappers use to initiate their own outbound calls.
type Transport = dispatch.Transport

// Registry is the plain function table the embedder supplies, indexed by
// the integer function IDs the native side was given ahead of time
// (spec.md §1).
type Registry = dispatch.Registry

// RegistryFunc adapts a plain func(fnID uint32, args []any) (any, error)
// to the Registry interface, the way the teacher's http.HandlerFunc-style
// adapters work.
type RegistryFunc func(fnID uint32, args []any) (any, error)

// Call implements Registry.
func (f RegistryFunc) Call(fnID uint32, args []any) (any, error) { return f(fnID, args) }

// Runtime is one live boundary: a heap, a type cache, a registry, and a
// transport, wired together.
type Runtime struct {
	rt *dispatch.Runtime
}

// New constructs a Runtime. registry resolves inbound calls by function
// ID; transport carries outbound bytes to the native peer.
func New(registry Registry, transport Transport, cfg Config) *Runtime {
	var logger dispatch.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Runtime{
		rt: dispatch.NewRuntime(registry, transport, dispatch.Config{
			CompressStrings: cfg.CompressStrings,
			MaxNestingDepth: cfg.MaxNestingDepth,
		}, logger),
	}
}

// HandleMessage is the single entry point the host calls with a
// base64-encoded Evaluate buffer freshly received from the native side
// (spec.md §4.4: "base64 in, undefined out").
func (r *Runtime) HandleMessage(base64Payload string) error {
	return r.rt.HandleMessage(base64Payload)
}

// NewPeerFunction wraps a native function ID decoded out of a Callback
// value into a callable Go wrapper with finalizer-driven cleanup
// (spec.md §4.5).
func (r *Runtime) NewPeerFunction(fnID uint64, params []descriptor.Descriptor, ret descriptor.Descriptor) *peerfn.PeerFunctionWrapper {
	return peerfn.NewPeerFunctionWrapper(fnID, params, ret, r.rt, r.rt)
}

// NewPeerObject wraps an opaque native object handle into a callable Go
// wrapper whose methods dispatch through the reserved
// call-exported-peer-method function ID (spec.md §4.4, §4.5).
func (r *Runtime) NewPeerObject(handle uint32, className string) *peerfn.PeerObjectWrapper {
	return peerfn.NewPeerObjectWrapper(handle, className, r.rt)
}

// LiveHeapObjects reports how many allocated-range heap slots are
// currently live, for diagnostics.
func (r *Runtime) LiveHeapObjects() uint64 { return r.rt.Heap.LiveCount() }

// ParseSignature parses a top-level full type descriptor out of a fresh
// wire.Decoder — exported so an embedder handling its own transport
// framing outside HandleMessage (for instance, a one-off synchronous
// call made before any Evaluate has ever been received) can still build
// Descriptor trees the same way the dispatch loop does.
func ParseSignature(b []byte) (*descriptor.CallbackDescriptor, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("jsrt: empty signature buffer: %w", errs.ErrProtocolViolation)
	}
	dec, err := wire.NewDecoder(b)
	if err != nil {
		return nil, err
	}
	return descriptor.ParseSignature(dec)
}
