package peerfn

import (
	"runtime"
	"testing"
	"time"

	"github.com/wirebridge/jsrt/descriptor"
)

type fakeInvoker struct {
	lastFnID  uint64
	lastArgs  []any
	returnVal any
}

func (f *fakeInvoker) InvokeCallback(fnID uint64, params []descriptor.Descriptor, ret descriptor.Descriptor, args []any) (any, error) {
	f.lastFnID = fnID
	f.lastArgs = args
	return f.returnVal, nil
}

type fakeDropper struct {
	droppedNativeFn []uint32
}

func (f *fakeDropper) SendDropNativeRef(nativeFnID uint32) error {
	f.droppedNativeFn = append(f.droppedNativeFn, nativeFnID)
	return nil
}

func TestPeerFunctionWrapperCall(t *testing.T) {
	inv := &fakeInvoker{returnVal: int64(11)}
	drop := &fakeDropper{}
	w := NewPeerFunctionWrapper(5, []descriptor.Descriptor{descriptor.U32}, descriptor.U32, inv, drop)

	got, err := w.Call([]any{int64(5)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != int64(11) {
		t.Fatalf("Call result = %v, want 11", got)
	}
	if inv.lastFnID != 5 {
		t.Fatalf("InvokeCallback called with fnID %d, want 5", inv.lastFnID)
	}
}

func TestPeerFunctionWrapperArgCountMismatch(t *testing.T) {
	inv := &fakeInvoker{}
	drop := &fakeDropper{}
	w := NewPeerFunctionWrapper(5, []descriptor.Descriptor{descriptor.U32, descriptor.U32}, descriptor.U32, inv, drop)

	if _, err := w.Call([]any{int64(1)}); err == nil {
		t.Fatal("expected error for argument count mismatch")
	}
}

// TestFinalizerDropsNativeReference is spec.md §8 scenario 6: dropping
// every strong reference to a peer-function wrapper and forcing
// finalization must produce exactly one drop-native-reference
// notification carrying the original native function ID.
func TestFinalizerDropsNativeReference(t *testing.T) {
	inv := &fakeInvoker{}
	drop := &fakeDropper{}

	func() {
		w := NewPeerFunctionWrapper(77, nil, descriptor.U32, inv, drop)
		_ = w
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(drop.droppedNativeFn) == 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	if len(drop.droppedNativeFn) != 1 {
		t.Fatalf("expected exactly one drop notification, got %v", drop.droppedNativeFn)
	}
	if drop.droppedNativeFn[0] != 77 {
		t.Fatalf("dropped native fn id = %d, want 77", drop.droppedNativeFn[0])
	}
}

func TestPeerObjectWrapperCallMethod(t *testing.T) {
	inv := &fakeInvoker{returnVal: nil}
	w := NewPeerObjectWrapper(9, "Widget", inv)

	if _, err := w.CallMethod("resize", []any{int64(640), int64(480)}); err != nil {
		t.Fatalf("CallMethod: %v", err)
	}
	if inv.lastFnID != 0xFFFFFFFE {
		t.Fatalf("InvokeCallback fnID = %#x, want 0xFFFFFFFE", inv.lastFnID)
	}
	if len(inv.lastArgs) != 4 {
		t.Fatalf("expected 4 forwarded args (selector, handle, 2 method args), got %d", len(inv.lastArgs))
	}
	if inv.lastArgs[0] != "Widget::resize" {
		t.Fatalf("selector = %v, want Widget::resize", inv.lastArgs[0])
	}
	if inv.lastArgs[1] != uint64(9) {
		t.Fatalf("handle = %v, want 9", inv.lastArgs[1])
	}
}

// TestPeerObjectWrapperFinalizerCallsDropExport mirrors spec.md §8
// scenario 6 for the object-wrapper side of §3's lifecycle note: "a
// finalizer that invokes the class's __drop export."
func TestPeerObjectWrapperFinalizerCallsDropExport(t *testing.T) {
	inv := &fakeInvoker{}

	func() {
		w := NewPeerObjectWrapper(12, "Widget", inv)
		_ = w
	}()

	deadline := time.Now().Add(2 * time.Second)
	for inv.lastFnID == 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	if inv.lastFnID != 0xFFFFFFFE {
		t.Fatalf("expected __drop to route through call-exported-method, got fnID %#x", inv.lastFnID)
	}
	if len(inv.lastArgs) < 2 || inv.lastArgs[0] != "Widget::__drop" {
		t.Fatalf("expected Widget::__drop selector, got %v", inv.lastArgs)
	}
}

func TestPeerObjectWrapperAccessors(t *testing.T) {
	inv := &fakeInvoker{}
	w := NewPeerObjectWrapper(3, "Thing", inv)
	if w.ClassName() != "Thing" {
		t.Fatalf("ClassName = %q", w.ClassName())
	}
	if w.Handle() != 3 {
		t.Fatalf("Handle = %d", w.Handle())
	}
}
