// Package descriptor implements the self-describing type-tree of spec.md
// §3/§4.3: a tagged value per type variant, each knowing how to encode a
// Go value into the wire codec and decode one back out, plus the
// type-descriptor parser and type-ID cache of §4.3/§6.
package descriptor

import (
	"fmt"

	"github.com/wirebridge/jsrt/errs"
	"github.com/wirebridge/jsrt/heap"
	"github.com/wirebridge/jsrt/wire"
)

// Tags, spec.md glossary "Type tags (u8)".
const (
	TagNull        = byte(0)
	TagBool        = byte(1)
	TagU8          = byte(2)
	TagU16         = byte(3)
	TagU32         = byte(4)
	TagU64         = byte(5)
	TagU128        = byte(6)
	TagI8          = byte(7)
	TagI16         = byte(8)
	TagI32         = byte(9)
	TagI64         = byte(10)
	TagI128        = byte(11)
	TagF32         = byte(12)
	TagF64         = byte(13)
	TagUsize       = byte(14)
	TagIsize       = byte(15)
	TagString      = byte(16)
	TagHeapRef     = byte(17)
	TagCallback    = byte(18)
	TagOption      = byte(19)
	TagResult      = byte(20)
	TagArray       = byte(21)
	TagBorrowedRef = byte(22)
	TagU8Clamped   = byte(23)
	TagStringEnum  = byte(24)
)

// Type markers, spec.md §4.3/§6.
const (
	MarkerFull   = byte(0xFE)
	MarkerCached = byte(0xFF)
)

// Invoker forwards a decoded Callback's arguments to the native peer and
// returns its reply. Descriptors never implement this themselves — it is
// supplied by the dispatch/peerfn layer at decode time so that this
// package has no dependency on the transport (spec.md §1 treats the
// native host as an abstract interface).
type Invoker interface {
	InvokeCallback(fnID uint64, params []Descriptor, ret Descriptor, args []any) (any, error)
}

// Context carries the per-operation state a descriptor needs beyond the
// raw bytes: the heap (for HeapRef/BorrowedRef) and an Invoker (for
// Callback). Both are always non-nil in real use; tests that only
// exercise scalar/composite-of-scalar descriptors may pass a Context with
// a nil Invoker.
type Context struct {
	Heap    *heap.Heap
	Invoker Invoker
}

// Descriptor is a self-contained type description satisfying
// decode ∘ encode = identity for valid inputs of its JS type.
type Descriptor interface {
	Tag() byte
	Encode(enc *wire.Encoder, ctx *Context, v any) error
	Decode(dec *wire.Decoder, ctx *Context) (any, error)
}

// ---- scalars ----

type nullDesc struct{}

func (nullDesc) Tag() byte { return TagNull }
func (nullDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error { return nil }
func (nullDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) { return heap.Null{}, nil }

// Null is the Null type descriptor.
var Null Descriptor = nullDesc{}

type boolDesc struct{}

func (boolDesc) Tag() byte { return TagBool }
func (boolDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("descriptor: Bool.Encode: value is %T, not bool: %w", v, errs.ErrProtocolViolation)
	}
	if b {
		enc.PushU8(1)
	} else {
		enc.PushU8(0)
	}
	return nil
}
func (boolDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	b, err := dec.ReadU8()
	return b != 0, err
}

// Bool is the Bool type descriptor.
var Bool Descriptor = boolDesc{}

// intDesc covers the u8/u16/u32/u64/i8/i16/i32/i64 family: all decode to
// a Go int64 (sign-extended for signed widths, zero-extended for unsigned
// widths up to 32 bits; a U64 comes back as its bit pattern read as an
// int64) so callers deal in one Go type instead of eight.
type intDesc struct {
	tag    byte
	signed bool
	bits   int
}

func (d intDesc) Tag() byte { return d.tag }

func (d intDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	switch d.bits {
	case 8:
		if d.signed {
			n, ok := asInt64(v)
			if !ok {
				return typeMismatch("I8", v)
			}
			enc.PushU8(uint8(int8(n)))
		} else {
			n, ok := asUint64(v)
			if !ok {
				return typeMismatch("U8", v)
			}
			enc.PushU8(uint8(n))
		}
	case 16:
		if d.signed {
			n, ok := asInt64(v)
			if !ok {
				return typeMismatch("I16", v)
			}
			enc.PushU16(uint16(int16(n)))
		} else {
			n, ok := asUint64(v)
			if !ok {
				return typeMismatch("U16", v)
			}
			enc.PushU16(uint16(n))
		}
	case 32:
		if d.signed {
			n, ok := asInt64(v)
			if !ok {
				return typeMismatch("I32", v)
			}
			enc.PushU32(uint32(int32(n)))
		} else {
			n, ok := asUint64(v)
			if !ok {
				return typeMismatch("U32", v)
			}
			enc.PushU32(uint32(n))
		}
	case 64:
		if d.signed {
			n, ok := asInt64(v)
			if !ok {
				return typeMismatch("I64", v)
			}
			enc.PushI64(n)
		} else {
			n, ok := asUint64(v)
			if !ok {
				return typeMismatch("U64", v)
			}
			enc.PushU64(n)
		}
	}
	return nil
}

func (d intDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	switch d.bits {
	case 8:
		b, err := dec.ReadU8()
		if err != nil {
			return nil, err
		}
		if d.signed {
			return int64(int8(b)), nil
		}
		return int64(b), nil
	case 16:
		h, err := dec.ReadU16()
		if err != nil {
			return nil, err
		}
		if d.signed {
			return int64(int16(h)), nil
		}
		return int64(h), nil
	case 32:
		w, err := dec.ReadU32()
		if err != nil {
			return nil, err
		}
		if d.signed {
			return int64(int32(w)), nil
		}
		return int64(w), nil
	default: // 64
		if d.signed {
			return dec.ReadI64()
		}
		u, err := dec.ReadU64()
		return int64(u), err
	}
}

var (
	U8  Descriptor = intDesc{tag: TagU8, signed: false, bits: 8}
	U16 Descriptor = intDesc{tag: TagU16, signed: false, bits: 16}
	U32 Descriptor = intDesc{tag: TagU32, signed: false, bits: 32}
	U64 Descriptor = intDesc{tag: TagU64, signed: false, bits: 64}
	I8  Descriptor = intDesc{tag: TagI8, signed: true, bits: 8}
	I16 Descriptor = intDesc{tag: TagI16, signed: true, bits: 16}
	I32 Descriptor = intDesc{tag: TagI32, signed: true, bits: 32}
	I64 Descriptor = intDesc{tag: TagI64, signed: true, bits: 64}
)

type usizeDesc struct{ signed bool }

func (d usizeDesc) Tag() byte {
	if d.signed {
		return TagIsize
	}
	return TagUsize
}
func (d usizeDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	if d.signed {
		n, ok := asInt64(v)
		if !ok {
			return typeMismatch("Isize", v)
		}
		enc.PushIsize(n)
		return nil
	}
	n, ok := asUint64(v)
	if !ok {
		return typeMismatch("Usize", v)
	}
	enc.PushUsize(n)
	return nil
}
func (d usizeDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	if d.signed {
		return dec.ReadIsize()
	}
	u, err := dec.ReadUsize()
	return int64(u), err
}

var (
	Usize Descriptor = usizeDesc{signed: false}
	Isize Descriptor = usizeDesc{signed: true}
)

type int128Desc struct{ signed bool }

func (d int128Desc) Tag() byte {
	if d.signed {
		return TagI128
	}
	return TagU128
}
func (d int128Desc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	n, ok := v.(wire.Int128)
	if !ok {
		return typeMismatch("U128/I128", v)
	}
	enc.PushU128(n)
	return nil
}
func (d int128Desc) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	return dec.ReadU128()
}

var (
	U128 Descriptor = int128Desc{signed: false}
	I128 Descriptor = int128Desc{signed: true}
)

type f32Desc struct{}

func (f32Desc) Tag() byte { return TagF32 }
func (f32Desc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	f, ok := v.(float32)
	if !ok {
		return typeMismatch("F32", v)
	}
	enc.PushF32(f)
	return nil
}
func (f32Desc) Decode(dec *wire.Decoder, ctx *Context) (any, error) { return dec.ReadF32() }

var F32 Descriptor = f32Desc{}

type f64Desc struct{}

func (f64Desc) Tag() byte { return TagF64 }
func (f64Desc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	f, ok := v.(float64)
	if !ok {
		return typeMismatch("F64", v)
	}
	enc.PushF64(f)
	return nil
}
func (f64Desc) Decode(dec *wire.Decoder, ctx *Context) (any, error) { return dec.ReadF64() }

var F64 Descriptor = f64Desc{}

type stringDesc struct{}

func (stringDesc) Tag() byte { return TagString }
func (stringDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	s, ok := v.(string)
	if !ok {
		return typeMismatch("String", v)
	}
	enc.PushString(s)
	return nil
}
func (stringDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) { return dec.ReadString() }

// String is the String type descriptor.
var String Descriptor = stringDesc{}

// ---- heap/borrow references ----

type heapRefDesc struct{}

// HeapRef.Encode inserts v into the heap; per spec.md §4.3 the ID itself
// is never written to the wire — the peer re-derives it from its own
// synchronised water-mark (§4.4).
func (heapRefDesc) Tag() byte { return TagHeapRef }
func (heapRefDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	ctx.Heap.Insert(v)
	return nil
}
func (heapRefDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	id, err := dec.ReadU64()
	if err != nil {
		return nil, err
	}
	return ctx.Heap.Get(id)
}

// HeapRef is the HeapRef type descriptor.
var HeapRef Descriptor = heapRefDesc{}

type borrowedRefDesc struct{}

// BorrowedRef.Encode pushes v on the borrow stack; like HeapRef, no ID is
// written to the wire.
func (borrowedRefDesc) Tag() byte { return TagBorrowedRef }
func (borrowedRefDesc) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	_, err := ctx.Heap.AddBorrowedRef(v)
	return err
}
func (borrowedRefDesc) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	id, err := dec.ReadU64()
	if err != nil {
		return nil, err
	}
	return ctx.Heap.Get(id)
}

// BorrowedRef is the BorrowedRef type descriptor.
var BorrowedRef Descriptor = borrowedRefDesc{}

// ---- composites ----

// CallbackDescriptor describes a function signature: parameter types plus
// a return type. It doubles as the top-level "full descriptor" parsed for
// an Evaluate operation (spec.md §6) and as the Callback(paramTypes,
// returnType) composite descriptor nested inside another type tree.
type CallbackDescriptor struct {
	Params []Descriptor
	Return Descriptor
}

func (d *CallbackDescriptor) Tag() byte { return TagCallback }

// Encode is not part of the wire protocol this spec defines: a Callback
// only ever flows native-to-JS (a function ID JS can call back through),
// never the reverse, so JS never encodes one.
func (d *CallbackDescriptor) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	return fmt.Errorf("descriptor: Callback has no encode direction: %w", errs.ErrProtocolViolation)
}

// Decode reads a native function ID and returns a callable (a
// func([]any) (any, error)) that forwards its arguments through the
// Invoker supplied on ctx, using this descriptor's parameter/return types
// (spec.md §4.3, §4.5).
func (d *CallbackDescriptor) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	fnID, err := dec.ReadU64()
	if err != nil {
		return nil, err
	}
	if ctx.Invoker == nil {
		return nil, fmt.Errorf("descriptor: Callback.Decode requires a non-nil Invoker: %w", errs.ErrProtocolViolation)
	}
	params, ret, invoker := d.Params, d.Return, ctx.Invoker
	fn := func(args []any) (any, error) {
		return invoker.InvokeCallback(fnID, params, ret, args)
	}
	return Callable(fn), nil
}

// Callable is the Go representation of "a JS callable" produced by
// decoding a Callback descriptor.
type Callable func(args []any) (any, error)

// OptionDescriptor wraps an inner descriptor; absent is represented by a
// nil Go value, present by the inner-decoded value (spec.md §3/§4.3).
type OptionDescriptor struct {
	Inner Descriptor
}

func (d *OptionDescriptor) Tag() byte { return TagOption }
func (d *OptionDescriptor) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	if v == nil {
		enc.PushU8(0)
		return nil
	}
	enc.PushU8(1)
	return d.Inner.Encode(enc, ctx, v)
}
func (d *OptionDescriptor) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	tag, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	return d.Inner.Decode(dec, ctx)
}

// Result is the canonical Go value Result-typed descriptors encode and
// decode: Val holds the ok payload when IsOk is true and the err payload
// otherwise.
type Result struct {
	IsOk bool
	Val  any
}

// OkResult and ErrResult build a Result value for encoding.
func OkResult(v any) Result  { return Result{IsOk: true, Val: v} }
func ErrResult(v any) Result { return Result{IsOk: false, Val: v} }

// ResultDescriptor carries the Ok and Err inner descriptors. Tag 1 = ok,
// tag 0 = err (spec.md §3).
type ResultDescriptor struct {
	Ok  Descriptor
	Err Descriptor
}

func (d *ResultDescriptor) Tag() byte { return TagResult }
func (d *ResultDescriptor) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	r, ok := v.(Result)
	if !ok {
		return fmt.Errorf("descriptor: Result.Encode: %w", errs.ErrInvalidResultVariant)
	}
	if r.IsOk {
		enc.PushU8(1)
		return d.Ok.Encode(enc, ctx, r.Val)
	}
	enc.PushU8(0)
	return d.Err.Encode(enc, ctx, r.Val)
}
func (d *ResultDescriptor) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	tag, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	if tag == 1 {
		v, err := d.Ok.Decode(dec, ctx)
		return OkResult(v), err
	}
	v, err := d.Err.Decode(dec, ctx)
	return ErrResult(v), err
}

// ArrayDescriptor carries the element descriptor; a u32 length precedes
// the encoded elements (spec.md §3).
type ArrayDescriptor struct {
	Elem Descriptor
}

func (d *ArrayDescriptor) Tag() byte { return TagArray }
func (d *ArrayDescriptor) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("descriptor: Array.Encode: value is %T, not []any: %w", v, errs.ErrProtocolViolation)
	}
	enc.PushU32(uint32(len(arr)))
	for _, elem := range arr {
		if err := d.Elem.Encode(enc, ctx, elem); err != nil {
			return err
		}
	}
	return nil
}
func (d *ArrayDescriptor) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	n, err := dec.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		v, err := d.Elem.Decode(dec, ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// StringEnumDescriptor transmits a string as a u32 index into Variants.
// Unknown strings encode to len(Variants) (the reserved invalid slot);
// that index decodes back to heap.Undefined{} (spec.md §3, §4.3, §8).
type StringEnumDescriptor struct {
	Variants []string
}

func (d *StringEnumDescriptor) Tag() byte { return TagStringEnum }
func (d *StringEnumDescriptor) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	s, ok := v.(string)
	if !ok {
		return typeMismatch("StringEnum", v)
	}
	idx := len(d.Variants)
	for i, variant := range d.Variants {
		if variant == s {
			idx = i
			break
		}
	}
	enc.PushU32(uint32(idx))
	return nil
}
func (d *StringEnumDescriptor) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	idx, err := dec.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(idx) < len(d.Variants) {
		return d.Variants[idx], nil
	}
	return heap.Undefined{}, nil
}

// U8ClampedDescriptor carries a length-prefixed byte run through the
// 8-bit stream, decoded back into a clamped byte slice (spec.md §3).
type U8ClampedDescriptor struct{}

func (U8ClampedDescriptor) Tag() byte { return TagU8Clamped }
func (U8ClampedDescriptor) Encode(enc *wire.Encoder, ctx *Context, v any) error {
	b, ok := v.([]byte)
	if !ok {
		return typeMismatch("U8Clamped", v)
	}
	enc.PushU32(uint32(len(b)))
	enc.PushBytes(b)
	return nil
}
func (U8ClampedDescriptor) Decode(dec *wire.Decoder, ctx *Context) (any, error) {
	n, err := dec.ReadU32()
	if err != nil {
		return nil, err
	}
	b, err := dec.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// U8Clamped is the U8Clamped type descriptor.
var U8Clamped Descriptor = U8ClampedDescriptor{}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	}
	return 0, false
}

func typeMismatch(name string, v any) error {
	return fmt.Errorf("descriptor: %s.Encode: value is %T: %w", name, v, errs.ErrProtocolViolation)
}
