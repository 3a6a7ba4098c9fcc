package descriptor

import (
	"fmt"

	"github.com/wirebridge/jsrt/errs"
	"github.com/wirebridge/jsrt/wire"
)

// ParseDescriptor reads one type tag from the decoder's 8-bit stream and
// builds the corresponding Descriptor, recursing for composite types
// (spec.md §4.3: "Composite types recurse").
func ParseDescriptor(dec *wire.Decoder) (Descriptor, error) {
	tag, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagNull:
		return Null, nil
	case TagBool:
		return Bool, nil
	case TagU8:
		return U8, nil
	case TagU16:
		return U16, nil
	case TagU32:
		return U32, nil
	case TagU64:
		return U64, nil
	case TagU128:
		return U128, nil
	case TagI8:
		return I8, nil
	case TagI16:
		return I16, nil
	case TagI32:
		return I32, nil
	case TagI64:
		return I64, nil
	case TagI128:
		return I128, nil
	case TagF32:
		return F32, nil
	case TagF64:
		return F64, nil
	case TagUsize:
		return Usize, nil
	case TagIsize:
		return Isize, nil
	case TagString:
		return String, nil
	case TagHeapRef:
		return HeapRef, nil
	case TagBorrowedRef:
		return BorrowedRef, nil
	case TagU8Clamped:
		return U8Clamped, nil
	case TagCallback:
		return parseCallbackBody(dec)
	case TagOption:
		inner, err := ParseDescriptor(dec)
		if err != nil {
			return nil, err
		}
		return &OptionDescriptor{Inner: inner}, nil
	case TagResult:
		ok, err := ParseDescriptor(dec)
		if err != nil {
			return nil, err
		}
		errD, err := ParseDescriptor(dec)
		if err != nil {
			return nil, err
		}
		return &ResultDescriptor{Ok: ok, Err: errD}, nil
	case TagArray:
		elem, err := ParseDescriptor(dec)
		if err != nil {
			return nil, err
		}
		return &ArrayDescriptor{Elem: elem}, nil
	case TagStringEnum:
		return parseStringEnumBody(dec)
	default:
		return nil, fmt.Errorf("descriptor: unknown type tag %#x: %w", tag, errs.ErrProtocolViolation)
	}
}

// parseCallbackBody reads Callback(paramCount, paramTypes…, returnType)
// once the Callback tag byte has already been consumed — shared by a
// nested Callback-typed field and by ParseSignature's top-level call.
func parseCallbackBody(dec *wire.Decoder) (*CallbackDescriptor, error) {
	paramCount, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	params := make([]Descriptor, paramCount)
	for i := range params {
		d, err := ParseDescriptor(dec)
		if err != nil {
			return nil, err
		}
		params[i] = d
	}
	ret, err := ParseDescriptor(dec)
	if err != nil {
		return nil, err
	}
	return &CallbackDescriptor{Params: params, Return: ret}, nil
}

func parseStringEnumBody(dec *wire.Decoder) (*StringEnumDescriptor, error) {
	count, err := dec.ReadU32()
	if err != nil {
		return nil, err
	}
	variants := make([]string, count)
	for i := range variants {
		s, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		variants[i] = s
	}
	return &StringEnumDescriptor{Variants: variants}, nil
}

// ParseSignature reads a "full descriptor" exactly as laid out in
// spec.md §6 for an Evaluate operation: paramCount:u8, paramDescriptors*,
// returnDescriptor, all in the 8-bit section, with no leading Callback
// tag byte — the 0xFE marker already establishes that a signature
// follows.
func ParseSignature(dec *wire.Decoder) (*CallbackDescriptor, error) {
	return parseCallbackBody(dec)
}

// TypeCache maps 32-bit type IDs to parsed operation signatures,
// spec.md §4.3 "Type cache".
type TypeCache struct {
	byID map[uint32]*CallbackDescriptor
}

// NewTypeCache creates an empty cache.
func NewTypeCache() *TypeCache {
	return &TypeCache{byID: make(map[uint32]*CallbackDescriptor)}
}

// Install records a freshly parsed signature under typeId.
func (c *TypeCache) Install(typeID uint32, sig *CallbackDescriptor) {
	c.byID[typeID] = sig
}

// Lookup returns the signature previously installed under typeId.
func (c *TypeCache) Lookup(typeID uint32) (*CallbackDescriptor, bool) {
	sig, ok := c.byID[typeID]
	return sig, ok
}

// ReadTypeSlot reads a type-slot marker (spec.md §4.3/§6: 0xFE full,
// 0xFF cached) from the 8-bit stream and the typeId that follows it in
// the 32-bit stream, installing a fresh definition into the cache or
// resolving a cached one. Any other marker is a protocol error.
func (c *TypeCache) ReadTypeSlot(dec *wire.Decoder) (*CallbackDescriptor, error) {
	marker, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	typeID, err := dec.ReadU32()
	if err != nil {
		return nil, err
	}
	switch marker {
	case MarkerFull:
		sig, err := ParseSignature(dec)
		if err != nil {
			return nil, fmt.Errorf("descriptor: parsing fresh type %d: %w", typeID, err)
		}
		c.Install(typeID, sig)
		return sig, nil
	case MarkerCached:
		sig, ok := c.Lookup(typeID)
		if !ok {
			return nil, fmt.Errorf("descriptor: unknown cached type id %d: %w", typeID, errs.ErrProtocolViolation)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("descriptor: unknown type marker %#x: %w", marker, errs.ErrProtocolViolation)
	}
}

// Describe renders a human-readable summary of a descriptor tree. It has
// no wire representation; it exists for diagnostics — the native code
// generator's debug path that sanity-checks a freshly parsed descriptor
// against what it expected to send (SPEC_FULL.md's supplemented-features
// section).
func Describe(d Descriptor) string {
	switch t := d.(type) {
	case *OptionDescriptor:
		return "Option<" + Describe(t.Inner) + ">"
	case *ResultDescriptor:
		return "Result<" + Describe(t.Ok) + "," + Describe(t.Err) + ">"
	case *ArrayDescriptor:
		return "Array<" + Describe(t.Elem) + ">"
	case *CallbackDescriptor:
		s := "Callback("
		for i, p := range t.Params {
			if i > 0 {
				s += ","
			}
			s += Describe(p)
		}
		return s + ")->" + Describe(t.Return)
	case *StringEnumDescriptor:
		return fmt.Sprintf("StringEnum(%d variants)", len(t.Variants))
	default:
		return fmt.Sprintf("tag(%d)", d.Tag())
	}
}
