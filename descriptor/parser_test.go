package descriptor

import (
	"testing"

	"github.com/wirebridge/jsrt/wire"
)

func buildSignatureBytes(params []byte, ret byte) []byte {
	enc := wire.NewEncoder()
	enc.PushU8(uint8(len(params)))
	for _, p := range params {
		enc.PushU8(p)
	}
	enc.PushU8(ret)
	return enc.Finalize()
}

func TestParseSignature(t *testing.T) {
	buf := buildSignatureBytes([]byte{TagU32, TagU32}, TagU32)
	dec, err := wire.NewDecoder(buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	sig, err := ParseSignature(dec)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if len(sig.Params) != 2 || sig.Params[0].Tag() != TagU32 || sig.Params[1].Tag() != TagU32 {
		t.Fatalf("unexpected params: %#v", sig.Params)
	}
	if sig.Return.Tag() != TagU32 {
		t.Fatalf("unexpected return tag: %d", sig.Return.Tag())
	}
}

func TestParseDescriptorComposites(t *testing.T) {
	enc := wire.NewEncoder()
	enc.PushU8(TagOption)
	enc.PushU8(TagU32)
	dec, err := wire.NewDecoder(enc.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	d, err := ParseDescriptor(dec)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	opt, ok := d.(*OptionDescriptor)
	if !ok {
		t.Fatalf("expected *OptionDescriptor, got %T", d)
	}
	if opt.Inner.Tag() != TagU32 {
		t.Fatalf("unexpected inner tag: %d", opt.Inner.Tag())
	}
}

func TestParseDescriptorUnknownTag(t *testing.T) {
	enc := wire.NewEncoder()
	enc.PushU8(0xAA)
	dec, err := wire.NewDecoder(enc.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := ParseDescriptor(dec); err == nil {
		t.Fatal("expected error for unknown type tag")
	}
}

func TestTypeCacheFullThenCached(t *testing.T) {
	cache := NewTypeCache()

	full := wire.NewEncoder()
	full.PushU8(MarkerFull)
	full.PushU32(100)
	full.PushU8(1) // one param
	full.PushU8(TagU32)
	full.PushU8(TagU32) // return
	fullDec, err := wire.NewDecoder(full.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	sig, err := cache.ReadTypeSlot(fullDec)
	if err != nil {
		t.Fatalf("ReadTypeSlot(full): %v", err)
	}
	if len(sig.Params) != 1 {
		t.Fatalf("unexpected param count: %d", len(sig.Params))
	}

	cached := wire.NewEncoder()
	cached.PushU8(MarkerCached)
	cached.PushU32(100)
	cachedDec, err := wire.NewDecoder(cached.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	sig2, err := cache.ReadTypeSlot(cachedDec)
	if err != nil {
		t.Fatalf("ReadTypeSlot(cached): %v", err)
	}
	if sig2 != sig {
		t.Fatal("cached lookup should return the exact same signature the full parse installed")
	}
}

func TestTypeCacheUnknownID(t *testing.T) {
	cache := NewTypeCache()
	cached := wire.NewEncoder()
	cached.PushU8(MarkerCached)
	cached.PushU32(999)
	dec, err := wire.NewDecoder(cached.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := cache.ReadTypeSlot(dec); err == nil {
		t.Fatal("expected error looking up unknown cached type id")
	}
}

func TestDescribe(t *testing.T) {
	d := &CallbackDescriptor{Params: []Descriptor{U32, String}, Return: Bool}
	got := Describe(d)
	want := "Callback(tag(4),tag(16))->tag(1)"
	if got != want {
		t.Fatalf("Describe = %q, want %q", got, want)
	}
}
