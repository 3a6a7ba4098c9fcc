package wire

import "testing"

func TestEncoderDecoderRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PushU8(0x42)
	e.PushU16(0xBEEF)
	e.PushU32(0xCAFEBABE)
	e.PushU64(0x1122334455667788)
	e.PushI64(-1)
	e.PushU128(Int128{Lo: 1, Hi: 2})
	e.PushF32(3.5)
	e.PushF64(-2.25)
	e.PushString("hello, wire")

	dec, err := NewDecoder(e.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	if v, err := dec.ReadU8(); err != nil || v != 0x42 {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
	if v, err := dec.ReadU16(); err != nil || v != 0xBEEF {
		t.Fatalf("ReadU16 = %v, %v", v, err)
	}
	if v, err := dec.ReadU32(); err != nil || v != 0xCAFEBABE {
		t.Fatalf("ReadU32 = %v, %v", v, err)
	}
	if v, err := dec.ReadU64(); err != nil || v != 0x1122334455667788 {
		t.Fatalf("ReadU64 = %v, %v", v, err)
	}
	if v, err := dec.ReadI64(); err != nil || v != -1 {
		t.Fatalf("ReadI64 = %v, %v", v, err)
	}
	if v, err := dec.ReadU128(); err != nil || v != (Int128{Lo: 1, Hi: 2}) {
		t.Fatalf("ReadU128 = %v, %v", v, err)
	}
	if v, err := dec.ReadF32(); err != nil || v != 3.5 {
		t.Fatalf("ReadF32 = %v, %v", v, err)
	}
	if v, err := dec.ReadF64(); err != nil || v != -2.25 {
		t.Fatalf("ReadF64 = %v, %v", v, err)
	}
	if v, err := dec.ReadString(); err != nil || v != "hello, wire" {
		t.Fatalf("ReadString = %q, %v", v, err)
	}
	if !dec.IsEmpty() {
		t.Fatal("expected decoder to be fully consumed")
	}
}

func TestDecoderRejectsShortBuffer(t *testing.T) {
	if _, err := NewDecoder([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for buffer shorter than header")
	}
}

func TestDecoderRejectsBadOffsets(t *testing.T) {
	buf := make([]byte, headerSize)
	// u16Off < headerSize is invalid.
	if _, err := NewDecoder(buf); err == nil {
		t.Fatal("expected error for zeroed section offsets")
	}
}

func TestStreamExhaustion(t *testing.T) {
	e := NewEncoder()
	e.PushU32(1)
	dec, err := NewDecoder(e.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := dec.ReadU32(); err != nil {
		t.Fatalf("first ReadU32: %v", err)
	}
	if _, err := dec.ReadU32(); err == nil {
		t.Fatal("expected error reading past exhausted u32 stream")
	}
}

func TestLargeStringRoundTrip(t *testing.T) {
	e := NewEncoder()
	big := make([]byte, 0, 4096)
	for i := 0; i < 4096; i++ {
		big = append(big, 'a')
	}
	e.PushString(string(big))

	buf := e.Finalize()
	dec, err := NewDecoder(buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got, err := dec.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != string(big) {
		t.Fatal("round-tripped string does not match original")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PushU32(3)
	e.PushBytes([]byte{9, 8, 7})
	dec, err := NewDecoder(e.Finalize())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	n, err := dec.ReadU32()
	if err != nil || n != 3 {
		t.Fatalf("ReadU32 = %d, %v", n, err)
	}
	b, err := dec.ReadBytes(int(n))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if len(b) != 3 || b[0] != 9 || b[1] != 8 || b[2] != 7 {
		t.Fatalf("ReadBytes = %v", b)
	}
}
