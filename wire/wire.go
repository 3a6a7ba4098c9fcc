// Package wire implements the aligned multi-buffer binary codec described
// in spec.md §4.1/§6: four independent streams — 32-bit words, 16-bit
// halves, 8-bit bytes, and UTF-8 string bytes — serialised into one buffer
// behind a 12-byte header of section offsets. All numeric fields are
// little-endian.
//
// Encoder operations accept pushes into each stream in any order and
// materialise the final buffer on Finalize. Decoder operations read from
// each stream independently; reading past a stream's end is a programmer
// error (returned as errs.ErrProtocolViolation, not panicked, so the
// dispatch loop can return it to the embedding host instead of crashing
// the host process).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wirebridge/jsrt/errs"
)

// headerSize is the fixed 12-byte prefix: three u32 section offsets, with
// no further bits of that header reserved for anything else — a decoder
// for this format must accept exactly what an encoder for it writes, byte
// for byte (see dispatch.wrapEnvelope for where this module's optional
// compression actually lives, outside this header).
const headerSize = 12

// Int128 is a 128-bit integer transmitted as two 64-bit halves, the way
// spec.md §4.1 describes ("128-bit integers extend the above scheme with
// two 64-bit halves"). Go has no native int128, so both signed and
// unsigned 128-bit values are carried through this pair of machine words;
// the sign (for I128) lives in the top bit of Hi.
type Int128 struct {
	Lo uint64
	Hi uint64
}

// Encoder accumulates pushes into the four streams described in spec.md
// §4.1 and materialises them into the wire layout of §6 on Finalize.
type Encoder struct {
	words  []uint32
	halves []uint16
	bytes  []byte
	str    bytes.Buffer
}

// NewEncoder creates an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) PushU8(v uint8)   { e.bytes = append(e.bytes, v) }
func (e *Encoder) PushU16(v uint16) { e.halves = append(e.halves, v) }
func (e *Encoder) PushU32(v uint32) { e.words = append(e.words, v) }

func (e *Encoder) PushU64(v uint64) {
	e.PushU32(uint32(v))
	e.PushU32(uint32(v >> 32))
}

func (e *Encoder) PushI64(v int64) { e.PushU64(uint64(v)) }

// PushUsize/PushIsize: spec.md §3 "Usize/Isize (transmitted as 64-bit)".
func (e *Encoder) PushUsize(v uint64) { e.PushU64(v) }
func (e *Encoder) PushIsize(v int64)  { e.PushI64(v) }

func (e *Encoder) PushU128(v Int128) {
	e.PushU64(v.Lo)
	e.PushU64(v.Hi)
}

func (e *Encoder) PushF32(v float32) { e.PushU32(math.Float32bits(v)) }

func (e *Encoder) PushF64(v float64) {
	bits := math.Float64bits(v)
	e.PushU32(uint32(bits))
	e.PushU32(uint32(bits >> 32))
}

// PushString writes a u32 length into the 32-bit section followed by the
// UTF-8 bytes into the string section (spec.md §4.1).
func (e *Encoder) PushString(s string) {
	e.PushU32(uint32(len(s)))
	e.str.WriteString(s)
}

// Finalize materialises the buffer in the wire layout of spec.md §6.
func (e *Encoder) Finalize() []byte {
	strSection := e.str.Bytes()

	u32Bytes := len(e.words) * 4
	u16Bytes := len(e.halves) * 2
	u8Bytes := len(e.bytes)

	u16Off := uint32(headerSize + u32Bytes)
	u8Off := u16Off + uint32(u16Bytes)
	strOff := u8Off + uint32(u8Bytes)

	total := int(strOff) + len(strSection)
	out := make([]byte, total)

	binary.LittleEndian.PutUint32(out[0:4], u16Off)
	binary.LittleEndian.PutUint32(out[4:8], u8Off)
	binary.LittleEndian.PutUint32(out[8:12], strOff)

	pos := headerSize
	for _, w := range e.words {
		binary.LittleEndian.PutUint32(out[pos:pos+4], w)
		pos += 4
	}
	for _, h := range e.halves {
		binary.LittleEndian.PutUint16(out[pos:pos+2], h)
		pos += 2
	}
	copy(out[pos:], e.bytes)
	pos += u8Bytes
	copy(out[pos:], strSection)

	return out
}

// Decoder reads the four streams of a finalised Encoder buffer
// independently, in the order the encoder pushed them.
type Decoder struct {
	buf []byte

	u32Cur, u32End int
	u16Cur, u16End int
	u8Cur, u8End   int

	str    []byte
	strCur int
}

// NewDecoder parses the 12-byte header: three plain u32 byte offsets, no
// flag bits of any kind.
func NewDecoder(buf []byte) (*Decoder, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("wire: buffer shorter than header (%d bytes): %w", len(buf), errs.ErrProtocolViolation)
	}
	u16Off := binary.LittleEndian.Uint32(buf[0:4])
	u8Off := binary.LittleEndian.Uint32(buf[4:8])
	strOff := binary.LittleEndian.Uint32(buf[8:12])

	if int(u16Off) > len(buf) || int(u8Off) > len(buf) || int(strOff) > len(buf) ||
		u16Off < headerSize || u8Off < u16Off || strOff < u8Off {
		return nil, fmt.Errorf("wire: malformed section offsets: %w", errs.ErrProtocolViolation)
	}

	return &Decoder{
		buf:    buf,
		u32Cur: headerSize, u32End: int(u16Off),
		u16Cur: int(u16Off), u16End: int(u8Off),
		u8Cur: int(u8Off), u8End: int(strOff),
		str: buf[strOff:],
	}, nil
}

func (d *Decoder) ReadU32() (uint32, error) {
	if d.u32Cur+4 > d.u32End {
		return 0, fmt.Errorf("wire: u32 stream exhausted: %w", errs.ErrProtocolViolation)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.u32Cur : d.u32Cur+4])
	d.u32Cur += 4
	return v, nil
}

func (d *Decoder) ReadU16() (uint16, error) {
	if d.u16Cur+2 > d.u16End {
		return 0, fmt.Errorf("wire: u16 stream exhausted: %w", errs.ErrProtocolViolation)
	}
	v := binary.LittleEndian.Uint16(d.buf[d.u16Cur : d.u16Cur+2])
	d.u16Cur += 2
	return v, nil
}

func (d *Decoder) ReadU8() (uint8, error) {
	if d.u8Cur+1 > d.u8End {
		return 0, fmt.Errorf("wire: u8 stream exhausted: %w", errs.ErrProtocolViolation)
	}
	v := d.buf[d.u8Cur]
	d.u8Cur++
	return v, nil
}

func (d *Decoder) ReadU64() (uint64, error) {
	lo, err := d.ReadU32()
	if err != nil {
		return 0, err
	}
	hi, err := d.ReadU32()
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (d *Decoder) ReadI64() (int64, error) {
	v, err := d.ReadU64()
	return int64(v), err
}

func (d *Decoder) ReadUsize() (uint64, error) { return d.ReadU64() }
func (d *Decoder) ReadIsize() (int64, error)  { return d.ReadI64() }

func (d *Decoder) ReadU128() (Int128, error) {
	lo, err := d.ReadU64()
	if err != nil {
		return Int128{}, err
	}
	hi, err := d.ReadU64()
	if err != nil {
		return Int128{}, err
	}
	return Int128{Lo: lo, Hi: hi}, nil
}

func (d *Decoder) ReadF32() (float32, error) {
	bits, err := d.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func (d *Decoder) ReadF64() (float64, error) {
	bits, err := d.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// PushBytes appends raw bytes to the 8-bit stream in one call (used for
// U8Clamped payloads; type-descriptor bytes go through PushU8 one at a
// time).
func (e *Encoder) PushBytes(b []byte) { e.bytes = append(e.bytes, b...) }

// ReadBytes reads n raw bytes from the 8-bit stream.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.u8Cur+n > d.u8End {
		return nil, fmt.Errorf("wire: readBytes(%d) past end of u8 stream: %w", n, errs.ErrProtocolViolation)
	}
	b := d.buf[d.u8Cur : d.u8Cur+n]
	d.u8Cur += n
	return b, nil
}

// ReadString reads a u32 length from the 32-bit section followed by that
// many UTF-8 bytes from the string section.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadU32()
	if err != nil {
		return "", err
	}
	if d.strCur+int(n) > len(d.str) {
		return "", fmt.Errorf("wire: string stream exhausted: %w", errs.ErrProtocolViolation)
	}
	s := string(d.str[d.strCur : d.strCur+int(n)])
	d.strCur += int(n)
	return s, nil
}

// HasMoreWords reports whether the 32-bit stream has unread words left.
func (d *Decoder) HasMoreWords() bool { return d.u32Cur < d.u32End }

// RemainingBytes reports how many unread bytes remain in the 8-bit stream.
func (d *Decoder) RemainingBytes() int { return d.u8End - d.u8Cur }

// SkipBytes advances the 8-bit stream cursor by n without reading.
func (d *Decoder) SkipBytes(n int) error {
	if d.u8Cur+n > d.u8End || n < 0 {
		return fmt.Errorf("wire: skipBytes(%d) past end of u8 stream: %w", n, errs.ErrProtocolViolation)
	}
	d.u8Cur += n
	return nil
}

// IsEmpty reports whether every stream has been fully consumed.
func (d *Decoder) IsEmpty() bool {
	return d.u32Cur >= d.u32End && d.u16Cur >= d.u16End && d.u8Cur >= d.u8End && d.strCur >= len(d.str)
}
