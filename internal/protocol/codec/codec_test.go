package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/posewire/internal/testutil/testlog"
)

func TestScalarsAreBigEndian(t *testing.T) {
	testlog.Start(t)
	e := NewEncoder(0)
	e.PutInt32(0x01020304)
	e.PutUint32(0xA0B0C0D0)
	e.PutFloat32(1.0)
	want := []byte{
		0x01, 0x02, 0x03, 0x04,
		0xA0, 0xB0, 0xC0, 0xD0,
		0x3F, 0x80, 0x00, 0x00,
	}
	if !bytes.Equal(e.Bytes(), want) {
		t.Fatalf("encoded bytes mismatch: got=% x want=% x", e.Bytes(), want)
	}
}

func TestScalarRoundTrip(t *testing.T) {
	testlog.Start(t)
	ints := []int32{0, 1, -1, math.MaxInt32, math.MinInt32}
	floats := []float32{0, -0.5, 3.25, math.MaxFloat32, math.SmallestNonzeroFloat32}

	e := NewEncoder(0)
	for _, v := range ints {
		e.PutInt32(v)
	}
	for _, v := range floats {
		e.PutFloat32(v)
	}

	d := NewDecoder(e.Bytes())
	for _, want := range ints {
		got, err := d.Int32()
		if err != nil {
			t.Fatalf("decode int32: %v", err)
		}
		if got != want {
			t.Fatalf("int32 mismatch: got=%d want=%d", got, want)
		}
	}
	for _, want := range floats {
		got, err := d.Float32()
		if err != nil {
			t.Fatalf("decode float32: %v", err)
		}
		if got != want {
			t.Fatalf("float32 mismatch: got=%v want=%v", got, want)
		}
	}
	if d.Remaining() != 0 {
		t.Fatalf("expected buffer fully consumed, remaining=%d", d.Remaining())
	}
}

func TestStringCarriesRawBytes(t *testing.T) {
	testlog.Start(t)
	cases := []string{"", "cup", "tasse à café", string([]byte{0xff, 0x00, 0xfe})}
	for _, in := range cases {
		e := NewEncoder(0)
		e.PutString(in)
		if got := len(e.Bytes()); got != LenSize+len(in) {
			t.Fatalf("string %q: encoded len=%d want=%d", in, got, LenSize+len(in))
		}
		out, err := NewDecoder(e.Bytes()).String()
		if err != nil {
			t.Fatalf("decode %q: %v", in, err)
		}
		if out != in {
			t.Fatalf("string mismatch: got=%q want=%q", out, in)
		}
	}
}

func TestSequenceCountAndCursor(t *testing.T) {
	testlog.Start(t)
	for _, n := range []int{0, 1, 7, 300} {
		items := make([]int32, n)
		for i := range items {
			items[i] = int32(i * 3)
		}
		e := NewEncoder(0)
		PutSequence(e, items, (*Encoder).PutInt32)
		e.PutString("tail")

		d := NewDecoder(e.Bytes())
		count, err := NewDecoder(e.Bytes()).Int32()
		if err != nil || int(count) != n {
			t.Fatalf("count field: got=%d err=%v want=%d", count, err, n)
		}
		out, err := Sequence(d, (*Decoder).Int32)
		if err != nil {
			t.Fatalf("decode sequence n=%d: %v", n, err)
		}
		if len(out) != n {
			t.Fatalf("decoded %d elements, want %d", len(out), n)
		}
		if d.Offset() != LenSize+LenSize*n {
			t.Fatalf("cursor after sequence: got=%d want=%d", d.Offset(), LenSize+LenSize*n)
		}
		tail, err := d.String()
		if err != nil || tail != "tail" {
			t.Fatalf("value after sequence: got=%q err=%v", tail, err)
		}
	}
}

func TestNestedSequenceRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := [][]string{{"cup", "bowl"}, {}, {"plate"}}
	e := NewEncoder(0)
	PutSequence(e, in, func(e *Encoder, row []string) {
		PutSequence(e, row, (*Encoder).PutString)
	})

	d := NewDecoder(e.Bytes())
	out, err := Sequence(d, func(d *Decoder) ([]string, error) {
		return Sequence(d, (*Decoder).String)
	})
	if err != nil {
		t.Fatalf("decode nested: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("outer len mismatch: got=%d want=%d", len(out), len(in))
	}
	for i := range in {
		if len(out[i]) != len(in[i]) {
			t.Fatalf("row %d len mismatch: got=%v want=%v", i, out[i], in[i])
		}
		for j := range in[i] {
			if out[i][j] != in[i][j] {
				t.Fatalf("row %d col %d: got=%q want=%q", i, j, out[i][j], in[i][j])
			}
		}
	}
	if d.Remaining() != 0 {
		t.Fatalf("nested decode left %d bytes", d.Remaining())
	}
}

func TestMixedValuesDecodeInEncodeOrder(t *testing.T) {
	testlog.Start(t)
	e := NewEncoder(0)
	e.PutInt32(42)
	e.PutString("{\"labels\":[\"cup\"]}")
	e.PutFloat32(0.25)
	e.PutMatrix4(Translation(1, 2, 3))

	d := NewDecoder(e.Bytes())
	i, err := d.Int32()
	if err != nil || i != 42 {
		t.Fatalf("int: got=%d err=%v", i, err)
	}
	s, err := d.String()
	if err != nil || s != "{\"labels\":[\"cup\"]}" {
		t.Fatalf("string: got=%q err=%v", s, err)
	}
	f, err := d.Float32()
	if err != nil || f != 0.25 {
		t.Fatalf("float: got=%v err=%v", f, err)
	}
	m, err := d.Matrix4()
	if err != nil || m != Translation(1, 2, 3) {
		t.Fatalf("matrix: got=%v err=%v", m, err)
	}
}

func TestDecodePastEndIsMalformed(t *testing.T) {
	testlog.Start(t)
	lenOnly := func(n int32) []byte {
		e := NewEncoder(0)
		e.PutInt32(n)
		return e.Bytes()
	}
	cases := []struct {
		name   string
		buf    []byte
		decode func(*Decoder) error
	}{
		{"short int", []byte{0, 1}, func(d *Decoder) error { _, err := d.Int32(); return err }},
		{"string overrun", append(lenOnly(10), 'a', 'b'), func(d *Decoder) error { _, err := d.String(); return err }},
		{"string negative", lenOnly(-1), func(d *Decoder) error { _, err := d.String(); return err }},
		{"sequence overrun", lenOnly(1 << 30), func(d *Decoder) error {
			_, err := Sequence(d, (*Decoder).Int32)
			return err
		}},
		{"sequence element short", append(lenOnly(2), 0, 0, 0, 1), func(d *Decoder) error {
			_, err := Sequence(d, (*Decoder).Int32)
			return err
		}},
		{"matrix wrong count", append(lenOnly(1), 0, 0, 0, 0), func(d *Decoder) error { _, err := d.Matrix4(); return err }},
		{"raw overrun", []byte{1, 2}, func(d *Decoder) error { _, err := d.Raw(3); return err }},
	}
	for _, tc := range cases {
		err := tc.decode(NewDecoder(tc.buf))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", tc.name, err)
		}
	}
}

func TestFailedTakeLeavesCursor(t *testing.T) {
	testlog.Start(t)
	e := NewEncoder(0)
	e.PutInt32(100)
	d := NewDecoder(append(e.Bytes(), 'x'))
	if _, err := d.String(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	// The length prefix was consumed; the body read was refused.
	if d.Offset() != LenSize {
		t.Fatalf("cursor moved past failed read: offset=%d", d.Offset())
	}
}
