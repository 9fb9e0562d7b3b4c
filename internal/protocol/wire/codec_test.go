package wire

import (
	"errors"
	"testing"

	"github.com/danmuck/sepprobe/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var (
	testInner = NewLayout("Inner",
		Uint32("a"),
		Uint16("b"),
	)
	testOuter = NewLayout("Outer",
		Uint8("tag"),
		Uint64("wide"),
		Bits("f1", U32, 1),
		Bits("f2", U32, 3),
		Bits("rest", U32, 28),
		Int32("signed"),
		Chars("name", 8),
		Nested("inner", testInner),
		NestedArray("list", testInner, 2),
		Array("slots", U32, 3),
	)
)

func TestLayoutOffsetsFollowCAlignment(t *testing.T) {
	testlog.Start(t)

	require.Equal(t, 8, testInner.Size())
	require.Equal(t, 4, testInner.Align())

	want := map[string]int{
		"tag":    0,
		"wide":   8,
		"f1":     16,
		"f2":     16,
		"rest":   16,
		"signed": 20,
		"name":   24,
		"inner":  32,
		"list":   40,
		"slots":  56,
	}
	for name, off := range want {
		got, ok := testOuter.Offset(name)
		require.True(t, ok, name)
		require.Equal(t, off, got, name)
	}
	require.Equal(t, 72, testOuter.Size())
}

func TestBitFieldsStartNewUnitWhenFull(t *testing.T) {
	testlog.Start(t)

	l := NewLayout("Split",
		Bits("x", U16, 12),
		Bits("y", U16, 8),
		Uint16("z"),
	)
	x, _ := l.Offset("x")
	y, _ := l.Offset("y")
	z, _ := l.Offset("z")
	require.Equal(t, 0, x)
	require.Equal(t, 2, y)
	require.Equal(t, 4, z)
	require.Equal(t, 6, l.Size())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	r := New(testOuter)
	require.NoError(t, r.SetFields(Values{
		"tag":    7,
		"wide":   1 << 40,
		"f1":     1,
		"f2":     5,
		"rest":   0xABCDEF,
		"signed": -3,
	}))
	require.NoError(t, r.SetBytes("name", []byte("abc")))
	require.NoError(t, r.Sub("inner").Set("a", 42))
	require.NoError(t, r.Elem("list", 1).Set("b", 9))
	require.NoError(t, r.SetBytes("slots", []byte{1, 0, 0, 0, 2, 0, 0, 0}))

	buf := Encode(r)
	require.Len(t, buf, testOuter.Size())

	got, err := Decode(testOuter, buf)
	require.NoError(t, err)
	if diff := cmp.Diff(r.Flatten(), got.Flatten()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(-3), got.Int("signed"))
	require.Equal(t, "abc", got.CString("name"))
	require.Equal(t, uint64(5), got.Uint("f2"))
}

func TestBitFieldPackingIsLSBFirst(t *testing.T) {
	testlog.Start(t)

	r := New(testOuter)
	require.NoError(t, r.Set("f1", 1))
	require.NoError(t, r.Set("f2", 2))
	buf := Encode(r)
	require.Equal(t, uint32(1|2<<1), Order.Uint32(buf[16:20]))
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	testlog.Start(t)

	for _, n := range []int{0, testInner.Size() - 1, testInner.Size() + 1} {
		_, err := Decode(testInner, make([]byte, n))
		if !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("len=%d: expected ErrSizeMismatch, got %v", n, err)
		}
	}
}

func TestDecodeArray(t *testing.T) {
	testlog.Start(t)

	a, b := New(testInner), New(testInner)
	require.NoError(t, a.Set("a", 1))
	require.NoError(t, b.Set("a", 2))
	buf, err := EncodeArray([]*Record{a, b})
	require.NoError(t, err)

	recs, err := DecodeArray(testInner, buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(2), recs[1].Uint("a"))

	_, err = DecodeArray(testInner, buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSetRejectsOverflowAndUnknownFields(t *testing.T) {
	testlog.Start(t)

	r := New(testOuter)
	require.ErrorIs(t, r.Set("f2", 8), ErrOverflow)
	require.ErrorIs(t, r.Set("tag", 256), ErrOverflow)
	require.ErrorIs(t, r.SetInt("wide", -1), ErrOverflow)
	require.ErrorIs(t, r.Set("missing", 1), ErrUnknownField)
	require.ErrorIs(t, r.Set("name", 1), ErrKindMismatch)
	require.ErrorIs(t, r.SetBytes("name", make([]byte, 9)), ErrOverflow)
}

func TestDefaultsApplied(t *testing.T) {
	testlog.Start(t)

	l := NewLayout("Defaults", Uint32("version").WithDefault(6), Int32("status").WithDefault(-1))
	r := New(l)
	require.Equal(t, uint64(6), r.Uint("version"))
	require.Equal(t, int64(-1), r.Int("status"))
}

func TestDumpNamesEveryField(t *testing.T) {
	testlog.Start(t)

	out := New(testOuter).Dump()
	for _, f := range testOuter.Fields() {
		require.Contains(t, out, f.Name)
	}
}
