package stability

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Layout(t *testing.T) {
	tests := []struct {
		name string
		h    *History
		want Record
	}{
		{
			"partially filled",
			historyOf(3, pass(1), fail(2)),
			Record{Head: "0", Tail: "2", Size: "2", Data: "1;1,2;0,"},
		},
		{
			"wrapped",
			historyOf(3, pass(1), fail(2), pass(3), pass(4)),
			Record{Head: "1", Tail: "1", Size: "3", Data: "4;1,2;0,3;1"},
		},
		{
			"empty",
			New(3),
			Record{Head: "0", Tail: "0", Size: "0", Data: ",,"},
		},
		{
			"single empty slot",
			New(1),
			Record{Head: "0", Tail: "0", Size: "0", Data: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.h))
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	for capacity := 1; capacity <= 6; capacity++ {
		for inserted := 0; inserted <= 2*capacity+1; inserted++ {
			t.Run(strconv.Itoa(capacity)+"/"+strconv.Itoa(inserted), func(t *testing.T) {
				h := New(capacity)
				for i := 1; i <= inserted; i++ {
					h.AddResult(100+i, i%2 == 0 || i%5 == 0)
				}

				got, err := Decode(Encode(h))
				require.NoError(t, err)

				assert.Equal(t, h.data, got.data)
				assert.Equal(t, h.head, got.head)
				assert.Equal(t, h.tail, got.tail)
				assert.Equal(t, h.size, got.size)
				assert.Equal(t, h.Results(), got.Results())
				assert.Equal(t, h.Stability(), got.Stability())
				assert.Equal(t, h.Flakiness(), got.Flakiness())
			})
		}
	}
}

func TestDecode_ContinuesAfterReload(t *testing.T) {
	h := historyOf(3, pass(1), fail(2), pass(3))

	got, err := Decode(Encode(h))
	require.NoError(t, err)

	got.Add(fail(4))
	h.Add(fail(4))
	assert.Equal(t, h.Results(), got.Results())
	assert.True(t, got.IsMostRecentRegressed())
}

func TestDecode_EmptyDataIsOneSlot(t *testing.T) {
	got, err := Decode(Record{Head: "0", Tail: "0", Size: "0", Data: ""})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Capacity())
	assert.Empty(t, got.Results())
}

func TestDecode_FlagOtherThanOneIsFailure(t *testing.T) {
	got, err := Decode(Record{Head: "0", Tail: "0", Size: "2", Data: "7;2,8;1"})
	require.NoError(t, err)
	assert.Equal(t, []Result{fail(7), pass(8)}, got.Results())
}

func TestDecode_TrustsIndices(t *testing.T) {
	got, err := Decode(Record{Head: "1", Tail: "1", Size: "2", Data: "5;1,6;0"})
	require.NoError(t, err)
	assert.Equal(t, []Result{fail(6), pass(5)}, got.Results())
}

func TestDecode_Errors(t *testing.T) {
	valid := Record{Head: "0", Tail: "1", Size: "1", Data: "3;1,"}

	tests := []struct {
		name  string
		edit  func(r *Record)
		field string
	}{
		{"head", func(r *Record) { r.Head = "x" }, "head"},
		{"tail", func(r *Record) { r.Tail = "" }, "tail"},
		{"size", func(r *Record) { r.Size = "1.5" }, "size"},
		{"missing flag", func(r *Record) { r.Data = "3" }, "data[0]"},
		{"empty flag", func(r *Record) { r.Data = ",3;" }, "data[1]"},
		{"bad build number", func(r *Record) { r.Data = "3;1,abc;0" }, "data[1]"},
		{"negative head", func(r *Record) { r.Head = "-1" }, "head"},
		{"negative tail", func(r *Record) { r.Tail = "-3" }, "tail"},
		{"negative size", func(r *Record) { r.Size = "-1" }, "size"},
		{"size beyond slots", func(r *Record) { r.Size = "3" }, "size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.edit(&rec)

			h, err := Decode(rec)
			require.Error(t, err)
			assert.Nil(t, h)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.field, decodeErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestDecodeData_MalformedSlotSentinel(t *testing.T) {
	_, err := DecodeData("1;1,2")
	assert.ErrorIs(t, err, ErrMalformedSlot)
}

func TestDecode_IndicesAllowWhitespace(t *testing.T) {
	got, err := Decode(Record{Head: " 0\n", Tail: "1", Size: "1 ", Data: "9;0,"})
	require.NoError(t, err)
	assert.Equal(t, []Result{fail(9)}, got.Results())
}

func TestDecode_NegativeIndexIsNotUsable(t *testing.T) {
	h, err := Decode(Record{Head: "-1", Tail: "0", Size: "1", Data: "5;1,6;0"})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Nil(t, h)
}

func TestDecode_CapacityZeroComesBackWithOneSlot(t *testing.T) {
	rec := Encode(New(0))
	assert.Equal(t, "", rec.Data)

	got, err := Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Capacity())
	assert.Empty(t, got.Results())
}
