package wal

import (
	"bytes"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []*Record{
		{Timestamp: 1, Version: 1, TTLNanos: 0, Op: OpSet, Key: []byte("hello"), Value: []byte("world")},
		{Timestamp: 2, Version: 2, TTLNanos: 5_000_000_000, Op: OpSet, Key: []byte("k"), Value: []byte("")},
		{Timestamp: 3, Version: 3, TTLNanos: 0, Op: OpDel, Key: []byte("k"), Value: nil},
		{Timestamp: 4, Version: 1, TTLNanos: 0, Op: OpSet, Key: []byte(""), Value: []byte("")},
	}

	for _, rec := range cases {
		frame, err := Encode(rec, nil)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(frame) != rec.EncodedLen() {
			t.Fatalf("EncodedLen() = %d, actual frame = %d", rec.EncodedLen(), len(frame))
		}

		got, err := Decode(frame, nil)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Timestamp != rec.Timestamp || got.Version != rec.Version || got.TTLNanos != rec.TTLNanos || got.Op != rec.Op {
			t.Fatalf("decoded header mismatch: got %+v, want %+v", got, rec)
		}
		if !bytes.Equal(got.Key, rec.Key) {
			t.Fatalf("decoded key = %q, want %q", got.Key, rec.Key)
		}
		if !bytes.Equal(got.Value, rec.Value) {
			t.Fatalf("decoded value = %q, want %q", got.Value, rec.Value)
		}
	}
}

func TestEncode_MinimumRecordSize(t *testing.T) {
	rec := &Record{Op: OpSet, Key: nil, Value: nil}
	frame, err := Encode(rec, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	const want = HeaderSize + 4
	if len(frame) != want {
		t.Fatalf("empty record frame = %d bytes, want %d", len(frame), want)
	}
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	rec := &Record{Op: OpSet, Key: []byte("k"), Value: []byte("v")}
	frame, err := Encode(rec, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF

	if _, err := Decode(frame, nil); err != ErrChecksumMismatch {
		t.Fatalf("Decode with flipped CRC byte = %v, want ErrChecksumMismatch", err)
	}
}

func TestEncode_DeleteMustHaveNoValue(t *testing.T) {
	rec := &Record{Op: OpDel, Key: []byte("k"), Value: []byte("v")}
	if _, err := Encode(rec, nil); err != ErrValueLenMismatch {
		t.Fatalf("Encode DEL with value = %v, want ErrValueLenMismatch", err)
	}
}

func TestEncode_KeyTooLarge(t *testing.T) {
	rec := &Record{Op: OpSet, Key: make([]byte, MaxKeyLen+1), Value: nil}
	if _, err := Encode(rec, nil); err != ErrKeyTooLarge {
		t.Fatalf("Encode with oversized key = %v, want ErrKeyTooLarge", err)
	}
}
