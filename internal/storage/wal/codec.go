package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/tidekv/tidekv/pkg/crypto/adaptive"
)

// Encode serializes a record to the exact wire format in §6 of the design:
// fixed 41-byte little-endian header, key bytes, value bytes, trailing
// CRC32 (IEEE) over every preceding byte of the record. If cipher is
// non-nil, value bytes are encrypted in place before framing; the key and
// header are always written in the clear.
func Encode(r *Record, cipher adaptive.Cipher) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	value := r.Value
	if cipher != nil && len(value) > 0 {
		ciphertext, err := cipher.Encrypt(value, nil)
		if err != nil {
			return nil, err
		}
		value = ciphertext
	}

	total := HeaderSize + len(r.Key) + len(value) + 4
	buf := make([]byte, total)

	binary.LittleEndian.PutUint64(buf[0:8], r.Timestamp)
	binary.LittleEndian.PutUint64(buf[8:16], r.Version)
	binary.LittleEndian.PutUint64(buf[16:24], r.TTLNanos)
	buf[24] = byte(r.Op)
	binary.LittleEndian.PutUint64(buf[25:33], uint64(len(r.Key)))
	binary.LittleEndian.PutUint64(buf[33:41], uint64(len(value)))
	copy(buf[41:41+len(r.Key)], r.Key)
	copy(buf[41+len(r.Key):41+len(r.Key)+len(value)], value)

	crc := crc32.ChecksumIEEE(buf[:HeaderSize+len(r.Key)+len(value)])
	binary.LittleEndian.PutUint32(buf[total-4:total], crc)

	return buf, nil
}

// Decode parses a single record from buf, which must contain exactly one
// encoded record (no trailing bytes). cipher, if non-nil, decrypts the
// value payload; it must match the cipher used at encode time.
func Decode(buf []byte, cipher adaptive.Cipher) (*Record, error) {
	if len(buf) < HeaderSize+4 {
		return nil, ErrCorruptedRecord
	}

	keyLen := binary.LittleEndian.Uint64(buf[25:33])
	valueLen := binary.LittleEndian.Uint64(buf[33:41])

	want := HeaderSize + int(keyLen) + int(valueLen) + 4
	if want < 0 || len(buf) != want {
		return nil, ErrCorruptedRecord
	}

	gotCRC := crc32.ChecksumIEEE(buf[:HeaderSize+int(keyLen)+int(valueLen)])
	wantCRC := binary.LittleEndian.Uint32(buf[want-4 : want])
	if gotCRC != wantCRC {
		return nil, ErrChecksumMismatch
	}

	op := OpCode(buf[24])
	if !op.Valid() {
		return nil, ErrInvalidOpCode
	}

	key := make([]byte, keyLen)
	copy(key, buf[41:41+keyLen])

	value := buf[41+keyLen : 41+keyLen+valueLen]
	if cipher != nil && len(value) > 0 {
		plain, err := cipher.Decrypt(value, nil)
		if err != nil {
			return nil, err
		}
		value = plain
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	r := &Record{
		Timestamp: binary.LittleEndian.Uint64(buf[0:8]),
		Version:   binary.LittleEndian.Uint64(buf[8:16]),
		TTLNanos:  binary.LittleEndian.Uint64(buf[16:24]),
		Op:        op,
		Key:       key,
		Value:     valueCopy,
	}
	if op == OpDel && len(r.Value) != 0 {
		return nil, ErrValueLenMismatch
	}
	return r, nil
}

// HeaderLens reads only key_len/value_len out of a 41-byte header, used by
// the reader to know how many more bytes to pull off the stream before it
// has a complete frame to hand to Decode.
func HeaderLens(header []byte) (keyLen, valueLen uint64, op OpCode, ok bool) {
	if len(header) < HeaderSize {
		return 0, 0, 0, false
	}
	keyLen = binary.LittleEndian.Uint64(header[25:33])
	valueLen = binary.LittleEndian.Uint64(header[33:41])
	op = OpCode(header[24])
	return keyLen, valueLen, op, true
}
