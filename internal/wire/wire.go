// Package wire frames logical-expiry cache entries. The embedded expiry is
// what lets GetLogical serve stale data while a refresh runs, so the format
// is validated strictly: anything that does not parse is treated as corrupt
// and deleted by the caller.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("stampede: corrupt logical entry")
	magic4     = [...]byte{'S', 'T', 'P', 'D'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Envelope: magic(4) | ver(1) | expireAt(unix nanos, i64 be) | vlen(u32 be) | payload(vlen)
const hdrLen = 4 + 1 + 8 + 4

// Encode frames payload with the given logical expiry.
func Encode(expireAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(expireAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode returns the logical expiry and the framed payload.
// The payload aliases b; callers must not retain it past b's lifetime.
func Decode(b []byte) (expireAt time.Time, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return time.Time{}, nil, ErrCorrupt
	}

	off := 5
	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return time.Time{}, nil, ErrCorrupt
	}

	return time.Unix(0, nanos), b[off : off+vlen], nil
}
