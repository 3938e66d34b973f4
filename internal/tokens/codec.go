// Package tokens implements the refresh token store: issuance, verification,
// single-use rotation with an atomic compare-and-set on the revoked flag,
// reuse-triggered cascade revocation, and retention-based maintenance purge.
// Records are stored in Redis as a hand-rolled binary blob so the rotation
// Lua script can test and patch fixed byte offsets without a decoder.
package tokens

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// Record is one refresh token row. Token is the opaque high-entropy value the
// client holds; it is the storage key and is never embedded in the blob.
type Record struct {
	Token       string
	ID          string
	PrincipalID string
	Kind        uint8
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	LastUsedAt  time.Time // zero = never presented
	ClientIP    string
	Device      string
}

const recordVersion = 1

// Fixed offsets shared with the rotation script (0-based):
//
//	0       version
//	1       revoked flag
//	2       principal kind
//	3..10   issued-at, unix seconds, big endian
//	11..18  expires-at
//	19..26  last-used-at (0 = never)
//	27..    varlen: id, principal id, client ip (len byte each),
//	        device descriptor (uint16 length)
const (
	offRevoked  = 1
	offExpires  = 11
	offLastUsed = 19
)

func encodeRecord(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersion)
	if r.Revoked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(r.Kind)

	writeUnix(&buf, r.IssuedAt)
	writeUnix(&buf, r.ExpiresAt)
	writeUnix(&buf, r.LastUsedAt)

	for _, s := range []string{r.ID, r.PrincipalID, r.ClientIP} {
		if len(s) > 255 {
			return nil, errors.New("record field too long")
		}
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}

	// Device descriptors are user-agent strings and routinely exceed 255.
	if len(r.Device) > 65535 {
		return nil, errors.New("device descriptor too long")
	}
	var devLen [2]byte
	binary.BigEndian.PutUint16(devLen[:], uint16(len(r.Device)))
	buf.Write(devLen[:])
	buf.WriteString(r.Device)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != recordVersion {
		return nil, errors.New("invalid token record version")
	}

	r := &Record{}

	revoked, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.Revoked = revoked == 1

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.Kind = kind

	if r.IssuedAt, err = readUnix(reader); err != nil {
		return nil, err
	}
	if r.ExpiresAt, err = readUnix(reader); err != nil {
		return nil, err
	}
	if r.LastUsedAt, err = readUnix(reader); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&r.ID, &r.PrincipalID, &r.ClientIP} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return nil, err
		}
		*dst = string(b)
	}

	var devLen [2]byte
	if _, err := io.ReadFull(reader, devLen[:]); err != nil {
		return nil, err
	}
	dev := make([]byte, binary.BigEndian.Uint16(devLen[:]))
	if _, err := io.ReadFull(reader, dev); err != nil {
		return nil, err
	}
	r.Device = string(dev)

	return r, nil
}

func writeUnix(buf *bytes.Buffer, t time.Time) {
	var b [8]byte
	var v int64
	if !t.IsZero() {
		v = t.Unix()
	}
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readUnix(reader *bytes.Reader) (time.Time, error) {
	var b [8]byte
	if _, err := io.ReadFull(reader, b[:]); err != nil {
		return time.Time{}, err
	}
	v := int64(binary.BigEndian.Uint64(b[:]))
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(v, 0).UTC(), nil
}

func packUnix(t time.Time) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.Unix()))
	return string(b[:])
}
