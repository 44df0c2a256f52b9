package docxwal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	recordMagic   uint32 = 0xA17E57AA
	recordVersion byte   = 1
	crcSize              = 4
	headerSize           = 4 + 1 + 2 + 4 // magic + version + kindLen + dataLen
)

var (
	errPartial = errors.New("wal: partial entry")
	// ErrCorrupt signals on-disk data corruption.
	ErrCorrupt = errors.New("wal: corrupt entry")
)

// Position identifies the absolute order of a record inside the WAL —
// equivalently, a session's cursor_position once replayed.
type Position int64

// Kind is the closed set of record shapes this WAL is allowed to carry.
// Unlike a general-purpose journal, a document session's WAL is never
// handed an arbitrary caller-typed blob: every record is either a single
// content.Op applied in place, or a full-image replacement captured by an
// external sync. Restricting Entry.Type to these two kinds at encode time
// means a corrupt or forged record type is caught on write, not on replay.
type Kind string

const (
	KindPatch        Kind = "patch"
	KindExternalSync Kind = "external_sync"
)

func (k Kind) valid() bool {
	return k == KindPatch || k == KindExternalSync
}

// Entry describes a logical record persisted in the WAL. Type must be one
// of the registered Kind values; Data carries that kind's JSON-encoded
// payload (see record.go's PatchRecord/ExternalSyncRecord).
type Entry struct {
	Type     string
	Data     []byte
	Position Position
}

func (e Entry) encode() ([]byte, error) {
	if len(e.Type) == 0 {
		return nil, fmt.Errorf("wal: record kind required")
	}
	if !Kind(e.Type).valid() {
		return nil, fmt.Errorf("wal: unknown record kind %q", e.Type)
	}
	if len(e.Data) > int(^uint32(0)) {
		return nil, fmt.Errorf("wal: entry payload too large")
	}

	kindLen := len(e.Type)
	dataLen := len(e.Data)
	total := headerSize + kindLen + dataLen + crcSize

	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], recordMagic)
	buf[4] = recordVersion
	binary.BigEndian.PutUint16(buf[5:7], uint16(kindLen))
	binary.BigEndian.PutUint32(buf[7:11], uint32(dataLen))

	copy(buf[headerSize:headerSize+kindLen], e.Type)
	copy(buf[headerSize+kindLen:headerSize+kindLen+dataLen], e.Data)

	checksum := crc32.NewIEEE()
	checksum.Write(buf[4 : total-crcSize])
	binary.BigEndian.PutUint32(buf[total-crcSize:], checksum.Sum32())
	return buf, nil
}

func decodeEntry(r io.Reader) (Entry, int64, error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Entry{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n > 0) {
			return Entry{}, int64(n), errPartial
		}
		return Entry{}, int64(n), err
	}
	if binary.BigEndian.Uint32(header[0:4]) != recordMagic {
		return Entry{}, int64(n), ErrCorrupt
	}
	if header[4] != recordVersion {
		return Entry{}, int64(n), ErrCorrupt
	}

	kindLen := int(binary.BigEndian.Uint16(header[5:7]))
	dataLen := int(binary.BigEndian.Uint32(header[7:11]))
	if kindLen < 0 || dataLen < 0 {
		return Entry{}, int64(n), ErrCorrupt
	}

	payload := make([]byte, kindLen+dataLen+crcSize)
	read, err := io.ReadFull(r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, int64(n + read), errPartial
		}
		return Entry{}, int64(n + read), err
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(payload[:kindLen+dataLen])
	expected := binary.BigEndian.Uint32(payload[kindLen+dataLen:])
	if checksum.Sum32() != expected {
		return Entry{}, int64(n + read), ErrCorrupt
	}

	var entry Entry
	entry.Type = string(payload[:kindLen])
	if dataLen > 0 {
		entry.Data = make([]byte, dataLen)
		copy(entry.Data, payload[kindLen:kindLen+dataLen])
	}
	return entry, int64(n + read), nil
}
