package encode

import (
	"fmt"

	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	InvalidRecordErr ConstError = "invalid inode record"
)

func EncodeRecord(record *Record, b *[SectorSize]byte) {
	*b = [SectorSize]byte{}
	p := b[:]

	putCluster(p, recordStartStart, record.Start)
	putCluster(p, recordTailStart, record.Tail)
	putU8(p, recordKindStart, uint8(record.Kind))
	putU64(p, recordLengthStart, uint64(record.Length))
	putU32(p, recordMagicStart, record.Magic)
}

func DecodeRecord(record *Record, b *[SectorSize]byte) error {
	p := b[:]

	// validate into temporaries first; `record` is left untouched on error.
	magic := getU32(p, recordMagicStart)
	if magic != RecordMagic {
		return fmt.Errorf(
			"decoding record: found magic `%#x`: %w",
			magic,
			InvalidRecordErr,
		)
	}

	kind := Kind(getU8(p, recordKindStart))
	if err := kind.Validate(); err != nil {
		return fmt.Errorf("decoding record: %w: %w", InvalidRecordErr, err)
	}

	length := Byte(getU64(p, recordLengthStart))
	if length < 0 {
		return fmt.Errorf(
			"decoding record: negative length `%d`: %w",
			length,
			InvalidRecordErr,
		)
	}

	record.Start = getCluster(p, recordStartStart)
	record.Tail = getCluster(p, recordTailStart)
	record.Kind = kind
	record.Length = length
	record.Magic = magic
	return nil
}

const (
	recordStartStart = 0
	recordStartSize  = 4
	recordStartEnd   = recordStartStart + recordStartSize

	recordTailStart = recordStartEnd
	recordTailSize  = 4
	recordTailEnd   = recordTailStart + recordTailSize

	recordKindStart = recordTailEnd
	recordKindSize  = 1
	recordKindEnd   = recordKindStart + recordKindSize

	// three reserved bytes keep the length 4-byte aligned
	recordLengthStart = recordKindEnd + 3
	recordLengthSize  = 8
	recordLengthEnd   = recordLengthStart + recordLengthSize

	recordMagicStart = recordLengthEnd
	recordMagicSize  = 4
	recordMagicEnd   = recordMagicStart + recordMagicSize
)

// the record must fit in a sector; this fails to compile otherwise.
var _ [SectorSize - recordMagicEnd]struct{}
