package types

import "fmt"

// RecordMagic identifies a properly formatted inode record ("INOD").
const RecordMagic uint32 = 0x494e4f44

// Record is the on-disk inode record. It occupies exactly one sector.
type Record struct {
	Start  Cluster
	Tail   Cluster
	Kind   Kind
	Length Byte
	Magic  uint32
}

// Valid reports whether the record carries the inode magic.
func (record *Record) Valid() bool { return record.Magic == RecordMagic }

type Kind uint8

const (
	KindInvalid Kind = iota
	KindRegular
	KindDirectory
)

func (kind Kind) String() string {
	switch kind {
	case KindInvalid:
		return "Invalid"
	case KindRegular:
		return "Regular"
	case KindDirectory:
		return "Directory"
	default:
		panic(fmt.Sprintf("invalid record kind: `%d`", kind))
	}
}

func (kind Kind) MarshalJSON() ([]byte, error) {
	s := kind.String()
	out := make([]byte, len(s)+2)
	out[0] = '"'
	out[len(out)-1] = '"'
	copy(out[1:], s)
	return out, nil
}

func (kind Kind) Validate() error {
	if kind <= KindInvalid || kind > KindDirectory {
		return fmt.Errorf(
			"validating record kind `%d`: %w",
			kind,
			InvalidKindErr,
		)
	}
	return nil
}

const (
	InvalidKindErr ConstError = "invalid record kind"
)
