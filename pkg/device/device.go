// Package device provides sector-addressed block devices.
package device

import (
	"fmt"

	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	OutOfRangeErr ConstError = "sector out of range"
	SectorSizeErr ConstError = "buffer is not one sector"
)

// Device is a synchronous block device. Every transfer moves exactly one
// sector.
type Device interface {
	SectorSize() Byte
	Sectors() Sector
	ReadSector(sector Sector, buf []byte) error
	WriteSector(sector Sector, buf []byte) error
}

var (
	_ Device = (*MemoryDevice)(nil)
	_ Device = (*FileDevice)(nil)
	_ Device = (*FaultyDevice)(nil)
)

func checkTransfer(op string, d Device, sector Sector, buf []byte) error {
	if sector >= d.Sectors() {
		return fmt.Errorf(
			"%s sector `%d` of `%d`: %w",
			op,
			sector,
			d.Sectors(),
			OutOfRangeErr,
		)
	}
	if Byte(len(buf)) != d.SectorSize() {
		return fmt.Errorf(
			"%s sector `%d` with a `%d`-byte buffer: %w",
			op,
			sector,
			len(buf),
			SectorSizeErr,
		)
	}
	return nil
}
