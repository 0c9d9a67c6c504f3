package snapshot

import (
	"fmt"
	"io"

	"github.com/weberc2/clusterfs/pkg/device"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	NegativeOffsetErr ConstError = "seeking to negative offset"
)

// ImageReader presents a device as a flat byte stream.
type ImageReader struct {
	device device.Device
	offset Byte
	size   Byte
	buf    [SectorSize]byte
	cached Sector
	valid  bool
}

func NewImageReader(d device.Device) *ImageReader {
	return &ImageReader{device: d, size: Byte(d.Sectors()) * SectorSize}
}

func (r *ImageReader) Read(p []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}

	var n int
	for n < len(p) && r.offset < r.size {
		sector := Sector(r.offset / SectorSize)
		if !r.valid || r.cached != sector {
			if err := r.device.ReadSector(sector, r.buf[:]); err != nil {
				r.valid = false
				return n, fmt.Errorf("reading image sector `%d`: %w", sector, err)
			}
			r.cached, r.valid = sector, true
		}
		copied := copy(p[n:], r.buf[r.offset%SectorSize:])
		n += copied
		r.offset += Byte(copied)
	}
	return n, nil
}

func (r *ImageReader) Seek(offset int64, whence int) (int64, error) {
	var target Byte
	switch whence {
	case io.SeekStart:
		target = Byte(offset)
	case io.SeekCurrent:
		target = r.offset + Byte(offset)
	case io.SeekEnd:
		target = r.size + Byte(offset)
	default:
		return int64(r.offset), fmt.Errorf("seeking image: invalid whence `%d`", whence)
	}
	if target < 0 {
		return int64(r.offset), fmt.Errorf(
			"seeking image to `%d`: %w",
			target,
			NegativeOffsetErr,
		)
	}
	r.offset = target
	return int64(target), nil
}
