package inode

import (
	"fmt"
	"sync"

	"github.com/weberc2/clusterfs/pkg/math"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	WriteDeniedErr ConstError = "writes denied"
)

var (
	zeroSector  [SectorSize]byte
	scratchPool = sync.Pool{
		New: func() any { return new([SectorSize]byte) },
	}
)

func getScratch() *[SectorSize]byte { return scratchPool.Get().(*[SectorSize]byte) }

func putScratch(buf *[SectorSize]byte) { scratchPool.Put(buf) }

// ReadAt reads up to `len(p)` bytes starting at `offset`. Reading past the
// end is not an error: the byte count is simply short. An error is returned
// only if the device fails or the cluster chain is broken, along with the
// bytes read before the failure.
func (h *Handle) ReadAt(p []byte, offset Byte) (Byte, error) {
	if offset < 0 {
		panic(fmt.Sprintf("reading record `%d` at negative offset `%d`", h.location, offset))
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var scratch *[SectorSize]byte
	defer func() {
		if scratch != nil {
			putScratch(scratch)
		}
	}()

	size := Byte(len(p))
	var n Byte
	for n < size {
		sectorOffset := offset % SectorSize
		chunk := math.Min3(
			size-n,
			h.layout.remaining(&h.record, offset),
			SectorSize-sectorOffset,
		)
		if chunk <= 0 {
			break
		}

		sector, err := h.layout.resolve(h.table, &h.record, offset)
		if err != nil {
			return n, fmt.Errorf(
				"reading record `%d` at offset `%d`: %w",
				h.location,
				offset,
				err,
			)
		}

		if sectorOffset == 0 && chunk == SectorSize {
			err = h.table.device.ReadSector(sector, p[n:n+chunk])
		} else {
			if scratch == nil {
				scratch = getScratch()
			}
			err = h.table.device.ReadSector(sector, scratch[:])
			copy(p[n:n+chunk], scratch[sectorOffset:sectorOffset+chunk])
		}
		if err != nil {
			return n, fmt.Errorf(
				"reading record `%d` sector `%d`: %w",
				h.location,
				sector,
				err,
			)
		}

		offset += chunk
		n += chunk
	}
	return n, nil
}

// WriteAt writes `p` at `offset`, growing a regular file as needed.
// Directories never grow, so a write past their single sector is short.
// Nothing is written while writes are denied.
func (h *Handle) WriteAt(p []byte, offset Byte) (Byte, error) {
	if offset < 0 {
		panic(fmt.Sprintf("writing record `%d` at negative offset `%d`", h.location, offset))
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.denyWriteCount > 0 {
		return 0, fmt.Errorf(
			"writing record `%d` at offset `%d`: %w",
			h.location,
			offset,
			WriteDeniedErr,
		)
	}

	var scratch *[SectorSize]byte
	defer func() {
		if scratch != nil {
			putScratch(scratch)
		}
	}()

	size := Byte(len(p))
	var n Byte
	for n < size {
		sectorOffset := offset % SectorSize
		chunk := math.Min3(
			size-n,
			h.layout.remaining(&h.record, offset),
			SectorSize-sectorOffset,
		)
		if chunk <= 0 {
			grown, err := h.layout.grow(h, offset+size-n)
			if err != nil {
				return n, fmt.Errorf(
					"writing record `%d` at offset `%d`: %w",
					h.location,
					offset,
					err,
				)
			}
			if !grown {
				break
			}
			continue
		}

		sector, err := h.layout.resolve(h.table, &h.record, offset)
		if err != nil {
			return n, fmt.Errorf(
				"writing record `%d` at offset `%d`: %w",
				h.location,
				offset,
				err,
			)
		}

		if sectorOffset == 0 && chunk == SectorSize {
			err = h.table.device.WriteSector(sector, p[n:n+chunk])
		} else {
			if scratch == nil {
				scratch = getScratch()
			}
			// a partial chunk never covers the whole sector, so the bytes
			// around it are read first
			if err = h.table.device.ReadSector(sector, scratch[:]); err == nil {
				copy(scratch[sectorOffset:sectorOffset+chunk], p[n:n+chunk])
				err = h.table.device.WriteSector(sector, scratch[:])
			}
		}
		if err != nil {
			return n, fmt.Errorf(
				"writing record `%d` sector `%d`: %w",
				h.location,
				sector,
				err,
			)
		}

		offset += chunk
		n += chunk
	}
	return n, nil
}
