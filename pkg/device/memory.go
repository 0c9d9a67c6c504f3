package device

import (
	"sync"

	. "github.com/weberc2/clusterfs/pkg/types"
)

// MemoryDevice keeps every sector in a single byte slice.
type MemoryDevice struct {
	mutex sync.RWMutex
	data  []byte
}

func NewMemoryDevice(sectors Sector) *MemoryDevice {
	return &MemoryDevice{data: make([]byte, Byte(sectors)*SectorSize)}
}

func (d *MemoryDevice) SectorSize() Byte { return SectorSize }

func (d *MemoryDevice) Sectors() Sector {
	return Sector(Byte(len(d.data)) / SectorSize)
}

func (d *MemoryDevice) ReadSector(sector Sector, buf []byte) error {
	if err := checkTransfer("reading", d, sector, buf); err != nil {
		return err
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	offset := Byte(sector) * SectorSize
	copy(buf, d.data[offset:offset+SectorSize])
	return nil
}

func (d *MemoryDevice) WriteSector(sector Sector, buf []byte) error {
	if err := checkTransfer("writing", d, sector, buf); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	offset := Byte(sector) * SectorSize
	copy(d.data[offset:offset+SectorSize], buf)
	return nil
}

// Bytes exposes the backing slice. Callers must not use it concurrently with
// writes.
func (d *MemoryDevice) Bytes() []byte { return d.data }
