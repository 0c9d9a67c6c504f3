package device

import (
	"sync"

	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	InjectedFaultErr ConstError = "injected device fault"
)

// FaultyDevice wraps a Device and fails transfers on demand.
type FaultyDevice struct {
	Device

	mutex      sync.Mutex
	failReads  map[Sector]struct{}
	failWrites map[Sector]struct{}
	writesLeft int // -1 disables the write budget
	reads      int
	writes     int
}

func NewFaultyDevice(inner Device) *FaultyDevice {
	return &FaultyDevice{
		Device:     inner,
		failReads:  make(map[Sector]struct{}),
		failWrites: make(map[Sector]struct{}),
		writesLeft: -1,
	}
}

// FailReads makes every read of the given sectors fail.
func (d *FaultyDevice) FailReads(sectors ...Sector) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, s := range sectors {
		d.failReads[s] = struct{}{}
	}
}

// FailWrites makes every write of the given sectors fail.
func (d *FaultyDevice) FailWrites(sectors ...Sector) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, s := range sectors {
		d.failWrites[s] = struct{}{}
	}
}

// FailWritesAfter lets `n` more writes succeed and fails the rest.
func (d *FaultyDevice) FailWritesAfter(n int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.writesLeft = n
}

// Reset clears every rule.
func (d *FaultyDevice) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failReads = make(map[Sector]struct{})
	d.failWrites = make(map[Sector]struct{})
	d.writesLeft = -1
}

// Counts returns the number of reads and writes attempted so far.
func (d *FaultyDevice) Counts() (reads, writes int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.reads, d.writes
}

func (d *FaultyDevice) ReadSector(sector Sector, buf []byte) error {
	d.mutex.Lock()
	d.reads++
	_, fail := d.failReads[sector]
	d.mutex.Unlock()
	if fail {
		return InjectedFaultErr
	}
	return d.Device.ReadSector(sector, buf)
}

func (d *FaultyDevice) WriteSector(sector Sector, buf []byte) error {
	d.mutex.Lock()
	d.writes++
	_, fail := d.failWrites[sector]
	if d.writesLeft == 0 {
		fail = true
	} else if d.writesLeft > 0 {
		d.writesLeft--
	}
	d.mutex.Unlock()
	if fail {
		return InjectedFaultErr
	}
	return d.Device.WriteSector(sector, buf)
}
