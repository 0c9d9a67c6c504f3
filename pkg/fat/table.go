// Package fat implements a file allocation table: a persistent array of
// forward links that strings clusters together into chains.
package fat

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/weberc2/clusterfs/pkg/device"
	"github.com/weberc2/clusterfs/pkg/encode"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	OutOfClustersErr ConstError = "out of free clusters"
	BadClusterErr    ConstError = "cluster out of range"
	FreeClusterErr   ConstError = "cluster is not allocated"
)

// Table is an in-memory copy of the file allocation table. Mutations are
// tracked per FAT sector and written back by `Flush`.
type Table struct {
	mutex    sync.Mutex
	device   device.Device
	geometry Geometry
	entries  []Cluster // indexed by cluster id; entry 0 is reserved
	free     *roaring.Bitmap
	dirty    *roaring.Bitmap // FAT sector indices relative to FATStart
}

// New returns an empty table: every cluster is free and every FAT sector is
// dirty, so the first `Flush` writes the whole table.
func New(d device.Device, geometry Geometry) *Table {
	t := &Table{
		device:   d,
		geometry: geometry,
		entries:  make([]Cluster, int(geometry.Clusters)+1),
		free:     roaring.New(),
		dirty:    roaring.New(),
	}
	t.free.AddRange(1, uint64(geometry.Clusters)+1)
	t.dirty.AddRange(0, uint64(geometry.FATSectors))
	return t
}

// Load reads the table from the device.
func Load(d device.Device, geometry Geometry) (*Table, error) {
	t := &Table{
		device:   d,
		geometry: geometry,
		entries:  make([]Cluster, int(geometry.Clusters)+1),
		free:     roaring.New(),
		dirty:    roaring.New(),
	}

	var buf [SectorSize]byte
	for i := Sector(0); i < geometry.FATSectors; i++ {
		if err := d.ReadSector(geometry.FATStart+i, buf[:]); err != nil {
			return nil, fmt.Errorf("loading FAT sector `%d`: %w", i, err)
		}
		first := int(i) * encode.FATEntriesPerSector
		if first >= len(t.entries) {
			break
		}
		last := first + encode.FATEntriesPerSector
		if last > len(t.entries) {
			last = len(t.entries)
		}
		encode.DecodeFATSector(t.entries[first:last], &buf)
	}

	for c := 1; c < len(t.entries); c++ {
		if t.entries[c] == ClusterNil {
			t.free.Add(uint32(c))
		}
	}
	return t, nil
}

func (t *Table) Geometry() Geometry { return t.geometry }

func (t *Table) SectorsPerCluster() uint32 { return t.geometry.SectorsPerCluster }

// ClusterToSector returns the first sector of cluster `c`.
func (t *Table) ClusterToSector(c Cluster) Sector {
	if !t.valid(c) {
		panic(fmt.Sprintf("translating cluster `%d`: %v", c, BadClusterErr))
	}
	return t.geometry.DataStart +
		Sector(c-1)*Sector(t.geometry.SectorsPerCluster)
}

// SectorToCluster returns the cluster containing sector `s`, or false if `s`
// lies outside the data area.
func (t *Table) SectorToCluster(s Sector) (Cluster, bool) {
	if s < t.geometry.DataStart {
		return ClusterNil, false
	}
	c := Cluster((s-t.geometry.DataStart)/Sector(t.geometry.SectorsPerCluster)) + 1
	if !t.valid(c) {
		return ClusterNil, false
	}
	return c, true
}

// ExtendChain allocates a cluster and links it after `prev`. With `prev ==
// ClusterNil` it starts a new chain. The new cluster terminates its chain.
func (t *Table) ExtendChain(prev Cluster) (Cluster, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if prev != ClusterNil && !t.allocated(prev) {
		return ClusterNil, fmt.Errorf(
			"extending chain after cluster `%d`: %w",
			prev,
			FreeClusterErr,
		)
	}
	if t.free.IsEmpty() {
		return ClusterNil, fmt.Errorf(
			"extending chain after cluster `%d`: %w",
			prev,
			OutOfClustersErr,
		)
	}

	c := Cluster(t.free.Minimum())
	t.free.Remove(uint32(c))
	t.put(c, ClusterEOC)
	if prev != ClusterNil {
		t.put(prev, c)
	}
	return c, nil
}

// Next returns the cluster after `c`, or false if `c` ends its chain. A link
// to a cluster outside the volume also ends the chain.
func (t *Table) Next(c Cluster) (Cluster, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.valid(c) {
		return ClusterNil, false
	}
	next := t.entries[c]
	if !t.valid(next) {
		return ClusterNil, false
	}
	return next, true
}

// Contains reports whether `c` names a data cluster of this volume.
func (t *Table) Contains(c Cluster) bool { return t.valid(c) }

// Free releases a single cluster without touching the links that point at
// it.
func (t *Table) Free(c Cluster) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.allocated(c) {
		return fmt.Errorf("freeing cluster `%d`: %w", c, FreeClusterErr)
	}
	t.release(c)
	return nil
}

// RemoveChain frees every cluster from `start` to the end of its chain. If
// `prev` is not nil it becomes the new end of its chain.
func (t *Table) RemoveChain(start, prev Cluster) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if prev != ClusterNil {
		if !t.allocated(prev) {
			return fmt.Errorf(
				"removing chain at `%d` after `%d`: %w",
				start,
				prev,
				FreeClusterErr,
			)
		}
		t.put(prev, ClusterEOC)
	}

	for c := start; c != ClusterNil && c != ClusterEOC; {
		if !t.allocated(c) {
			return fmt.Errorf(
				"removing chain at `%d`: cluster `%d`: %w",
				start,
				c,
				FreeClusterErr,
			)
		}
		next := t.entries[c]
		t.release(c)
		c = next
	}
	return nil
}

// FreeClusters counts the unallocated clusters.
func (t *Table) FreeClusters() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.free.GetCardinality()
}

// Flush writes every modified FAT sector back to the device.
func (t *Table) Flush() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var buf [SectorSize]byte
	for _, index := range t.dirty.ToArray() {
		i := int(index)
		first := i * encode.FATEntriesPerSector
		var entries []Cluster
		if first < len(t.entries) {
			last := first + encode.FATEntriesPerSector
			if last > len(t.entries) {
				last = len(t.entries)
			}
			entries = t.entries[first:last]
		}
		encode.EncodeFATSector(entries, &buf)

		sector := t.geometry.FATStart + Sector(i)
		if err := t.device.WriteSector(sector, buf[:]); err != nil {
			return fmt.Errorf("flushing FAT sector `%d`: %w", i, err)
		}
		t.dirty.Remove(index)
	}
	return nil
}

func (t *Table) valid(c Cluster) bool {
	return c != ClusterNil && c <= t.geometry.Clusters
}

func (t *Table) allocated(c Cluster) bool {
	return t.valid(c) && t.entries[c] != ClusterNil
}

func (t *Table) release(c Cluster) {
	t.put(c, ClusterNil)
	t.free.Add(uint32(c))
}

func (t *Table) put(c, value Cluster) {
	t.entries[c] = value
	t.dirty.Add(uint32(int(c) / encode.FATEntriesPerSector))
}
