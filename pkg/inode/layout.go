package inode

import (
	"fmt"

	"github.com/weberc2/clusterfs/pkg/math"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	PastEndErr     ConstError = "offset past end of file"
	BrokenChainErr ConstError = "cluster chain shorter than record length"
)

// layout is the storage strategy behind a record. Regular files use a
// growable cluster chain; directories use one fixed sector.
type layout interface {
	// create allocates and zeroes the initial storage for `length` bytes.
	create(t *Table, record *Record, length Byte) error

	// resolve returns the sector holding byte `offset`.
	resolve(t *Table, record *Record, offset Byte) (Sector, error)

	// remaining is the number of addressable bytes at and after `offset`.
	remaining(record *Record, offset Byte) Byte

	// grow makes room for bytes up to `end`, returning false if the layout
	// cannot grow.
	grow(h *Handle, end Byte) (bool, error)

	// clusters is the number of data clusters reclamation walks.
	clusters(t *Table, record *Record) Cluster
}

func layoutOf(kind Kind) layout {
	if kind == KindDirectory {
		return fixed{}
	}
	return chain{}
}

type chain struct{}

func (chain) create(t *Table, record *Record, length Byte) error {
	count := math.DivRoundUp(length, t.clusterBytes)
	for i := Byte(0); i < count; i++ {
		c, err := t.allocator.ExtendChain(record.Tail)
		if err == nil {
			if record.Start == ClusterNil {
				record.Start = c
			}
			record.Tail = c
			err = t.zeroCluster(c)
		}
		if err != nil {
			if record.Start != ClusterNil {
				if rollbackErr := t.allocator.RemoveChain(
					record.Start,
					ClusterNil,
				); rollbackErr != nil {
					t.logger.Error(
						"releasing partial chain",
						"start", record.Start,
						"err", rollbackErr,
					)
				}
			}
			record.Start, record.Tail = ClusterNil, ClusterNil
			return fmt.Errorf(
				"allocating cluster `%d` of `%d`: %w",
				i+1,
				count,
				err,
			)
		}
	}
	record.Length = length
	return nil
}

// resolve walks `offset / clusterBytes` links from the start of the chain.
func (chain) resolve(t *Table, record *Record, offset Byte) (Sector, error) {
	if offset >= record.Length {
		return SectorNil, fmt.Errorf(
			"resolving offset `%d` of `%d`: %w",
			offset,
			record.Length,
			PastEndErr,
		)
	}

	c := record.Start
	for links := offset / t.clusterBytes; links > 0; links-- {
		next, ok := t.allocator.Next(c)
		if !ok {
			return SectorNil, fmt.Errorf(
				"resolving offset `%d`: chain ends at cluster `%d`: %w",
				offset,
				c,
				BrokenChainErr,
			)
		}
		c = next
	}
	first, err := t.clusterSector(c)
	if err != nil {
		return SectorNil, fmt.Errorf("resolving offset `%d`: %w", offset, err)
	}
	return first + Sector((offset%t.clusterBytes)/SectorSize), nil
}

func (chain) remaining(record *Record, offset Byte) Byte {
	return record.Length - offset
}

// grow sets the length to `end` and extends the chain from the tail with
// zeroed clusters. The record is written back before returning. On failure
// the clusters added here are freed and the record is restored.
func (chain) grow(h *Handle, end Byte) (bool, error) {
	t := h.table
	record := &h.record
	if end <= record.Length {
		return false, nil
	}

	saved := *record
	have := math.DivRoundUp(record.Length, t.clusterBytes)
	needed := math.DivRoundUp(end, t.clusterBytes) - have

	first := ClusterNil
	rollback := func(err error) (bool, error) {
		if first != ClusterNil {
			if rollbackErr := t.allocator.RemoveChain(
				first,
				saved.Tail,
			); rollbackErr != nil {
				t.logger.Error(
					"releasing clusters of failed growth",
					"location", h.location,
					"first", first,
					"err", rollbackErr,
				)
			}
		}
		*record = saved
		return false, fmt.Errorf(
			"growing record `%d` from `%d` to `%d` bytes: %w",
			h.location,
			saved.Length,
			end,
			err,
		)
	}

	record.Length = end
	for i := Byte(0); i < needed; i++ {
		c, err := t.allocator.ExtendChain(record.Tail)
		if err != nil {
			return rollback(err)
		}
		if first == ClusterNil {
			first = c
		}
		if record.Start == ClusterNil {
			record.Start = c
		}
		record.Tail = c
		if err := t.zeroCluster(c); err != nil {
			return rollback(err)
		}
	}

	if err := t.writeRecord(h.location, record); err != nil {
		return rollback(err)
	}

	t.logger.Debug(
		"grew record",
		"location", h.location,
		"length", end,
		"clusters", needed,
		"tail", record.Tail,
	)
	return true, nil
}

func (chain) clusters(t *Table, record *Record) Cluster {
	return Cluster(math.DivRoundUp(record.Length, t.clusterBytes))
}

type fixed struct{}

func (fixed) create(t *Table, record *Record, length Byte) error {
	c, err := t.allocator.ExtendChain(ClusterNil)
	if err != nil {
		return fmt.Errorf("allocating directory cluster: %w", err)
	}
	if err := t.zeroCluster(c); err != nil {
		if freeErr := t.allocator.Free(c); freeErr != nil {
			t.logger.Error(
				"releasing directory cluster",
				"cluster", c,
				"err", freeErr,
			)
		}
		return err
	}
	record.Start, record.Tail = c, c
	record.Length = length
	return nil
}

func (fixed) resolve(t *Table, record *Record, offset Byte) (Sector, error) {
	sector, err := t.clusterSector(record.Start)
	if err != nil {
		return SectorNil, fmt.Errorf("resolving directory sector: %w", err)
	}
	return sector, nil
}

func (fixed) remaining(record *Record, offset Byte) Byte {
	return SectorSize - offset
}

func (fixed) grow(h *Handle, end Byte) (bool, error) { return false, nil }

func (fixed) clusters(t *Table, record *Record) Cluster { return 1 }
