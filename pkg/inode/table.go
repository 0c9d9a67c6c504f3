// Package inode maps files onto chains of clusters and manages the in-memory
// handles through which they are read, written, grown and removed.
package inode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/weberc2/clusterfs/pkg/device"
	"github.com/weberc2/clusterfs/pkg/encode"
	. "github.com/weberc2/clusterfs/pkg/types"
)

// Table owns every live handle. There is at most one handle per record
// location; opening a location twice shares the handle.
type Table struct {
	mutex        sync.Mutex
	device       device.Device
	allocator    ClusterAllocator
	clusterBytes Byte
	handles      map[Sector]*Handle
	logger       *slog.Logger
}

type Option func(*Table)

// WithLogger sets the logger for handle lifecycle and growth events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) { t.logger = logger }
}

// NewTable builds a table over `d`. The device's sector size must match the
// record size.
func NewTable(
	d device.Device,
	allocator ClusterAllocator,
	options ...Option,
) *Table {
	if d.SectorSize() != SectorSize {
		panic(fmt.Sprintf(
			"device sector size `%d` does not match record size `%d`",
			d.SectorSize(),
			SectorSize,
		))
	}
	t := &Table{
		device:       d,
		allocator:    allocator,
		clusterBytes: Byte(allocator.SectorsPerCluster()) * SectorSize,
		handles:      make(map[Sector]*Handle),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Create writes a new record of `kind` to `location`. Regular files get
// enough zeroed clusters to hold `length` bytes; directories get a single
// zeroed sector. Clusters allocated by a failed create are released.
func (t *Table) Create(location Sector, length Byte, kind Kind) error {
	if length < 0 {
		panic(fmt.Sprintf("creating record `%d`: negative length `%d`", location, length))
	}
	if err := kind.Validate(); err != nil {
		return fmt.Errorf("creating record `%d`: %w", location, err)
	}

	record := Record{Kind: kind, Magic: RecordMagic}
	l := layoutOf(kind)
	if err := l.create(t, &record, length); err != nil {
		return fmt.Errorf(
			"creating %s record `%d` with length `%d`: %w",
			kind,
			location,
			length,
			err,
		)
	}

	if err := t.writeRecord(location, &record); err != nil {
		if record.Start != ClusterNil {
			if rollbackErr := t.allocator.RemoveChain(
				record.Start,
				ClusterNil,
			); rollbackErr != nil {
				t.logger.Error(
					"releasing clusters of failed record",
					"location", location,
					"start", record.Start,
					"err", rollbackErr,
				)
			}
		}
		return fmt.Errorf(
			"creating %s record `%d` with length `%d`: %w",
			kind,
			location,
			length,
			err,
		)
	}

	t.logger.Debug(
		"created record",
		"location", location,
		"kind", kind,
		"length", length,
		"start", record.Start,
		"tail", record.Tail,
	)
	return nil
}

// CreateNew allocates a cluster for the record itself and creates the record
// in its first sector.
func (t *Table) CreateNew(length Byte, kind Kind) (Sector, error) {
	if err := kind.Validate(); err != nil {
		return SectorNil, fmt.Errorf("creating new record: %w", err)
	}

	c, err := t.allocator.ExtendChain(ClusterNil)
	if err != nil {
		return SectorNil, fmt.Errorf(
			"allocating cluster for new %s record: %w",
			kind,
			err,
		)
	}

	location := t.allocator.ClusterToSector(c)
	if err := t.Create(location, length, kind); err != nil {
		if freeErr := t.allocator.Free(c); freeErr != nil {
			t.logger.Error(
				"releasing cluster of failed record",
				"cluster", c,
				"err", freeErr,
			)
		}
		return SectorNil, err
	}
	return location, nil
}

// Open returns the handle for the record at `location`, reading the record
// from the device if no handle is live.
func (t *Table) Open(location Sector) (*Handle, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if h, ok := t.handles[location]; ok {
		h.mutex.Lock()
		h.openCount++
		h.mutex.Unlock()
		return h, nil
	}

	h := Handle{table: t, location: location, openCount: 1}
	if err := t.readRecord(location, &h.record); err != nil {
		return nil, fmt.Errorf("opening record `%d`: %w", location, err)
	}
	if err := t.checkRecord(&h.record); err != nil {
		return nil, fmt.Errorf("opening record `%d`: %w", location, err)
	}
	h.layout = layoutOf(h.record.Kind)
	t.handles[location] = &h

	t.logger.Debug(
		"opened record",
		"location", location,
		"kind", h.record.Kind,
		"length", h.record.Length,
	)
	return &h, nil
}

// Live returns the number of open handles.
func (t *Table) Live() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.handles)
}

func (t *Table) readRecord(location Sector, record *Record) error {
	buf := getScratch()
	defer putScratch(buf)
	if err := t.device.ReadSector(location, buf[:]); err != nil {
		return fmt.Errorf("reading record: %w", err)
	}
	return encode.DecodeRecord(record, buf)
}

// checkRecord rejects records whose clusters cannot back their contents.
// Directories always own a cluster; regular files own one once they are
// non-empty.
func (t *Table) checkRecord(record *Record) error {
	switch {
	case record.Kind == KindDirectory && record.Start == ClusterNil:
		return fmt.Errorf("directory has no cluster: %w", encode.InvalidRecordErr)
	case record.Start == ClusterNil && record.Length > 0:
		return fmt.Errorf(
			"no clusters for length `%d`: %w",
			record.Length,
			encode.InvalidRecordErr,
		)
	case (record.Start == ClusterNil) != (record.Tail == ClusterNil):
		return fmt.Errorf(
			"start `%d` and tail `%d` disagree: %w",
			record.Start,
			record.Tail,
			encode.InvalidRecordErr,
		)
	case record.Start != ClusterNil && !t.allocator.Contains(record.Start):
		return fmt.Errorf(
			"start cluster `%d` out of range: %w",
			record.Start,
			encode.InvalidRecordErr,
		)
	case record.Tail != ClusterNil && !t.allocator.Contains(record.Tail):
		return fmt.Errorf(
			"tail cluster `%d` out of range: %w",
			record.Tail,
			encode.InvalidRecordErr,
		)
	}
	return nil
}

func (t *Table) clusterSector(c Cluster) (Sector, error) {
	if !t.allocator.Contains(c) {
		return SectorNil, fmt.Errorf("cluster `%d`: %w", c, BrokenChainErr)
	}
	return t.allocator.ClusterToSector(c), nil
}

func (t *Table) writeRecord(location Sector, record *Record) error {
	buf := getScratch()
	defer putScratch(buf)
	encode.EncodeRecord(record, buf)
	if err := t.device.WriteSector(location, buf[:]); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// zeroCluster fills every sector of `c` with zeros.
func (t *Table) zeroCluster(c Cluster) error {
	first := t.allocator.ClusterToSector(c)
	for i := Sector(0); i < Sector(t.allocator.SectorsPerCluster()); i++ {
		if err := t.device.WriteSector(first+i, zeroSector[:]); err != nil {
			return fmt.Errorf("zeroing cluster `%d`: %w", c, err)
		}
	}
	return nil
}

// reclaim frees the record's data clusters and then its own cluster. Records
// outside the data area (e.g. written by the caller to a reserved sector)
// only release their data. A failure partway is reported after the rest has
// been released.
func (t *Table) reclaim(h *Handle) error {
	var errs []error

	count := h.layout.clusters(t, &h.record)
	c := h.record.Start
	for i := Cluster(0); i < count && c != ClusterNil; i++ {
		next, ok := t.allocator.Next(c)
		if err := t.allocator.Free(c); err != nil {
			errs = append(errs, fmt.Errorf("freeing data cluster `%d`: %w", c, err))
			break
		}
		if !ok {
			break
		}
		c = next
	}

	if c, ok := t.allocator.SectorToCluster(h.location); ok {
		if err := t.allocator.Free(c); err != nil {
			errs = append(errs, fmt.Errorf("freeing record cluster `%d`: %w", c, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reclaiming record `%d`: %w", h.location, err)
	}
	t.logger.Debug(
		"reclaimed record",
		"location", h.location,
		"clusters", count,
	)
	return nil
}
