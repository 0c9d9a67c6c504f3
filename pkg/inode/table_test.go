package inode

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weberc2/clusterfs/pkg/device"
	"github.com/weberc2/clusterfs/pkg/encode"
	"github.com/weberc2/clusterfs/pkg/fat"
	. "github.com/weberc2/clusterfs/pkg/types"
)

type fixture struct {
	memory *device.MemoryDevice
	device *device.FaultyDevice
	fat    *fat.Table
	table  *Table
}

func newFixture(t *testing.T, sectors Sector, spc uint32) *fixture {
	t.Helper()
	memory := device.NewMemoryDevice(sectors)

	// garbage everywhere, so zero-fill is observable
	for i := range memory.Bytes() {
		memory.Bytes()[i] = 0xaa
	}

	d := device.NewFaultyDevice(memory)
	geometry, err := fat.Plan(sectors, 1, spc)
	require.NoError(t, err)
	allocator := fat.New(d, geometry)
	return &fixture{
		memory: memory,
		device: d,
		fat:    allocator,
		table:  NewTable(d, allocator),
	}
}

func (f *fixture) totalClusters() uint64 {
	return uint64(f.fat.Geometry().Clusters)
}

func (f *fixture) chainOf(record *Record) []Cluster {
	var out []Cluster
	for c, ok := record.Start, record.Start != ClusterNil; ok; c, ok = f.fat.Next(c) {
		out = append(out, c)
	}
	return out
}

func (f *fixture) open(t *testing.T, length Byte, kind Kind) *Handle {
	t.Helper()
	location, err := f.table.CreateNew(length, kind)
	require.NoError(t, err)
	h, err := f.table.Open(location)
	require.NoError(t, err)
	return h
}

func TestCreate_ChainLength(t *testing.T) {
	const spc = 2
	clusterBytes := spc * SectorSize

	for _, tc := range []struct {
		name     string
		length   Byte
		clusters int
	}{
		{"empty", 0, 0},
		{"one-byte", 1, 1},
		{"almost-one-cluster", clusterBytes - 1, 1},
		{"one-cluster", clusterBytes, 1},
		{"just-over-one-cluster", clusterBytes + 1, 2},
		{"several-clusters", 5000, 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 64, spc)
			h := f.open(t, tc.length, KindRegular)
			record := h.Record()

			chain := f.chainOf(&record)
			require.Len(t, chain, tc.clusters)
			require.Equal(
				t,
				f.totalClusters()-1-uint64(tc.clusters),
				f.fat.FreeClusters(),
			)
			if tc.clusters > 0 {
				require.Equal(t, chain[len(chain)-1], record.Tail)
			}

			for offset := Byte(0); offset < tc.length; offset += 256 {
				sector, err := h.layout.resolve(f.table, &h.record, offset)
				require.NoError(t, err)
				wanted := f.fat.ClusterToSector(chain[offset/clusterBytes]) +
					Sector((offset%clusterBytes)/SectorSize)
				require.Equal(t, wanted, sector, "offset `%d`", offset)
			}

			_, err := h.layout.resolve(f.table, &h.record, tc.length)
			require.ErrorIs(t, err, PastEndErr)
		})
	}
}

func TestCreate_Empty(t *testing.T) {
	f := newFixture(t, 16, 1)
	h := f.open(t, 0, KindRegular)

	record := h.Record()
	require.Equal(t, ClusterNil, record.Start)
	require.Equal(t, ClusterNil, record.Tail)
	require.Equal(t, Byte(0), record.Length)
	require.True(t, record.Valid())

	// only the record's own cluster is in use
	require.Equal(t, f.totalClusters()-1, f.fat.FreeClusters())
}

func TestCreate_OneAndAHalfClusters(t *testing.T) {
	const spc = 2
	f := newFixture(t, 32, spc)
	length := 3 * SectorSize
	h := f.open(t, length, KindRegular)

	record := h.Record()
	chain := f.chainOf(&record)
	require.Len(t, chain, 2)
	require.Equal(t, chain[1], record.Tail)

	for _, c := range chain {
		first := f.fat.ClusterToSector(c)
		for i := Sector(0); i < spc; i++ {
			buf := make([]byte, SectorSize)
			require.NoError(t, f.memory.ReadSector(first+i, buf))
			require.Equal(t, make([]byte, SectorSize), buf)
		}
	}

	buf := make([]byte, length)
	n, err := h.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, length, n)
	require.Equal(t, make([]byte, length), buf)
}

func TestCreate_Persisted(t *testing.T) {
	f := newFixture(t, 16, 1)
	location, err := f.table.CreateNew(700, KindRegular)
	require.NoError(t, err)

	var buf [SectorSize]byte
	require.NoError(t, f.memory.ReadSector(location, buf[:]))
	var record Record
	require.NoError(t, encode.DecodeRecord(&record, &buf))
	require.Equal(t, Byte(700), record.Length)
	require.Equal(t, KindRegular, record.Kind)
	require.Len(t, f.chainOf(&record), 2)
}

func TestCreate_RollsBackOnExhaustion(t *testing.T) {
	f := newFixture(t, 8, 1) // 6 clusters

	_, err := f.table.CreateNew(10*SectorSize, KindRegular)
	require.ErrorIs(t, err, fat.OutOfClustersErr)
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
}

func TestCreate_RollsBackOnDeviceFailure(t *testing.T) {
	f := newFixture(t, 16, 1)
	location := f.fat.Geometry().DataStart + 10

	// the record write fails after the data clusters are zeroed
	f.device.FailWrites(location)
	err := f.table.Create(location, 2*SectorSize, KindRegular)
	require.ErrorIs(t, err, device.InjectedFaultErr)
	require.NotErrorIs(t, err, fat.OutOfClustersErr)
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
}

func TestCreate_NegativeLength(t *testing.T) {
	f := newFixture(t, 16, 1)
	require.Panics(t, func() { _ = f.table.Create(5, -1, KindRegular) })
}

func TestCreate_InvalidKind(t *testing.T) {
	f := newFixture(t, 16, 1)
	_, err := f.table.CreateNew(0, KindInvalid)
	require.ErrorIs(t, err, InvalidKindErr)
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
}

func TestOpen_InvalidRecord(t *testing.T) {
	f := newFixture(t, 16, 1)
	_, err := f.table.Open(f.fat.Geometry().DataStart)
	require.ErrorIs(t, err, encode.InvalidRecordErr)
	require.Zero(t, f.table.Live())
}

func TestOpen_InconsistentRecord(t *testing.T) {
	for _, tc := range []struct {
		name   string
		record Record
	}{
		{"regular without clusters", Record{Kind: KindRegular, Length: 100}},
		{"directory without cluster", Record{Kind: KindDirectory}},
		{
			"start out of range",
			Record{Kind: KindRegular, Length: 100, Start: 9999, Tail: 9999},
		},
		{
			"tail out of range",
			Record{Kind: KindRegular, Length: 100, Start: 2, Tail: 9999},
		},
		{"missing tail", Record{Kind: KindRegular, Length: 100, Start: 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 16, 1)
			c, err := f.fat.ExtendChain(ClusterNil)
			require.NoError(t, err)
			location := f.fat.ClusterToSector(c)

			tc.record.Magic = RecordMagic
			var buf [SectorSize]byte
			encode.EncodeRecord(&tc.record, &buf)
			require.NoError(t, f.memory.WriteSector(location, buf[:]))

			_, err = f.table.Open(location)
			require.ErrorIs(t, err, encode.InvalidRecordErr)
			require.Zero(t, f.table.Live())
		})
	}
}

func TestOpen_DeviceFailure(t *testing.T) {
	f := newFixture(t, 16, 1)
	location, err := f.table.CreateNew(0, KindRegular)
	require.NoError(t, err)

	f.device.FailReads(location)
	_, err = f.table.Open(location)
	require.ErrorIs(t, err, device.InjectedFaultErr)
	require.Zero(t, f.table.Live())
}

func TestOpen_Shared(t *testing.T) {
	f := newFixture(t, 16, 1)
	location, err := f.table.CreateNew(100, KindRegular)
	require.NoError(t, err)

	first, err := f.table.Open(location)
	require.NoError(t, err)
	second, err := f.table.Open(location)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 2, first.OpenCount())
	require.Equal(t, location, second.Location())
	require.Equal(t, 1, f.table.Live())

	require.Same(t, first, first.Reopen())
	require.Equal(t, 3, second.OpenCount())

	// a write through one reference is visible through the other
	_, err = first.WriteAt([]byte("shared"), 0)
	require.NoError(t, err)
	buf := make([]byte, 6)
	_, err = second.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "shared", string(buf))

	for i := 3; i > 0; i-- {
		require.Equal(t, 1, f.table.Live())
		require.NoError(t, first.Close())
		require.Equal(t, i-1, first.OpenCount())
	}
	require.Zero(t, f.table.Live())
	require.Panics(t, func() { _ = first.Close() })
	require.Panics(t, func() { first.Reopen() })
}

func TestOpen_Concurrent(t *testing.T) {
	f := newFixture(t, 16, 1)
	location, err := f.table.CreateNew(0, KindRegular)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h, err := f.table.Open(location)
				if err != nil {
					t.Error(err)
					return
				}
				if err := h.Close(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Zero(t, f.table.Live())
}

func TestRemove_Deferred(t *testing.T) {
	f := newFixture(t, 16, 1)
	location, err := f.table.CreateNew(1000, KindRegular)
	require.NoError(t, err)
	inUse := f.totalClusters() - f.fat.FreeClusters()
	require.Equal(t, uint64(3), inUse)

	first, err := f.table.Open(location)
	require.NoError(t, err)
	second, err := f.table.Open(location)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{7}, 1000)
	_, err = first.WriteAt(data, 0)
	require.NoError(t, err)

	first.Remove()
	first.Remove()
	require.True(t, second.Removed())
	require.Equal(t, f.totalClusters()-inUse, f.fat.FreeClusters())

	require.NoError(t, first.Close())
	require.Equal(t, f.totalClusters()-inUse, f.fat.FreeClusters())

	// still readable by the remaining opener
	buf := make([]byte, 1000)
	n, err := second.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, Byte(1000), n)
	require.Equal(t, data, buf)

	require.NoError(t, second.Close())
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
	require.Zero(t, f.table.Live())
}

func TestRemove_NotRemoved(t *testing.T) {
	f := newFixture(t, 16, 1)
	h := f.open(t, 1000, KindRegular)
	free := f.fat.FreeClusters()
	require.NoError(t, h.Close())
	require.Equal(t, free, f.fat.FreeClusters())
}

func TestRemove_Directory(t *testing.T) {
	f := newFixture(t, 32, 2)
	h := f.open(t, 0, KindDirectory)
	require.True(t, h.IsDir())
	require.Equal(t, f.totalClusters()-2, f.fat.FreeClusters())

	h.Remove()
	require.False(t, h.IsDir())
	require.NoError(t, h.Close())
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
}

func TestRemove_ReservedLocation(t *testing.T) {
	f := newFixture(t, 16, 1)

	// a record outside the data area only gives back its data
	require.NoError(t, f.table.Create(SuperblockSector, 600, KindRegular))
	require.Equal(t, f.totalClusters()-2, f.fat.FreeClusters())

	h, err := f.table.Open(SuperblockSector)
	require.NoError(t, err)
	h.Remove()
	require.NoError(t, h.Close())
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
}

func TestRemove_UnallocatedRecordCluster(t *testing.T) {
	f := newFixture(t, 16, 1)

	// the record sits on a cluster the FAT still considers free
	location := f.fat.ClusterToSector(f.fat.Geometry().Clusters)
	require.NoError(t, f.table.Create(location, 2*SectorSize, KindRegular))
	require.Equal(t, f.totalClusters()-2, f.fat.FreeClusters())

	h, err := f.table.Open(location)
	require.NoError(t, err)
	h.Remove()
	require.ErrorIs(t, h.Close(), fat.FreeClusterErr)

	// the data chain is released anyway
	require.Equal(t, f.totalClusters(), f.fat.FreeClusters())
	require.Zero(t, f.table.Live())
}

func TestDenyWrite(t *testing.T) {
	f := newFixture(t, 16, 1)
	h := f.open(t, 0, KindRegular)

	_, err := h.WriteAt([]byte("original"), 0)
	require.NoError(t, err)
	writes := func() int { _, w := f.device.Counts(); return w }
	before := writes()

	h.DenyWrite()
	require.Equal(t, 1, h.DenyWriteCount())
	n, err := h.WriteAt([]byte("clobber!"), 0)
	require.ErrorIs(t, err, WriteDeniedErr)
	require.Zero(t, n)
	require.Equal(t, before, writes())

	buf := make([]byte, 8)
	_, err = h.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "original", string(buf))

	h.AllowWrite()
	require.Zero(t, h.DenyWriteCount())
	n, err = h.WriteAt([]byte("replaced"), 0)
	require.NoError(t, err)
	require.Equal(t, Byte(8), n)
	_, err = h.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "replaced", string(buf))
}

func TestDenyWrite_Invariants(t *testing.T) {
	f := newFixture(t, 16, 1)
	h := f.open(t, 0, KindRegular)

	require.Panics(t, h.AllowWrite)
	h.DenyWrite()
	require.Panics(t, h.DenyWrite)

	h.Reopen()
	require.NotPanics(t, h.DenyWrite)
	require.Equal(t, 2, h.DenyWriteCount())
}

func TestClose_WritesStillDenied(t *testing.T) {
	f := newFixture(t, 16, 1)
	h := f.open(t, 0, KindRegular)
	h.Reopen()
	h.DenyWrite()
	h.DenyWrite()

	require.Panics(t, func() { h.Close() })
	require.Equal(t, 2, h.OpenCount())

	h.AllowWrite()
	require.NoError(t, h.Close())
	require.Panics(t, func() { h.Close() })
	require.Equal(t, 1, h.OpenCount())

	h.AllowWrite()
	require.NoError(t, h.Close())
	require.Zero(t, f.table.Live())
}
