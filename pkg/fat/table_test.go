package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weberc2/clusterfs/pkg/device"
	. "github.com/weberc2/clusterfs/pkg/types"
)

func newTable(t *testing.T, sectors Sector, spc uint32) (*Table, device.Device) {
	t.Helper()
	d := device.NewMemoryDevice(sectors)
	geometry, err := Plan(sectors, 1, spc)
	require.NoError(t, err)
	return New(d, geometry), d
}

func chain(t *Table, start Cluster) []Cluster {
	var out []Cluster
	for c, ok := start, start != ClusterNil; ok; c, ok = t.Next(c) {
		out = append(out, c)
	}
	return out
}

func TestPlan(t *testing.T) {
	for _, tc := range []struct {
		name    string
		sectors Sector
		spc     uint32
		wanted  Geometry
	}{{
		name:    "single FAT sector",
		sectors: 64,
		spc:     1,
		wanted: Geometry{
			FATStart:          1,
			FATSectors:        1,
			DataStart:         2,
			Clusters:          62,
			SectorsPerCluster: 1,
		},
	}, {
		name:    "two FAT sectors",
		sectors: 200,
		spc:     1,
		wanted: Geometry{
			FATStart:          1,
			FATSectors:        2,
			DataStart:         3,
			Clusters:          197,
			SectorsPerCluster: 1,
		},
	}, {
		name:    "multi-sector clusters",
		sectors: 64,
		spc:     4,
		wanted: Geometry{
			FATStart:          1,
			FATSectors:        1,
			DataStart:         2,
			Clusters:          15,
			SectorsPerCluster: 4,
		},
	}} {
		t.Run(tc.name, func(t *testing.T) {
			found, err := Plan(tc.sectors, 1, tc.spc)
			require.NoError(t, err)
			require.Equal(t, tc.wanted, found)
		})
	}
}

func TestPlan_TooSmall(t *testing.T) {
	_, err := Plan(2, 1, 1)
	require.ErrorIs(t, err, TooSmallErr)
}

func TestTable_ExtendChain(t *testing.T) {
	table, _ := newTable(t, 16, 1)

	first, err := table.ExtendChain(ClusterNil)
	require.NoError(t, err)
	second, err := table.ExtendChain(first)
	require.NoError(t, err)
	third, err := table.ExtendChain(second)
	require.NoError(t, err)

	require.Equal(t, []Cluster{first, second, third}, chain(table, first))
	require.Equal(t, uint64(table.Geometry().Clusters-3), table.FreeClusters())

	_, err = table.ExtendChain(Cluster(12))
	require.ErrorIs(t, err, FreeClusterErr)
}

func TestTable_OutOfClusters(t *testing.T) {
	table, _ := newTable(t, 6, 1) // 1 superblock + 1 FAT + 4 clusters

	var prev Cluster
	for i := 0; i < 4; i++ {
		c, err := table.ExtendChain(prev)
		require.NoError(t, err)
		prev = c
	}

	_, err := table.ExtendChain(prev)
	require.ErrorIs(t, err, OutOfClustersErr)
	require.Zero(t, table.FreeClusters())
}

func TestTable_RemoveChain(t *testing.T) {
	table, _ := newTable(t, 16, 1)

	start, err := table.ExtendChain(ClusterNil)
	require.NoError(t, err)
	prev := start
	var clusters []Cluster
	for i := 0; i < 3; i++ {
		c, err := table.ExtendChain(prev)
		require.NoError(t, err)
		clusters = append(clusters, c)
		prev = c
	}

	// cut everything after `start`
	require.NoError(t, table.RemoveChain(clusters[0], start))
	require.Equal(t, []Cluster{start}, chain(table, start))
	require.Equal(t, uint64(table.Geometry().Clusters-1), table.FreeClusters())

	require.NoError(t, table.Free(start))
	require.ErrorIs(t, table.Free(start), FreeClusterErr)
}

func TestTable_SectorTranslation(t *testing.T) {
	table, _ := newTable(t, 64, 4)
	geometry := table.Geometry()

	require.Equal(t, geometry.DataStart, table.ClusterToSector(1))
	require.Equal(t, geometry.DataStart+4, table.ClusterToSector(2))

	for _, tc := range []struct {
		sector Sector
		wanted Cluster
		ok     bool
	}{
		{geometry.DataStart, 1, true},
		{geometry.DataStart + 3, 1, true},
		{geometry.DataStart + 4, 2, true},
		{geometry.FATStart, ClusterNil, false},
		{geometry.DataStart + Sector(geometry.Clusters)*4, ClusterNil, false},
	} {
		found, ok := table.SectorToCluster(tc.sector)
		require.Equal(t, tc.ok, ok, "sector `%d`", tc.sector)
		require.Equal(t, tc.wanted, found, "sector `%d`", tc.sector)
	}

	require.Panics(t, func() { table.ClusterToSector(ClusterNil) })
}

func TestTable_NextCorruptLink(t *testing.T) {
	table, _ := newTable(t, 16, 1)
	clusters := table.Geometry().Clusters

	require.False(t, table.Contains(ClusterNil))
	require.True(t, table.Contains(clusters))
	require.False(t, table.Contains(clusters+1))

	start, err := table.ExtendChain(ClusterNil)
	require.NoError(t, err)
	table.entries[start] = 9999

	next, ok := table.Next(start)
	require.False(t, ok)
	require.Equal(t, ClusterNil, next)

	require.ErrorIs(t, table.RemoveChain(start, ClusterNil), FreeClusterErr)
}

func TestTable_FlushLoad(t *testing.T) {
	table, d := newTable(t, 300, 1)

	start, err := table.ExtendChain(ClusterNil)
	require.NoError(t, err)
	prev := start
	for i := 0; i < 200; i++ {
		c, err := table.ExtendChain(prev)
		require.NoError(t, err)
		prev = c
	}
	require.NoError(t, table.Flush())

	loaded, err := Load(d, table.Geometry())
	require.NoError(t, err)
	require.Equal(t, chain(table, start), chain(loaded, start))
	require.Equal(t, table.FreeClusters(), loaded.FreeClusters())

	// only the sector holding the modified entry is rewritten
	faulty := device.NewFaultyDevice(d)
	reloaded, err := Load(faulty, table.Geometry())
	require.NoError(t, err)
	require.NoError(t, reloaded.Free(prev))
	require.NoError(t, reloaded.Flush())
	_, writes := faulty.Counts()
	require.Equal(t, 1, writes)
}

func TestTable_FlushError(t *testing.T) {
	d := device.NewFaultyDevice(device.NewMemoryDevice(16))
	geometry, err := Plan(16, 1, 1)
	require.NoError(t, err)
	table := New(d, geometry)

	d.FailWrites(geometry.FATStart)
	require.ErrorIs(t, table.Flush(), device.InjectedFaultErr)

	// the sector stays dirty and is retried
	d.Reset()
	require.NoError(t, table.Flush())
}
