package fat

import (
	"fmt"

	"github.com/weberc2/clusterfs/pkg/encode"
	"github.com/weberc2/clusterfs/pkg/math"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	TooSmallErr ConstError = "device too small for a volume"
)

// Geometry locates the table and the data area on a device.
type Geometry struct {
	FATStart          Sector
	FATSectors        Sector
	DataStart         Sector
	Clusters          Cluster
	SectorsPerCluster uint32
}

// GeometryOf reads the geometry out of a superblock.
func GeometryOf(superblock *Superblock) Geometry {
	return Geometry{
		FATStart:          superblock.FATStart,
		FATSectors:        superblock.FATSectors,
		DataStart:         superblock.DataStart,
		Clusters:          superblock.Clusters,
		SectorsPerCluster: superblock.SectorsPerCluster,
	}
}

// Plan lays out a device of `sectors` sectors whose table starts at
// `fatStart`: the table is grown one sector at a time until it can hold a link
// for every cluster that fits in the remaining space.
func Plan(sectors, fatStart Sector, sectorsPerCluster uint32) (Geometry, error) {
	if sectorsPerCluster == 0 {
		panic("zero sectors per cluster")
	}

	spc := Sector(sectorsPerCluster)
	for fatSectors := Sector(1); fatStart+fatSectors < sectors; fatSectors++ {
		dataStart := fatStart + fatSectors
		clusters := (sectors - dataStart) / spc
		if clusters > Sector(ClusterMax) {
			clusters = Sector(ClusterMax)
		}

		// entry 0 is reserved, so the table needs `clusters+1` entries
		needed := math.DivRoundUp(
			int(clusters)+1,
			encode.FATEntriesPerSector,
		)
		if Sector(needed) <= fatSectors {
			if clusters < 1 {
				break
			}
			return Geometry{
				FATStart:          fatStart,
				FATSectors:        fatSectors,
				DataStart:         dataStart,
				Clusters:          Cluster(clusters),
				SectorsPerCluster: sectorsPerCluster,
			}, nil
		}
	}

	return Geometry{}, fmt.Errorf(
		"planning `%d` sectors with `%d` sectors per cluster: %w",
		sectors,
		sectorsPerCluster,
		TooSmallErr,
	)
}
