package types

import "github.com/google/uuid"

const (
	SuperblockMagic  uint64 = 0x5346525453554c43 // ascii "CLUSTRFS"
	SuperblockSector Sector = 0
	LabelSize        Byte   = 32
)

// Superblock describes the geometry of a formatted volume. It lives in sector
// zero.
type Superblock struct {
	Magic             uint64
	VolumeID          uuid.UUID
	Label             string
	Sectors           Sector
	SectorsPerCluster uint32
	FATStart          Sector
	FATSectors        Sector
	DataStart         Sector
	Clusters          Cluster
	RootSector        Sector
}

func (superblock *Superblock) ClusterBytes() Byte {
	return Byte(superblock.SectorsPerCluster) * SectorSize
}
