package types

// Byte is a byte count or byte offset. It is signed so that "bytes remaining"
// computations can go negative without wrapping.
type Byte int64

// Sector is an absolute sector number on a device.
type Sector uint32

// Cluster identifies an allocation unit in the file allocation table. Cluster
// ids start at 1; `ClusterNil` means "no cluster".
type Cluster uint32

const (
	SectorSize   Byte = 512
	FATEntrySize Byte = 4

	ClusterNil Cluster = 0
	ClusterEOC Cluster = 0x0FFFFFFF
	ClusterMax Cluster = ClusterEOC - 1

	SectorNil Sector = 0
)
