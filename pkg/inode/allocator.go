package inode

import (
	. "github.com/weberc2/clusterfs/pkg/types"
)

// ClusterAllocator strings clusters into chains and maps them onto device
// sectors. `fat.Table` is the production implementation.
type ClusterAllocator interface {
	// ExtendChain allocates a cluster after `prev`, or starts a new chain
	// when `prev` is `ClusterNil`.
	ExtendChain(prev Cluster) (Cluster, error)

	// Next returns the cluster that follows `c`; false at the end of the
	// chain.
	Next(c Cluster) (Cluster, bool)

	Free(c Cluster) error

	// RemoveChain frees `start` and everything after it. A non-nil `prev`
	// becomes the new end of its chain.
	RemoveChain(start, prev Cluster) error

	// Contains reports whether `c` is a data cluster of the volume.
	Contains(c Cluster) bool

	ClusterToSector(c Cluster) Sector
	SectorToCluster(s Sector) (Cluster, bool)
	SectorsPerCluster() uint32
}
