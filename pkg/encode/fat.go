package encode

import . "github.com/weberc2/clusterfs/pkg/types"

// FATEntriesPerSector is the number of cluster links held by one FAT sector.
const FATEntriesPerSector = int(SectorSize / FATEntrySize)

// EncodeFATSector writes up to `FATEntriesPerSector` links into `b`; missing
// trailing entries are encoded as free.
func EncodeFATSector(entries []Cluster, b *[SectorSize]byte) {
	*b = [SectorSize]byte{}
	p := b[:]
	for i := 0; i < len(entries) && i < FATEntriesPerSector; i++ {
		putCluster(p, Byte(i)*FATEntrySize, entries[i])
	}
}

func DecodeFATSector(entries []Cluster, b *[SectorSize]byte) {
	p := b[:]
	for i := 0; i < len(entries) && i < FATEntriesPerSector; i++ {
		entries[i] = getCluster(p, Byte(i)*FATEntrySize)
	}
}
