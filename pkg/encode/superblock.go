package encode

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	InvalidSuperblockErr ConstError = "invalid superblock"
)

func EncodeSuperblock(superblock *Superblock, b *[SectorSize]byte) {
	*b = [SectorSize]byte{}
	p := b[:]

	putU64(p, superblockMagicStart, superblock.Magic)
	copy(p[superblockVolumeIDStart:superblockVolumeIDEnd], superblock.VolumeID[:])
	copy(p[superblockLabelStart:superblockLabelEnd], superblock.Label)
	putSector(p, superblockSectorsStart, superblock.Sectors)
	putU32(p, superblockSPCStart, superblock.SectorsPerCluster)
	putSector(p, superblockFATStartStart, superblock.FATStart)
	putSector(p, superblockFATSectorsStart, superblock.FATSectors)
	putSector(p, superblockDataStartStart, superblock.DataStart)
	putCluster(p, superblockClustersStart, superblock.Clusters)
	putSector(p, superblockRootStart, superblock.RootSector)
}

func DecodeSuperblock(superblock *Superblock, b *[SectorSize]byte) error {
	p := b[:]

	magic := getU64(p, superblockMagicStart)
	if magic != SuperblockMagic {
		return fmt.Errorf(
			"decoding superblock: found magic `%#x`: %w",
			magic,
			InvalidSuperblockErr,
		)
	}

	spc := getU32(p, superblockSPCStart)
	if spc == 0 {
		return fmt.Errorf(
			"decoding superblock: zero sectors per cluster: %w",
			InvalidSuperblockErr,
		)
	}

	id, err := uuid.FromBytes(p[superblockVolumeIDStart:superblockVolumeIDEnd])
	if err != nil {
		return fmt.Errorf("decoding superblock: volume id: %w", err)
	}

	label := p[superblockLabelStart:superblockLabelEnd]
	if i := bytes.IndexByte(label, 0); i >= 0 {
		label = label[:i]
	}

	superblock.Magic = magic
	superblock.VolumeID = id
	superblock.Label = string(label)
	superblock.Sectors = getSector(p, superblockSectorsStart)
	superblock.SectorsPerCluster = spc
	superblock.FATStart = getSector(p, superblockFATStartStart)
	superblock.FATSectors = getSector(p, superblockFATSectorsStart)
	superblock.DataStart = getSector(p, superblockDataStartStart)
	superblock.Clusters = getCluster(p, superblockClustersStart)
	superblock.RootSector = getSector(p, superblockRootStart)
	return nil
}

const (
	superblockMagicStart = 0
	superblockMagicSize  = 8
	superblockMagicEnd   = superblockMagicStart + superblockMagicSize

	superblockVolumeIDStart = superblockMagicEnd
	superblockVolumeIDSize  = 16
	superblockVolumeIDEnd   = superblockVolumeIDStart + superblockVolumeIDSize

	superblockLabelStart = superblockVolumeIDEnd
	superblockLabelSize  = LabelSize
	superblockLabelEnd   = superblockLabelStart + superblockLabelSize

	superblockSectorsStart = superblockLabelEnd
	superblockSectorsEnd   = superblockSectorsStart + 4

	superblockSPCStart = superblockSectorsEnd
	superblockSPCEnd   = superblockSPCStart + 4

	superblockFATStartStart = superblockSPCEnd
	superblockFATStartEnd   = superblockFATStartStart + 4

	superblockFATSectorsStart = superblockFATStartEnd
	superblockFATSectorsEnd   = superblockFATSectorsStart + 4

	superblockDataStartStart = superblockFATSectorsEnd
	superblockDataStartEnd   = superblockDataStartStart + 4

	superblockClustersStart = superblockDataStartEnd
	superblockClustersEnd   = superblockClustersStart + 4

	superblockRootStart = superblockClustersEnd
	superblockRootEnd   = superblockRootStart + 4
)
