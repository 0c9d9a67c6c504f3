package encode

import (
	"encoding/binary"

	. "github.com/weberc2/clusterfs/pkg/types"
)

func putCluster(b []byte, start Byte, c Cluster) {
	putU32(b, start, uint32(c))
}

func getCluster(b []byte, start Byte) Cluster {
	return Cluster(getU32(b, start))
}

func putSector(b []byte, start Byte, s Sector) {
	putU32(b, start, uint32(s))
}

func getSector(b []byte, start Byte) Sector {
	return Sector(getU32(b, start))
}

func putU64(b []byte, start Byte, u uint64) {
	binary.LittleEndian.PutUint64(b[start:start+8], u)
}

func getU64(b []byte, start Byte) uint64 {
	return binary.LittleEndian.Uint64(b[start : start+8])
}

func putU32(b []byte, start Byte, u uint32) {
	binary.LittleEndian.PutUint32(b[start:start+4], u)
}

func getU32(b []byte, start Byte) uint32 {
	return binary.LittleEndian.Uint32(b[start : start+4])
}

func putU8(b []byte, start Byte, u uint8) {
	b[start] = u
}

func getU8(b []byte, start Byte) uint8 {
	return b[start]
}
