// Package filesys formats and mounts volumes: a superblock, a file
// allocation table and a data area holding inode records and their chains.
package filesys

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/weberc2/clusterfs/pkg/device"
	"github.com/weberc2/clusterfs/pkg/encode"
	"github.com/weberc2/clusterfs/pkg/fat"
	"github.com/weberc2/clusterfs/pkg/inode"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	LabelTooLongErr    ConstError = "volume label too long"
	TruncatedDeviceErr ConstError = "device is smaller than the volume"

	DefaultSectorsPerCluster uint32 = 1
)

type Params struct {
	Label             string
	SectorsPerCluster uint32

	// VolumeID is generated when nil.
	VolumeID uuid.UUID
}

type Option func(*options)

type options struct {
	logger *slog.Logger
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Format writes an empty volume to `d`: a FAT with every cluster free except
// the root directory's, then the superblock.
func Format(d device.Device, params *Params, opts ...Option) (Superblock, error) {
	o := buildOptions(opts)

	if Byte(len(params.Label)) > LabelSize {
		return Superblock{}, fmt.Errorf(
			"formatting volume `%s`: %w",
			params.Label,
			LabelTooLongErr,
		)
	}
	spc := params.SectorsPerCluster
	if spc == 0 {
		spc = DefaultSectorsPerCluster
	}
	id := params.VolumeID
	if id == uuid.Nil {
		id = uuid.New()
	}

	geometry, err := fat.Plan(d.Sectors(), SuperblockSector+1, spc)
	if err != nil {
		return Superblock{}, fmt.Errorf("formatting volume `%s`: %w", id, err)
	}

	allocator := fat.New(d, geometry)
	table := inode.NewTable(d, allocator, inode.WithLogger(o.logger))
	root, err := table.CreateNew(0, KindDirectory)
	if err != nil {
		return Superblock{}, fmt.Errorf(
			"formatting volume `%s`: creating root directory: %w",
			id,
			err,
		)
	}

	if err := allocator.Flush(); err != nil {
		return Superblock{}, fmt.Errorf("formatting volume `%s`: %w", id, err)
	}

	superblock := Superblock{
		Magic:             SuperblockMagic,
		VolumeID:          id,
		Label:             params.Label,
		Sectors:           d.Sectors(),
		SectorsPerCluster: spc,
		FATStart:          geometry.FATStart,
		FATSectors:        geometry.FATSectors,
		DataStart:         geometry.DataStart,
		Clusters:          geometry.Clusters,
		RootSector:        root,
	}
	var buf [SectorSize]byte
	encode.EncodeSuperblock(&superblock, &buf)
	if err := d.WriteSector(SuperblockSector, buf[:]); err != nil {
		return Superblock{}, fmt.Errorf(
			"formatting volume `%s`: writing superblock: %w",
			id,
			err,
		)
	}

	o.logger.Info(
		"formatted volume",
		"id", id,
		"label", params.Label,
		"clusters", geometry.Clusters,
		"sectorsPerCluster", spc,
		"root", root,
	)
	return superblock, nil
}

// Volume is a mounted volume.
type Volume struct {
	device     device.Device
	superblock Superblock
	fat        *fat.Table
	table      *inode.Table
	logger     *slog.Logger
}

// Mount reads the superblock and the FAT of a formatted device.
func Mount(d device.Device, opts ...Option) (*Volume, error) {
	o := buildOptions(opts)

	var buf [SectorSize]byte
	if err := d.ReadSector(SuperblockSector, buf[:]); err != nil {
		return nil, fmt.Errorf("mounting volume: reading superblock: %w", err)
	}
	var superblock Superblock
	if err := encode.DecodeSuperblock(&superblock, &buf); err != nil {
		return nil, fmt.Errorf("mounting volume: %w", err)
	}
	if superblock.Sectors > d.Sectors() {
		return nil, fmt.Errorf(
			"mounting volume `%s`: volume has `%d` sectors, device has `%d`: "+
				"%w",
			superblock.VolumeID,
			superblock.Sectors,
			d.Sectors(),
			TruncatedDeviceErr,
		)
	}

	allocator, err := fat.Load(d, fat.GeometryOf(&superblock))
	if err != nil {
		return nil, fmt.Errorf(
			"mounting volume `%s`: %w",
			superblock.VolumeID,
			err,
		)
	}

	o.logger.Debug(
		"mounted volume",
		"id", superblock.VolumeID,
		"label", superblock.Label,
		"freeClusters", allocator.FreeClusters(),
	)
	return &Volume{
		device:     d,
		superblock: superblock,
		fat:        allocator,
		table:      inode.NewTable(d, allocator, inode.WithLogger(o.logger)),
		logger:     o.logger,
	}, nil
}

func (v *Volume) Superblock() Superblock { return v.superblock }

func (v *Volume) Table() *inode.Table { return v.table }

// Root opens the root directory.
func (v *Volume) Root() (*inode.Handle, error) {
	h, err := v.table.Open(v.superblock.RootSector)
	if err != nil {
		return nil, fmt.Errorf(
			"opening root directory of volume `%s`: %w",
			v.superblock.VolumeID,
			err,
		)
	}
	return h, nil
}

// Sync writes the FAT back and syncs the device if it supports it.
func (v *Volume) Sync() error {
	if err := v.fat.Flush(); err != nil {
		return fmt.Errorf("syncing volume `%s`: %w", v.superblock.VolumeID, err)
	}
	if syncer, ok := v.device.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf(
				"syncing volume `%s`: %w",
				v.superblock.VolumeID,
				err,
			)
		}
	}
	return nil
}

// Close syncs the volume. Handles still open are logged and left alone.
func (v *Volume) Close() error {
	if live := v.table.Live(); live > 0 {
		v.logger.Warn(
			"closing volume with open handles",
			"id", v.superblock.VolumeID,
			"handles", live,
		)
	}
	return v.Sync()
}

type Stats struct {
	VolumeID     uuid.UUID `json:"volumeId"`
	Label        string    `json:"label"`
	Sectors      Sector    `json:"sectors"`
	ClusterBytes Byte      `json:"clusterBytes"`
	Clusters     uint64    `json:"clusters"`
	FreeClusters uint64    `json:"freeClusters"`
	OpenHandles  int       `json:"openHandles"`
}

func (v *Volume) Stat() Stats {
	return Stats{
		VolumeID:     v.superblock.VolumeID,
		Label:        v.superblock.Label,
		Sectors:      v.superblock.Sectors,
		ClusterBytes: v.superblock.ClusterBytes(),
		Clusters:     uint64(v.superblock.Clusters),
		FreeClusters: v.fat.FreeClusters(),
		OpenHandles:  v.table.Live(),
	}
}
