package device

import (
	"fmt"
	"os"

	. "github.com/weberc2/clusterfs/pkg/types"
)

// FileDevice stores sectors in a disk image file.
type FileDevice struct {
	file    *os.File
	sectors Sector
}

// CreateFile creates (or truncates) an image file holding `sectors` zeroed
// sectors.
func CreateFile(path string, sectors Sector) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating image `%s`: %w", path, err)
	}
	if err := file.Truncate(int64(Byte(sectors) * SectorSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf(
			"creating image `%s`: sizing to `%d` sectors: %w",
			path,
			sectors,
			err,
		)
	}
	return &FileDevice{file: file, sectors: sectors}, nil
}

// OpenFile opens an existing image file. Trailing bytes that do not fill a
// whole sector are ignored.
func OpenFile(path string) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening image `%s`: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening image `%s`: %w", path, err)
	}
	return &FileDevice{
		file:    file,
		sectors: Sector(Byte(info.Size()) / SectorSize),
	}, nil
}

func (d *FileDevice) SectorSize() Byte { return SectorSize }

func (d *FileDevice) Sectors() Sector { return d.sectors }

func (d *FileDevice) ReadSector(sector Sector, buf []byte) error {
	if err := checkTransfer("reading", d, sector, buf); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(
		buf,
		int64(Byte(sector)*SectorSize),
	); err != nil {
		return fmt.Errorf(
			"reading image `%s` at sector `%d`: %w",
			d.file.Name(),
			sector,
			err,
		)
	}
	return nil
}

func (d *FileDevice) WriteSector(sector Sector, buf []byte) error {
	if err := checkTransfer("writing", d, sector, buf); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(
		buf,
		int64(Byte(sector)*SectorSize),
	); err != nil {
		return fmt.Errorf(
			"writing image `%s` at sector `%d`: %w",
			d.file.Name(),
			sector,
			err,
		)
	}
	return nil
}

func (d *FileDevice) Sync() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("syncing image `%s`: %w", d.file.Name(), err)
	}
	return nil
}

func (d *FileDevice) Close() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("closing image `%s`: %w", d.file.Name(), err)
	}
	return nil
}
