// Package snapshot copies whole volume images to and from an object store.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/gosimple/slug"
	"github.com/weberc2/clusterfs/pkg/device"
	"github.com/weberc2/clusterfs/pkg/objectstore"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	SizeMismatchErr ConstError = "snapshot size does not match device"
)

// Key names the snapshot of a volume: `<prefix>/<label>-<volume id>.img`,
// with the label slugified.
func Key(prefix string, superblock *Superblock) string {
	label := slug.Make(superblock.Label)
	if label == "" {
		label = "volume"
	}
	return path.Join(prefix, fmt.Sprintf("%s-%s.img", label, superblock.VolumeID))
}

// Push uploads every sector of `d`.
func Push(
	d device.Device,
	store objectstore.ObjectStore,
	bucket string,
	key string,
) error {
	if err := store.PutObject(bucket, key, NewImageReader(d)); err != nil {
		return fmt.Errorf(
			"pushing snapshot to bucket `%s` at key `%s`: %w",
			bucket,
			key,
			err,
		)
	}
	return nil
}

// Pull overwrites `d` with a snapshot. The snapshot must be exactly as large
// as the device; sectors before a mismatch is detected are already written.
func Pull(
	store objectstore.ObjectStore,
	bucket string,
	key string,
	d device.Device,
) error {
	body, err := store.GetObject(bucket, key)
	if err != nil {
		return fmt.Errorf(
			"pulling snapshot from bucket `%s` at key `%s`: %w",
			bucket,
			key,
			err,
		)
	}
	defer body.Close()

	buf := make([]byte, SectorSize)
	for sector := Sector(0); sector < d.Sectors(); sector++ {
		if _, err := io.ReadFull(body, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf(
					"pulling snapshot `%s`: ended at sector `%d` of `%d`: %w",
					key,
					sector,
					d.Sectors(),
					SizeMismatchErr,
				)
			}
			return fmt.Errorf("pulling snapshot `%s`: %w", key, err)
		}
		if err := d.WriteSector(sector, buf); err != nil {
			return fmt.Errorf("pulling snapshot `%s`: %w", key, err)
		}
	}

	// anything left over means the snapshot came from a larger device
	if n, err := body.Read(buf[:1]); n > 0 {
		return fmt.Errorf(
			"pulling snapshot `%s`: more than `%d` sectors: %w",
			key,
			d.Sectors(),
			SizeMismatchErr,
		)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("pulling snapshot `%s`: %w", key, err)
	}
	return nil
}
