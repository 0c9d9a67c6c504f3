package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/weberc2/clusterfs/pkg/device"
	"github.com/weberc2/clusterfs/pkg/pgdevice"
	. "github.com/weberc2/clusterfs/pkg/types"
)

// backend is an open device plus whatever must be released with it.
type backend struct {
	device.Device
	close func() error
}

// Sync lets `filesys.Volume.Sync` reach the file backend's fsync.
func (b *backend) Sync() error {
	if syncer, ok := b.Device.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend opens the configured device. With `create`, a missing image
// file is created at the configured size and a missing postgres table is
// created.
func openBackend(c *Config, create bool) (*backend, error) {
	switch c.Backend {
	case BackendFile:
		d, err := device.OpenFile(c.Image)
		if errors.Is(err, os.ErrNotExist) && create {
			d, err = device.CreateFile(c.Image, Sector(c.Sectors))
		}
		if err != nil {
			return nil, fmt.Errorf("opening image `%s`: %w", c.Image, err)
		}
		return &backend{Device: d, close: d.Close}, nil
	case BackendPostgres:
		db, err := pgdevice.OpenEnv()
		if err != nil {
			return nil, err
		}
		d, err := openPostgres(db, c, create)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{Device: d, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("opening device: unknown backend `%s`", c.Backend)
	}
}

func openPostgres(db *sql.DB, c *Config, create bool) (*pgdevice.Device, error) {
	d, err := pgdevice.New(db, c.PGTable, Sector(c.Sectors))
	if err != nil {
		return nil, err
	}
	if create {
		if err := d.EnsureTable(); err != nil {
			return nil, err
		}
	}
	return d, nil
}
