// Package pgdevice stores a block device's sectors as rows of a Postgres
// table. Sectors that were never written read as zeros.
package pgdevice

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/weberc2/clusterfs/pkg/device"
	. "github.com/weberc2/clusterfs/pkg/types"
)

const (
	InvalidTableNameErr ConstError = "invalid table name"
	MissingTableErr     ConstError = "sector table does not exist"

	DefaultTable = "sectors"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Device struct {
	db      *sql.DB
	table   string
	sectors Sector

	selectSQL string
	upsertSQL string
}

var _ device.Device = (*Device)(nil)

// New returns a device of `sectors` sectors backed by `table`.
func New(db *sql.DB, table string, sectors Sector) (*Device, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("table `%s`: %w", table, InvalidTableNameErr)
	}
	quoted := pq.QuoteIdentifier(table)
	return &Device{
		db:        db,
		table:     table,
		sectors:   sectors,
		selectSQL: "SELECT data FROM " + quoted + " WHERE sector = $1",
		upsertSQL: "INSERT INTO " + quoted + " (sector, data) VALUES ($1, $2) " +
			"ON CONFLICT (sector) DO UPDATE SET data = EXCLUDED.data",
	}, nil
}

func (d *Device) EnsureTable() error {
	if _, err := d.db.Exec(
		"CREATE TABLE IF NOT EXISTS " + pq.QuoteIdentifier(d.table) + " (" +
			"sector BIGINT NOT NULL PRIMARY KEY, " +
			"data BYTEA NOT NULL)",
	); err != nil {
		return fmt.Errorf("creating `%s` postgres table: %w", d.table, err)
	}
	return nil
}

func (d *Device) DropTable() error {
	if _, err := d.db.Exec(
		"DROP TABLE IF EXISTS " + pq.QuoteIdentifier(d.table),
	); err != nil {
		return fmt.Errorf("dropping table `%s`: %w", d.table, err)
	}
	return nil
}

func (d *Device) ResetTable() error {
	if err := d.DropTable(); err != nil {
		return err
	}
	return d.EnsureTable()
}

func (d *Device) SectorSize() Byte { return SectorSize }

func (d *Device) Sectors() Sector { return d.sectors }

func (d *Device) ReadSector(sector Sector, buf []byte) error {
	if err := d.check("reading", sector, buf); err != nil {
		return err
	}

	var data []byte
	if err := d.db.QueryRow(d.selectSQL, int64(sector)).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			clear(buf)
			return nil
		}
		return fmt.Errorf(
			"reading sector `%d` from postgres table `%s`: %w",
			sector,
			d.table,
			d.translate(err),
		)
	}
	if Byte(len(data)) != SectorSize {
		return fmt.Errorf(
			"reading sector `%d` from postgres table `%s`: found `%d` bytes: "+
				"%w",
			sector,
			d.table,
			len(data),
			device.SectorSizeErr,
		)
	}
	copy(buf, data)
	return nil
}

func (d *Device) WriteSector(sector Sector, buf []byte) error {
	if err := d.check("writing", sector, buf); err != nil {
		return err
	}
	if _, err := d.db.Exec(d.upsertSQL, int64(sector), buf); err != nil {
		return fmt.Errorf(
			"writing sector `%d` to postgres table `%s`: %w",
			sector,
			d.table,
			d.translate(err),
		)
	}
	return nil
}

func (d *Device) check(op string, sector Sector, buf []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf(
			"%s sector `%d` of `%d`: %w",
			op,
			sector,
			d.sectors,
			device.OutOfRangeErr,
		)
	}
	if Byte(len(buf)) != SectorSize {
		return fmt.Errorf(
			"%s sector `%d` with a `%d`-byte buffer: %w",
			op,
			sector,
			len(buf),
			device.SectorSizeErr,
		)
	}
	return nil
}

func (d *Device) translate(err error) error {
	const errUndefinedTable = "42P01"
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == errUndefinedTable {
		return fmt.Errorf("%w: %w", MissingTableErr, err)
	}
	return err
}
