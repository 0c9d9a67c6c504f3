package inode

import (
	"fmt"
	"sync"

	. "github.com/weberc2/clusterfs/pkg/types"
)

// Handle is the shared in-memory representative of an open record. Lock
// order is the table's mutex, then the handle's.
type Handle struct {
	table    *Table
	location Sector
	layout   layout

	mutex          sync.RWMutex
	openCount      int
	denyWriteCount int
	removed        bool
	record         Record
}

// Reopen takes another reference to the handle.
func (h *Handle) Reopen() *Handle {
	h.table.mutex.Lock()
	defer h.table.mutex.Unlock()
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.openCount < 1 {
		panic(fmt.Sprintf("reopening closed record `%d`", h.location))
	}
	h.openCount++
	return h
}

// Close drops a reference. The last close removes the handle from the table
// and, if the record was removed, frees its storage. An opener that denied
// writes must allow them again before closing.
func (h *Handle) Close() error {
	h.table.mutex.Lock()
	defer h.table.mutex.Unlock()
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.openCount < 1 {
		panic(fmt.Sprintf("closing closed record `%d`", h.location))
	}
	if h.denyWriteCount > h.openCount-1 {
		panic(fmt.Sprintf(
			"closing record `%d`: deny count `%d` would exceed open count `%d`",
			h.location,
			h.denyWriteCount,
			h.openCount-1,
		))
	}
	h.openCount--
	if h.openCount > 0 {
		return nil
	}

	delete(h.table.handles, h.location)
	h.table.logger.Debug(
		"closed record",
		"location", h.location,
		"removed", h.removed,
	)
	if h.removed {
		return h.table.reclaim(h)
	}
	return nil
}

// Remove marks the record for deletion once every reference is closed.
func (h *Handle) Remove() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removed = true
}

func (h *Handle) Removed() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.removed
}

func (h *Handle) Location() Sector { return h.location }

func (h *Handle) Length() Byte {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.record.Length
}

// IsDir reports whether the record is a directory that has not been
// removed.
func (h *Handle) IsDir() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return !h.removed && h.record.Kind == KindDirectory
}

func (h *Handle) OpenCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.openCount
}

func (h *Handle) DenyWriteCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.denyWriteCount
}

// Record returns a copy of the cached record.
func (h *Handle) Record() Record {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.record
}

// DenyWrite refuses writes until a matching AllowWrite. Each opener may deny
// at most once.
func (h *Handle) DenyWrite() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.denyWriteCount >= h.openCount {
		panic(fmt.Sprintf(
			"denying writes to record `%d`: deny count `%d` would exceed "+
				"open count `%d`",
			h.location,
			h.denyWriteCount+1,
			h.openCount,
		))
	}
	h.denyWriteCount++
}

func (h *Handle) AllowWrite() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.denyWriteCount < 1 {
		panic(fmt.Sprintf(
			"allowing writes to record `%d`: writes are not denied",
			h.location,
		))
	}
	h.denyWriteCount--
}

// Sync writes the cached record back to its sector.
func (h *Handle) Sync() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if err := h.table.writeRecord(h.location, &h.record); err != nil {
		return fmt.Errorf("syncing record `%d`: %w", h.location, err)
	}
	return nil
}
