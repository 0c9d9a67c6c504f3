package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weberc2/clusterfs/pkg/filesys"
	. "github.com/weberc2/clusterfs/pkg/types"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.Reader = strings.NewReader("")
	require.NoError(t, app.Run(append([]string{appName}, args...)))
	return out.String()
}

func setupImage(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FATTOOL_CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("FATTOOL_BACKEND", BackendFile)
	t.Setenv("FATTOOL_IMAGE", filepath.Join(dir, "volume.img"))
	t.Setenv("FATTOOL_SECTORS", "256")
	t.Setenv("FATTOOL_LOG_LEVEL", "error")
}

func TestFattool(t *testing.T) {
	setupImage(t)

	var superblock Superblock
	require.NoError(t, json.Unmarshal(
		[]byte(run(t, "format", "--label", "cli test")),
		&superblock,
	))
	require.Equal(t, "cli test", superblock.Label)
	require.Equal(t, Sector(256), superblock.Sectors)

	volume := func() filesys.Stats {
		var stats filesys.Stats
		require.NoError(t, json.Unmarshal([]byte(run(t, "volume")), &stats))
		return stats
	}
	before := volume()

	location := strings.TrimSpace(run(t, "create"))
	_, err := strconv.ParseUint(location, 10, 32)
	require.NoError(t, err)

	run(t, "write", "--sector", location, "--offset", "3", "--data", "hello")
	require.Equal(t, "\x00\x00\x00hello", run(t, "cat", "--sector", location))
	require.Equal(
		t,
		"ell",
		run(t, "cat", "--sector", location, "--offset", "4", "--length", "3"),
	)

	var stat struct {
		Length Byte `json:"length"`
	}
	require.NoError(t, json.Unmarshal(
		[]byte(run(t, "stat", "--sector", location)),
		&stat,
	))
	require.Equal(t, Byte(8), stat.Length)

	// the record's cluster and one data cluster
	require.Equal(t, before.FreeClusters-2, volume().FreeClusters)

	run(t, "rm", "--sector", location)
	require.Equal(t, before.FreeClusters, volume().FreeClusters)
}

func TestFattool_OffsetAndLength(t *testing.T) {
	setupImage(t)
	run(t, "format")
	location := strings.TrimSpace(run(t, "create", "--size", "10"))

	for _, args := range [][]string{
		{"write", "--sector", location, "--offset=-1", "--data", "x"},
		{"cat", "--sector", location, "--offset=-1"},
	} {
		app := newApp()
		app.Writer = io.Discard
		app.Reader = strings.NewReader("")
		err := app.Run(append([]string{appName}, args...))
		require.ErrorContains(t, err, "negative offset", "%v", args)
	}

	// an oversized length is cut to the rest of the file
	require.Equal(
		t,
		strings.Repeat("\x00", 6),
		run(t, "cat", "--sector", location, "--offset", "4", "--length", "1099511627776"),
	)
	require.Empty(t, run(t, "cat", "--sector", location, "--offset", "50"))
}
