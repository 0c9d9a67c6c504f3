package objectstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipObjectStore compresses objects on the way in and decompresses them on
// the way out. Volume images are mostly zeros, so they shrink well.
type GzipObjectStore struct {
	ObjectStore

	// Level is a `gzip` compression level. Zero selects
	// `gzip.DefaultCompression`.
	Level int
}

func (os *GzipObjectStore) level() int {
	if os.Level == 0 {
		return gzip.DefaultCompression
	}
	return os.Level
}

// PutObject compresses `data` in memory and stores the result. The key is
// recorded as the gzip member name.
func (os *GzipObjectStore) PutObject(bucket, key string, data io.ReadSeeker) error {
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, os.level())
	if err != nil {
		return fmt.Errorf("compressing object `%s`: %w", key, err)
	}
	w.Name = key
	if _, err := io.Copy(w, data); err != nil {
		return fmt.Errorf("compressing object `%s`: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compressing object `%s`: flushing: %w", key, err)
	}
	return os.ObjectStore.PutObject(bucket, key, bytes.NewReader(b.Bytes()))
}

// gzipBody decompresses an object body; closing it closes both.
type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (gb *gzipBody) Close() error {
	return errors.Join(gb.Reader.Close(), gb.body.Close())
}

func (os *GzipObjectStore) GetObject(bucket, key string) (io.ReadCloser, error) {
	body, err := os.ObjectStore.GetObject(bucket, key)
	if err != nil {
		return nil, err
	}
	r, err := gzip.NewReader(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf(
			"getting object from bucket `%s` at key `%s`: "+
				"decompressing: %w",
			bucket,
			key,
			err,
		)
	}
	return &gzipBody{Reader: r, body: body}, nil
}
