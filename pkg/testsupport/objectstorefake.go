// Package testsupport holds in-memory stand-ins for the external services the
// volume tools talk to.
package testsupport

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/weberc2/clusterfs/pkg/objectstore"
)

type objectKey struct {
	bucket string
	key    string
}

// ObjectStoreFake keeps objects in memory. It is safe for concurrent use.
type ObjectStoreFake struct {
	mutex   sync.Mutex
	objects map[objectKey][]byte
}

func NewObjectStoreFake() *ObjectStoreFake {
	return &ObjectStoreFake{objects: make(map[objectKey][]byte)}
}

// Object returns the stored bytes of an object as written by the last
// `PutObject`.
func (osf *ObjectStoreFake) Object(bucket, key string) ([]byte, bool) {
	osf.mutex.Lock()
	defer osf.mutex.Unlock()
	data, found := osf.objects[objectKey{bucket, key}]
	return data, found
}

func (osf *ObjectStoreFake) PutObject(
	bucket string,
	key string,
	data io.ReadSeeker,
) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf(
			"putting object into bucket `%s` at key `%s`: %w",
			bucket,
			key,
			err,
		)
	}

	osf.mutex.Lock()
	defer osf.mutex.Unlock()
	osf.objects[objectKey{bucket, key}] = b
	return nil
}

func (osf *ObjectStoreFake) GetObject(
	bucket string,
	key string,
) (io.ReadCloser, error) {
	data, found := osf.Object(bucket, key)
	if !found {
		return nil, &objectstore.ObjectNotFoundErr{Bucket: bucket, Key: key}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ListObjects returns matching keys in lexical order, as S3 does.
func (osf *ObjectStoreFake) ListObjects(
	bucket string,
	prefix string,
) ([]string, error) {
	osf.mutex.Lock()
	defer osf.mutex.Unlock()

	var out []string
	for k := range osf.objects {
		if k.bucket == bucket && strings.HasPrefix(k.key, prefix) {
			out = append(out, k.key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (osf *ObjectStoreFake) DeleteObject(bucket, key string) error {
	osf.mutex.Lock()
	defer osf.mutex.Unlock()

	k := objectKey{bucket, key}
	if _, found := osf.objects[k]; !found {
		return &objectstore.ObjectNotFoundErr{Bucket: bucket, Key: key}
	}
	delete(osf.objects, k)
	return nil
}

var _ objectstore.ObjectStore = (*ObjectStoreFake)(nil)
