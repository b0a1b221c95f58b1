// Package objectstore keeps job text and generated audio in NATS JetStream
// object store buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
)

const (
	bucketDescriptionFmt = "higgs-tts %s bucket"
	errFmtBind           = "failed to bind object store bucket '%s': %w"
	errFmtCreate         = "failed to create object store bucket '%s': %w"
	errFmtGet            = "failed to get object '%s' from bucket '%s': %w"
	errFmtRead           = "failed to read object '%s': %w"
	errFmtPut            = "failed to put object '%s' to bucket '%s': %w"
)

// ErrKeyEmpty is returned for operations without an object name.
var ErrKeyEmpty = errors.New("object key cannot be empty")

// NatsObjectStore implements core.ObjectStore on one JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating the bucket when it does not exist yet.
func New(js nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := js.ObjectStore(bucketName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) && !errors.Is(err, nats.ErrBucketNotFound) {
			return nil, fmt.Errorf(errFmtBind, bucketName, err)
		}

		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucketName,
			Description: fmt.Sprintf(bucketDescriptionFmt, bucketName),
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
		if err != nil {
			return nil, fmt.Errorf(errFmtCreate, bucketName, err)
		}
	}

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download reads the whole object stored under key.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf(errFmtGet, key, n.bucket, err)
	}

	data, err := io.ReadAll(obj)
	err = errors.Join(err, obj.Close())

	if err != nil {
		return nil, fmt.Errorf(errFmtRead, key, err)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrKeyEmpty
	}

	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf(errFmtPut, key, n.bucket, err)
	}

	return nil
}
