package filecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"jobe/internal/common/storage"
	appErr "jobe/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultRemotePrefix = "jobe/files/"
	blobSuffix          = ".zst"
	blobContentType     = "application/zstd"
)

// RemoteConfig enables the shared object-store tier.
type RemoteConfig struct {
	Enabled bool                `yaml:"enabled"`
	Prefix  string              `yaml:"prefix"`
	MinIO   storage.MinIOConfig `yaml:"minio"`
}

func (c *RemoteConfig) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = defaultRemotePrefix
	}
}

// RemoteTier keeps zstd-compressed copies of cached files in a bucket so
// several servers can share uploads.
type RemoteTier struct {
	store  storage.ObjectStorage
	bucket string
	prefix string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewRemoteTierFromConfig builds a MinIO-backed tier, or returns nil when
// the tier is disabled.
func NewRemoteTierFromConfig(cfg RemoteConfig) (*RemoteTier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.ApplyDefaults()
	store, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	return NewRemoteTier(store, cfg.MinIO.Bucket, cfg.Prefix)
}

func NewRemoteTier(store storage.ObjectStorage, bucket, prefix string) (*RemoteTier, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &RemoteTier{store: store, bucket: bucket, prefix: prefix, enc: enc, dec: dec}, nil
}

func (r *RemoteTier) key(id string) string {
	return r.prefix + id + blobSuffix
}

func (r *RemoteTier) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.store.StatObject(ctx, r.bucket, r.key(id))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get downloads and decompresses id. check is called with the decompressed
// size before the blob is expanded.
func (r *RemoteTier) Get(ctx context.Context, id string, check func(size int64) error) ([]byte, error) {
	reader, err := r.store.GetObject(ctx, r.bucket, r.key(id))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RemoteTierFailed, "fetch remote file %s failed", id)
	}
	defer reader.Close()
	blob, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, notFound(id)
		}
		return nil, appErr.Wrapf(err, appErr.RemoteTierFailed, "read remote file %s failed", id)
	}

	var header zstd.Header
	if err := header.Decode(blob); err != nil {
		return nil, appErr.Wrapf(err, appErr.RemoteTierFailed, "remote file %s is not a zstd blob", id)
	}
	if header.HasFCS && check != nil {
		if err := check(int64(header.FrameContentSize)); err != nil {
			return nil, err
		}
	}
	data, err := r.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RemoteTierFailed, "decompress remote file %s failed", id)
	}
	if !header.HasFCS && check != nil {
		if err := check(int64(len(data))); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (r *RemoteTier) Put(ctx context.Context, id string, data []byte) error {
	blob := r.enc.EncodeAll(data, nil)
	if err := r.store.PutObject(ctx, r.bucket, r.key(id), bytes.NewReader(blob), int64(len(blob)), blobContentType); err != nil {
		return appErr.Wrapf(err, appErr.RemoteTierFailed, "upload remote file %s failed", id)
	}
	return nil
}
