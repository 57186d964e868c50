package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/memblob" // in-memory driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver (also B2, R2, MinIO)
	"gocloud.dev/gcerrors"
)

// pointerKey names the object holding the current generation id.
const pointerKey = "CURRENT"

// BlobStore publishes generations to an object store. Staged files are
// written under generations/<id>/ and stay invisible until the CURRENT
// pointer object names that id; Finalize is a single object write.
type BlobStore struct {
	bucket  *blob.Bucket
	baseURI string // scheme://bucket
	prefix  string // "" or "path/"
}

// OpenBlobStore opens a bucket from a URL such as gs://bucket/prefix or
// s3://bucket/prefix?region=us-east-1.
func OpenBlobStore(ctx context.Context, rawURL string) (*BlobStore, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse destination %s: %w", rawURL, err)
	}
	prefix := strings.Trim(u.Path, "/")
	bucketURL := u.Scheme + "://" + u.Host
	if u.RawQuery != "" {
		bucketURL += "?" + u.RawQuery
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open bucket %s: %w", ErrWrite, u.Scheme+"://"+u.Host, err)
	}
	return NewBlobStore(bucket, u.Scheme+"://"+u.Host, prefix), nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(bucket *blob.Bucket, baseURI, prefix string) *BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &BlobStore{bucket: bucket, baseURI: strings.TrimSuffix(baseURI, "/"), prefix: prefix}
}

func (s *BlobStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, "/")
}

// WriteTemp writes one file under the unpublished generation prefix.
func (s *BlobStore) WriteTemp(ctx context.Context, gen, name string, data []byte) error {
	if err := validGeneration(gen); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return s.put(ctx, s.key(generationsDir, gen, name), data)
}

func (s *BlobStore) put(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("%w: create writer for %s: %w", ErrWrite, key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("%w: write %s: %w", ErrWrite, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close writer for %s: %w", ErrWrite, key, err)
	}
	return nil
}

// Finalize points CURRENT at gen.
func (s *BlobStore) Finalize(ctx context.Context, gen string) error {
	if err := validGeneration(gen); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	keys, err := s.list(ctx, s.key(generationsDir, gen)+"/")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: nothing staged for generation %s", ErrWrite, gen)
	}
	manifest, err := s.bucket.ReadAll(ctx, s.key(generationsDir, gen, ManifestFile))
	if err != nil {
		return fmt.Errorf("%w: no manifest staged for generation %s: %w", ErrWrite, gen, err)
	}
	err = checkStaged(gen, manifest, func(name string) (bool, error) {
		return s.bucket.Exists(ctx, s.key(generationsDir, gen, name))
	})
	if err != nil {
		return err
	}
	return s.put(ctx, s.key(pointerKey), []byte(gen))
}

// Rollback rewrites CURRENT to previous, or deletes it when previous is
// empty, and then deletes gen.
func (s *BlobStore) Rollback(ctx context.Context, gen, previous string) error {
	if err := validGeneration(gen); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if previous == gen {
		return fmt.Errorf("%w: cannot roll %s back onto itself", ErrWrite, gen)
	}

	if previous == "" {
		err := s.bucket.Delete(ctx, s.key(pointerKey))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("%w: delete %s: %w", ErrWrite, pointerKey, err)
		}
	} else {
		if err := validGeneration(previous); err != nil {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
		ok, err := s.bucket.Exists(ctx, s.key(generationsDir, previous, ManifestFile))
		if err != nil || !ok {
			return fmt.Errorf("%w: previous generation %s is gone: %v", ErrWrite, previous, err)
		}
		if err := s.put(ctx, s.key(pointerKey), []byte(previous)); err != nil {
			return err
		}
	}

	if err := s.deletePrefix(ctx, s.key(generationsDir, gen)+"/"); err != nil {
		return fmt.Errorf("remove withdrawn generation %s: %w", gen, err)
	}
	return nil
}

// Abort deletes every object staged for gen.
func (s *BlobStore) Abort(ctx context.Context, gen string) error {
	if err := validGeneration(gen); err != nil {
		return err
	}
	return s.deletePrefix(ctx, s.key(generationsDir, gen)+"/")
}

func (s *BlobStore) deletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.list(ctx, prefix)
	if err != nil {
		return err
	}
	var lastErr error
	for _, k := range keys {
		if err := s.bucket.Delete(ctx, k); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			lastErr = err
		}
	}
	return lastErr
}

// Current returns the id stored in CURRENT.
func (s *BlobStore) Current(ctx context.Context) (string, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(pointerKey))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return "", ErrNoGeneration
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pointerKey, err)
	}
	gen := strings.TrimSpace(string(data))
	if err := validGeneration(gen); err != nil {
		return "", err
	}
	return gen, nil
}

// ReadCurrent reads name from the current generation.
func (s *BlobStore) ReadCurrent(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	gen, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ReadGeneration(ctx, gen, name)
}

// ReadGeneration reads name from generation gen.
func (s *BlobStore) ReadGeneration(ctx context.Context, gen, name string) ([]byte, error) {
	if err := validGeneration(gen); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	key := s.key(generationsDir, gen, name)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Generations lists generation prefixes, oldest first. Staged generations
// that were never finalized or aborted are listed too.
func (s *BlobStore) Generations(ctx context.Context) ([]string, error) {
	prefix := s.key(generationsDir) + "/"
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})

	var gens []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if !obj.IsDir {
			continue
		}
		gens = append(gens, strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/"))
	}
	sort.Strings(gens)
	return gens, nil
}

// Prune deletes all but the newest keep generations.
func (s *BlobStore) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	gens, err := s.Generations(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoGeneration) {
		return nil, err
	}

	var removed []string
	for _, gen := range pruneCandidates(gens, current, keep) {
		if err := s.deletePrefix(ctx, s.key(generationsDir, gen)+"/"); err != nil {
			return removed, fmt.Errorf("remove generation %s: %w", gen, err)
		}
		removed = append(removed, gen)
	}
	return removed, nil
}

func (s *BlobStore) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s/%s%s", s.baseURI, s.prefix, key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Verify BlobStore implements AtomicStore.
var _ AtomicStore = (*BlobStore)(nil)
