package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// bucketOpener opens a bucket from a gocloud URL.
type bucketOpener func(ctx context.Context, urlstr string) (*blob.Bucket, error)

// blobTransport reads payloads from object stores (gs://, s3://, mem://).
type blobTransport struct {
	open bucketOpener
}

func newBlobTransport(open bucketOpener) *blobTransport {
	if open == nil {
		open = blob.OpenBucket
	}
	return &blobTransport{open: open}
}

func (t *blobTransport) fetch(ctx context.Context, locator string, _ Credentials) ([]byte, string, error) {
	bucketURL, key, err := splitObjectURL(locator)
	if err != nil {
		return nil, "", err
	}

	bucket, err := t.open(ctx, bucketURL)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.Unknown {
			return nil, "", fmt.Errorf("%w: open bucket: %v", ErrInvalidLocator, err)
		}
		return nil, "", classifyBlobError(fmt.Errorf("open bucket: %w", err))
	}
	defer bucket.Close()

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, "", classifyBlobError(fmt.Errorf("stat %s: %w", key, err))
	}

	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, "", classifyBlobError(fmt.Errorf("read %s: %w", key, err))
	}

	contentType := attrs.ContentType
	if contentType == "" {
		contentType = contentTypeFor(key)
	}
	return data, contentType, nil
}

// splitObjectURL splits scheme://bucket/path/to/key?params into the bucket URL
// (scheme, bucket and params) and the object key.
func splitObjectURL(locator string) (bucketURL, key string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: no object key in %s", ErrInvalidLocator, Redact(locator))
	}
	b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return b.String(), key, nil
}

// classifyBlobError maps gocloud error codes to the fetch error taxonomy.
func classifyBlobError(err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case gcerrors.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case gcerrors.InvalidArgument:
		return fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	case gcerrors.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}
