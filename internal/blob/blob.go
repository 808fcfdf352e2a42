// Package blob stores report bodies in a bucket and hands back opaque
// locations. Bodies are content-addressed, so uploading the same bytes twice
// yields the same location.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local directory driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/roach88/reportflow/internal/ir"
)

// Compression selects how bodies are stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

const zstdSuffix = ".zst"

// ErrForeignLocation is returned when a location does not belong to the store.
var ErrForeignLocation = errors.New("location is not in this bucket")

// Store uploads and downloads report bodies.
type Store struct {
	bucket      *blob.Bucket
	root        string
	compression Compression
	enc         *zstd.Encoder
	dec         *zstd.Decoder
}

// Open opens the bucket at bucketURL (mem://, file:///path, s3://bucket,
// gs://bucket). Call Close when done.
func Open(ctx context.Context, bucketURL string, compression Compression) (*Store, error) {
	if compression == "" {
		compression = CompressionNone
	}
	if compression != CompressionNone && compression != CompressionZstd {
		return nil, fmt.Errorf("unknown blob compression %q", compression)
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &Store{
		bucket:      bucket,
		root:        rootOf(bucketURL),
		compression: compression,
		dec:         dec,
	}
	if compression == CompressionZstd {
		s.enc, err = zstd.NewWriter(nil)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
	}
	return s, nil
}

// rootOf strips the query and one trailing slash so locations stay stable when
// driver options change.
func rootOf(bucketURL string) string {
	root, _, _ := strings.Cut(bucketURL, "?")
	return strings.TrimSuffix(root, "/")
}

// Upload stores data and returns its location.
func (s *Store) Upload(ctx context.Context, data []byte, format ir.Format) (ir.BodyLocation, error) {
	sum := sha256.Sum256(data)
	key := fmt.Sprintf("reports/%s/%s", strings.ToLower(string(format)), hex.EncodeToString(sum[:]))

	payload := data
	if s.enc != nil {
		key += zstdSuffix
		payload = s.enc.EncodeAll(data, nil)
	}

	loc := ir.BodyLocation{URL: s.root + "/" + key, Format: format}

	exists, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return ir.BodyLocation{}, fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		return loc, nil
	}

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType(format)})
	if err != nil {
		return ir.BodyLocation{}, fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return ir.BodyLocation{}, fmt.Errorf("write body to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return ir.BodyLocation{}, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return loc, nil
}

// Download returns the bytes stored at loc.
func (s *Store) Download(ctx context.Context, loc ir.BodyLocation) ([]byte, error) {
	key, ok := strings.CutPrefix(loc.URL, s.root+"/")
	if !ok || key == "" {
		return nil, fmt.Errorf("download %s: %w", loc.URL, ErrForeignLocation)
	}

	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	if strings.HasSuffix(key, zstdSuffix) {
		data, err = s.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	}
	return data, nil
}

// Close releases the bucket and codecs.
func (s *Store) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	if s.enc != nil {
		s.enc.Close()
	}
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func contentType(f ir.Format) string {
	switch f {
	case ir.FormatCSV, ir.FormatCSVSingle:
		return "text/csv"
	case ir.FormatHL7, ir.FormatHL7Batch:
		return "application/hl7-v2"
	case ir.FormatFHIR:
		return "application/fhir+ndjson"
	default:
		return "application/octet-stream"
	}
}
