// Package storage resolves source and destination URIs (local paths or
// gs://bucket/object) and persists snapshots in the Arrow IPC file format.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/TFMV/bistro/db"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// Options configures access to Google Cloud Storage.
type Options struct {
	// CredentialsFile is a service account key; empty uses application default credentials.
	CredentialsFile string
	// Endpoint overrides the GCS API endpoint, e.g. for an emulator.
	Endpoint string
}

// Opener opens readers and writers for local and gs:// URIs.
type Opener struct {
	opts   Options
	logger *zap.Logger
}

func NewOpener(opts Options, logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{opts: opts, logger: logger}
}

// IsRemote reports whether uri names a GCS object.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, gcsScheme)
}

// ParseGCS splits gs://bucket/object into its parts.
func ParseGCS(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// uri %q: want gs://bucket/object", uri)
	}
	return bucket, object, nil
}

// IsNotExist reports whether err means the named file or object is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist)
}

func (o *Opener) client(ctx context.Context) (*gcs.Client, error) {
	var opts []option.ClientOption
	if o.opts.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.opts.CredentialsFile))
	}
	if o.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.opts.Endpoint))
		if o.opts.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return client, nil
}

// OpenReader opens uri for reading. A missing file or object satisfies IsNotExist.
func (o *Opener) OpenReader(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !IsRemote(uri) {
		return os.Open(uri)
	}
	bucket, object, err := ParseGCS(uri)
	if err != nil {
		return nil, err
	}
	client, err := o.client(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	o.logger.Debug("Opened GCS object", zap.String("bucket", bucket), zap.String("object", object), zap.Int64("size", r.Attrs.Size))
	return &closeBoth{ReadCloser: r, client: client}, nil
}

// CreateWriter creates or truncates uri. For GCS the object becomes visible on Close.
func (o *Opener) CreateWriter(ctx context.Context, uri string) (io.WriteCloser, error) {
	if !IsRemote(uri) {
		if dir := filepath.Dir(uri); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return os.Create(uri)
	}
	bucket, object, err := ParseGCS(uri)
	if err != nil {
		return nil, err
	}
	client, err := o.client(ctx)
	if err != nil {
		return nil, err
	}
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	return &writeCloseBoth{WriteCloser: w, client: client}, nil
}

type closeBoth struct {
	io.ReadCloser
	client *gcs.Client
}

func (c *closeBoth) Close() error {
	return errors.Join(c.ReadCloser.Close(), c.client.Close())
}

type writeCloseBoth struct {
	io.WriteCloser
	client *gcs.Client
}

func (c *writeCloseBoth) Close() error {
	return errors.Join(c.WriteCloser.Close(), c.client.Close())
}

// SaveSnapshot writes rec to uri in the Arrow IPC file format.
func (o *Opener) SaveSnapshot(ctx context.Context, uri string, rec arrow.Record) error {
	if err := db.ValidateRecord(rec); err != nil {
		return err
	}
	out, err := o.CreateWriter(ctx, uri)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", uri, err)
	}

	writer, err := ipc.NewFileWriter(out, ipc.WithSchema(db.Schema), ipc.WithAllocator(db.Pool))
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		out.Close()
		return fmt.Errorf("failed to write record to Arrow file: %w", err)
	}
	if err := writer.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finish Arrow file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %q: %w", uri, err)
	}
	o.logger.Info("Snapshot saved", zap.String("uri", uri), zap.Int64("rows", rec.NumRows()))
	return nil
}

// LoadSnapshot reads an Arrow IPC file written by SaveSnapshot and returns
// its rows as one record. The caller releases it.
func (o *Opener) LoadSnapshot(ctx context.Context, uri string) (arrow.Record, error) {
	in, err := o.OpenReader(ctx, uri)
	if err != nil {
		if IsNotExist(err) {
			return nil, &db.MissingInputError{Path: uri, Err: err}
		}
		return nil, fmt.Errorf("failed to open %q: %w", uri, err)
	}
	defer in.Close()

	// The IPC file reader needs random access; remote objects are buffered.
	var src ipc.ReadAtSeeker
	if f, ok := in.(*os.File); ok {
		src = f
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", uri, err)
		}
		src = bytes.NewReader(data)
	}

	reader, err := ipc.NewFileReader(src, ipc.WithAllocator(db.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow file reader: %w", err)
	}
	defer reader.Close()

	if !reader.Schema().Equal(db.Schema) {
		return nil, fmt.Errorf("snapshot %q has schema %s, want %s", uri, reader.Schema(), db.Schema)
	}

	n := reader.NumRecords()
	records := make([]arrow.Record, 0, n)
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()
	for i := 0; i < n; i++ {
		rec, err := reader.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d from file: %w", i, err)
		}
		records = append(records, rec)
	}

	out, err := concat(records)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Snapshot loaded", zap.String("uri", uri), zap.Int64("rows", out.NumRows()))
	return out, nil
}

// concat merges records column by column into a single record.
func concat(records []arrow.Record) (arrow.Record, error) {
	if len(records) == 0 {
		return db.BuildRecord(nil), nil
	}
	if len(records) == 1 {
		records[0].Retain()
		return records[0], nil
	}

	cols := make([]arrow.Array, len(db.Schema.Fields()))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	var rows int64
	for _, r := range records {
		rows += r.NumRows()
	}
	for i := range cols {
		parts := make([]arrow.Array, len(records))
		for j, r := range records {
			parts[j] = r.Column(i)
		}
		merged, err := array.Concatenate(parts, db.Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to concatenate column %s: %w", db.Schema.Field(i).Name, err)
		}
		cols[i] = merged
	}
	return array.NewRecord(db.Schema, cols, rows), nil
}
