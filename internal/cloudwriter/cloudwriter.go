// Package cloudwriter uploads exported files to object storage.
package cloudwriter

import "context"

// CloudWriter buffers one object; the upload happens on Close.
type CloudWriter interface {
	Write(data []byte) (int, error)
	Close() error
}

type CloudWriterFactory interface {
	NewWriter(ctx context.Context, bucket, objectPath string) (CloudWriter, error)
}
