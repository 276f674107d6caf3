package cloudwriter

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Writer_UploadsOnClose(t *testing.T) {
	client := &fakeS3{}
	f := NewS3WriterFactoryWithClient(client)

	w, err := f.NewWriter(context.Background(), "traffic", "tms/146/data.parquet")
	require.NoError(t, err)
	_, err = w.Write([]byte("PAR1"))
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	assert.Empty(t, client.inputs)

	require.NoError(t, w.Close())
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "traffic", *client.inputs[0].Bucket)
	assert.Equal(t, "tms/146/data.parquet", *client.inputs[0].Key)
	assert.Equal(t, "application/vnd.apache.parquet", *client.inputs[0].ContentType)
	assert.Equal(t, []byte("PAR1data"), client.bodies[0])

	// closing twice uploads once
	require.NoError(t, w.Close())
	assert.Len(t, client.inputs, 1)
	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
}

func TestS3Writer_Errors(t *testing.T) {
	boom := errors.New("access denied")
	f := NewS3WriterFactoryWithClient(&fakeS3{err: boom})

	_, err := f.NewWriter(context.Background(), "", "a.json")
	assert.Error(t, err)

	w, err := f.NewWriter(context.Background(), "bucket", "a.json")
	require.NoError(t, err)
	assert.ErrorIs(t, w.Close(), boom)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("x/data.csv"))
	assert.Equal(t, "application/x-ndjson", contentType("x/data.json"))
	assert.Equal(t, "application/octet-stream", contentType("x/data.bin"))
}
