package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/leadpool/internal/config"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestFileSinkWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "marked_phones.txt")
	sink := &FileSink{Path: path}

	loc, err := sink.Write(context.Background(), []byte("111\n222\n"))
	require.NoError(t, err)
	assert.Equal(t, path, loc)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "111\n222\n", string(data))
}

func TestS3SinkWrite(t *testing.T) {
	putter := &fakePutter{}
	sink := &S3Sink{Client: putter, Bucket: "leads", Key: "exports/marked.txt"}

	loc, err := sink.Write(context.Background(), []byte("111\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://leads/exports/marked.txt", loc)
	assert.Equal(t, "leads", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "exports/marked.txt", aws.ToString(putter.input.Key))
	assert.Equal(t, ContentType, aws.ToString(putter.input.ContentType))
	assert.Equal(t, "111\n", string(putter.body))
}

func TestNewSinkDefaultsToFile(t *testing.T) {
	sink, err := NewSink(context.Background(), config.ExportConfig{Sink: "file", Path: "x.txt"})
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)

	_, err = NewSink(context.Background(), config.ExportConfig{Sink: "ftp"})
	assert.Error(t, err)
}
