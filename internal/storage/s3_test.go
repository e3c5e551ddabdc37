package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects   map[string][]byte
	types     map[string]string
	meta      map[string]map[string]string
	hasBucket bool
	createErr error
	getErr    error
	created   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = b
	f.types[key] = aws.ToString(in.ContentType)
	f.meta[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	key := aws.ToString(in.Key)
	b, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentType:   aws.String(f.types[key]),
		ContentLength: aws.Int64(int64(len(b))),
	}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.hasBucket {
		return &s3.HeadBucketOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.hasBucket = true
	return &s3.CreateBucketOutput{}, nil
}

func TestPutGetRoundTrip(t *testing.T) {
	fake := newFakeS3()
	c := &S3Client{client: fake, bucket: "avatars"}
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "avatar/u1-abc", strings.NewReader("png-bytes"), "image/png"))
	assert.Len(t, fake.meta["avatar/u1-abc"]["checksum-sha256"], 64)

	obj, err := c.GetObject(ctx, "avatar/u1-abc")
	require.NoError(t, err)
	defer obj.Body.Close()
	body, _ := io.ReadAll(obj.Body)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(9), obj.Size)
}

func TestGetMissingObject(t *testing.T) {
	c := &S3Client{client: newFakeS3(), bucket: "avatars"}
	_, err := c.GetObject(context.Background(), "avatar/none")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestGetOtherFailureIsWrapped(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("connection reset")
	c := &S3Client{client: fake, bucket: "avatars"}
	_, err := c.GetObject(context.Background(), "avatar/x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestEnsureBucket(t *testing.T) {
	fake := newFakeS3()
	c := &S3Client{client: fake, bucket: "avatars"}
	require.NoError(t, c.ensureBucket(context.Background()))
	assert.Equal(t, 1, fake.created)

	require.NoError(t, c.ensureBucket(context.Background()))
	assert.Equal(t, 1, fake.created, "existing bucket is left alone")

	racing := newFakeS3()
	racing.createErr = &types.BucketAlreadyOwnedByYou{}
	c = &S3Client{client: racing, bucket: "avatars"}
	assert.NoError(t, c.ensureBucket(context.Background()))

	broken := newFakeS3()
	broken.createErr = errors.New("access denied")
	c = &S3Client{client: broken, bucket: "avatars"}
	assert.Error(t, c.ensureBucket(context.Background()))
}
