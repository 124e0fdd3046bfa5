package imagestore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	in      *s3.PutObjectInput
	deleted *s3.DeleteObjectInput
	body    string
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = in
	return &s3.DeleteObjectOutput{}, f.err
}

func TestPut(t *testing.T) {
	fake := &fakeS3{}
	st := newS3(fake, Options{Bucket: "avatars", Region: "eu-central-1"})

	url, err := st.Put(context.Background(), "avatars/1.png", "image/png", strings.NewReader("png"), 3)
	require.NoError(t, err)
	assert.Equal(t, "https://avatars.s3.eu-central-1.amazonaws.com/avatars/1.png", url)
	assert.Equal(t, "avatars", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "avatars/1.png", aws.ToString(fake.in.Key))
	assert.Equal(t, "image/png", aws.ToString(fake.in.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(fake.in.ContentLength))
	assert.Equal(t, "png", fake.body)
}

func TestPutError(t *testing.T) {
	st := newS3(&fakeS3{err: errors.New("denied")}, Options{Bucket: "b"})
	_, err := st.Put(context.Background(), "k", "image/png", strings.NewReader(""), 0)
	assert.ErrorContains(t, err, "denied")
}

func TestDelete(t *testing.T) {
	fake := &fakeS3{}
	st := newS3(fake, Options{Bucket: "avatars"})

	require.NoError(t, st.Delete(context.Background(), "avatars/1.png"))
	assert.Equal(t, "avatars", aws.ToString(fake.deleted.Bucket))
	assert.Equal(t, "avatars/1.png", aws.ToString(fake.deleted.Key))

	fake.err = errors.New("denied")
	assert.ErrorContains(t, st.Delete(context.Background(), "avatars/1.png"), "denied")
}

func TestPublicBase(t *testing.T) {
	cases := map[string]struct {
		opts Options
		want string
	}{
		"explicit": {Options{Bucket: "b", PublicURL: "https://cdn.test/img/"}, "https://cdn.test/img"},
		"endpoint": {Options{Bucket: "b", Endpoint: "http://127.0.0.1:9000/"}, "http://127.0.0.1:9000/b"},
		"aws":      {Options{Bucket: "b", Region: "us-east-1"}, "https://b.s3.us-east-1.amazonaws.com"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, publicBase(tc.opts))
		})
	}
}
