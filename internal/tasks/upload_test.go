package tasks_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/service"
	"tasksync/internal/tasks"
	"tasksync/internal/testutil"
)

func TestAttachmentKey(t *testing.T) {
	now := time.UnixMilli(1712345678901)
	assert.Equal(t, "photo.jpg-1712345678901", tasks.AttachmentKey("photo.jpg", now))
}

func TestUploadAttachment_ReturnsPublicURL(t *testing.T) {
	svc := testutil.NewFakeService()
	now := time.UnixMilli(42)

	url, err := tasks.UploadAttachment(context.Background(), svc.Storage(),
		tasks.Attachment{Name: "a.png", Body: strings.NewReader("data")}, now, nil)

	require.NoError(t, err)
	assert.Equal(t, testutil.PublicBaseURL+"a.png-42", url)
}

func TestUploadAttachment_OverwritesSameKey(t *testing.T) {
	svc := testutil.NewFakeService()
	now := time.UnixMilli(42)
	ctx := context.Background()

	_, err := tasks.UploadAttachment(ctx, svc.Storage(), tasks.Attachment{Name: "a", Body: strings.NewReader("v1")}, now, nil)
	require.NoError(t, err)
	_, err = tasks.UploadAttachment(ctx, svc.Storage(), tasks.Attachment{Name: "a", Body: strings.NewReader("v2")}, now, nil)
	require.NoError(t, err)

	data, _, ok := svc.Object("a-42")
	require.True(t, ok)
	assert.Equal(t, "v2", string(data))
}

func TestUploadAttachment_FailureIsUploadError(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.UploadErr = errors.New("403")

	url, err := tasks.UploadAttachment(context.Background(), svc.Storage(),
		tasks.Attachment{Name: "a", Body: strings.NewReader("x")}, time.Now(), nil)

	assert.Empty(t, url)
	assert.ErrorIs(t, err, service.ErrUpload)
}

func TestUploadAttachment_NoStore(t *testing.T) {
	url, err := tasks.UploadAttachment(context.Background(), nil,
		tasks.Attachment{Name: "a", Body: strings.NewReader("x")}, time.Now(), nil)

	assert.Empty(t, url)
	assert.ErrorIs(t, err, service.ErrUpload)
}
