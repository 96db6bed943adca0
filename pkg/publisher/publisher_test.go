package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-github/v35/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/release"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(context.Background(), "", "owner", "repo")
	require.Error(t, err)
	var authErr *dsrerr.AuthFailureError
	assert.ErrorAs(t, err, &authErr)
}

func TestPublishResultStatusSuccess(t *testing.T) {
	r := &PublishResult{Uploaded: []string{"a", "b"}, Failed: map[string]error{}}
	assert.Equal(t, release.EnvelopeSuccess, r.Status())
}

func TestPublishResultStatusPartial(t *testing.T) {
	r := &PublishResult{Uploaded: []string{"a"}, Failed: map[string]error{"b": errors.New("boom")}}
	assert.Equal(t, release.EnvelopePartial, r.Status())
}

func TestPublishResultStatusError(t *testing.T) {
	r := &PublishResult{Failed: map[string]error{"a": errors.New("boom")}}
	assert.Equal(t, release.EnvelopeError, r.Status())
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, isAlreadyExists(errors.New("publisher: uploading x: 422 Validation Failed: already_exists")))
	assert.False(t, isAlreadyExists(errors.New("some other failure")))
	assert.False(t, isAlreadyExists(nil))
}

func TestPublishResultStatusReleaseIDPassthrough(t *testing.T) {
	rel := &github.RepositoryRelease{ID: github.Int64(42)}
	r := &PublishResult{ReleaseID: rel.GetID()}
	assert.Equal(t, int64(42), r.ReleaseID)
}
