// Package publisher creates or updates a GitHub release by tag and uploads
// every built artifact to it (spec.md §4.9). It is the first real exercise
// of the teacher's own github.com/google/go-github/v35 and
// golang.org/x/oauth2 dependencies, which were declared but never called
// from either of the two retrieved teacher files.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v35/github"
	"golang.org/x/oauth2"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/release"
	"github.com/devtool-release/dsr/pkg/retry"
)

// Client wraps the GitHub release API calls dsr needs, against one repo.
type Client struct {
	gh    *github.Client
	owner string
	repo  string
}

// New builds a Client authenticated with token against owner/repo.
func New(ctx context.Context, token, owner, repo string) (*Client, error) {
	if token == "" {
		return nil, &dsrerr.AuthFailureError{Msg: "no GitHub token configured"}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	return &Client{gh: github.NewClient(httpClient), owner: owner, repo: repo}, nil
}

// AssetUpload is one file to attach to a release.
type AssetUpload struct {
	Filename  string
	Path      string
	SHA256    string
	SizeBytes int64
}

// PublishResult reports the outcome of one release publish: which assets
// uploaded cleanly, which were already present (idempotent skip), and which
// failed outright.
type PublishResult struct {
	ReleaseID int64
	Uploaded  []string
	Skipped   []string
	Failed    map[string]error
}

// Status aggregates PublishResult into the overall envelope status, per
// spec.md §6: success if nothing failed, partial if some assets failed
// while at least one succeeded or was already present, error otherwise.
func (r *PublishResult) Status() string {
	if len(r.Failed) == 0 {
		return release.EnvelopeSuccess
	}
	if len(r.Uploaded) > 0 || len(r.Skipped) > 0 {
		return release.EnvelopePartial
	}
	return release.EnvelopeError
}

// EnsureRelease gets or creates a GitHub release for tag, creating it as
// draft if requested, with the given body, if absent. An already-existing
// release is returned unmodified regardless of draft.
func (c *Client) EnsureRelease(ctx context.Context, tag, name, body string, draft bool) (*github.RepositoryRelease, error) {
	rel, resp, err := c.gh.Repositories.GetReleaseByTag(ctx, c.owner, c.repo, tag)
	if err == nil {
		return rel, nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return nil, fmt.Errorf("publisher: looking up release %q: %w", tag, err)
	}

	rel, _, err = c.gh.Repositories.CreateRelease(ctx, c.owner, c.repo, &github.RepositoryRelease{
		TagName: &tag,
		Name:    &name,
		Body:    &body,
		Draft:   &draft,
	})
	if err != nil {
		return nil, fmt.Errorf("publisher: creating release %q: %w", tag, err)
	}
	return rel, nil
}

// GetRelease looks up a GitHub release by tag without creating it, for
// read-only callers such as `dsr release verify`. It returns a
// dsrerr.UpstreamMissingError when the release does not exist.
func (c *Client) GetRelease(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	rel, resp, err := c.gh.Repositories.GetReleaseByTag(ctx, c.owner, c.repo, tag)
	if err == nil {
		return rel, nil
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, &dsrerr.UpstreamMissingError{Msg: fmt.Sprintf("release %q not found", tag), Err: err}
	}
	return nil, fmt.Errorf("publisher: looking up release %q: %w", tag, err)
}

// UploadAssets uploads every asset to rel, retrying transient failures via
// pkg/retry. GitHub's "already_exists" validation error (an asset with that
// name already attached to the release) is treated as an idempotent skip
// only when the existing asset's size and sha256 match; a differing
// pre-existing asset fails the upload with a ReleaseConflictError.
func (c *Client) UploadAssets(ctx context.Context, rel *github.RepositoryRelease, assets []AssetUpload) *PublishResult {
	result := &PublishResult{ReleaseID: rel.GetID(), Failed: map[string]error{}}

	params := retry.DefaultParams()
	params.MaxAttempts = release.DefaultMaxRetryAttempts
	for _, a := range assets {
		err := retry.Do(ctx, params, func(ctx context.Context) error {
			return c.uploadOne(ctx, rel.GetID(), a)
		}, nil)

		switch {
		case err == nil:
			result.Uploaded = append(result.Uploaded, a.Filename)
		case isAlreadyExists(err):
			if confErr := c.checkExistingAsset(ctx, rel.GetID(), a); confErr != nil {
				result.Failed[a.Filename] = confErr
			} else {
				result.Skipped = append(result.Skipped, a.Filename)
			}
		default:
			result.Failed[a.Filename] = err
		}
	}
	return result
}

// checkExistingAsset compares the already-attached release asset named
// a.Filename against a's expected size and sha256, returning a
// ReleaseConflictError if they differ and nil if they match.
func (c *Client) checkExistingAsset(ctx context.Context, releaseID int64, a AssetUpload) error {
	existing, err := c.findReleaseAsset(ctx, releaseID, a.Filename)
	if err != nil {
		return &dsrerr.ReleaseConflictError{Filename: a.Filename, Err: err}
	}
	if existing == nil {
		return &dsrerr.ReleaseConflictError{Filename: a.Filename, Err: fmt.Errorf("already_exists but no matching asset found")}
	}
	if a.SizeBytes > 0 && existing.GetSize() != int(a.SizeBytes) {
		return &dsrerr.ReleaseConflictError{Filename: a.Filename, Err: fmt.Errorf("size mismatch: existing=%d want=%d", existing.GetSize(), a.SizeBytes)}
	}
	if a.SHA256 == "" {
		return nil
	}
	sum, err := c.hashExistingAsset(ctx, existing.GetID())
	if err != nil {
		return &dsrerr.ReleaseConflictError{Filename: a.Filename, Err: err}
	}
	if sum != a.SHA256 {
		return &dsrerr.ReleaseConflictError{Filename: a.Filename, Err: fmt.Errorf("sha256 mismatch: existing=%s want=%s", sum, a.SHA256)}
	}
	return nil
}

func (c *Client) findReleaseAsset(ctx context.Context, releaseID int64, filename string) (*github.ReleaseAsset, error) {
	opts := &github.ListOptions{PerPage: 100}
	for {
		assets, resp, err := c.gh.Repositories.ListReleaseAssets(ctx, c.owner, c.repo, releaseID, opts)
		if err != nil {
			return nil, fmt.Errorf("publisher: listing release assets: %w", err)
		}
		for _, asset := range assets {
			if asset.GetName() == filename {
				return asset, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) hashExistingAsset(ctx context.Context, assetID int64) (string, error) {
	rc, _, err := c.gh.Repositories.DownloadReleaseAsset(ctx, c.owner, c.repo, assetID, http.DefaultClient)
	if err != nil {
		return "", fmt.Errorf("publisher: downloading existing asset: %w", err)
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("publisher: hashing existing asset: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Client) uploadOne(ctx context.Context, releaseID int64, a AssetUpload) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("publisher: opening %s: %w", a.Path, err)
	}
	defer f.Close()

	ct := mime.TypeByExtension(filepath.Ext(a.Filename))
	if ct == "" {
		ct = "application/octet-stream"
	}

	_, resp, err := c.gh.Repositories.UploadReleaseAsset(ctx, c.owner, c.repo, releaseID, &github.UploadOptions{
		Name:      a.Filename,
		MediaType: ct,
	}, f)
	if err != nil {
		err = fmt.Errorf("publisher: uploading %s: %w", a.Filename, err)
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// A 4xx response is not transient: stop pkg/retry here.
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// LatestWorkflowRun returns the most recently started run of the named
// workflow file (e.g. "release.yml"), or nil if the workflow has never run.
func (c *Client) LatestWorkflowRun(ctx context.Context, workflowFile string) (*github.WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.owner, c.repo, workflowFile, &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("publisher: listing workflow runs for %q: %w", workflowFile, err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return nil, nil
	}
	return runs.WorkflowRuns[0], nil
}

// isAlreadyExists reports whether err is the GitHub API's "already_exists"
// validation error for a release asset with a conflicting name.
func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "already_exists")
}
