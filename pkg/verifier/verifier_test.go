package verifier

import (
	"testing"

	"github.com/google/go-github/v35/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

func asset(name string) *github.ReleaseAsset {
	return &github.ReleaseAsset{Name: &name}
}

func TestDiffFindsMissingAndExtra(t *testing.T) {
	manifest := &release.Manifest{Artifacts: []release.Artifact{
		{Filename: "a.tar.gz"},
		{Filename: "b.tar.gz"},
	}}
	rel := &github.RepositoryRelease{Assets: []*github.ReleaseAsset{
		asset("a.tar.gz"),
		asset("c.tar.gz"),
	}}

	report := Diff(manifest, rel)
	assert.False(t, report.OK)
	assert.ElementsMatch(t, []string{"b.tar.gz"}, report.Missing)
	assert.ElementsMatch(t, []string{"c.tar.gz"}, report.Extra)
}

func TestDiffAllPresentIsOK(t *testing.T) {
	manifest := &release.Manifest{Artifacts: []release.Artifact{{Filename: "a.tar.gz"}}}
	rel := &github.RepositoryRelease{Assets: []*github.ReleaseAsset{asset("a.tar.gz")}}

	report := Diff(manifest, rel)
	assert.True(t, report.OK)
	assert.Empty(t, report.Missing)
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, release.ExitSuccess, Report{OK: true}.ExitStatus())
	assert.Equal(t, release.ExitPartial, Report{OK: false, Missing: []string{"a"}}.ExitStatus())
}

func TestFixNoopWhenNothingMissing(t *testing.T) {
	rel := &github.RepositoryRelease{ID: github.Int64(7)}
	result, err := Fix(nil, nil, rel, &release.Manifest{}, Report{OK: true})
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.ReleaseID)
	assert.Empty(t, result.Failed)
}

func TestFixErrorsWhenMissingAssetNotInManifest(t *testing.T) {
	rel := &github.RepositoryRelease{ID: github.Int64(7)}
	_, err := Fix(nil, nil, rel, &release.Manifest{}, Report{Missing: []string{"ghost.tar.gz"}})
	assert.Error(t, err)
}
