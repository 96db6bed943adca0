package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultTemplates(t *testing.T) {
	res, err := Resolve(Input{
		Tool:       "mytool",
		Version:    "v1.2.3",
		OS:         "linux",
		Arch:       "amd64",
		ArchiveExt: "tar.gz",
	})
	require.NoError(t, err)
	assert.Equal(t, "mytool-1.2.3-linux-amd64.tar.gz", res.Versioned)
	assert.Equal(t, "mytool-linux-amd64.tar.gz", res.Compat)
	assert.False(t, res.Same)
}

// TestResolveSame mirrors spec.md scenario S2: a custom compat template
// that happens to resolve identically to the versioned name.
func TestResolveSame(t *testing.T) {
	res, err := Resolve(Input{
		Tool:       "tool",
		Version:    "v1.0.0",
		OS:         "linux",
		Arch:       "amd64",
		ArchiveExt: "tar.gz",
		CompatTmpl: "${name}-1.0.0-${os}-${arch}.${ext}",
	})
	require.NoError(t, err)
	assert.Equal(t, "tool-1.0.0-linux-amd64.tar.gz", res.Versioned)
	assert.Equal(t, "tool-1.0.0-linux-amd64.tar.gz", res.Compat)
	assert.True(t, res.Same)
}

func TestResolveTargetTriples(t *testing.T) {
	tmpl := "${name}-${version}-${target_triple}.${ext}"
	r1, err := Resolve(Input{
		Tool: "t", Version: "1.0.0", OS: "linux", Arch: "amd64",
		TargetTriple: "x86_64-unknown-linux-gnu", ArchiveExt: "tar.gz",
		VersionedTmpl: tmpl,
	})
	require.NoError(t, err)
	r2, err := Resolve(Input{
		Tool: "t", Version: "1.0.0", OS: "linux", Arch: "amd64",
		TargetTriple: "x86_64-unknown-linux-musl", ArchiveExt: "tar.gz",
		VersionedTmpl: tmpl,
	})
	require.NoError(t, err)
	assert.NotEqual(t, r1.Versioned, r2.Versioned)
}

func TestStripLeadingV(t *testing.T) {
	assert.Equal(t, "1.2.3", StripLeadingV("v1.2.3"))
	assert.Equal(t, "1.2.3", StripLeadingV("1.2.3"))
}

func TestParseRejectsUnknownVariable(t *testing.T) {
	_, err := Parse("${name}-${bogus}")
	assert.Error(t, err)
}

func TestValidateTemplatesVersionTokenMismatch(t *testing.T) {
	report, err := ValidateTemplates(
		"${name}-${version}-${os}-${arch}",
		"${name}-${os}-${arch}",
	)
	require.NoError(t, err)
	assert.Equal(t, "warning", report.Status)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, MismatchVersionToken, report.Mismatches[0].Kind)
}

func TestValidateTemplatesOK(t *testing.T) {
	// The default compat template has no ${version}, so the defaults alone
	// report a version_token_mismatch; a versioned compat template agrees.
	report, err := ValidateTemplates("", "${name}-${version}-${os}-${arch}.${ext}")
	require.NoError(t, err)
	assert.Equal(t, "ok", report.Status)
	assert.Empty(t, report.Mismatches)
}
