package envelope

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

func TestBuildAndValidateSuccess(t *testing.T) {
	env := Build("build", release.EnvelopeSuccess, 0, NewRunID(), time.Now().Add(-time.Second), "mytool", "1.0.0", map[string]string{"foo": "bar"})
	require.NoError(t, Validate(env))
	assert.GreaterOrEqual(t, env.DurationMS, int64(900))
}

func TestValidateRejectsBadStatus(t *testing.T) {
	env := release.Envelope{
		Command: "build", Status: "bogus", ExitCode: 0,
		RunID: "x", StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	err := Validate(env)
	assert.Error(t, err)
}

func TestValidateRejectsMissingRunID(t *testing.T) {
	env := release.Envelope{Command: "build", Status: "success", ExitCode: 0}
	err := Validate(env)
	assert.Error(t, err)
}

func TestEmitWritesValidJSON(t *testing.T) {
	env := Build("status", release.EnvelopeSuccess, 0, NewRunID(), time.Now(), "mytool", "1.0.0", nil)
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, env))

	var decoded release.Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "status", decoded.Command)
}

func TestNewRunIDIsUnique(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
}
