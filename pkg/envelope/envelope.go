// Package envelope builds, schema-validates, and emits dsr's single stdout
// JSON object (spec.md §6). Every command produces exactly one Envelope;
// nothing else may write to stdout once a command has started.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/devtool-release/dsr/pkg/release"
)

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("envelope: parsing schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("https://dsr.dev/schemas/envelope.json", doc); err != nil {
			compileErr = fmt.Errorf("envelope: adding schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("https://dsr.dev/schemas/envelope.json")
	})
	return compiled, compileErr
}

// NewRunID generates a fresh run_id.
func NewRunID() string {
	return uuid.New().String()
}

// Build assembles an Envelope from a command's outcome.
func Build(command, status string, exitCode int, runID string, startedAt time.Time, tool, version string, details interface{}) release.Envelope {
	return release.Envelope{
		Command:    command,
		Status:     status,
		ExitCode:   exitCode,
		RunID:      runID,
		StartedAt:  startedAt.UTC().Format(time.RFC3339),
		DurationMS: time.Since(startedAt).Milliseconds(),
		Tool:       tool,
		Version:    version,
		Details:    details,
	}
}

// Validate schema-checks env before it is ever written to stdout.
func Validate(env release.Envelope) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("envelope: marshaling: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("envelope: normalizing: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("envelope: failed schema validation: %w", err)
	}
	return nil
}

// Emit validates env and writes it as a single compact, free-standing JSON
// object to w, followed by a trailing newline.
func Emit(w io.Writer, env release.Envelope) error {
	if err := Validate(env); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("envelope: encoding: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
