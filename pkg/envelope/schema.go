package envelope

// schemaJSON is the JSON Schema every envelope is validated against before
// being written to stdout (spec.md §6). Compiling it once from an embedded
// resource, rather than trusting a hand-rolled struct, is the same
// belt-and-suspenders approach githubnext-gh-aw/strawgate-gh-aw take with
// their own workflow frontmatter schemas.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://dsr.dev/schemas/envelope.json",
  "type": "object",
  "required": ["command", "status", "exit_code", "run_id", "started_at", "duration_ms"],
  "properties": {
    "command":     {"type": "string", "minLength": 1},
    "status":      {"type": "string", "enum": ["success", "partial", "error"]},
    "exit_code":   {"type": "integer", "minimum": 0},
    "run_id":      {"type": "string", "minLength": 1},
    "started_at":  {"type": "string", "minLength": 1},
    "duration_ms": {"type": "integer", "minimum": 0},
    "tool":        {"type": "string"},
    "version":     {"type": "string"},
    "details":     {}
  },
  "additionalProperties": false
}`
