package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const noteInputSchemaURL = "https://notesync.local/schemas/note-input.json"

const noteInputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "content"],
  "properties": {
    "title": {"type": "string"},
    "content": {"type": "string"}
  }
}`

var (
	noteInputSchemaOnce     sync.Once
	noteInputSchemaCompiled *jsonschema.Schema
	noteInputSchemaErr      error
)

func compiledNoteInputSchema() (*jsonschema.Schema, error) {
	noteInputSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(noteInputSchema)))
		if err != nil {
			noteInputSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(noteInputSchemaURL, doc); err != nil {
			noteInputSchemaErr = err
			return
		}
		noteInputSchemaCompiled, noteInputSchemaErr = compiler.Compile(noteInputSchemaURL)
	})
	return noteInputSchemaCompiled, noteInputSchemaErr
}

// DecodeInput validates a create/update body and decodes it. Unparseable
// JSON, absent fields and non-string fields all report ErrValidation.
func DecodeInput(body []byte) (NoteInput, error) {
	schema, err := compiledNoteInputSchema()
	if err != nil {
		return NoteInput{}, fmt.Errorf("compile note input schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return NoteInput{}, ErrValidation
	}
	if err := schema.Validate(inst); err != nil {
		return NoteInput{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var in NoteInput
	if err := json.Unmarshal(body, &in); err != nil {
		return NoteInput{}, ErrValidation
	}
	if err := in.Validate(); err != nil {
		return NoteInput{}, err
	}
	return in, nil
}
