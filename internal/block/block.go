// ABOUTME: Execution block model and parsing from YAML or JSON
// ABOUTME: A block is an ordered list of tool calls with optional templated arguments

package block

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidBlock indicates a block failed to parse or validate.
var ErrInvalidBlock = errors.New("invalid block")

// Block is one independent execution unit. Nothing computed in a block is
// visible to any other block.
type Block struct {
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	Calls []Call `yaml:"calls" json:"calls"`
}

// Call is one tool invocation inside a block.
type Call struct {
	// ID names the call's result for later templates. Defaults to "call<N>".
	ID   string         `yaml:"id,omitempty" json:"id,omitempty"`
	Tool string         `yaml:"tool" json:"tool"`
	Args map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	// If is a template; the call runs only when it renders to "true".
	If string `yaml:"if,omitempty" json:"if,omitempty"`
	// Print is a template rendered after the call and added to the print output.
	Print           string `yaml:"print,omitempty" json:"print,omitempty"`
	ContinueOnError bool   `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
}

// Parse decodes a block from YAML or JSON and validates it. Unknown keys
// are rejected.
func Parse(data []byte) (*Block, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidBlock)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Block
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: multiple documents", ErrInvalidBlock)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// SourceFromJSON extracts block source from a JSON value that is either a
// string holding YAML or JSON, or an inline block object.
func SourceFromJSON(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: block is required", ErrInvalidBlock)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidBlock, err)
		}
		return s, nil
	}
	return string(raw), nil
}

// Validate fills default call ids and checks the block is runnable.
func (b *Block) Validate() error {
	if len(b.Calls) == 0 {
		return fmt.Errorf("%w: no calls", ErrInvalidBlock)
	}

	seen := make(map[string]bool, len(b.Calls))
	for i := range b.Calls {
		c := &b.Calls[i]
		c.Tool = strings.TrimSpace(c.Tool)
		if c.Tool == "" {
			return fmt.Errorf("%w: call %d has no tool", ErrInvalidBlock, i+1)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("call%d", i+1)
		}
		if !validID(c.ID) {
			return fmt.Errorf("%w: call id %q must be letters, digits or underscores", ErrInvalidBlock, c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate call id %q", ErrInvalidBlock, c.ID)
		}
		seen[c.ID] = true

		for _, src := range []string{c.If, c.Print} {
			if src == "" {
				continue
			}
			if _, err := newTemplate(src); err != nil {
				return fmt.Errorf("%w: call %s: %v", ErrInvalidBlock, c.ID, err)
			}
		}
	}
	return nil
}

// validID keeps ids usable as template field names.
func validID(id string) bool {
	for i, r := range id {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return id != ""
}
