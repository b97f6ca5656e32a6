// ABOUTME: Outputs pack: write_output stores results under ~/outputs.
// ABOUTME: Requires the "workspace" capability.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/coven-toolhost/internal/outputs"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/sandbox"
)

// OutputsPack creates the write_output tool.
func OutputsPack(sb *sandbox.Sandbox, now func() time.Time) *packs.BuiltinPack {
	return &packs.BuiltinPack{
		ID: "builtin:outputs",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:                 "write_output",
					Description:          "Write markdown or json output under ~/outputs with date-prefixed collision-safe naming (YYYYMMDDHHMMSS-name.md, YYYYMMDDHHMMSS-name-1.md, ...). Returns the unique path where the file was written; always print it, since the path includes a timestamp.",
					InputSchemaJSON:      `{"type":"object","properties":{"name":{"type":"string","minLength":1,"description":"File name without extension"},"content":{"type":"string"},"format":{"type":"string","enum":["markdown","json"]}},"required":["name","content"],"additionalProperties":false}`,
					RequiredCapabilities: []string{CapWorkspace},
				},
				Handler: writeOutputHandler(sb, now),
			},
		},
	}
}

type writeOutputInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Format  string `json:"format"`
}

func writeOutputHandler(sb *sandbox.Sandbox, now func() time.Time) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[writeOutputInput](input)
		if err != nil {
			return nil, err
		}

		res, err := outputs.Write(ctx, sb, outputs.Request{Name: in.Name, Format: in.Format, Content: in.Content}, now())
		if err != nil {
			return nil, err
		}

		return json.Marshal(map[string]any{
			"summary": fmt.Sprintf("Wrote %d bytes to %s.", res.Bytes, res.Path),
			"action":  "write_output",
			"path":    res.Path,
			"bytes":   res.Bytes,
			"format":  res.Format,
		})
	}
}
