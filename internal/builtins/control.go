// ABOUTME: Control pack: skip ends a heartbeat or cron turn without output.
// ABOUTME: Needs no capability.

package builtins

import (
	"context"
	"encoding/json"

	"github.com/2389/coven-toolhost/internal/packs"
)

// ControlPack creates the skip tool.
func ControlPack() *packs.BuiltinPack {
	return &packs.BuiltinPack{
		ID: "builtin:control",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:            "skip",
					Description:     "Signal that no action is needed this turn. Stops the block and suppresses output delivery.",
					InputSchemaJSON: `{"type":"object","properties":{},"additionalProperties":false}`,
				},
				Handler: func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
					if _, err := decodeInput[struct{}](input); err != nil {
						return nil, err
					}
					return nil, packs.ErrSkipTurn
				},
			},
		},
	}
}
