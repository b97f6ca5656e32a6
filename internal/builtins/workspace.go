// ABOUTME: Workspace pack: read, read_json, write, edit, ls, grep and find.
// ABOUTME: Requires the "workspace" capability.

package builtins

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/sandbox"
)

// WorkspacePack creates the file tools backed by the sandbox.
func WorkspacePack(sb *sandbox.Sandbox) *packs.BuiltinPack {
	w := &workspaceHandlers{sb: sb}
	caps := []string{CapWorkspace}
	return &packs.BuiltinPack{
		ID: "builtin:workspace",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:                 "read",
					Description:          fmt.Sprintf("Read file contents (text or images). Supports relative and absolute paths and offset/limit pagination. Output stops at %d lines or %dKB, whichever comes first.", sandbox.ReadMaxLines, sandbox.ReadMaxBytes/1024),
					InputSchemaJSON:      `{"type":"object","properties":{"path":{"type":"string","minLength":1},"offset":{"type":"integer","minimum":1},"limit":{"type":"integer","minimum":1}},"required":["path"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.Read,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "read_json",
					Description:          "Read and parse JSON from a file. Supports relative and absolute paths plus offset/limit pagination before parsing.",
					InputSchemaJSON:      `{"type":"object","properties":{"path":{"type":"string","minLength":1},"offset":{"type":"integer","minimum":1},"limit":{"type":"integer","minimum":1}},"required":["path"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.ReadJSON,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "write",
					Description:          "Write UTF-8 text to a file in the home or an allowed write directory. Creates parent directories as needed. Paths must be absolute or start with ~.",
					InputSchemaJSON:      `{"type":"object","properties":{"path":{"type":"string","minLength":1},"content":{"type":"string"},"append":{"type":"boolean"}},"required":["path","content"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.Write,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "edit",
					Description:          "Apply one or more find/replace edits to a file. Edits are applied in order and each must match at least once. Paths must be absolute or start with ~.",
					InputSchemaJSON:      `{"type":"object","properties":{"path":{"type":"string","minLength":1},"edits":{"type":"array","minItems":1,"items":{"type":"object","properties":{"search":{"type":"string","minLength":1},"replace":{"type":"string"},"replaceAll":{"type":"boolean"}},"required":["search","replace"],"additionalProperties":false}}},"required":["path","edits"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.Edit,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "ls",
					Description:          "List directory entries with their type, sorted by name.",
					InputSchemaJSON:      `{"type":"object","properties":{"path":{"type":"string"},"limit":{"type":"integer","minimum":1,"maximum":5000}},"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.List,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "grep",
					Description:          "Search file contents with a regular expression and return matches as file:line:content rows. Supports glob filters, case-insensitive mode, and context lines.",
					InputSchemaJSON:      `{"type":"object","properties":{"pattern":{"type":"string","minLength":1},"path":{"type":"string"},"glob":{"type":"string"},"ignoreCase":{"type":"boolean"},"context":{"type":"integer","minimum":0,"maximum":10},"limit":{"type":"integer","minimum":1,"maximum":500}},"required":["pattern"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.Grep,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "find",
					Description:          "Find files and directories by glob pattern. Patterns without / match the base name.",
					InputSchemaJSON:      `{"type":"object","properties":{"pattern":{"type":"string","minLength":1},"path":{"type":"string"},"limit":{"type":"integer","minimum":1,"maximum":5000}},"required":["pattern"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: w.Find,
			},
		},
	}
}

type workspaceHandlers struct {
	sb *sandbox.Sandbox
}

type readInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type readOutput struct {
	Summary    string `json:"summary"`
	Action     string `json:"action"`
	Type       string `json:"type"`
	Path       string `json:"path"`
	Bytes      int64  `json:"bytes"`
	Content    string `json:"content"`
	Truncated  bool   `json:"truncated"`
	StartLine  int    `json:"startLine,omitempty"`
	EndLine    int    `json:"endLine,omitempty"`
	TotalLines int    `json:"totalLines,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	Data       string `json:"data,omitempty"`
}

func (w *workspaceHandlers) Read(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[readInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("path", in.Path); err != nil {
		return nil, err
	}

	res, err := w.sb.Read(ctx, sandbox.ReadArgs{Path: in.Path, Offset: in.Offset, Limit: in.Limit})
	if err != nil {
		return nil, err
	}

	out := readOutput{
		Summary:    res.Content,
		Action:     "read",
		Type:       res.Type,
		Path:       res.DisplayPath,
		Bytes:      res.Size,
		Content:    res.Content,
		Truncated:  res.Truncated,
		StartLine:  res.StartLine,
		EndLine:    res.EndLine,
		TotalLines: res.TotalLines,
	}
	if res.Type == sandbox.ResultImage {
		out.Summary = fmt.Sprintf("Read image file: %s [%s]", res.DisplayPath, res.MimeType)
		out.Content = out.Summary
		out.MimeType = res.MimeType
		out.Data = base64.StdEncoding.EncodeToString(res.Data)
	}
	return json.Marshal(out)
}

func (w *workspaceHandlers) ReadJSON(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[readInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("path", in.Path); err != nil {
		return nil, err
	}

	res, err := w.sb.Read(ctx, sandbox.ReadArgs{Path: in.Path, Offset: in.Offset, Limit: in.Limit, Raw: true})
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal([]byte(res.Content), &value); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", res.DisplayPath, err)
	}

	return json.Marshal(map[string]any{
		"summary": fmt.Sprintf("Read JSON from %s.", res.DisplayPath),
		"action":  "read_json",
		"path":    res.DisplayPath,
		"bytes":   res.Size,
		"value":   value,
	})
}

type writeInput struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
	Append  bool    `json:"append"`
}

func (w *workspaceHandlers) Write(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[writeInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("path", in.Path); err != nil {
		return nil, err
	}
	if in.Content == nil {
		return nil, fmt.Errorf("invalid input: content is required")
	}

	res, err := w.sb.Write(ctx, sandbox.WriteArgs{Path: in.Path, Content: []byte(*in.Content), Append: in.Append})
	if err != nil {
		return nil, err
	}

	verb := "Wrote"
	if res.Appended {
		verb = "Appended"
	}
	return json.Marshal(map[string]any{
		"summary": fmt.Sprintf("%s %d bytes to %s.", verb, res.Bytes, res.SandboxPath),
		"action":  "write",
		"path":    res.SandboxPath,
		"bytes":   res.Bytes,
		"append":  res.Appended,
	})
}

type editSpec struct {
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll bool   `json:"replaceAll"`
}

type editInput struct {
	Path  string     `json:"path"`
	Edits []editSpec `json:"edits"`
}

func (w *workspaceHandlers) Edit(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[editInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("path", in.Path); err != nil {
		return nil, err
	}
	if len(in.Edits) == 0 {
		return nil, fmt.Errorf("invalid input: edits must not be empty")
	}

	res, err := w.sb.Read(ctx, sandbox.ReadArgs{Path: in.Path, Raw: true})
	if err != nil {
		return nil, err
	}

	updated := res.Content
	counts := make([]int, 0, len(in.Edits))
	for i, e := range in.Edits {
		if e.Search == "" {
			return nil, fmt.Errorf("invalid input: edit %d has an empty search", i+1)
		}
		next, count := applyEdit(updated, e)
		if count == 0 {
			preview := e.Search
			if len(preview) > 80 {
				preview = preview[:77] + "..."
			}
			return nil, fmt.Errorf("edit not applied: %q not found", preview)
		}
		counts = append(counts, count)
		updated = next
	}

	if _, err := w.sb.Write(ctx, sandbox.WriteArgs{Path: in.Path, Content: []byte(updated)}); err != nil {
		return nil, err
	}

	parts := make([]string, len(counts))
	for i, c := range counts {
		plural := "s"
		if c == 1 {
			plural = ""
		}
		parts[i] = fmt.Sprintf("edit %d: %d replacement%s", i+1, c, plural)
	}
	return json.Marshal(map[string]any{
		"summary": fmt.Sprintf("Updated %s (%s).", res.DisplayPath, strings.Join(parts, ", ")),
		"action":  "edit",
		"path":    res.DisplayPath,
		"edits":   counts,
	})
}

// applyEdit replaces the first occurrence of the search text, or all of
// them with ReplaceAll, and reports how many were replaced.
func applyEdit(content string, e editSpec) (string, int) {
	if e.ReplaceAll {
		n := strings.Count(content, e.Search)
		return strings.ReplaceAll(content, e.Search, e.Replace), n
	}
	if !strings.Contains(content, e.Search) {
		return content, 0
	}
	return strings.Replace(content, e.Search, e.Replace, 1), 1
}

type listInput struct {
	Path  string `json:"path"`
	Limit int    `json:"limit"`
}

func (w *workspaceHandlers) List(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[listInput](input)
	if err != nil {
		return nil, err
	}

	res, err := w.sb.List(ctx, sandbox.ListArgs{Path: in.Path, Limit: in.Limit})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for i, e := range res.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Name)
		if e.Type == sandbox.EntryDir {
			b.WriteByte('/')
		}
	}
	switch {
	case len(res.Entries) == 0:
		b.WriteString("Directory is empty.")
	case res.Truncated:
		fmt.Fprintf(&b, "\n\n[Showing %d of %d entries. Raise limit to see more.]", len(res.Entries), res.Total)
	}

	entries := res.Entries
	if entries == nil {
		entries = []sandbox.Entry{}
	}
	return json.Marshal(map[string]any{
		"summary":   b.String(),
		"action":    "ls",
		"path":      res.DisplayPath,
		"entries":   entries,
		"count":     len(entries),
		"total":     res.Total,
		"truncated": res.Truncated,
	})
}

type grepInput struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	Glob       string `json:"glob"`
	IgnoreCase bool   `json:"ignoreCase"`
	Context    int    `json:"context"`
	Limit      int    `json:"limit"`
}

func (w *workspaceHandlers) Grep(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[grepInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("pattern", in.Pattern); err != nil {
		return nil, err
	}

	res, err := w.sb.Grep(ctx, sandbox.GrepArgs{
		Pattern:    in.Pattern,
		Path:       in.Path,
		Glob:       in.Glob,
		IgnoreCase: in.IgnoreCase,
		Context:    in.Context,
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"summary":      res.Output,
		"action":       "grep",
		"count":        res.Matches,
		"files":        res.Files,
		"truncated":    res.Truncated,
		"limitReached": res.LimitReached,
	})
}

type findInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Limit   int    `json:"limit"`
}

func (w *workspaceHandlers) Find(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[findInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("pattern", in.Pattern); err != nil {
		return nil, err
	}

	res, err := w.sb.Find(ctx, sandbox.FindArgs{Pattern: in.Pattern, Path: in.Path, Limit: in.Limit})
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"summary":      res.Output,
		"action":       "find",
		"count":        res.Count,
		"truncated":    res.Truncated,
		"limitReached": res.LimitReached,
	})
}
