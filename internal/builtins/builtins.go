// ABOUTME: Registration of every builtin pack plus shared input and output helpers.
// ABOUTME: Tool inputs are decoded strictly and every output carries a summary.

package builtins

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/2389/coven-toolhost/internal/memory"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/sandbox"
	"github.com/2389/coven-toolhost/internal/scheduler"
)

// Capabilities required by the builtin packs.
const (
	CapWorkspace = "workspace"
	CapExec      = "exec"
	CapMemory    = "memory"
	CapSchedule  = "schedule"
)

// Deps are the services the builtin tools run against.
type Deps struct {
	Sandbox *sandbox.Sandbox
	Memory  *memory.Service
	// Scheduler enables the schedule pack when set.
	Scheduler *scheduler.Scheduler
	// Now stamps output file names. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// RegisterAll registers every builtin pack with the registry.
func RegisterAll(registry *packs.Registry, deps Deps) error {
	if deps.Sandbox == nil {
		return errors.New("builtins: sandbox is required")
	}
	if deps.Memory == nil {
		return errors.New("builtins: memory service is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	all := []*packs.BuiltinPack{
		WorkspacePack(deps.Sandbox),
		ExecPack(deps.Sandbox),
		OutputsPack(deps.Sandbox, deps.Now),
		MemoryPack(deps.Memory),
		ControlPack(),
	}
	if deps.Scheduler != nil {
		all = append(all, SchedulePack(deps.Scheduler))
	}

	for _, pack := range all {
		if err := registry.RegisterBuiltinPack(pack); err != nil {
			return fmt.Errorf("registering %s: %w", pack.ID, err)
		}
	}
	return nil
}

// decodeInput unmarshals input into T, rejecting unknown fields and
// trailing data. Empty input decodes to the zero value.
func decodeInput[T any](input json.RawMessage) (T, error) {
	var in T
	if len(bytes.TrimSpace(input)) == 0 {
		return in, nil
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, fmt.Errorf("invalid input: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return in, errors.New("invalid input: unexpected data after JSON object")
	}
	return in, nil
}

// requireString fails when a required string argument is empty.
func requireString(name, value string) error {
	if value == "" {
		return fmt.Errorf("invalid input: %s is required", name)
	}
	return nil
}
