package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/outreachloop/rotor/internal/models"
)

// EngageResult reports how one engagement attempt resolved.
type EngageResult struct {
	// Outcome is a terminal action status describing what happened.
	Outcome models.ActionStatus `json:"outcome"`
	// Detail carries free-form context for the audit log.
	Detail string `json:"detail,omitempty"`
}

// Engager performs the external action for one scheduled target. The
// browser automation lives outside this process; implementations bridge
// to it. A returned error means the attempt itself broke (as opposed to
// resolving with a failed outcome).
type Engager interface {
	Engage(ctx context.Context, action models.ScheduledAction) (EngageResult, error)
}

// NoiseActor performs a low-stakes background action unrelated to any
// target, interleaved randomly between engagements.
type NoiseActor interface {
	PerformNoise(ctx context.Context) error
}

// DryRunEngager resolves every action as done without touching
// anything. Used for rehearsing a plan end to end.
type DryRunEngager struct{}

// Engage implements Engager.
func (DryRunEngager) Engage(_ context.Context, action models.ScheduledAction) (EngageResult, error) {
	slog.Info("DryRunEngager.Engage: simulated", "key", action.Key, "name", action.Name)
	return EngageResult{Outcome: models.ActionStatusDone, Detail: "dry_run"}, nil
}

// CommandEngager shells out to an external program for each action and
// reads an EngageResult as JSON from its stdout. The target key and
// name are passed as arguments after any configured base args.
type CommandEngager struct {
	// Command is the program to run.
	Command string
	// Args are prepended before the target key and name.
	Args []string
}

// Engage implements Engager by running the configured command.
func (c CommandEngager) Engage(ctx context.Context, action models.ScheduledAction) (EngageResult, error) {
	args := append(append([]string(nil), c.Args...), action.Key, action.Name)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		slog.Error("CommandEngager.Engage: command failed", "error", err, "key", action.Key)
		return EngageResult{}, fmt.Errorf("engage command failed: %w", err)
	}

	var res EngageResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		slog.Error("CommandEngager.Engage: bad result payload", "error", err, "key", action.Key)
		return EngageResult{}, fmt.Errorf("failed to decode engage result: %w", err)
	}
	if !res.Outcome.Terminal() {
		return EngageResult{}, fmt.Errorf("%w: %q", models.ErrInvalidOutcome, res.Outcome)
	}
	return res, nil
}
