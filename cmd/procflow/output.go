package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	procflow "github.com/drblury/procflow"
)

var (
	okMark   = color.GreenString("✓")
	failMark = color.RedString("✗")
)

func statusString(status procflow.InstanceStatus) string {
	switch status {
	case procflow.InstanceCompleted:
		return color.GreenString(string(status))
	case procflow.InstanceFailed:
		return color.RedString(string(status))
	case procflow.InstanceCancelled:
		return color.YellowString(string(status))
	default:
		return color.CyanString(string(status))
	}
}

// stateCell pads before colouring so the ANSI escapes do not break the column
// alignment.
func stateCell(state procflow.TaskState) string {
	padded := fmt.Sprintf("%-10s", string(state))
	switch state {
	case procflow.TaskCompleted:
		return color.GreenString(padded)
	case procflow.TaskFailed:
		return color.RedString(padded)
	case procflow.TaskCancelled:
		return color.YellowString(padded)
	case procflow.TaskReady, procflow.TaskRunning:
		return color.CyanString(padded)
	default:
		return padded
	}
}

func recordDuration(rec procflow.TaskRecord) string {
	if rec.StartedAt.IsZero() || rec.EndedAt.IsZero() {
		return "-"
	}
	return rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond).String()
}

func printInstance(in *procflow.Instance) {
	fmt.Printf("\ninstance %s (%s): %s\n", in.ID(), in.DefinitionID(), statusString(in.Status()))
	if err := in.LastErr(); err != nil {
		fmt.Printf("  error: %s\n", color.RedString(err.Error()))
	}

	records := in.Records()
	if len(records) == 0 {
		return
	}
	fmt.Printf("\n  %-24s %-10s %s\n", "node", "state", "duration")
	for _, rec := range records {
		fmt.Printf("  %-24s %s %s\n", rec.NodeID, stateCell(rec.State), recordDuration(rec))
	}
}

func printDataContext(data map[string]any) {
	if len(data) == 0 {
		return
	}
	encoded, err := procflow.MarshalIndent(data, "  ", "  ")
	if err != nil {
		return
	}
	fmt.Printf("\n  data context:\n  %s\n", encoded)
}

// report prints the settled instance and writes the snapshot when requested.
// Suspension is a planned stop, so it reports success; every other non-nil
// wait error propagates and fails the command.
func report(handle *procflow.InstanceHandle, waitErr error, snapshotPath string) error {
	in := handle.Instance()
	printInstance(in)
	printDataContext(in.DataContext())

	if snapshotPath != "" {
		if err := writeSnapshot(handle, snapshotPath); err != nil {
			return err
		}
	}

	if errors.Is(waitErr, procflow.ErrSuspended) {
		fmt.Printf("\n%s instance suspended, resume it from the snapshot\n", color.YellowString("●"))
		return nil
	}
	return waitErr
}

// writeSnapshot persists the terminal snapshot, falling back to a live one for
// suspended instances where no terminal snapshot exists.
func writeSnapshot(handle *procflow.InstanceHandle, path string) error {
	snap, ok := handle.FinalSnapshot()
	if !ok {
		snap = handle.Instance().Snapshot()
	}
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	fmt.Printf("\n%s snapshot written to %s\n", okMark, path)
	return nil
}
