package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	procflow "github.com/drblury/procflow"
)

var (
	resumeTransport    string
	resumeEvents       bool
	resumeSnapshotPath string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <definition-file> <snapshot-file>",
	Short: "Resume a suspended instance from a snapshot",
	Long: `Resume restores the instance recorded in the snapshot against the given
definition and drives it on until it settles. The definition must be the one
the snapshot was taken from. Telemetry and engine settings come from the
config file and PROCFLOW_* environment variables.`,
	Args: cobra.ExactArgs(2),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&resumeTransport, "transport", "", "event transport backend (see the transports command)")
	resumeCmd.Flags().BoolVar(&resumeEvents, "events", false, "print the engine event stream while running")
	resumeCmd.Flags().StringVar(&resumeSnapshotPath, "snapshot", "", "write the final instance snapshot to this file")
}

func runResume(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if resumeTransport != "" {
		conf.Transport = resumeTransport
	}

	def, err := procflow.ParseDefinitionFile(args[0])
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	snap, err := procflow.DecodeSnapshot(data)
	if err != nil {
		return err
	}

	sess, err := newSession(cmd.Context(), conf, resumeEvents, resumeSnapshotPath != "")
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.engine.RegisterDefinition(def); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printerDone, err := sess.startEventPrinter(ctx)
	if err != nil {
		return err
	}

	handle, err := sess.engine.Resume(ctx, snap)
	if err != nil {
		return err
	}
	fmt.Printf("%s resuming instance %s\n", okMark, handle.ID())

	return sess.settle(handle, printerDone, resumeSnapshotPath)
}
