package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	procflow "github.com/drblury/procflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition-file>...",
	Short: "Validate definition files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		def, err := procflow.ParseDefinitionFile(path)
		if err != nil {
			failed++
			fmt.Printf("%s %s\n", failMark, path)
			printParseFailure(err)
			continue
		}
		fmt.Printf("%s %s: %s (%d nodes, %d flows)\n", okMark, path, def.ID, len(def.Nodes), len(def.Flows))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
	}
	return nil
}

// printParseFailure lists validation issues one per line; any other parse
// error is printed as-is.
func printParseFailure(err error) {
	var verr *procflow.ValidationError
	if errors.As(err, &verr) {
		for _, issue := range verr.Issues {
			fmt.Printf("    %s\n", color.YellowString(issue.String()))
		}
		return
	}
	fmt.Printf("    %s\n", err)
}
