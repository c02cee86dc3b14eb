package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List the built-in demo handlers",
	Run:   runHandlers,
}

func init() {
	rootCmd.AddCommand(handlersCmd)
}

func runHandlers(cmd *cobra.Command, args []string) {
	reg := demoRegistry()
	for _, ref := range reg.Refs() {
		fmt.Printf("  %s %s\n", color.CyanString("%-12s", ref), demoDescriptions[ref])
	}
}
