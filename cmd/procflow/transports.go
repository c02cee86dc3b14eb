package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drblury/procflow/transport"
)

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "List the registered event transport backends",
	Run:   runTransports,
}

func init() {
	rootCmd.AddCommand(transportsCmd)
}

func runTransports(cmd *cobra.Command, args []string) {
	for _, name := range transport.Names() {
		caps := transport.GetCapabilities(name)
		fmt.Printf("  %s %s\n", color.CyanString("%-12s", name), capabilitySummary(caps))
	}
}

func capabilitySummary(caps transport.Capabilities) string {
	var traits []string
	if caps.Durable {
		traits = append(traits, "durable")
	}
	if caps.Ordered {
		traits = append(traits, "ordered")
	}
	if caps.Broadcast {
		traits = append(traits, "broadcast")
	}
	if caps.ReliableDelivery() {
		traits = append(traits, "acked")
	}
	if len(traits) == 0 {
		return "best effort"
	}

	summary := traits[0]
	for _, trait := range traits[1:] {
		summary += ", " + trait
	}
	return summary
}
