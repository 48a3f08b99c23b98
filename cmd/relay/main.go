package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/pitchrelay/cmd/relay/ask"
	servecmder "github.com/papercomputeco/pitchrelay/cmd/relay/serve"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Pitch feedback relay for chat-completion APIs",
		Long:         "relay forwards presentation text or outlines to a chat-completion API and returns its feedback.",
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(askcmder.NewAskCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
