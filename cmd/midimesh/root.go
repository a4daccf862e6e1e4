package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "midimesh",
	Short: "midimesh - zero-configuration network MIDI mesh",
	Long: `midimesh turns every machine running it into a node on a
self-organizing MIDI-over-UDP mesh: local MIDI ports become addressable
from any other node on the same network, with no configuration beyond
starting the process.`,
}

func main() {
	rootCmd.AddCommand(nodeCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
