package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kitchensync",
	Short: "KitchenSync keeps multi-device playback in lockstep",
	Long: `KitchenSync coordinates synchronized playback across devices on a LAN.
One leader broadcasts the session clock and the cue schedule; any number of
collaborators follow that clock to keep their media and timed cues in step.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
