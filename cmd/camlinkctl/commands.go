package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(setDurationCmd)
	rootCmd.AddCommand(shutdownCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long:  `Shows chunk progress, connectivity, and loop counters for the target agent.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCommand("get_status", nil)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause frame capture",
	Long:  `Pauses the capture loop on the target agent. No frames are captured and no chunks roll over until resume.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCommand("pause", nil)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume frame capture",
	Long:  `Resumes frame capture on a paused agent.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCommand("resume", nil)
	},
}

var setDurationCmd = &cobra.Command{
	Use:   "set-duration <milliseconds>",
	Short: "Change the chunk duration",
	Long:  `Changes the chunk window length on the target agent. Takes effect at the next rollover.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ms, err := strconv.ParseUint(args[0], 10, 32)
		cobra.CheckErr(err)
		runCommand("set_chunk_duration", map[string]interface{}{
			"duration_ms": float64(ms),
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Shut down the agent",
	Long:  `Asks the target agent to shut down gracefully.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCommand("shutdown", nil)
	},
}
