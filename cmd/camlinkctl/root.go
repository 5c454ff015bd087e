package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	brokerURL  string
	instanceID string
	username   string
	password   string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "camlinkctl",
	Short: "Operator CLI for camlink agents",
	Long:  `Sends control commands to a running camlink agent over its MQTT control plane.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&brokerURL, "broker", "b", "tcp://localhost:1883", "MQTT broker URL")
	rootCmd.PersistentFlags().StringVarP(&instanceID, "instance", "i", "", "Target agent instance ID")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "MQTT username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "MQTT password")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Time to wait for the agent's response")
	rootCmd.MarkPersistentFlagRequired("instance")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
