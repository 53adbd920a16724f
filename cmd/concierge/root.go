package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/ai-concierge/config"
)

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "Concierge routes conversational turns to device, navigation, media and QA agents",
	Long: `Concierge classifies each utterance on a conversation thread, hands it to one
child agent and replies with an aggregated answer. Configuration is read from
a YAML file and CONCIERGE_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringP("thread", "t", "cli", "Conversation thread id")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func threadFlag(cmd *cobra.Command) string {
	thread, _ := cmd.Flags().GetString("thread")
	return thread
}
