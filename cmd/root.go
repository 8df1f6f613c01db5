// Package cmd defines the k311 command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "k311",
	Short: "City of Kingston 311 question-answering service",
	Long: `k311 answers resident questions about City of Kingston services.

It routes each question to a pre-indexed knowledge base, to live official
city web pages, or to a canned response, and serves answers over a JSON
and server-sent-events HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
}
