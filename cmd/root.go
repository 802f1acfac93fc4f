// Package cmd is for command line interactions with the introgress
// application
package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var settingsFile string

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use: "introgress",
	Short: `Detect introgressed genomic segments in aligned multi-species sequence data.
Each strain and chromosome is decoded with a hidden Markov model trained on
match patterns against the reference species`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "path to the YAML settings file")
}

// initConfig points viper at the settings file (or ./settings.yaml when
// none is given). A missing file is fine if the flags cover everything.
func initConfig() {
	if settingsFile != "" {
		viper.SetConfigFile(settingsFile)
	} else {
		viper.SetConfigName("settings")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.ReadInConfig()
}
