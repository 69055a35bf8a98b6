package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wostzone/wost-session/pkg/config"
	"github.com/wostzone/wost-session/pkg/logging"
)

// Version of sessionctl
const Version = "0.1.0"

var (
	homeFolder string
	configFile string
	clientID   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Serve and log in to session servers",
	Long: `sessionctl runs a demo session server and logs in to session servers.

The client configuration is read from {home}/config/session.yaml unless --config is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.SetLogging(logLevel, "")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sessionctl", Version)
	},
}

// loadClientConfig loads the client configuration and switches logging to its log file
func loadClientConfig() (*config.ClientConfig, error) {
	clientConfig, err := config.LoadAllConfig(homeFolder, configFile, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := logLevel
	if !rootCmd.PersistentFlags().Changed("loglevel") {
		level = clientConfig.Loglevel
	}
	if err = logging.SetLogging(level, clientConfig.LogFile); err != nil {
		logrus.Warningf("Logging to '%s' failed: %s", clientConfig.LogFile, err)
	}
	return clientConfig, nil
}

// waitForSignal blocks until the process is interrupted
func waitForSignal() os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	return <-sigChan
}

func init() {
	hostname, _ := os.Hostname()
	rootCmd.PersistentFlags().StringVarP(&homeFolder, "home", "a", "", "Application home folder with the config, certs and log folders")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Client configuration file")
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "sessionctl-"+hostname, "Client instance ID")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Logging level: debug, info, warning, error")
	rootCmd.AddCommand(versionCmd)
}
