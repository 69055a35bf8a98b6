package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/config"
	"github.com/wostzone/wost-session/pkg/httpbinding"
	"github.com/wostzone/wost-session/pkg/login"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/mqttbinding"
	"github.com/wostzone/wost-session/pkg/profile"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
)

var (
	loginUser     string
	loginPassword string
	metricsAddr   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a session server",
	Long: `Log in to the configured session server and stay logged in until interrupted.

The password is asked for when --password is not given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		clientConfig, err := loadClientConfig()
		if err != nil {
			return err
		}
		ui := NewConsoleUI(os.Stdin, os.Stdout)
		m := newMetrics()
		registry := newRegistry(m)
		info, err := createLoginInfo(clientConfig, ui)
		if err != nil {
			return err
		}
		comm := registry.Lookup(transportID(info.ConnectionSettings(), settings.KindStateful))
		if comm == nil {
			return fmt.Errorf("protocol '%s' does not support logging in", clientConfig.Protocol)
		}
		profiles, err := profile.NewStore(clientConfig.ProfileFile)
		if err != nil {
			return err
		}
		orc := login.NewOrchestrator(comm, info, ui.Collaborators(), profiles, clientConfig.ProfileName, nil, m)
		orc.Status().AddListener(func(from session.ClientStatus, to session.ClientStatus) {
			logrus.Infof("Client status %s -> %s", from, to)
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(clientConfig.Timeout)*time.Second*4)
		err = orc.Login(ctx)
		cancel()
		if err != nil {
			return err
		}
		fmt.Println("Logged in. Services:", orc.Services().GetNames())
		waitForSignal()
		orc.Logout(context.Background())
		return nil
	},
}

// newMetrics registers the client metrics and serves them when --metrics is given
func newMetrics() *metrics.Metrics {
	if metricsAddr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logrus.Errorf("metrics server stopped: %s", err)
		}
	}()
	return m
}

// newRegistry returns the registry with the http and mqtt communications
func newRegistry(m *metrics.Metrics) *communication.Registry {
	registry := communication.NewRegistry()
	httpbinding.NewCommunication(m).Register(registry, httpbinding.DefaultBinding)
	mqttbinding.NewCommunication(m).Register(registry, mqttbinding.DefaultBinding)
	return registry
}

// transportID of the connection settings. Communications are registered under the default binding.
func transportID(cs *settings.ConnectionSettings, kind settings.SessionKind) settings.TransportID {
	return settings.TransportID{Protocol: cs.Protocol(), Kind: kind, Name: httpbinding.DefaultBinding}
}

// createLoginInfo builds the login info from the configuration, asking for missing credentials
func createLoginInfo(clientConfig *config.ClientConfig, ui *ConsoleUI) (*session.LoginInfo, error) {
	cs, err := clientConfig.ConnectionSettings()
	if err != nil {
		return nil, err
	}
	user := loginUser
	if user == "" {
		user = clientConfig.LoginName
	}
	if user == "" {
		if user, err = ui.ReadLine("User: "); err != nil {
			return nil, err
		}
	}
	password := loginPassword
	if password == "" {
		if password, err = ui.ReadLine("Password: "); err != nil {
			return nil, err
		}
	}
	identity := session.ClientIdentity{
		ID:         clientID,
		Name:       "sessionctl",
		Version:    Version,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		Deployment: session.DeploymentOffline,
	}
	return session.CreateLoginInfo(identity, session.ContextSelection{},
		session.NewPasswordEntry(user, password), cs, "")
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, invokeCmd} {
		cmd.Flags().StringVarP(&loginUser, "user", "u", "", "Login name. Default is the configured loginName")
		cmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password")
		cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve prometheus metrics on this address, eg :9100")
		rootCmd.AddCommand(cmd)
	}
}
