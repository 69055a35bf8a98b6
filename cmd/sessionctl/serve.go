package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wostzone/wost-session/pkg/discovery"
	"github.com/wostzone/wost-session/pkg/httpbinding"
	"github.com/wostzone/wost-session/pkg/keystore"
	"github.com/wostzone/wost-session/pkg/mqttbinding"
	"github.com/wostzone/wost-session/pkg/remoteserver"
)

var (
	serveAddress   string
	serveBinding   string
	serveBroker    string
	serveDiscovery string
	serveKeystore  string
	servePassword  string
	serveOrigins   []string

	serveSecretValidity time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo session server",
	Long: `Run the demo session server in the foreground.

The demo server has the users alice and bob, an echo and a clock service.
Requests are served over http, and over mqtt when --broker is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := remoteserver.NewDemoServer(serveSecretValidity)
		tlsConfig, err := serverTLS()
		if err != nil {
			return err
		}

		server := httpbinding.NewServer(backend, serveBinding, serveOrigins)
		if err = server.Start(serveAddress, tlsConfig); err != nil {
			return err
		}
		defer server.Stop()
		fmt.Println("Serving", server.BaseURL())

		if serveBroker != "" {
			responder := mqttbinding.NewResponder(backend, serveBinding)
			if err = responder.Start(serveBroker, tlsConfig); err != nil {
				return err
			}
			defer responder.Stop()
			fmt.Println("Answering requests on", mqttbinding.RequestTopic(serveBinding))
		}

		if serveDiscovery != "" {
			host, port, err := listenHostPort(server.BaseURL())
			if err != nil {
				return err
			}
			disco, err := discovery.AnnounceServer(uuid.NewString(), serveDiscovery, host, port,
				map[string]string{discovery.ParamBinding: server.Binding()})
			if err != nil {
				return err
			}
			defer disco.Shutdown()
		}

		sig := waitForSignal()
		logrus.Infof("Received signal %v, shutting down", sig)
		return nil
	},
}

// serverTLS loads the server certificate from the keystore, nil without keystore
func serverTLS() (*tls.Config, error) {
	if serveKeystore == "" {
		return nil, nil
	}
	return keystore.LoadServerTLSConfig(serveKeystore, servePassword)
}

// listenHostPort returns the host and port the server listens on.
// An unspecified listen address is replaced by the outbound address.
func listenHostPort(baseURL string) (string, int, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, err
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = discovery.GetOutboundIP()
	}
	return host, port, nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", ":9443", "Address to listen on")
	serveCmd.Flags().StringVar(&serveBinding, "binding", httpbinding.DefaultBinding, "Binding name")
	serveCmd.Flags().StringVar(&serveBroker, "broker", "", "MQTT broker URL to answer stateless requests on, eg tcp://localhost:1883")
	serveCmd.Flags().StringVar(&serveDiscovery, "discovery", "", "Publish the server for discovery under this service name")
	serveCmd.Flags().StringVar(&serveKeystore, "keystore", "", "Keystore with the server certificate. Requires client certificates.")
	serveCmd.Flags().StringVar(&servePassword, "keystore-password", "", "Password of the keystore")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "Allowed CORS origins. Default allows all.")
	serveCmd.Flags().DurationVar(&serveSecretValidity, "secret-validity", remoteserver.DefaultSecretValidity, "Validity of the one-time login secrets")
	rootCmd.AddCommand(serveCmd)
}
