package httpbinding

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/wostzone/wost-session/pkg/keystore"
	"github.com/wostzone/wost-session/pkg/settings"
)

// DefaultTimeout of a single request
const DefaultTimeout = 30 * time.Second

// NewRestyClient creates a http client for the connection settings.
//
// With mutual TLS the client certificate and CA are loaded from the keystore.
// The first proxy of the settings is used. http(s) proxies are set on the client,
// socks5 proxies are dialed through golang.org/x/net/proxy.
func NewRestyClient(cs *settings.ConnectionSettings) (*resty.Client, error) {
	client := resty.New().
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	proxies := cs.Proxies()
	if len(proxies) > 0 {
		if len(proxies) > 1 {
			logrus.Infof("NewRestyClient: using proxy '%s' of %d", proxies[0].URL, len(proxies))
		}
		proxyURL, err := proxies[0].Parse()
		if err != nil {
			return nil, err
		}
		if proxyURL.Scheme == settings.ProxySchemeSOCKS5 {
			dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy '%s': %w", proxyURL.Host, err)
			}
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = contextDialer.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
			transport.Proxy = nil
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	client.SetTransport(transport)

	if cs.Encryption().Mode == settings.EncryptionMutualTLS {
		enc := cs.Encryption()
		tlsConfig, err := keystore.LoadTLSConfig(enc.KeystorePath, enc.KeystorePassword)
		if err != nil {
			return nil, err
		}
		client.SetTLSClientConfig(tlsConfig)
	}
	return client, nil
}

// BaseURL returns the URL of the server binding, eg https://host:port/session
func BaseURL(cs *settings.ConnectionSettings) string {
	scheme := "http"
	if cs.Encryption().Mode == settings.EncryptionMutualTLS {
		scheme = "https"
	}
	binding := cs.Binding()
	if binding == "" {
		binding = DefaultBinding
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cs.Address(), binding)
}
