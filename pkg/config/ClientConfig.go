// Package config with the client configuration struct and methods
package config

import (
	"errors"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/wostzone/wost-session/pkg/settings"
)

// DefaultClientConfigName with the configuration file name of the client
const DefaultClientConfigName = "session.yaml"

// DefaultCertsFolder with the location of the keystore
const DefaultCertsFolder = "./certs"

// DefaultConfigFolder is the location of config files wrt installation folder
const DefaultConfigFolder = "./config"

// DefaultLogFolder is the location of log files wrt installation folder
const DefaultLogFolder = "./log"

// DefaultProfileFile is the name of the login profile store in the config folder
const DefaultProfileFile = "profiles.yaml"

// Connection defaults
const (
	DefaultProtocol = "http"
	DefaultPort     = 8443
	// DefaultTimeout in seconds for a single remote call
	DefaultTimeout = 10
)

// ClientConfig contains the configuration of a client that logs in to a session server.
// The connection part is turned into immutable ConnectionSettings with ConnectionSettings().
type ClientConfig struct {
	// Protocol of the communication, "http" or "mqtt". Default is DefaultProtocol
	Protocol string `yaml:"protocol"`
	// Address of the server or mqtt broker. "" to discover it using DiscoveryService.
	Address string `yaml:"address,omitempty"`
	// Port of the server. Default is DefaultPort
	Port int `yaml:"port,omitempty"`
	// Binding name the server offers its services under. Default is the protocol default.
	Binding string `yaml:"binding,omitempty"`
	// DiscoveryService is the DNS-SD service name used when no address is configured
	DiscoveryService string `yaml:"discoveryService,omitempty"`
	// Proxies to connect through. Only the first is used.
	Proxies []settings.ProxySettings `yaml:"proxies,omitempty"`
	// Timeout of remote calls in seconds. Default is DefaultTimeout
	Timeout int `yaml:"timeout,omitempty"`

	// KeystoreFile with the client certificate for mutual TLS. "" for no client certificate.
	// Relative paths are relative to the certs folder.
	KeystoreFile string `yaml:"keystoreFile,omitempty"`
	// KeystorePassword unlocks the keystore
	KeystorePassword string `yaml:"keystorePassword,omitempty"`

	// LoginName to prefill the login dialog with
	LoginName string `yaml:"loginName,omitempty"`
	// ProfileName of the login profile to use. Default is the clientID.
	ProfileName string `yaml:"profileName,omitempty"`
	// ProfileFile with the login profiles. Default is {configFolder}/profiles.yaml
	ProfileFile string `yaml:"profileFile,omitempty"`

	// Files and Folders
	Loglevel     string `yaml:"logLevel"`     // debug, info, warning, error. Default is warning
	LogFolder    string `yaml:"logFolder"`    // location of log files
	LogFile      string `yaml:"logFile"`      // log filename is clientID.log
	HomeFolder   string `yaml:"homeFolder"`   // Folder containing the application installation
	CertsFolder  string `yaml:"certsFolder"`  // Folder containing the keystore, default is {homeFolder}/certs
	ConfigFolder string `yaml:"configFolder"` // Folder with configuration files, default is {homeFolder}/config
}

// ConnectionSettings returns the settings for connecting to the configured server
func (clientConfig *ClientConfig) ConnectionSettings() (*settings.ConnectionSettings, error) {
	opts := make([]settings.Option, 0)
	if clientConfig.Binding != "" {
		opts = append(opts, settings.WithBinding(clientConfig.Binding))
	}
	if len(clientConfig.Proxies) > 0 {
		opts = append(opts, settings.WithProxies(clientConfig.Proxies...))
	}
	if clientConfig.KeystoreFile != "" {
		opts = append(opts, settings.WithMutualTLS(clientConfig.KeystoreFile, clientConfig.KeystorePassword))
	}
	if clientConfig.Address == "" {
		opts = append(opts, settings.WithDiscovery(clientConfig.DiscoveryService))
	}
	return settings.CreateConnectionSettings(clientConfig.Protocol, clientConfig.Address, clientConfig.Port, opts...)
}

// substituteMap returns the variables that can be used in configuration files
func (clientConfig *ClientConfig) substituteMap(clientID string) map[string]string {
	substituteMap := make(map[string]string)
	substituteMap["{clientID}"] = clientID
	substituteMap["{homeFolder}"] = clientConfig.HomeFolder
	substituteMap["{configFolder}"] = clientConfig.ConfigFolder
	substituteMap["{logFolder}"] = clientConfig.LogFolder
	substituteMap["{certsFolder}"] = clientConfig.CertsFolder
	return substituteMap
}

// Load loads and validates the configuration from file.
//
// The following variables can be used in this file:
//    {clientID}  is the client instance ID. Used for logfile and profile name
//    {homeFolder} is the default application folder (parent of application binary)
//    {certsFolder} is the default certificate folder
//    {configFolder} is the default configuration folder
//    {logFolder} is the default logging folder
//
//  configFile is optional. The default is session.yaml in the default config folder.
//  clientID is the client instance ID.
func (clientConfig *ClientConfig) Load(configFile string, clientID string) error {
	// make sure the config file path is absolute
	if configFile == "" {
		configFile = path.Join(clientConfig.ConfigFolder, DefaultClientConfigName)
	} else if !path.IsAbs(configFile) {
		configFile = path.Join(clientConfig.ConfigFolder, configFile)
	}

	logrus.Infof("Using %s as client config file", configFile)
	err := LoadYamlConfig(configFile, clientConfig, clientConfig.substituteMap(clientID))
	if err != nil {
		return err
	}
	clientConfig.applyDefaults(clientID)
	return clientConfig.Validate()
}

// applyDefaults makes files and folders absolute and fills in missing defaults
func (clientConfig *ClientConfig) applyDefaults(clientID string) {
	if !path.IsAbs(clientConfig.CertsFolder) {
		clientConfig.CertsFolder = path.Join(clientConfig.HomeFolder, clientConfig.CertsFolder)
	}
	if !path.IsAbs(clientConfig.LogFolder) {
		clientConfig.LogFolder = path.Join(clientConfig.HomeFolder, clientConfig.LogFolder)
	}
	if !path.IsAbs(clientConfig.ConfigFolder) {
		clientConfig.ConfigFolder = path.Join(clientConfig.HomeFolder, clientConfig.ConfigFolder)
	}

	if clientConfig.LogFile == "" {
		clientConfig.LogFile = path.Join(clientConfig.LogFolder, clientID+".log")
	} else if !path.IsAbs(clientConfig.LogFile) {
		clientConfig.LogFile = path.Join(clientConfig.LogFolder, clientConfig.LogFile)
	}
	if clientConfig.KeystoreFile != "" && !path.IsAbs(clientConfig.KeystoreFile) {
		clientConfig.KeystoreFile = path.Join(clientConfig.CertsFolder, clientConfig.KeystoreFile)
	}
	if clientConfig.ProfileFile == "" {
		clientConfig.ProfileFile = path.Join(clientConfig.ConfigFolder, DefaultProfileFile)
	} else if !path.IsAbs(clientConfig.ProfileFile) {
		clientConfig.ProfileFile = path.Join(clientConfig.ConfigFolder, clientConfig.ProfileFile)
	}
	if clientConfig.ProfileName == "" {
		clientConfig.ProfileName = clientID
	}
	if clientConfig.Protocol == "" {
		clientConfig.Protocol = DefaultProtocol
	}
	if clientConfig.Timeout <= 0 {
		clientConfig.Timeout = DefaultTimeout
	}
}

// Validate checks if the config, log, and certs folders in the client configuration exist
// and that the server can be reached by address or by discovery.
// Returns an error if the config is invalid
func (clientConfig *ClientConfig) Validate() error {
	if _, err := os.Stat(clientConfig.HomeFolder); os.IsNotExist(err) {
		logrus.Errorf("Home folder '%s' not found", clientConfig.HomeFolder)
		return err
	}
	if _, err := os.Stat(clientConfig.ConfigFolder); os.IsNotExist(err) {
		logrus.Errorf("Configuration folder '%s' not found", clientConfig.ConfigFolder)
		return err
	}
	if _, err := os.Stat(clientConfig.LogFolder); os.IsNotExist(err) {
		logrus.Errorf("Logging folder '%s' not found", clientConfig.LogFolder)
		return err
	}
	if clientConfig.KeystoreFile != "" {
		if _, err := os.Stat(clientConfig.KeystoreFile); os.IsNotExist(err) {
			logrus.Errorf("Keystore '%s' not found", clientConfig.KeystoreFile)
			return err
		}
	}
	if clientConfig.Address == "" && clientConfig.DiscoveryService == "" {
		return errors.New("config: either address or discoveryService must be set")
	}
	_, err := clientConfig.ConnectionSettings()
	return err
}

// LoadYamlConfig loads a yaml configuration file into the target after substituting variables.
//  filePath of the yaml file
//  target is a pointer to the configuration struct
//  substituteMap maps variables like {homeFolder} to their value. nil to not substitute.
func LoadYamlConfig(filePath string, target interface{}, substituteMap map[string]string) error {
	rawConfig, err := os.ReadFile(filePath)
	if err != nil {
		logrus.Warningf("LoadYamlConfig: unable to open configuration file %s: %s", filePath, err)
		return err
	}
	text := string(rawConfig)
	for k, v := range substituteMap {
		text = strings.ReplaceAll(text, k, v)
	}
	err = yaml.Unmarshal([]byte(text), target)
	if err != nil {
		logrus.Errorf("LoadYamlConfig: error parsing configuration file %s: %s", filePath, err)
		return err
	}
	return nil
}

// CreateClientConfig creates the ClientConfig with default values
//
//  homeFolder is the installation folder with the config, certs and log folders.
// Use "" for default: parent of application binary
// When relative path is given, it is relative to the current working directory (commandline use)
func CreateClientConfig(homeFolder string) *ClientConfig {
	if homeFolder == "" {
		appBin, _ := os.Executable()
		homeFolder = path.Dir(path.Dir(appBin))
	} else if !path.IsAbs(homeFolder) {
		cwd, _ := os.Getwd()
		homeFolder = path.Join(cwd, homeFolder)
	}
	return &ClientConfig{
		HomeFolder:   homeFolder,
		CertsFolder:  path.Join(homeFolder, DefaultCertsFolder),
		ConfigFolder: path.Join(homeFolder, DefaultConfigFolder),
		LogFolder:    path.Join(homeFolder, DefaultLogFolder),
		Loglevel:     "warning",
		Protocol:     DefaultProtocol,
		Port:         DefaultPort,
		Timeout:      DefaultTimeout,
	}
}
