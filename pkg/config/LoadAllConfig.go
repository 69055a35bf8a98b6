package config

import (
	"os"
	"path"

	"github.com/sirupsen/logrus"
)

// LoadAllConfig is a helper to load the client configuration with application defaults
// This:
//  1. Determine application defaults
//  2. Load the client configuration file, if found
//  3. Make paths absolute and validate the result
//
//  homeFolder is the installation folder, "" for default parent folder of app binary
//  configFile is the client configuration file, "" for session.yaml in the config folder
//  clientID is the client instance ID. Used for the log file and default profile name
// This returns the client configuration with an error if something went wrong
func LoadAllConfig(homeFolder string, configFile string, clientID string) (*ClientConfig, error) {
	clientConfig := CreateClientConfig(homeFolder)
	if configFile == "" {
		defaultFile := path.Join(clientConfig.ConfigFolder, DefaultClientConfigName)
		if _, err := os.Stat(defaultFile); os.IsNotExist(err) {
			logrus.Infof("FYI The optional client configuration file %s is not present", defaultFile)
			clientConfig.applyDefaults(clientID)
			return clientConfig, clientConfig.Validate()
		}
	}
	err := clientConfig.Load(configFile, clientID)
	if err != nil {
		logrus.Errorf("LoadAllConfig: client config failed to load: %s", err)
	}
	return clientConfig, err
}
