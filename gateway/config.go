// released under the MIT license

package gateway

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/lep/biboumi/gateway/logger"
	"github.com/lep/biboumi/gateway/mysql"
)

// here's how this works: exported (capitalized) members of the config
// structs are defined in the YAML file and deserialized directly from
// there. They may be postprocessed and overwritten by LoadConfig.

// ComponentConfig describes the stream connection to the
// component-protocol server.
type ComponentConfig struct {
	// Name is the hostname the gateway serves, e.g. irc.example.com
	Name   string
	Secret string
	Server string
	Port   int
}

// GatewayConfig holds the legacy-side connection policy.
type GatewayConfig struct {
	BindAddress string `yaml:"bind-address"`
	CAFile      string `yaml:"ca-file"`
	// TLS candidates are tried before plaintext candidates
	TLSPorts   []string `yaml:"tls-ports"`
	PlainPorts []string `yaml:"plain-ports"`
	// server host -> hex sha256 pin for the leaf certificate
	Fingerprints       map[string]string
	AbortOnInvalidCert bool `yaml:"abort-on-invalid-cert"`
}

type DatastoreConfig struct {
	Path string
}

// Config is the root of the YAML config file.
type Config struct {
	Component ComponentConfig
	Gateway   GatewayConfig
	Datastore DatastoreConfig
	MySQL     mysql.Config `yaml:"mysql"`
	Logging   []logger.LoggingConfig

	Filename string `yaml:"-"`
}

// LoadConfig loads the given YAML configuration file, applies defaults
// and derives the postprocessed members.
func LoadConfig(filename string) (config *Config, err error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config = &Config{}
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	config.Filename = filename

	if config.Component.Name == "" {
		return nil, ErrComponentNameMissing
	}
	if config.Component.Secret == "" {
		return nil, ErrComponentSecretMissing
	}
	if config.Component.Server == "" {
		config.Component.Server = "127.0.0.1"
	}
	if config.Component.Port == 0 {
		config.Component.Port = 5347
	}
	if len(config.Gateway.TLSPorts) == 0 && len(config.Gateway.PlainPorts) == 0 {
		config.Gateway.TLSPorts = []string{"6697"}
		config.Gateway.PlainPorts = []string{"6667"}
	}
	if config.Datastore.Path == "" {
		return nil, ErrDatastorePathMissing
	}

	// logging: split method and type strings into their real fields
	var newLogConfigs []logger.LoggingConfig
	for _, logConfig := range config.Logging {
		methods := make(map[string]bool)
		for _, method := range strings.Split(logConfig.Method, " ") {
			if len(method) > 0 {
				methods[strings.ToLower(method)] = true
			}
		}
		if len(methods) == 0 {
			return nil, ErrLoggerMethodMissing
		}
		if methods["file"] && logConfig.Filename == "" {
			return nil, ErrLoggerFilenameMissing
		}
		logConfig.MethodFile = methods["file"]
		logConfig.MethodStdout = methods["stdout"]
		logConfig.MethodStderr = methods["stderr"]

		level, exists := logger.LogLevelNames[strings.ToLower(logConfig.LevelString)]
		if !exists {
			return nil, fmt.Errorf("Could not translate log level [%s]", logConfig.LevelString)
		}
		logConfig.Level = level

		for _, typeStr := range strings.Split(logConfig.TypeString, " ") {
			if len(typeStr) == 0 {
				continue
			}
			if typeStr[0] == '-' {
				logConfig.ExcludedTypes = append(logConfig.ExcludedTypes, typeStr[1:])
			} else {
				logConfig.Types = append(logConfig.Types, typeStr)
			}
		}
		if len(logConfig.Types) < 1 {
			return nil, ErrLoggerHasNoTypes
		}

		newLogConfigs = append(newLogConfigs, logConfig)
	}
	config.Logging = newLogConfigs

	return config, nil
}
