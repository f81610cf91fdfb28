// released under the MIT license

package gateway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lep/biboumi/gateway/logger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "biboumi.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
component:
  name: irc.example.com
  secret: hunter2
gateway:
  ca-file: /tmp/ca.pem
  fingerprints:
    pinned.example.org: "ab:cd:ef"
datastore:
  path: /tmp/biboumi.db
logging:
  - method: stderr
    type: "* -xmpp"
    level: debug
`

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	if config.Component.Server != "127.0.0.1" || config.Component.Port != 5347 {
		t.Fatalf("component defaults not applied: %+v", config.Component)
	}
	if len(config.Gateway.TLSPorts) != 1 || config.Gateway.TLSPorts[0] != "6697" {
		t.Fatalf("port defaults not applied: %+v", config.Gateway)
	}
	if config.Gateway.Fingerprints["pinned.example.org"] != "ab:cd:ef" {
		t.Fatalf("fingerprint not loaded: %+v", config.Gateway.Fingerprints)
	}

	if len(config.Logging) != 1 {
		t.Fatalf("expected one logging config, got %d", len(config.Logging))
	}
	logConfig := config.Logging[0]
	if !logConfig.MethodStderr || logConfig.MethodStdout || logConfig.MethodFile {
		t.Fatalf("bad logging methods: %+v", logConfig)
	}
	if logConfig.Level != logger.LogDebug {
		t.Fatalf("bad logging level: %v", logConfig.Level)
	}
	if len(logConfig.Types) != 1 || logConfig.Types[0] != "*" ||
		len(logConfig.ExcludedTypes) != 1 || logConfig.ExcludedTypes[0] != "xmpp" {
		t.Fatalf("bad logging types: %+v", logConfig)
	}
}

func TestLoadConfigRejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, `
component:
  name: irc.example.com
datastore:
  path: /tmp/biboumi.db
`)
	if _, err := LoadConfig(path); err != ErrComponentSecretMissing {
		t.Fatalf("expected ErrComponentSecretMissing, got %v", err)
	}
}

func TestLoadConfigRejectsFileLoggerWithoutFilename(t *testing.T) {
	path := writeConfig(t, `
component:
  name: irc.example.com
  secret: hunter2
datastore:
  path: /tmp/biboumi.db
logging:
  - method: file
    type: "*"
    level: info
`)
	if _, err := LoadConfig(path); err != ErrLoggerFilenameMissing {
		t.Fatalf("expected ErrLoggerFilenameMissing, got %v", err)
	}
}
