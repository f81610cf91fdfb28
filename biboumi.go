// released under the MIT license

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/lep/biboumi/gateway"
	"github.com/lep/biboumi/gateway/database"
	"github.com/lep/biboumi/gateway/logger"
)

// set via linker flags, either by make or by goreleaser:
var commit = ""  // git hash
var version = "" // tagged version

func main() {
	gateway.SetVersionString(version)
	usage := `biboumi.
Usage:
	biboumi run [--conf <filename>] [--quiet]
	biboumi initdb [--conf <filename>] [--quiet]
	biboumi -h | --help
	biboumi --version
Options:
	--conf <filename>  Configuration file to use [default: biboumi.yaml].
	--quiet            Don't show startup/shutdown lines.
	-h --help          Show this screen.
	--version          Show version.`

	arguments, _ := docopt.ParseArgs(usage, nil, gateway.Ver)

	configfile := arguments["--conf"].(string)
	config, err := gateway.LoadConfig(configfile)
	if err != nil {
		log.Fatal("Config file did not load successfully: ", err.Error())
	}

	logman, err := logger.NewManager(config.Logging)
	if err != nil {
		log.Fatal("Logger did not load successfully:", err.Error())
	}

	if arguments["initdb"].(bool) {
		db, err := database.Open(config.Datastore.Path)
		if err != nil {
			log.Fatal("Error while initializing db:", err.Error())
		}
		db.Close()
		if !arguments["--quiet"].(bool) {
			log.Println("database initialized: ", config.Datastore.Path)
		}
		return
	}

	if arguments["run"].(bool) {
		if !arguments["--quiet"].(bool) {
			logman.Info("server", fmt.Sprintf("%s starting", gateway.Ver))
		}
		g, err := gateway.NewGateway(config, logman)
		if err != nil {
			logman.Error("server", fmt.Sprintf("Could not load gateway: %s", err.Error()))
			os.Exit(1)
		}
		if err := g.Run(); err != nil {
			logman.Error("server", fmt.Sprintf("Gateway exited with error: %s", err.Error()))
			os.Exit(1)
		}
	}
}
