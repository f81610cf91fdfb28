// released under the MIT license

// Package gateway bridges users of a component-protocol network with
// channels on legacy IRC servers: one component on the XMPP side, many
// independent clients on the IRC side, one per (user, server) pair.
package gateway

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/okzk/sdnotify"

	"github.com/lep/biboumi/gateway/database"
	"github.com/lep/biboumi/gateway/eventloop"
	"github.com/lep/biboumi/gateway/logger"
	"github.com/lep/biboumi/gateway/mysql"
	"github.com/lep/biboumi/gateway/xmpp"
)

// version is set by the linker; Ver is the full version string.
var (
	version = ""
	Ver     = "biboumi-dev"
)

func SetVersionString(v string) {
	if v != "" {
		version = v
		Ver = "biboumi-" + v
	}
}

// Gateway owns the event loop, the component stream, the bridge and
// the datastore, and ties their lifecycles together.
type Gateway struct {
	config    *Config
	log       *logger.Manager
	loop      *eventloop.Loop
	bridge    *Bridge
	component *xmpp.Component
	db        *database.Store
	signals   chan os.Signal
}

// exitSignals are the signals the gateway will exit on.
var exitSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

func NewGateway(config *Config, log *logger.Manager) (*Gateway, error) {
	loop := eventloop.NewLoop()

	db, err := database.Open(config.Datastore.Path)
	if err != nil {
		return nil, err
	}

	var archive Archiver = db
	if config.MySQL.Enabled {
		mysqlArchive := new(mysql.Archive)
		mysqlArchive.Initialize(log, config.MySQL)
		if err := mysqlArchive.Open(); err != nil {
			db.Close()
			return nil, err
		}
		archive = mysqlArchive
	}

	component := xmpp.NewComponent(loop, log, config.Component.Name, config.Component.Secret,
		net.JoinHostPort(config.Component.Server, strconv.Itoa(config.Component.Port)))

	gateway := &Gateway{
		config:    config,
		log:       log,
		loop:      loop,
		component: component,
		db:        db,
		signals:   make(chan os.Signal, len(exitSignals)),
	}
	gateway.bridge = NewBridge(loop, log, config, component, db, archive)
	component.Handler = gateway.bridge
	component.OnReady = func() {
		log.Info("server", "component stream ready, serving", config.Component.Name)
		sdnotify.Ready()
	}
	component.OnClosed = func(err error) {
		gateway.shutdown("Component stream closed")
	}

	signal.Notify(gateway.signals, exitSignals...)
	return gateway, nil
}

// Run connects the component stream and drives the event loop until a
// signal or stream close ends the process.
func (g *Gateway) Run() error {
	if err := g.component.Start(); err != nil {
		return err
	}

	go func() {
		<-g.signals
		g.loop.Post(func() {
			g.log.Info("server", "exiting on signal")
			g.shutdown("Gateway shutdown")
		})
	}()

	g.loop.Run()

	sdnotify.Stopping()
	return g.db.Close()
}

// shutdown runs on the loop: quit every client, close the stream, stop.
func (g *Gateway) shutdown(reason string) {
	g.bridge.Shutdown(reason)
	g.component.Close()
	g.loop.Stop()
}
