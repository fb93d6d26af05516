package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/openstack/ironic-sub002/pkg/bmc"
	"github.com/openstack/ironic-sub002/pkg/bmc/redfish"
	"github.com/openstack/ironic-sub002/pkg/conductor"
	"github.com/openstack/ironic-sub002/pkg/node"
	"github.com/openstack/ironic-sub002/pkg/tracker"
	"github.com/openstack/ironic-sub002/pkg/workflow"
)

var (
	debug            = flag.Bool("debug", false, "enable debug logging")
	nodesFile        = flag.String("nodes-file", "", "path of a JSON file with the initial node inventory")
	pollInterval     = flag.Duration("poll-interval", conductor.DefaultPollInterval, "how often pending operations are polled")
	sweepInterval    = flag.Duration("sweep-interval", conductor.DefaultSweepInterval, "how often faulted nodes are swept")
	stuckGrace       = flag.Duration("stuck-grace", conductor.DefaultStuckGrace, "how long a faulted node may keep pending operations")
	sessionCacheSize = flag.Int("session-cache-size", bmc.DefaultSessionCacheSize, "capacity of the controller session cache")
	requestTimeout   = flag.Duration("request-timeout", 60*time.Second, "per-request timeout for controller calls")
	insecureTLS      = flag.Bool("insecure-tls", false, "skip TLS verification for controller endpoints")
)

func setupLogging() {
	if *debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			fileName := path.Base(f.File)
			return funcName, fmt.Sprintf("%s:%d", fileName, f.Line)
		}})
	log.SetReportCaller(true)
}

func loadNodes(store *node.MemStore, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	var nodes []*node.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return err
	}
	for _, n := range nodes {
		store.Add(n)
	}
	log.WithField("count", len(nodes)).Info("Loaded the node inventory")
	return nil
}

func main() {
	flag.Parse()
	setupLogging()

	store := node.NewMemStore()
	if *nodesFile != "" {
		if err := loadNodes(store, *nodesFile); err != nil {
			log.WithError(err).Fatal("Failed to load the node inventory")
		}
	}

	client := redfish.NewClient(redfish.Options{
		RequestTimeout:   *requestTimeout,
		InsecureTLS:      *insecureTLS,
		SessionCacheSize: *sessionCacheSize,
	})
	trk := tracker.New(client)
	engine := workflow.NewLogEngine()

	mgr := conductor.New(store, trk, engine, conductor.Options{
		PollInterval:  *pollInterval,
		SweepInterval: *sweepInterval,
		StuckGrace:    *stuckGrace,
	})

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("Shutting down")
		close(stopCh)
	}()

	mgr.Run(stopCh)
}
