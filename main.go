package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"crm-forwarder/internal/config"
	"crm-forwarder/internal/forwarder"
	"crm-forwarder/internal/models"
	"crm-forwarder/internal/origin"
	"crm-forwarder/internal/source"
	"crm-forwarder/internal/transform"
)

// eventSource delivers change events to the host until its context ends.
type eventSource interface {
	Run(ctx context.Context, emit func(*models.ChangeEvent)) error
	Close()
}

// Host plays the CRM dispatcher's role: it takes each change event from the
// source, runs the transform stage, and invokes every registered forwarder.
type Host struct {
	transformer *transform.Transformer
	forwarders  []*forwarder.Forwarder
	logger      *logrus.Logger
}

// Dispatch forwards one event to all registered plugins. A forwarder failure
// is isolated; the remaining forwarders still run.
func (h *Host) Dispatch(ctx context.Context, event *models.ChangeEvent) {
	transformed, err := h.transformer.Transform(event)
	if err != nil {
		if errors.Is(err, transform.ErrEventRejected) {
			h.logger.Debugf("Event rejected by transformer: %s %s", event.MessageName, event.LogicalName)
			return
		}
		h.logger.Errorf("Error transforming event: %v", err)
		return
	}

	for _, f := range h.forwarders {
		if err := f.Forward(ctx, transformed); err != nil {
			h.logger.Errorf("Forwarder %s failed: %v", f.Name(), err)
		}
	}
}

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Set log level from config
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Starting CRM change-event forwarder...")

	if err := transform.ValidateRules(&cfg.Processor); err != nil {
		logger.Fatalf("Invalid processor configuration: %v", err)
	}
	transformer, err := transform.NewTransformer(&cfg.Processor, logger)
	if err != nil {
		logger.Fatalf("Failed to create transformer: %v", err)
	}

	// The user resolver is only needed when a blob plugin is registered.
	var resolver *origin.MySQLResolver
	forwarders := make([]*forwarder.Forwarder, 0, len(cfg.Plugins))
	for _, pc := range cfg.Plugins {
		switch pc.Sink {
		case "blob":
			if resolver == nil {
				resolver, err = origin.NewMySQLResolver(cfg.MySQL, logger)
				if err != nil {
					logger.Fatalf("Failed to create user resolver: %v", err)
				}
				defer resolver.Close()
			}
			shape, err := forwarder.ParseMetadataShape(pc.MetadataKeys)
			if err != nil {
				logger.Fatalf("Plugin %s: %v", pc.Name, err)
			}
			f, err := forwarder.NewBlobForwarder(pc.Name, pc.SecureConfig, resolver, shape, logger)
			if err != nil {
				logger.Fatalf("Failed to register plugin %s: %v", pc.Name, err)
			}
			forwarders = append(forwarders, f)
		case "queue":
			f, err := forwarder.NewQueueForwarder(pc.Name, pc.SecureConfig, logger)
			if err != nil {
				logger.Fatalf("Failed to register plugin %s: %v", pc.Name, err)
			}
			forwarders = append(forwarders, f)
		default:
			logger.Fatalf("Plugin %s: unknown sink %q", pc.Name, pc.Sink)
		}
		logger.Infof("Registered %s forwarder: %s", pc.Sink, pc.Name)
	}
	if len(forwarders) == 0 {
		logger.Fatal("No plugins registered")
	}

	var src eventSource
	switch cfg.Source.Kind {
	case "nats":
		src, err = source.NewNATSSource(cfg.NATS, logger)
	case "binlog":
		src, err = source.NewBinlogSource(cfg.MySQL, cfg.Binlog, logger)
	default:
		logger.Fatalf("Unknown source kind: %q", cfg.Source.Kind)
	}
	if err != nil {
		logger.Fatalf("Failed to create %s source: %v", cfg.Source.Kind, err)
	}
	defer src.Close()

	host := &Host{
		transformer: transformer,
		forwarders:  forwarders,
		logger:      logger,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- src.Run(ctx, func(event *models.ChangeEvent) {
			host.Dispatch(ctx, event)
		})
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Source error: %v", err)
		}
	}

	logger.Info("CRM change-event forwarder stopped")
}
