package forwarder

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"crm-forwarder/internal/config"
	"crm-forwarder/internal/models"
	"crm-forwarder/internal/origin"
	"crm-forwarder/internal/sink"
)

// ExecutionFaultMessage is the fixed message wrapped around faults reported
// by the origin system while resolving the initiating user.
const ExecutionFaultMessage = "an error occurred in the event forwarder plug-in"

// ExecutionError is a plugin-level execution failure caused by the origin
// system. It propagates upward as-is; the forwarder does not trace it.
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// SinkFactory builds a fresh sink client for one invocation. Clients are not
// cached across invocations.
type SinkFactory func() (sink.Sink, error)

// PayloadBuilder turns a change event into one sink write: destination key,
// serialized body, and optional object metadata.
type PayloadBuilder interface {
	Build(ctx context.Context, event *models.ChangeEvent) (key string, body []byte, metadata map[string]string, err error)
}

// Forwarder runs the forwarding pipeline for one registered plugin:
// ensure the sink exists, build the payload, write it. Stateless between
// invocations.
type Forwarder struct {
	name    string
	newSink SinkFactory
	builder PayloadBuilder
	logger  *logrus.Logger
}

// New wires a forwarder from its parts. Used directly by tests; production
// code goes through NewBlobForwarder or NewQueueForwarder.
func New(name string, factory SinkFactory, builder PayloadBuilder, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		name:    name,
		newSink: factory,
		builder: builder,
		logger:  logger,
	}
}

// NewBlobForwarder builds the blob variant. The secure configuration string
// is decoded here, once; a malformed string fails registration before any
// storage client exists.
func NewBlobForwarder(name, secureConfig string, users origin.UserResolver, shape MetadataShape, logger *logrus.Logger) (*Forwarder, error) {
	settings, err := config.DecodeStorageSettings(secureConfig)
	if err != nil {
		return nil, err
	}
	factory := func() (sink.Sink, error) {
		return sink.NewBlobSink(settings)
	}
	return New(name, factory, &BlobPayload{Users: users, Shape: shape}, logger), nil
}

// NewQueueForwarder builds the queue variant.
func NewQueueForwarder(name, secureConfig string, logger *logrus.Logger) (*Forwarder, error) {
	settings, err := config.DecodeStorageSettings(secureConfig)
	if err != nil {
		return nil, err
	}
	factory := func() (sink.Sink, error) {
		return sink.NewQueueSink(settings)
	}
	return New(name, factory, &QueuePayload{}, logger), nil
}

// Name returns the registration name of the forwarder.
func (f *Forwarder) Name() string {
	return f.name
}

// Forward issues exactly one write to the configured sink for the event, or
// fails. A nil event means the invocation carried no target; nothing is
// written. Origin-system faults come back as *ExecutionError untouched;
// every other failure is traced with full detail and returned unchanged.
func (f *Forwarder) Forward(ctx context.Context, event *models.ChangeEvent) error {
	if event == nil {
		f.logger.Debugf("%s: no target in invocation, nothing to forward", f.name)
		return nil
	}

	err := f.forward(ctx, event)
	if err == nil {
		return nil
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}

	f.logger.Errorf("%s: %+v", f.name, err)
	return err
}

func (f *Forwarder) forward(ctx context.Context, event *models.ChangeEvent) error {
	s, err := f.newSink()
	if err != nil {
		return err
	}

	if err := s.EnsureReady(ctx); err != nil {
		return err
	}

	key, body, metadata, err := f.builder.Build(ctx, event)
	if err != nil {
		return err
	}

	if err := s.Write(ctx, key, body, metadata); err != nil {
		return err
	}

	f.logger.Infof("%s: forwarded %s event for %s %s", f.name, event.MessageName, event.LogicalName, event.ID)
	return nil
}
