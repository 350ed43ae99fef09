package api

import (
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/triage/pkg/events"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NamespaceService is the gRPC health service name reporting one namespace
func NamespaceService(namespace string) string {
	return "triage.namespace/" + namespace
}

// HealthServer exposes the standard gRPC health protocol. The empty service
// reports the process; every watched namespace has its own service that is
// SERVING after a clean cycle and NOT_SERVING after a failed collection or
// when issues remain.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	broker *events.Broker
	sub    events.Subscriber
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewHealthServer creates the gRPC health server and starts following cycle
// events. Namespaces start as UNKNOWN until their first cycle reports.
func NewHealthServer(broker *events.Broker, namespaces []string) *HealthServer {
	logger := log.WithComponent("grpc-health")
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger), ReadOnlyInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, ns := range namespaces {
		hs.SetServingStatus(NamespaceService(ns), healthpb.HealthCheckResponse_UNKNOWN)
	}

	server := &HealthServer{
		grpc:   s,
		health: hs,
		broker: broker,
		logger: logger,
	}
	if broker != nil {
		server.sub = broker.Subscribe(events.EventCycleCompleted, events.EventCycleFailed)
		server.wg.Add(1)
		go server.follow()
	}
	return server
}

// Start serves on lis until Stop
func (s *HealthServer) Start(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health listening")
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc health: %w", err)
	}
	return nil
}

// Listen opens a TCP listener on addr and serves on it
func (s *HealthServer) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Start(lis)
}

// Stop marks every service NOT_SERVING and stops the server
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	if s.sub != nil {
		s.broker.Unsubscribe(s.sub)
	}
	s.wg.Wait()
	s.grpc.GracefulStop()
}

func (s *HealthServer) follow() {
	defer s.wg.Done()
	for ev := range s.sub {
		if ev.Report != nil {
			s.Update(ev.Report)
		}
	}
}

// Update sets a namespace's serving status from its latest report
func (s *HealthServer) Update(r *types.Report) {
	status := healthpb.HealthCheckResponse_SERVING
	if !r.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(NamespaceService(r.Namespace), status)
}
