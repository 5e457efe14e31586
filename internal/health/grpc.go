package health

import (
	"context"
	"log/slog"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LiveService is the service name reported over grpc.health.v1.
const LiveService = "voicelive.v1.Live"

// Prober keeps a gRPC health server in line with the readiness report.
type Prober struct {
	handler  *Handler
	server   *grpchealth.Server
	interval time.Duration
	logger   *slog.Logger
}

func NewProber(handler *Handler, server *grpchealth.Server, interval time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		handler:  handler,
		server:   server,
		interval: interval,
		logger:   logger.With("component", "health_prober"),
	}
}

// Run probes once immediately and then on every tick until ctx is done,
// at which point every service is marked not serving.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			p.server.Shutdown()
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

func (p *Prober) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	report := p.handler.Report(ctx)

	status := healthpb.HealthCheckResponse_SERVING
	if report.Status == StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		p.logger.Warn("live service not serving", "components", report.Components)
	}

	p.server.SetServingStatus("", status)
	p.server.SetServingStatus(LiveService, status)
	return status
}
