package mode

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kellyhimself/POS-sub002/pkg/httpclient"
)

// ConnectivitySink receives reachability signals.
type ConnectivitySink interface {
	SetConnectivity(connected bool)
}

// Prober polls a URL and reports reachability. Any response below 500
// counts as connected; the URL only has to be routable.
type Prober struct {
	url      string
	interval time.Duration
	client   *httpclient.Client
	sink     ConnectivitySink
	logger   *slog.Logger
}

// NewProber creates a prober for url.
func NewProber(url string, interval time.Duration, sink ConnectivitySink, logger *slog.Logger) *Prober {
	timeout := min(interval, 5*time.Second)
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = timeout
	cfg.MaxRetries = 0
	cfg.MaxConnsPerHost = 1
	return &Prober{
		url:      url,
		interval: interval,
		client:   httpclient.New(cfg),
		sink:     sink,
		logger:   logger,
	}
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := p.probeAndReport(ctx, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last = p.probeAndReport(ctx, &last)
		}
	}
}

func (p *Prober) probeAndReport(ctx context.Context, last *bool) bool {
	up := p.Probe(ctx)
	if ctx.Err() != nil {
		return up
	}
	if last == nil || *last != up {
		p.logger.Info("connectivity probe", slog.Bool("connected", up), slog.String("url", p.url))
	}
	p.sink.SetConnectivity(up)
	return up
}

// Probe performs one reachability check.
func (p *Prober) Probe(ctx context.Context) bool {
	resp, err := p.client.Get(ctx, p.url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
