package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/pool"
	"github.com/die-net/rescue/internal/proxy"
	"github.com/die-net/rescue/internal/rendezvous"
	"github.com/die-net/rescue/internal/rescuer"
	"github.com/die-net/rescue/internal/tproxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		rendezvousListen = pflag.String("rendezvous-listen", "", "Survivor: listen address for rescuer links and clients (e.g. 0.0.0.0:1080). Empty disables.")
		tproxyListen     = pflag.String("tproxy-listen", "", "Survivor: transparent proxy listen address, sent out through rescuer links (e.g. 127.0.0.1:1234). Empty disables.")
		rescue           = pflag.String("rescue", "", "Rescuer: survivor rendezvous address to lend egress to (e.g. survivor.example:1080). Empty disables.")
		links            = pflag.Int("links", 10, "Rescuer: number of idle links to keep registered with the survivor")
		socksListen      = pflag.String("socks5-listen", "", "Single-hop SOCKS5 and HTTP CONNECT proxy listen address (e.g. 127.0.0.1:1080). Empty disables.")

		upstream = pflag.String("upstream", defaultUpstream(), "Egress for rescued and single-hop connections: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
		idleTimeout        = pflag.Duration("idle-timeout", 0, "Close relayed sessions idle for this long (0 disables)")
		redialMin          = pflag.Duration("redial-min", 100*time.Millisecond, "Rescuer: first backoff after a failed dial to the survivor")
		redialMax          = pflag.Duration("redial-max", 30*time.Second, "Rescuer: maximum backoff between failed dials to the survivor")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose            = pflag.Bool("verbose", false, "Enable per-connection debug logging")
	)

	if !tproxy.IsSupported {
		_ = pflag.CommandLine.MarkHidden("tproxy-listen")
	}

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *rendezvousListen == "" && *socksListen == "" && *rescue == "" {
		return errors.New("nothing to do (set at least one of --rendezvous-listen, --rescue, --socks5-listen)")
	}
	if *tproxyListen != "" && *rendezvousListen == "" {
		return errors.New("--tproxy-listen needs --rendezvous-listen")
	}
	if *links <= 0 {
		return errors.New("--links must be > 0")
	}

	cfg := proxy.Config{
		NegotiationTimeout: *negotiationTimeout,
		IdleTimeout:        *idleTimeout,
		KeepAlive:          ka,
		Logger:             logger,
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive,
	}

	egress, err := dialer.New(dialCfg, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		if err := startDebug(ctx, g, cfg, *debugListen); err != nil {
			return err
		}
	}

	if *rendezvousListen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", *rendezvousListen, cfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("rendezvous listen: %w", err)
		}
		srv := rendezvous.NewServer(ctx, cfg, pool.New[*rendezvous.Link]())
		context.AfterFunc(ctx, func() { _ = srv.Close() })
		startServing(ctx, g, logger, "rendezvous", ln, srv.Serve)

		if *tproxyListen != "" {
			tln, err := tproxy.ListenTransparentTCP(ctx, *tproxyListen, cfg.KeepAlive)
			if err != nil {
				return fmt.Errorf("tproxy listen: %w", err)
			}
			startServing(ctx, g, logger, "tproxy", tln, tproxy.NewServer(ctx, cfg, srv).Serve)
		}
	}

	if *socksListen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", *socksListen, cfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		startServing(ctx, g, logger, "socks5", ln, proxy.NewDirectServer(ctx, cfg, egress).Serve)
	}

	if *rescue != "" {
		sup := rescuer.NewSupervisor(rescuer.Config{
			Survivor:    *rescue,
			Links:       *links,
			DialTimeout: *dialTimeout,
			RedialMin:   *redialMin,
			RedialMax:   *redialMax,
			Egress:      egress,
			Proxy:       cfg,
		})
		g.Go(func() error {
			return sup.Run(ctx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// startServing runs serve on ln in g. The listener is closed when ctx ends,
// and the resulting accept error is not reported.
func startServing(ctx context.Context, g *errgroup.Group, logger *slog.Logger, name string, ln net.Listener, serve func(net.Listener) error) {
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	g.Go(func() error {
		if err := serve(ln); err != nil && ctx.Err() == nil {
			return fmt.Errorf("%s serve: %w", name, err)
		}
		return nil
	})
	logger.Info("listening", "service", name, "addr", ln.Addr().String())
}

func startDebug(ctx context.Context, g *errgroup.Group, cfg proxy.Config, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := proxy.ListenTCP(ctx, "tcp", addr, cfg.KeepAlive)
	if err != nil {
		return fmt.Errorf("debug listen: %w", err)
	}

	srv := &http.Server{Handler: mux} //nolint:gosec // Not concerned about timeouts on debug port.
	context.AfterFunc(ctx, func() { _ = srv.Close() })

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug serve: %w", err)
		}
		return nil
	})
	cfg.Log().Info("listening", "service", "debug", "addr", ln.Addr().String())
	return nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
