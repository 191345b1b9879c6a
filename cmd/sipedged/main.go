// Command sipedged is a minimal SIP edge daemon.
//
// It listens on UDP, preprocesses inbound requests, answers OPTIONS with 200
// and other requests with 501, and exports Prometheus metrics over HTTP.
//
// Settings are read from .env files, then from SIPEDGE_* environment variables,
// then from flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"braces.dev/errtrace"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghettovoice/sipedge/dns"
	"github.com/ghettovoice/sipedge/log"
	"github.com/ghettovoice/sipedge/sip"
)

type config struct {
	listen      string
	metricsAddr string
	stackID     string
	localHosts  string
	nameServer  string
	logLevel    string
	logFormat   string
	t1          time.Duration
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func loadConfig(args []string) (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errtrace.Errorf("load .env: %w", err)
	}

	cfg := new(config)
	fs := flag.NewFlagSet("sipedged", flag.ContinueOnError)
	fs.StringVar(&cfg.listen, "listen", env("SIPEDGE_LISTEN", "0.0.0.0:5060"), "UDP address to listen on")
	fs.StringVar(&cfg.metricsAddr, "metrics", env("SIPEDGE_METRICS_ADDR", ":9090"), "HTTP address of the metrics endpoint, empty to disable")
	fs.StringVar(&cfg.stackID, "stack-id", env("SIPEDGE_STACK_ID", ""), "stack identifier, random if empty")
	fs.StringVar(&cfg.localHosts, "local-hosts", env("SIPEDGE_LOCAL_HOSTS", ""), "comma separated host names and addresses of this stack")
	fs.StringVar(&cfg.nameServer, "dns", env("SIPEDGE_DNS", ""), "DNS server used to resolve local host names, system resolver if empty")
	fs.StringVar(&cfg.logLevel, "log-level", env("SIPEDGE_LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, "log-format", env("SIPEDGE_LOG_FORMAT", "console"), "log format: console or dev")
	t1, err := time.ParseDuration(env("SIPEDGE_T1", "500ms"))
	if err != nil {
		return nil, errtrace.Errorf("invalid SIPEDGE_T1: %w", err)
	}
	fs.DurationVar(&cfg.t1, "t1", t1, "RTT estimate driving the connection timeout and STUN retransmissions")
	if err := fs.Parse(args); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if cfg.stackID == "" {
		cfg.stackID = uuid.NewString()
	}
	return cfg, nil
}

func (cfg *config) logger() (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		return nil, errtrace.Errorf("invalid log level %q: %w", cfg.logLevel, err)
	}
	switch cfg.logFormat {
	case "console":
		return log.Console(lvl), nil
	case "dev":
		return log.Dev(lvl), nil
	default:
		return nil, errtrace.Errorf("invalid log format %q", cfg.logFormat)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sipedged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return errtrace.Wrap(err)
	}
	logger, err := cfg.logger()
	if err != nil {
		return errtrace.Wrap(err)
	}
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := net.ListenPacket("udp", cfg.listen)
	if err != nil {
		return errtrace.Errorf("listen %s: %w", cfg.listen, err)
	}

	hosts := strings.Split(cfg.localHosts, ",")
	if ip := conn.LocalAddr().(*net.UDPAddr).IP; !ip.IsUnspecified() { //nolint:forcetypeassert
		hosts = append(hosts, ip.String())
	}
	locals, err := sip.NewLocalAddrs(ctx, &dns.Resolver{NameServer: cfg.nameServer}, hosts...)
	if err != nil {
		conn.Close()
		return errtrace.Errorf("resolve local hosts: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := &handler{
		stackID: cfg.stackID,
		prep:    &sip.PreprocessOptions{LocalAddrs: locals, Log: logger},
		app: &sip.AppConfig{
			Methods: []sip.RequestMethod{"OPTIONS"},
			Log:     logger,
		},
		log: logger,
	}
	tp, err := sip.NewUDPTransport(conn, &sip.UDPTransportOptions{
		Router:  h,
		Timings: sip.NewTimings(cfg.t1, 0, 0),
		Metrics: sip.NewMetrics(reg),
		Log:     logger,
	})
	if err != nil {
		conn.Close()
		return errtrace.Errorf("start transport: %w", err)
	}
	h.tp.Store(tp)
	tp.OnConnClosed(func(ctx context.Context, info sip.ConnInfo, reason error) {
		logger.LogAttrs(ctx, slog.LevelDebug, "peer connection closed",
			slog.Any("connection", info),
			slog.Any("reason", reason),
		)
	})

	var srv *http.Server
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{
			Addr:              cfg.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogAttrs(ctx, slog.LevelError, "metrics server failed", slog.Any("error", err))
				stop()
			}
		}()
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "sipedged started",
		slog.String("stack_id", cfg.stackID),
		slog.Any("listen_addr", tp.LocalAddr()),
		slog.String("metrics_addr", cfg.metricsAddr),
	)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Shutdown(shutdownCtx))
	}
	errs = append(errs, tp.Close(shutdownCtx))
	h.wg.Wait()

	logger.LogAttrs(shutdownCtx, slog.LevelInfo, "sipedged stopped")
	return errtrace.Wrap(errors.Join(errs...))
}
