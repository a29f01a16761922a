package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/benchctl/internal/bench/config"
	"github.com/user/benchctl/internal/bench/coordinator"
	"github.com/user/benchctl/internal/bench/executor"
	"github.com/user/benchctl/internal/bench/liveness"
	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/bench/transport"
	"github.com/user/benchctl/internal/observability"
	"github.com/user/benchctl/internal/raft"
	"github.com/user/benchctl/internal/rpc"
	"github.com/user/benchctl/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run one benchctl cluster node (coordinator + executor + HTTP surface)",
	RunE:  runServer,
}

var (
	configPath       string
	bindAddr         string
	rpcBindAddr      string
	raftBindAddr     string
	raftAdvertise    string
	dataDir          string
	nodeID           string
	bootstrap        bool
	joinAddr         string
	raftStoreKind    string
	peerList         string
	canRunBenchmarks bool
	searchBaseURL    string
	authMode         string
	oidcIssuerURL    string
	oidcClientID     string
	sharedSecret     string
	tracingEnabled   bool
	tracingEndpoint  string
)

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (overlays defaults; env BENCHCTL_* overlays both)")
	serverCmd.Flags().StringVar(&bindAddr, "bind", "", "HTTP server bind address")
	serverCmd.Flags().StringVar(&rpcBindAddr, "rpc-bind", ":9100", "RPC (C2 transport) bind address")
	serverCmd.Flags().StringVar(&raftBindAddr, "raft-bind", "", "Raft transport bind address")
	serverCmd.Flags().StringVar(&raftAdvertise, "raft-advertise", "", "Raft advertised address for peers")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for raft/pebble data")
	serverCmd.Flags().StringVar(&nodeID, "node-id", "", "Unique node ID")
	serverCmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "Bootstrap a new single-node raft cluster")
	serverCmd.Flags().StringVar(&joinAddr, "join", "", "HTTP address of an existing leader to join")
	serverCmd.Flags().StringVar(&raftStoreKind, "raft-store", "", "Raft log/stable backend: bolt, badger, or pebble")
	serverCmd.Flags().StringVar(&peerList, "peers", "", "Comma-separated node_id=rpc_addr pairs for every node in the cluster, including self")
	serverCmd.Flags().BoolVar(&canRunBenchmarks, "can-run-benchmarks", true, "Whether this node advertises the benchmark-execution capability")
	serverCmd.Flags().StringVar(&searchBaseURL, "search-base-url", "", "Base URL of the search cluster this node benchmarks")
	serverCmd.Flags().StringVar(&authMode, "auth-mode", "", "Bearer auth mode for /_bench*: \"\", \"oidc\", or \"shared-secret\"")
	serverCmd.Flags().StringVar(&oidcIssuerURL, "oidc-issuer-url", "", "OIDC issuer URL, required when --auth-mode=oidc")
	serverCmd.Flags().StringVar(&oidcClientID, "oidc-client-id", "", "OIDC client/audience ID, required when --auth-mode=oidc")
	serverCmd.Flags().StringVar(&sharedSecret, "shared-secret", "", "HS256 shared secret, required when --auth-mode=shared-secret")
	serverCmd.Flags().BoolVar(&tracingEnabled, "tracing", false, "Enable OpenTelemetry span export")
	serverCmd.Flags().StringVar(&tracingEndpoint, "tracing-otlp-endpoint", "", "OTLP/HTTP trace collector endpoint (stdout export when empty)")
	rootCmd.AddCommand(serverCmd)
}

func parsePeers(raw string) (map[string]string, error) {
	peers := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return peers, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid peer entry %q, want node_id=addr", pair)
		}
		peers[parts[0]] = parts[1]
	}
	return peers, nil
}

// applyFlagOverrides layers explicitly-set server flags on top of cfg
// (which already reflects file/env overlays from config.Load), so
// flag > env > file > hardcoded default.
func applyFlagOverrides(cmd *cobra.Command, cfg config.Config) config.Config {
	if cmd.Flags().Changed("bind") {
		cfg.BindAddr = bindAddr
	}
	if cmd.Flags().Changed("raft-bind") {
		cfg.RaftBindAddr = raftBindAddr
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.RaftDataDir = dataDir
	}
	if cmd.Flags().Changed("node-id") {
		cfg.NodeID = nodeID
	}
	if cmd.Flags().Changed("bootstrap") {
		cfg.Bootstrap = bootstrap
	}
	if cmd.Flags().Changed("join") {
		cfg.JoinAddr = joinAddr
	}
	if cmd.Flags().Changed("can-run-benchmarks") {
		cfg.CanRunBenchmarks = canRunBenchmarks
	}
	if cmd.Flags().Changed("auth-mode") {
		cfg.AuthMode = authMode
	}
	if cmd.Flags().Changed("oidc-issuer-url") {
		cfg.OIDCIssuerURL = oidcIssuerURL
	}
	if cmd.Flags().Changed("oidc-client-id") {
		cfg.OIDCClientID = oidcClientID
	}
	if cmd.Flags().Changed("shared-secret") {
		cfg.SharedSecret = sharedSecret
	}
	if cmd.Flags().Changed("tracing") {
		cfg.TracingEnabled = tracingEnabled
	}
	if cmd.Flags().Changed("tracing-otlp-endpoint") {
		cfg.TracingOTLPEndpoint = tracingEndpoint
	}
	return cfg
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = applyFlagOverrides(cmd, cfg)

	shutdownTracer, err := observability.InitTracer(cfg.TracingEnabled, "benchctl", cfg.TracingOTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	peers, err := parsePeers(peerList)
	if err != nil {
		return err
	}
	if _, ok := peers[cfg.NodeID]; !ok {
		peers[cfg.NodeID] = rpcBindAddr
	}

	clusterCfg := raft.ClusterConfig{
		NodeID:        cfg.NodeID,
		DataDir:       cfg.RaftDataDir,
		RaftBind:      cfg.RaftBindAddr,
		RaftAdvertise: raftAdvertise,
		RaftStore:     raftStoreKind,
		Bootstrap:     cfg.Bootstrap,
		JoinAddr:      cfg.JoinAddr,
	}
	cluster, err := raft.NewCluster(clusterCfg)
	if err != nil {
		return fmt.Errorf("start raft cluster: %w", err)
	}
	defer cluster.Shutdown()

	store := raft.New(cluster)
	lt := liveness.New()

	var search searchexec.SearchExecutor
	if searchBaseURL != "" {
		search = searchexec.NewHTTPSearchExecutor(searchBaseURL, "")
	} else {
		search = &searchexec.Fake{DurationMs: 1, Hits: 1}
	}

	coord := coordinator.New(store, nil, lt)

	// resultsSrc/abortSrc stay nil interfaces (not a typed-nil
	// *executor.Service) when this node can't run benchmarks, so
	// rpc.Server's nil checks on s.results/s.aborts behave correctly.
	var exec *executor.Service
	var resultsSrc transport.ResultsSource
	var abortSrc transport.AbortSink
	if cfg.CanRunBenchmarks {
		exec = executor.New(cfg.NodeID, store, nil, search)
		resultsSrc = exec
		abortSrc = exec
	}

	rpcTransport := rpc.NewTransport(cfg.NodeID, cluster, peers)
	coord.SetTransport(rpcTransport)
	if exec != nil {
		exec.SetTransport(rpcTransport)
	}

	rpcSrv := rpc.New(coord, resultsSrc, abortSrc)
	go func() {
		if err := rpcSrv.Start(rpcBindAddr); err != nil {
			slog.Error("rpc server stopped", "error", err)
		}
	}()
	defer rpcSrv.Shutdown()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go rpcTransport.StartLivenessSweep(sweepCtx, cfg.LivenessPingInterval)

	coord.Start()
	if exec != nil {
		exec.Start()
	}
	defer coord.Stop()
	defer func() {
		if exec != nil {
			exec.Stop()
		}
	}()

	var srv *server.Server
	switch cfg.AuthMode {
	case "oidc":
		authn, err := server.NewOIDCAuthenticator(context.Background(), cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("build oidc authenticator: %w", err)
		}
		srv = server.New(coord, cfg.BindAddr, authn)
	case "shared-secret":
		srv = server.New(coord, cfg.BindAddr, server.NewSharedSecretAuthenticator(cfg.SharedSecret))
	case "":
		srv = server.New(coord, cfg.BindAddr, nil)
	default:
		return fmt.Errorf("unsupported auth-mode %q", cfg.AuthMode)
	}
	srv.SetClusterJoiner(cluster)

	if !cfg.Bootstrap && cfg.JoinAddr != "" {
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := cluster.JoinCluster(cfg.JoinAddr); err != nil {
				slog.Error("join cluster failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-stop:
		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
