package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/bscrelay/bscrelay/bootstrap"
	"github.com/bscrelay/bscrelay/light"
	"github.com/bscrelay/bscrelay/log"
	"github.com/bscrelay/bscrelay/relayer"
	"github.com/bscrelay/bscrelay/rpc"
)

// MetricsPath is where the metrics endpoint serves the Prometheus format.
const MetricsPath = "/debug/metrics/prometheus"

const (
	databaseName      = "relaydb"
	databaseNamespace = "bscrelay/db/"
	shutdownTimeout   = 5 * time.Second
)

var (
	ErrNodeRunning     = errors.New("node: already running")
	ErrNodeStopped     = errors.New("node: not running")
	ErrChainIDMismatch = errors.New("node: source chain id does not match config")
)

// Node is the relay node. It owns the database, the relay and the network
// services in front of it.
type Node struct {
	config Config
	root   *log.Logger
	log    *log.Logger

	db     ethdb.KeyValueStore
	relay  *light.Relay
	rpcSrv *gethrpc.Server

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	rpcAddr     net.Addr
	metricsAddr net.Addr
}

// New opens the database and the relay. Network services are started by
// Start.
func New(config Config, logger *log.Logger) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	n := &Node{config: config, root: logger, log: logger.Module("node")}

	db, err := n.openDatabase()
	if err != nil {
		return nil, err
	}
	n.db = db

	relay, err := light.Open(db, light.Config{ChainID: config.ChainID, SignerCacheSize: config.SignerCacheSize}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open relay: %w", err)
	}
	n.relay = relay

	srv, err := rpc.NewServer(relay, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("rpc server: %w", err)
	}
	n.rpcSrv = srv
	return n, nil
}

func (n *Node) openDatabase() (ethdb.KeyValueStore, error) {
	if n.config.DataDir == "" {
		n.log.Info("Using in-memory database")
		return memorydb.New(), nil
	}
	path := n.config.ResolvePath(databaseName)
	db, err := leveldb.New(path, n.config.DatabaseCache, n.config.DatabaseHandles, databaseNamespace, false)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	n.log.Info("Opened database", "path", path, "cache", n.config.DatabaseCache, "handles", n.config.DatabaseHandles)
	return db, nil
}

// Relay returns the relay core.
func (n *Node) Relay() *light.Relay {
	return n.relay
}

// Config returns the node configuration.
func (n *Node) Config() Config {
	return n.config
}

// DialSource connects to the configured source chain endpoint.
func (n *Node) DialSource(ctx context.Context) (*ethclient.Client, error) {
	if n.config.Relayer.Source == "" {
		return nil, errors.New("node: no source endpoint configured")
	}
	client, err := ethclient.DialContext(ctx, n.config.Relayer.Source)
	if err != nil {
		return nil, fmt.Errorf("dial source %s: %w", n.config.Relayer.Source, err)
	}
	return client, nil
}

// Bootstrap initialises the relay with a genesis chosen from src.
func (n *Node) Bootstrap(ctx context.Context, src bootstrap.ChainSource) (*bootstrap.Result, error) {
	if err := checkChainID(ctx, src, n.config.ChainID); err != nil {
		return nil, err
	}
	return bootstrap.Initialize(ctx, src, n.relay, bootstrap.Options{
		Number:        n.config.Bootstrap.Number,
		Confirmations: n.config.Bootstrap.Confirmations,
	})
}

// checkChainID compares the chain id reported by src, when it reports one,
// with the configured id.
func checkChainID(ctx context.Context, src any, want uint64) error {
	ider, ok := src.(interface {
		ChainID(ctx context.Context) (*big.Int, error)
	})
	if !ok {
		return nil
	}
	id, err := ider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("node: source chain id: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != want {
		return fmt.Errorf("%w: source %v, config %d", ErrChainIDMismatch, id, want)
	}
	return nil
}

// Start launches the enabled services. It returns once they are listening;
// Wait blocks until they exit.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return ErrNodeRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	fail := func(err error) error {
		cancel()
		group.Wait()
		return err
	}
	if n.config.RPC.Enabled {
		addr, err := n.serve(gctx, group, "rpc", n.config.RPC.Addr(), n.rpcSrv)
		if err != nil {
			return fail(err)
		}
		n.rpcAddr = addr
	}
	if n.config.Metrics.Enabled {
		metrics.Enable()
		mux := http.NewServeMux()
		mux.Handle(MetricsPath, prometheus.Handler(metrics.DefaultRegistry))
		addr, err := n.serve(gctx, group, "metrics", n.config.Metrics.Addr(), mux)
		if err != nil {
			return fail(err)
		}
		n.metricsAddr = addr
	}
	if n.config.Relayer.Enabled {
		r, err := n.newRelayer(gctx)
		if err != nil {
			return fail(err)
		}
		group.Go(func() error { return r.Run(gctx) })
	}

	n.cancel, n.group, n.running = cancel, group, true
	n.log.Info("Node started", "chainID", n.config.ChainID, "rpc", n.config.RPC.Enabled,
		"metrics", n.config.Metrics.Enabled, "relayer", n.config.Relayer.Enabled)
	return nil
}

// serve runs an HTTP server on addr until ctx is done.
func (n *Node) serve(ctx context.Context, group *errgroup.Group, name, addr string, handler http.Handler) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s listen %s: %w", name, addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	group.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	n.log.Info("HTTP server started", "service", name, "addr", ln.Addr().String())
	return ln.Addr(), nil
}

func (n *Node) newRelayer(ctx context.Context) (*relayer.Relayer, error) {
	if n.config.Relayer.Target == "" && !n.relay.Initialized() {
		return nil, fmt.Errorf("node: %w; run init first", light.ErrNotInitialized)
	}
	source, err := n.DialSource(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkChainID(ctx, source, n.config.ChainID); err != nil {
		source.Close()
		return nil, err
	}
	var target relayer.Target = relayer.LocalTarget{Relay: n.relay}
	if n.config.Relayer.Target != "" {
		client, err := rpc.Dial(ctx, n.config.Relayer.Target)
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("dial target %s: %w", n.config.Relayer.Target, err)
		}
		target = client
	}
	return relayer.New(n.config.Relayer.Config, source, target, n.config.ChainID, n.root), nil
}

// RPCAddr returns the address the JSON-RPC server listens on, or nil.
func (n *Node) RPCAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rpcAddr
}

// MetricsAddr returns the address the metrics endpoint listens on, or nil.
func (n *Node) MetricsAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metricsAddr
}

// Wait blocks until the services started by Start exit and returns the
// first failure.
func (n *Node) Wait() error {
	n.mu.Lock()
	group := n.group
	n.mu.Unlock()
	if group == nil {
		return ErrNodeStopped
	}
	return group.Wait()
}

// Close stops the services and closes the database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	if n.running {
		n.cancel()
		if err := n.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		n.running = false
	}
	n.rpcSrv.Stop()
	if err := n.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	n.log.Info("Node stopped")
	return errors.Join(errs...)
}
