package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/soltrace/metrics"
	"github.com/eth2030/soltrace/rpc"
)

const shutdownTimeout = 10 * time.Second

// newRouter mounts the JSON-RPC endpoint, the metrics exposition and a
// health check.
func newRouter(srv *rpc.Server, exporter *metrics.PrometheusExporter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	r.POST("/", gin.WrapH(srv))
	r.GET("/metrics", gin.WrapH(exporter.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "version": version})
	})
	return r
}

// runServe serves the RPC endpoint until ctx is done, then shuts down
// gracefully. When ready is non-nil it receives the bound address.
func runServe(ctx context.Context, cfg *Config, ready chan<- net.Addr) error {
	contracts, err := loadContracts(cfg.Artifacts)
	if err != nil {
		return err
	}
	srv, err := rpc.NewServer(newDecoder(cfg, contracts), contracts, cfg.RPCConfig())
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	httpSrv := &http.Server{
		Handler:           newRouter(srv, exporter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ready != nil {
		ready <- ln.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdown)
	})
	return g.Wait()
}
