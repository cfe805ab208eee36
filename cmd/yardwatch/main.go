package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"yardwatch/native/internal/alerts"
	"yardwatch/native/internal/api"
	"yardwatch/native/internal/config"
	"yardwatch/native/internal/dashboard"
	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/httpapi"
	"yardwatch/native/internal/incidents"
	"yardwatch/native/internal/metrics"
	"yardwatch/native/internal/render"
	"yardwatch/native/internal/session"
	"yardwatch/native/internal/viewer"
	"yardwatch/native/internal/webrtc"
)

var (
	listenAddr string
	gatewayURL string
	renderDir  string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "yardwatch",
	Short: "Camera session manager for the forklift safety dashboard",
	Long: `yardwatch connects operator cameras through the media gateway, negotiates
WebRTC video for each of them, follows the live alert stream and serves the
dashboard state on a local HTTP API.

Configuration is read from YARDWATCH_* environment variables and an optional
.env file; flags override both.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("gateway") {
			cfg.GatewayURL = gatewayURL
		}
		if cmd.Flags().Changed("render-dir") {
			cfg.RenderDir = renderDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "local API listen address")
	rootCmd.Flags().StringVar(&gatewayURL, "gateway", "", "media gateway base URL")
	rootCmd.Flags().StringVar(&renderDir, "render-dir", "", "write each camera's H264 stream to this directory")
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "load environment from this file instead of .env")
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	gateway := api.NewClient(cfg.GatewayURL, cfg.HTTPTimeout, m)

	targets, err := render.New(cfg.RenderDir)
	if err != nil {
		return fmt.Errorf("render targets: %w", err)
	}

	newPeer := func(cameraID string) (domain.Peer, error) {
		p, err := webrtc.NewPeer(cfg.STUNURLs, cameraID)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	negotiator := viewer.New(gateway, newPeer, targets, cfg.NegotiationTimeout, m)

	machine := session.NewMachine(gateway, negotiator, m)
	orch := dashboard.New(gateway, machine, m)
	defer orch.Close()

	store := incidents.NewStore(gateway, m)
	stream := alerts.NewStream(cfg.AlertsURL, store.Push, alerts.Options{
		Reconnect:  cfg.Reconnect,
		MaxElapsed: cfg.ReconnectMaxElapsed,
		Metrics:    m,
	})

	handler := httpapi.NewHandler(httpapi.Config{
		Cameras:     orch,
		Incidents:   store,
		EvidenceURL: gateway.EvidenceURL,
		Metrics:     m.Handler(),
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := orch.Restore(ctx)
		if err != nil {
			log.Printf("[main] restore sessions: %v", err)
			return nil
		}
		log.Printf("[main] restored %d sessions", n)
		return nil
	})

	g.Go(func() error {
		// failure leaves the history empty; the dashboard keeps running
		_ = store.Activate(ctx)
		return nil
	})

	g.Go(func() error {
		if err := stream.Run(ctx); err != nil {
			log.Printf("[main] alert stream stopped: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("[main] serving API on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve API: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Printf("[main] shutting down")
		stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Printf("[main] done")
	return err
}
