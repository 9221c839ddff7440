// Command peer runs a non-seed overlay participant: registers with the
// configured seeds, samples a preferential-attachment neighbor set from
// the union peer list, and then disseminates gossip while watching its
// neighbors for failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftmesh/overlay/internal/adminapi"
	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/nodeconfig"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/peer"
	"github.com/driftmesh/overlay/internal/seedconfig"
)

func init() {
	rootCmd.Flags().String("config", "config.csv", "path to the seed address list (host,port per line)")
	rootCmd.Flags().String("tuning", "", "optional TOML file overriding protocol timing defaults")
	rootCmd.Flags().String("admin-addr", "", "address to serve /healthz and /metrics on (empty disables)")
}

var rootCmd = &cobra.Command{
	Use:   "peer HOST PORT",
	Short: "Run an overlay peer",
	Args:  cobra.ExactArgs(2),
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	host := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	self := domain.NodeID{Host: host, Port: port}

	configPath, _ := cmd.Flags().GetString("config")
	tuningPath, _ := cmd.Flags().GetString("tuning")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")

	seeds, err := seedconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load seed config: %w", err)
	}
	cfg, err := nodeconfig.Load(tuningPath)
	if err != nil {
		return fmt.Errorf("load tuning config: %w", err)
	}

	log, err := eventlog.Open(fmt.Sprintf("outputfile_peer_%d.txt", port))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer log.Close()

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	state := peer.NewState(self, seeds, cfg.Peer, log, tracer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := peer.Bootstrap(ctx, state, cfg.Transport); err != nil {
		if errors.Is(err, domain.ErrRegistrationNacked) {
			fmt.Fprintln(os.Stderr, "registration rejected by seed quorum")
			os.Exit(2)
		}
		return fmt.Errorf("bootstrap: %w", err)
	}

	srv, err := peer.Listen(net.JoinHostPort(host, args[1]), state, cfg.Transport)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if adminAddr != "" {
		admin := adminapi.NewServer(tracer, nil, state)
		httpSrv := &http.Server{Addr: adminAddr, Handler: admin.Handler()}
		go func() {
			_ = httpSrv.ListenAndServe()
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	log.Log(eventlog.KindNeighborAdded, map[string]string{"self": self.String(), "bootstrap_neighbors": strconv.Itoa(state.NeighborCount())})
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Log(eventlog.KindShutdown, map[string]string{"self": self.String()})
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
