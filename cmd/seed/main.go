// Command seed runs the authoritative membership consensus process:
// accepts REGISTER_REQUEST/DEAD_REPORT from peers, votes on proposals
// with the other configured seeds, and serves the committed peer list.
package main

import (
	"context"
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
	"github.com/driftmesh/overlay/internal/audit"
	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/nodeconfig"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/seed"
	"github.com/driftmesh/overlay/internal/seedconfig"
)

func init() {
	rootCmd.Flags().String("config", "config.csv", "path to the seed address list (host,port per line)")
	rootCmd.Flags().String("tuning", "", "optional TOML file overriding protocol timing defaults")
	rootCmd.Flags().String("admin-addr", "", "address to serve /healthz and /metrics on (empty disables)")
	rootCmd.Flags().String("audit-db", "", "path to the SQLite audit trail (empty disables)")
}

var rootCmd = &cobra.Command{
	Use:   "seed HOST PORT",
	Short: "Run an overlay membership seed",
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
	auditDB, _ := cmd.Flags().GetString("audit-db")

	seeds, err := seedconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load seed config: %w", err)
	}
	cfg, err := nodeconfig.Load(tuningPath)
	if err != nil {
		return fmt.Errorf("load tuning config: %w", err)
	}

	log, err := eventlog.Open(fmt.Sprintf("outputfile_seed_%d.txt", port))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer log.Close()

	var auditStore *audit.Store
	if auditDB != "" {
		auditStore, err = audit.Open(auditDB)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer auditStore.Close()
	}

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	core := seed.NewCore(self, seeds, cfg.Seed, log, tracer, auditStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := seed.Listen(net.JoinHostPort(host, args[1]), core)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	core.DialMesh(ctx, cfg.Transport.DialBackoff.Duration, cfg.Transport.DialRetries)

	if adminAddr != "" {
		admin := adminapi.NewServer(tracer, core, nil)
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

	log.Log(eventlog.KindSeedLinkUp, map[string]string{"self": self.String()})
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
