package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/voting"
	"github.com/kozaktomas/face-ballot/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Ballot HTTP API.

The ledger connection and face models are set up lazily on the first request
that needs them (or POST /api/initialize), so the server starts even when the
chain node is not reachable yet.

Use --eager to build the voting session before accepting requests.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("eager", false, "Connect to the ledger and load face models at startup")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" && !cmd.Flags().Changed("port") {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" && !cmd.Flags().Changed("host") {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := connectReceiptStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	session := voting.NewSession(buildOrchestrator(cfg))

	if mustGetBool(cmd, "eager") {
		fmt.Printf("Initializing voting session...\n")
		o, err := session.Get(ctx)
		if err != nil {
			return fmt.Errorf("initializing voting session: %w", err)
		}
		if err := o.Init(ctx); err != nil {
			return err
		}
		fmt.Printf("Signer %s is the contract admin\n", o.Signer().Hex())
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, session, port, host)

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Ballot API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
