package commitments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayprotocol/commitments"
	"github.com/relayprotocol/commitments/api"
)

const defaultPort = 8080

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the validation HTTP server",
		Long: `Run the validation HTTP server. Chain configuration is read from the CHAINS
environment variable (or a .env file): a JSON map from chain name to
{vmType, rpcUrl, rpcTimeoutInMs}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			chainConfigs, err := loadChainConfigs()
			if err != nil {
				return err
			}

			validator, err := commitments.NewValidator(chainConfigs)
			if err != nil {
				return err
			}

			if port == 0 {
				port = cast.ToInt(os.Getenv("PORT"))
			}
			if port == 0 {
				port = defaultPort
			}

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           api.NewServer(validator, logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", server.Addr))
				errCh <- server.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				logger.Info("shutting down", zap.String("signal", sig.String()))

				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}

				return nil
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (defaults to PORT env var, then 8080)")

	return cmd
}
