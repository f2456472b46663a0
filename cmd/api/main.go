package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"contractflow/auth"
	"contractflow/config"
	"contractflow/contract"
	"contractflow/db"
	"contractflow/deal"
	"contractflow/logging"
	"contractflow/notify"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "contractflow-api",
		Short: "Contract lifecycle service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(issueCmd(), dispatchCmd(), cancelCmd())

	if err := rootCmd.ExecuteContext(signalContext()); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("outbox-batch-size", defaults.GetInt("outbox.batch_size"), "Outbox rows drained per pass")
	cmd.PersistentFlags().String("outbox-interval", defaults.GetString("outbox.interval"), "Outbox drain interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "outbox.batch_size", "outbox-batch-size")
	bindFlag(cmd, "outbox.interval", "outbox-interval")
}

func bindFlag(cmd *cobra.Command, key, flagName string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(err)
	}
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

// services bundles the wired application, shared by the server and the admin
// subcommands.
type services struct {
	cfg       config.AppConfig
	logger    *zap.Logger
	contracts *contract.Service
	deals     *deal.Service
	auth      *auth.Service
	drainer   *notify.Drainer
	close     func()
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", zap.Error(err))
		return nil, err
	}

	contractSvc := contract.NewService(pool, contract.NewRepository(pool), logger)
	return &services{
		cfg:       cfg,
		logger:    logger,
		contracts: contractSvc,
		deals:     deal.NewService(pool, deal.NewRepository(pool), contractSvc, logger),
		auth:      auth.NewService(auth.NewRepository(pool), cfg.AuthSecret),
		drainer:   notify.NewDrainer(pool, &notify.LogDispatcher{Logger: logger}, logger),
		close: func() {
			pool.Close()
			logger.Sync()
		},
	}, nil
}

func serve(ctx context.Context) error {
	app, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer app.close()
	logger := app.logger

	if app.cfg.BootstrapAdminEmail != "" && app.cfg.BootstrapAdminPassword != "" {
		_, err := app.auth.Register(ctx, auth.RegisterRequest{
			Email:    app.cfg.BootstrapAdminEmail,
			Password: app.cfg.BootstrapAdminPassword,
			FullName: "Bootstrap Admin",
			Role:     auth.RoleAdmin,
		})
		switch {
		case err == nil:
			logger.Info("bootstrap admin created", zap.String("email", app.cfg.BootstrapAdminEmail))
		case errors.Is(err, auth.ErrDuplicateEmail):
			logger.Debug("bootstrap admin already exists", zap.String("email", app.cfg.BootstrapAdminEmail))
		default:
			return err
		}
	}

	drainInterval, err := time.ParseDuration(app.cfg.OutboxInterval)
	if err != nil {
		return err
	}

	logger.Info("contract service ready",
		zap.String("http_address", app.cfg.HTTPAddress),
		zap.Duration("outbox_interval", drainInterval))

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if n, err := app.drainer.DrainOnce(ctx, app.cfg.OutboxBatchSize); err != nil {
				logger.Warn("outbox drain failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("outbox drained", zap.Int("dispatched", n))
			}
		}
	}
}

func issueCmd() *cobra.Command {
	var params deal.IssueParams
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a contract from an accepted deal",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			rec, err := app.deals.IssueContract(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "issued %s (%s)\n", rec.ContractNumber, rec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&params.DealID, "deal-id", "", "deal to issue from")
	cmd.Flags().StringVar(&params.SpeakerName, "speaker-name", "", "override speaker name")
	cmd.Flags().StringVar(&params.SpeakerEmail, "speaker-email", "", "override speaker email")
	cmd.Flags().Float64Var(&params.SpeakerFee, "speaker-fee", 0, "override speaker fee")
	cmd.Flags().StringVar(&params.PaymentTerms, "payment-terms", "", "override payment terms")
	cmd.Flags().StringVar(&params.AdditionalTerms, "additional-terms", "", "additional terms text")
	cmd.Flags().StringVar(&params.ClientSigner, "client-signer", "", "override client signer name")
	cmd.MarkFlagRequired("deal-id")
	return cmd
}

func dispatchCmd() *cobra.Command {
	var contractID string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send a contract out for signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			rec, err := app.contracts.DispatchForSignature(cmd.Context(), contractID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s (status %s)\n", rec.ContractNumber, rec.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&contractID, "contract-id", "", "contract to dispatch")
	cmd.MarkFlagRequired("contract-id")
	return cmd
}

func cancelCmd() *cobra.Command {
	var contractID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a contract that is not yet fully executed",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			rec, err := app.contracts.Cancel(cmd.Context(), contractID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", rec.ContractNumber)
			return nil
		},
	}
	cmd.Flags().StringVar(&contractID, "contract-id", "", "contract to cancel")
	cmd.MarkFlagRequired("contract-id")
	return cmd
}
