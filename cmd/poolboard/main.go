package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hako/durafmt"
	"github.com/spf13/cobra"

	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/app/server"
	"github.com/JellyTony/poolboard/config"
	"github.com/JellyTony/poolboard/logger"
	"github.com/JellyTony/poolboard/mq"
	"github.com/JellyTony/poolboard/series"
	"github.com/JellyTony/poolboard/stats"
	"github.com/JellyTony/poolboard/websocket"
)

type store interface {
	server.StatsStore
	server.WindowStore
}

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "poolboard",
		Short:         "Mining pool dashboard backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("PB_CONFIG"), "path to a TOML config file")
	root.AddCommand(serveCmd(&cfgPath), estimateCmd(&cfgPath))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	err = logger.Init(logger.Settings{Format: cfg.LogFormat, Level: cfg.LogLevel, Filename: cfg.LogFile})
	return cfg, err
}

func openStore(cfg config.Config) (store, error) {
	switch cfg.StoreKind {
	case "pg":
		return stats.NewPGStore(cfg.StoreDSN)
	case "leveldb":
		return stats.NewLevelStore(cfg.StorePath)
	default:
		return stats.NewMemoryStore(), nil
	}
}

func openQueue(cfg config.Config) (server.MessageQueue, error) {
	if cfg.MQKind == "rabbit" {
		return mq.NewRabbitMQ(cfg.MQURL, cfg.MQExchange)
	}
	return mq.NewMemoryQueue(1024), nil
}

func serveCmd(cfgPath *string) *cobra.Command {
	var addr, adminAddr, storeKind, mqKind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the pool API and serve the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if adminAddr != "" {
				cfg.AdminAddr = adminAddr
			}
			if storeKind != "" {
				cfg.StoreKind = storeKind
			}
			if mqKind != "" {
				cfg.MQKind = mqKind
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				logger.WithError(err).Error("store init failed")
				return err
			}
			queue, err := openQueue(cfg)
			if err != nil {
				logger.WithError(err).Error("mq init failed")
				_ = st.Close()
				return err
			}
			api := apiclient.New(apiclient.Options{BaseURL: cfg.APIBaseURL, V2BaseURL: cfg.APIV2BaseURL, Timeout: cfg.APITimeout})
			app := server.NewAppServer(server.Options{
				Addr:          cfg.Addr,
				AdminAddr:     cfg.AdminAddr,
				API:           api,
				Stats:         st,
				Windows:       st,
				MQ:            queue,
				Feed:          websocket.NewHub(16, 10*time.Second),
				Sessions:      server.NewSessions(cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookies),
				PollInterval:  cfg.PollInterval,
				PollTimeout:   cfg.PollTimeout,
				APITimeout:    cfg.APITimeout,
				CoinsPerBlock: cfg.CoinsPerBlock,
				SmoothWindow:  cfg.SmoothWindow,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- app.Start(ctx) }()
			logger.WithFields(logger.Fields{"module": "main", "addr": cfg.Addr, "admin_addr": cfg.AdminAddr, "store": cfg.StoreKind, "mq": cfg.MQKind}).Info("poolboard started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			var runErr error
			select {
			case sig := <-sigCh:
				logger.WithFields(logger.Fields{"module": "main", "signal": sig.String()}).Info("shutting down")
			case runErr = <-errCh:
				logger.WithError(runErr).Error("server stopped")
			}
			cancel()
			if err := app.Shutdown(context.Background()); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "dashboard listen address")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin listen address")
	cmd.Flags().StringVar(&storeKind, "store", "", "store backend: memory|pg|leveldb")
	cmd.Flags().StringVar(&mqKind, "mq", "", "update bus: memory|rabbit")
	return cmd
}

// estimateCmd logs in once, fetches the reward windows and prints the
// estimates without starting the server.
func estimateCmd(cfgPath *string) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Print the block reward and daily earning estimate for a miner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PollTimeout)
			defer cancel()
			start := time.Now()
			api := apiclient.New(apiclient.Options{BaseURL: cfg.APIBaseURL, V2BaseURL: cfg.APIV2BaseURL, Timeout: cfg.APITimeout})
			cred, err := api.Login(ctx, username, password)
			if err != nil {
				return err
			}
			latest, err := api.LatestBlock(ctx)
			if err != nil {
				return err
			}
			pool, err := api.PoolStats(ctx, latest.Height, series.RewardWindow, "height", "timestamp", "shares_processed")
			if err != nil {
				return err
			}
			shares, err := api.WorkerShares(ctx, cred, latest.Height, series.RewardWindow)
			if err != nil {
				return err
			}
			network, err := api.NetworkStats(ctx, latest.Height, series.BlockRange)
			if err != nil {
				return err
			}
			minerStats, err := api.WorkerStats(ctx, cred, latest.Height, series.BlockRange)
			if err != nil {
				return err
			}

			est := series.NewEstimator(cfg.CoinsPerBlock)
			window := time.Duration(series.RewardWindow) * time.Minute
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "miner %s (%d) at height %d\n", cred.Username, cred.ID, latest.Height)
			if agg, ok := est.EstimateBlockReward(series.ShareWindow(shares, pool, latest.Height)); ok {
				fmt.Fprintf(out, "block reward share over %s: %.6f (credit %.0f of %.0f)\n",
					durafmt.Parse(window).LimitFirstN(2).String(), agg.UserReward, agg.UserCredit, agg.PoolCredit)
			} else {
				fmt.Fprintln(out, "block reward share: not enough data")
			}
			from := latest.Height - series.BlockRange + 1
			if daily, ok := est.DailyEarningFromGpsRange(minerStats, network, from, latest.Height); ok {
				fmt.Fprintf(out, "daily earning: %.6f\n", daily)
			} else {
				fmt.Fprintln(out, "daily earning: not enough data")
			}
			fmt.Fprintf(out, "fetched in %s\n", durafmt.Parse(time.Since(start)).LimitFirstN(2).String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "pool username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "pool password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
