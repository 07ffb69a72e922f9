package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iliyamo/fracture-records/internal/handler"
	"github.com/iliyamo/fracture-records/internal/router"
)

const shutdownTimeout = 10 * time.Second

// bodyLimit leaves room for the multipart envelope and the other form
// fields around an image of n bytes.
func bodyLimit(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n/(1<<20)+2, 10) + "M"
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			deps := router.Deps{
				Log:          log,
				Auth:         a.auth,
				Patients:     a.patients,
				Uploads:      a.uploads,
				Admin:        a.admin,
				Files:        a.files.HTTPFS(),
				Redis:        a.redis,
				Metrics:      a.metrics,
				RateLimit:    cfg.RateLimit,
				CORSOrigins:  cfg.CORSOrigins,
				SecureCookie: cfg.IsProduction(),
				BodyLimit:    bodyLimit(cfg.MaxUploadBytes),
			}
			if a.db != nil {
				deps.DB = handler.Pinger(a.db)
			}
			e := router.New(deps)

			var wg sync.WaitGroup
			for _, c := range a.consumers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = c.Run(ctx)
				}()
			}

			errc := make(chan error, 1)
			go func() {
				log.Info().Str("addr", ":"+cfg.Port).Str("store", cfg.StoreDriver).Msg("listening")
				errc <- e.Start(":" + cfg.Port)
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					stop()
					wg.Wait()
					return err
				}
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = e.Shutdown(sctx)
			wg.Wait()
			return err
		},
	}
	cmd.Flags().String("port", "", "port to listen on (APP_PORT)")
	cmd.Flags().String("env", "", "environment name (APP_ENV)")
	cmd.Flags().String("store", "", "store driver, mysql or memory (STORE_DRIVER)")
	_ = v.BindPFlag("APP_PORT", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("APP_ENV", cmd.Flags().Lookup("env"))
	_ = v.BindPFlag("STORE_DRIVER", cmd.Flags().Lookup("store"))
	return cmd
}
