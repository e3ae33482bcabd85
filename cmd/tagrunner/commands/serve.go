package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lumeview/tagrunner/pkg/engine"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/server"
	"github.com/lumeview/tagrunner/pkg/store"
)

const defaultAddr = "127.0.0.1:7764"

func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".local", "share", "tagrunner", "models")
}

func newServeCmd() *cobra.Command {
	var (
		addr           string
		modelsDir      string
		ortLibrary     string
		allowedOrigins []string
	)

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the tagrunner daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.NewLogger(cmd.ErrOrStderr(), "tagrunner")

			if err := engine.InitRuntime(ortLibrary); err != nil {
				return err
			}
			defer engine.DestroyRuntime()

			st := store.NewLocalStore(modelsDir, store.WithLogger(log))
			e := engine.New(st, log)
			defer e.Close()

			manager := server.NewManager(log, st, e, allowedOrigins)
			srv := &http.Server{Addr: addr, Handler: manager}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Infof("listening on %s, models in %s", addr, st.RootPath())
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				log.Infoln("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	c.Flags().StringVar(&addr, "addr", defaultAddr, "Listen address")
	c.Flags().StringVar(&modelsDir, "models-dir", defaultModelsDir(), "Directory holding installed models")
	c.Flags().StringVar(&ortLibrary, "ort-lib", os.Getenv("TAGRUNNER_ORT_LIB"), "Path to the onnxruntime shared library")
	c.Flags().StringSliceVar(&allowedOrigins, "allow-origin", nil, "Allowed CORS origins")
	return c
}
