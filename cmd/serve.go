package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ghyeongl/pickindex/remote"
	pickindex "github.com/ghyeongl/pickindex/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the schedulers and the lookup and control server",
	Long: `Serve sweeps the configured directories every interval, consumes the
on-demand queue, and listens for lookups (GET /<name>, GET /?pickcode=) and
control requests under /api.

The process stops on SIGINT/SIGTERM or on POST /api/shutdown.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "", "listen host")
	f.Int("port", 0, "listen port")
	f.String("targets-file", "", "file of directory ids to sweep, watched for changes")
	bindFlags(viper.GetViper(), f, map[string]string{
		"host":         "host",
		"port":         "port",
		"targets_file": "targets-file",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	pickindex.InitLogger(cfg.LogDir, verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, resolver, err := openRemote(cfg)
	if err != nil {
		return err
	}

	backend, err := pickindex.OpenIndexBackend(ctx, backendConfig(cfg))
	if err != nil {
		return err
	}
	index := pickindex.NewNameIndex(backend)
	defer index.Close()

	dcfg, err := daemonConfig(cfg)
	if err != nil {
		return err
	}
	daemon, err := pickindex.NewDaemon(fetcher, index, dcfg)
	if err != nil {
		return err
	}

	ttl, err := cfg.LinkTTLDuration()
	if err != nil {
		return err
	}
	lookup := pickindex.NewLookup(index, resolver, ttl, cfg.ResolveLimit)
	defer lookup.Close()

	auth := pickindex.NewAuthorizer(cfg.Secret)
	handlers := pickindex.NewHandlers(daemon, auth)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           handlers.Router(lookup),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// The daemon ending (POST /api/shutdown) stops the process like a signal.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		daemon.Run(gctx)
		stop()
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s (auth %s)\n", addr, onOff(auth.Enabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openRemote(cfg *Config) (pickindex.Fetcher, pickindex.Resolver, error) {
	switch cfg.Remote.Kind {
	case "local":
		tree, err := remote.NewOsTree(cfg.Remote.Root, cfg.Remote.LinkBase)
		if err != nil {
			return nil, nil, err
		}
		return tree, tree, nil
	default:
		var cookies string
		if cfg.Remote.Cookies != "" {
			c, err := remote.LoadCookies(cfg.Remote.Cookies)
			if err != nil {
				return nil, nil, err
			}
			cookies = c
		}
		client := remote.NewClient(cfg.Remote.BaseURL, cookies)
		return client, client, nil
	}
}

func backendConfig(cfg *Config) pickindex.BackendConfig {
	path := cfg.Store.File
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	return pickindex.BackendConfig{
		Kind:          cfg.Store.Kind,
		Path:          path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPass,
		RedisDB:       cfg.Store.RedisDB,
		RedisKey:      cfg.Store.RedisKey,
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// daemonConfig derives the daemon's settings from cfg.
func daemonConfig(cfg *Config) (pickindex.DaemonConfig, error) {
	interval, err := cfg.IntervalDuration()
	if err != nil {
		return pickindex.DaemonConfig{}, fmt.Errorf("interval: %w", err)
	}
	targetsFile := cfg.TargetsFile
	if targetsFile != "" {
		if targetsFile, err = homedir.Expand(targetsFile); err != nil {
			return pickindex.DaemonConfig{}, fmt.Errorf("targets_file: %w", err)
		}
	}
	return pickindex.DaemonConfig{
		Targets:       cfg.CIDs,
		Interval:      interval,
		TargetsFile:   targetsFile,
		BulkPageSize:  cfg.Page.Bulk,
		SmallPageSize: cfg.Page.Small,
	}, nil
}
