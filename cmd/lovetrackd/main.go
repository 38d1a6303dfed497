// lovetrackd reads multitouch trackpad frames and serves them to local
// consumers over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lovetrack/lovetrack/internal/config"
	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/device/emulator"
	"github.com/lovetrack/lovetrack/internal/server"
	"github.com/lovetrack/lovetrack/internal/session"
	"github.com/lovetrack/lovetrack/internal/tracker"
)

var version = "dev"

var (
	flagConfig  string
	flagAddr    string
	flagEmulate bool
	flagDetach  bool
	flagOpen    bool
)

var rootCmd = &cobra.Command{
	Use:   "lovetrackd",
	Short: "Multitouch trackpad frame daemon",
	Long: `lovetrackd listens to the built-in trackpad and serves per-finger
touch frames (position, velocity, ellipse geometry, lifecycle state) over
HTTP and websocket for other programs to consume.

On machines without a trackpad, --emulate replays a synthetic script.`,
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.config/lovetrack/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "listen address override")
	rootCmd.Flags().BoolVar(&flagEmulate, "emulate", false, "use the synthetic trackpad instead of hardware")
	rootCmd.Flags().BoolVar(&flagDetach, "detach", false, "run in the background")
	rootCmd.Flags().BoolVar(&flagOpen, "open", false, "open the status page in a browser")

	rootCmd.AddCommand(statusCmd, stopCmd, setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath resolves the effective config file path.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.DefaultConfigPath()
}

// loadConfig loads config and applies command-line overrides.
func loadConfig() *config.Config {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		logrus.WithError(err).Warn("config unreadable, using defaults")
		cfg = config.Default()
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}
	if flagEmulate {
		cfg.Device.Emulated = true
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// trackerConfig maps file config onto the tracking engine.
func trackerConfig(cfg *config.Config) tracker.Config {
	out := tracker.DefaultConfig()
	if cfg.Tracker.MinSize > 0 {
		out.MinSize = cfg.Tracker.MinSize
	}
	if cfg.Tracker.MatchDistance > 0 {
		out.MatchDistance = cfg.Tracker.MatchDistance
	}
	if cfg.Tracker.Smoothing > 0 {
		out.Smoothing = cfg.Tracker.Smoothing
	}
	if cfg.Tracker.Linger > 0 {
		out.Linger = time.Duration(cfg.Tracker.Linger).Seconds()
	}
	return out
}

// newSource picks the frame source for the current config.
func newSource(cfg *config.Config) device.Source {
	if cfg.Device.Emulated {
		return emulator.New(emulator.Config{Loop: true})
	}
	return device.NewHardware()
}

func runDaemon() error {
	cfg := loadConfig()
	setupLogging(cfg)

	if flagDetach {
		child, err := daemonize()
		if err != nil {
			return err
		}
		if child != nil {
			fmt.Printf("lovetrackd started in background (pid %d)\n", child.Pid)
			return nil
		}
		// Child continues below.
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("received shutdown signal")
		cancel()
	}()

	// holder publishes the current session to the server; nil between
	// session restarts.
	var holder atomic.Pointer[session.Session]

	srv := server.New(server.Config{
		Addr:  cfg.Server.Addr,
		CORS:  cfg.Server.CORS,
		Token: cfg.Server.APIToken,
	}, holder.Load, cancel)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if flagOpen {
		_ = browser.OpenURL("http://" + cfg.Server.Addr + "/api/status")
	}

	// Tracker parameters apply live on config file changes.
	go func() {
		err := config.Watch(ctx, configPath(), func(next *config.Config) {
			if sess := holder.Load(); sess != nil {
				sess.SetTrackerConfig(trackerConfig(next))
			}
		})
		if err != nil {
			logrus.WithError(err).Warn("config watch unavailable")
		}
	}()

	wakeCh := wakeChannel(ctx)

	// Main session loop: run a session until shutdown, wake, or source
	// failure, then start a fresh one.
	for ctx.Err() == nil {
		if err := runSession(ctx, cfg, &holder, wakeCh); err != nil {
			if errors.Is(err, device.ErrUnsupportedPlatform) && !cfg.Device.Emulated {
				logrus.Warn("no hardware trackpad on this platform, switching to emulator")
				cfg.Device.Emulated = true
				continue
			}
			logrus.WithError(err).Error("session failed, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("server shutdown")
	}

	select {
	case err := <-serverErr:
		return err
	default:
	}
	logrus.Info("exiting")
	return nil
}

// runSession runs one session until ctx cancellation, a wake signal, or a
// source failure. The session is always stopped before returning.
func runSession(ctx context.Context, cfg *config.Config, holder *atomic.Pointer[session.Session], wakeCh <-chan struct{}) error {
	src := newSource(cfg)
	sess := session.New(src, session.Config{Tracker: trackerConfig(cfg)})

	if err := sess.Start(ctx); err != nil {
		return err
	}
	holder.Store(sess)
	logrus.WithField("source", src.Name()).Info("tracking")

	defer func() {
		holder.Store(nil)
		sess.Stop()
	}()

	// Source failures surface through sess.Err; check periodically.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wakeCh:
			// The framework can stop delivering after sleep; restart
			// the session to re-register the contact callback.
			logrus.Info("system wake detected, restarting session")
			return nil
		case <-ticker.C:
			if err := sess.Err(); err != nil {
				return err
			}
		}
	}
}
