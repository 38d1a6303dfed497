// lovetrack-touches prints live trackpad touches, one line per contact.
// It demonstrates both access models: the callback stream (default) and the
// caller-owned-buffer polling mode (--poll).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/device/emulator"
	"github.com/lovetrack/lovetrack/internal/session"
	"github.com/lovetrack/lovetrack/internal/touch"
)

var (
	flagEmulate  bool
	flagPoll     bool
	flagJSON     bool
	flagMax      int
	flagInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "lovetrack-touches",
	Short:        "Print live trackpad touches",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().BoolVar(&flagEmulate, "emulate", false, "use the synthetic trackpad")
	rootCmd.Flags().BoolVar(&flagPoll, "poll", false, "poll into a fixed buffer instead of streaming")
	rootCmd.Flags().BoolVar(&flagJSON, "json", false, "print frames as JSON")
	rootCmd.Flags().IntVar(&flagMax, "max", 16, "poll buffer capacity (fingers)")
	rootCmd.Flags().DurationVar(&flagInterval, "interval", 50*time.Millisecond, "poll interval")
}

func main() {
	logrus.SetLevel(logrus.WarnLevel)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var src device.Source
	if flagEmulate {
		src = emulator.New(emulator.Config{Loop: true})
	} else {
		src = device.NewHardware()
	}

	sess := session.New(src, session.DefaultConfig())
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	fmt.Fprintf(os.Stderr, "reading from %s, Ctrl+C to exit\n", sess.SourceName())

	if flagPoll {
		return pollLoop(ctx, sess)
	}

	cancelSub := sess.Subscribe(printFrame)
	defer cancelSub()
	<-ctx.Done()
	return nil
}

// pollLoop exercises the caller-owned buffer model: one fixed allocation,
// reused every tick.
func pollLoop(ctx context.Context, sess *session.Session) error {
	buf := make([]touch.Touch, flagMax)
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n := sess.Poll(buf)
			for _, t := range buf[:n] {
				printTouch(t)
			}
			sess.Reset(buf)
		}
	}
}

func printFrame(f touch.Frame) {
	if flagJSON {
		data, err := json.Marshal(f)
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	for _, t := range f.Touches {
		printTouch(t)
	}
}

func printTouch(t touch.Touch) {
	if flagJSON {
		data, err := json.Marshal(t)
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	fmt.Printf("id=%-3d %-12s pos=(%.3f, %.3f) vel=(%+.3f, %+.3f) size=%.2f angle=%.2f axes=(%.3f, %.3f)\n",
		t.ID, t.Phase, t.X, t.Y, t.VX, t.VY, t.Size, t.Angle, t.MajorAxis, t.MinorAxis)
}
