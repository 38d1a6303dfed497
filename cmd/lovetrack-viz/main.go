// lovetrack-viz draws live trackpad touches in a window: one ellipse per
// finger, scaled by contact size, with a fading trail from recent frames.
package main

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"syscall"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/device/emulator"
	"github.com/lovetrack/lovetrack/internal/session"
	"github.com/lovetrack/lovetrack/internal/touch"
)

const (
	windowWidth  = 800
	windowHeight = 560
	trailFrames  = 30
)

// touchPalette cycles per contact ID so fingers stay visually distinct.
var touchPalette = []color.RGBA{
	{0x4f, 0xc3, 0xf7, 0xff}, // light blue
	{0xff, 0x8a, 0x65, 0xff}, // orange
	{0x81, 0xc7, 0x84, 0xff}, // green
	{0xba, 0x68, 0xc8, 0xff}, // purple
	{0xff, 0xd5, 0x4f, 0xff}, // yellow
}

var flagEmulate bool

var rootCmd = &cobra.Command{
	Use:          "lovetrack-viz",
	Short:        "Visualize live trackpad touches",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().BoolVar(&flagEmulate, "emulate", false, "use the synthetic trackpad")
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

	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetWindowTitle("lovetrack")

	// Ebiten owns the main thread; the session delivers frames on its own
	// goroutines and the game just reads the latest state each tick.
	g := &game{sess: sess, cancel: cancel}
	if err := ebiten.RunGame(g); err != nil && err != ebiten.Termination {
		return err
	}
	return nil
}

type game struct {
	sess   *session.Session
	cancel context.CancelFunc

	frame touch.Frame
	trail []touch.Frame
}

func (g *game) Update() error {
	if f, ok := g.sess.Latest(); ok {
		g.frame = f
	}
	g.trail = g.sess.History(trailFrames)

	if ebiten.IsKeyPressed(ebiten.KeyEscape) {
		g.cancel()
		return ebiten.Termination
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{0x12, 0x12, 0x16, 0xff})

	// Trail: older frames dimmer.
	for i, f := range g.trail {
		alpha := uint8(30 + 120*i/max(len(g.trail), 1))
		for _, t := range f.Touches {
			if !t.Active() {
				continue
			}
			c := paletteFor(t.ID)
			c.A = alpha
			vector.DrawFilledCircle(screen, t.X*windowWidth, t.Y*windowHeight, 4, c, true)
		}
	}

	// Current frame: full circles sized by contact size.
	for _, t := range g.frame.Touches {
		if !t.Active() {
			continue
		}
		radius := 10 + t.Size*30
		vector.DrawFilledCircle(screen, t.X*windowWidth, t.Y*windowHeight, radius, paletteFor(t.ID), true)
	}

	stats := g.sess.Stats()
	msg := fmt.Sprintf("%s | frame %d | %d finger(s) | esc to quit",
		g.sess.SourceName(), g.frame.Seq, stats.ActiveTouches)
	ebitenutil.DebugPrint(screen, msg)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return windowWidth, windowHeight
}

func paletteFor(id int) color.RGBA {
	if id < 0 {
		id = -id
	}
	return touchPalette[id%len(touchPalette)]
}
