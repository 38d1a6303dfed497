//go:build darwin

package main

import (
	"context"

	"github.com/prashantgupta24/mac-sleep-notifier/notifier"
	"github.com/sirupsen/logrus"
)

// wakeChannel signals system wakes so the session loop can re-register the
// contact callback, which the framework drops across sleep.
func wakeChannel(ctx context.Context) <-chan struct{} {
	wakeCh := make(chan struct{}, 1)
	sleepCh := notifier.GetInstance().Start()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case activity, ok := <-sleepCh:
				if !ok {
					return
				}
				if activity.Type == notifier.Awake {
					logrus.Info("system wake detected")
					select {
					case wakeCh <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	return wakeCh
}
