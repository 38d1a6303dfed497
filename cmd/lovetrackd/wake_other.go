//go:build !darwin

package main

import "context"

// wakeChannel: no sleep notifier off darwin; the channel never fires.
func wakeChannel(ctx context.Context) <-chan struct{} {
	return make(chan struct{})
}
