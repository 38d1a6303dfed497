package main

import (
	"fmt"
	"os"

	daemon "github.com/sevlyar/go-daemon"
)

// daemonEnvVar marks the detached child process.
const daemonEnvVar = "LOVETRACKD_DAEMON_CHILD"

// daemonize detaches the process. A non-nil return is the child's process
// handle, meaning we are the parent and should exit; nil means this is the
// child and should keep running.
func daemonize() (*os.Process, error) {
	if os.Getenv(daemonEnvVar) == "1" {
		// Already the detached child.
		return nil, nil
	}

	ctx := &daemon.Context{
		WorkDir: "/",
		Umask:   027,
		Args:    os.Args,
		Env:     append(os.Environ(), fmt.Sprintf("%s=1", daemonEnvVar)),
	}

	child, err := ctx.Reborn()
	if err != nil {
		return nil, fmt.Errorf("failed to daemonize: %w", err)
	}
	return child, nil
}
