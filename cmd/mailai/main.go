package main

import (
	"errors"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"

	"mailai-go/internal/app"
)

func main() {
	err := app.Run()
	if errors.Is(err, app.ErrRestartRequested) {
		// Re-exec in place so the new configuration takes effect from a
		// clean process.
		if execErr := syscall.Exec(os.Args[0], os.Args, os.Environ()); execErr != nil {
			logrus.Fatalf("failed to restart process: %v", execErr)
		}
	}
	if err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
