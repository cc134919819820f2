package main

import (
	"os"
	"os/signal"
	"syscall"
)

// waitForInterrupt blocks until SIGINT or SIGTERM arrives, notifying on
// sig (which the caller owns only for its buffering; waitForInterrupt
// registers its own signal.Notify internally).
func waitForInterrupt(sig chan os.Signal) {
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
