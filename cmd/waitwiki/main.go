// Command waitwiki shows short knowledge cards while you wait.
//
// Usage:
//
//	waitwiki                Terminal card viewer (same as `waitwiki tui`)
//	waitwiki card           Print one card and exit
//	waitwiki serve          HTTP API for browser extensions and widgets
//	waitwiki stats          Persisted counters and cache summary
//	waitwiki events         JSONL event log viewer
//	waitwiki version        Build information
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
