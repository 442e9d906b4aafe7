package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"kubemin-stack/cmd/stackctl/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := app.NewStackctlCommand()
	err := cmd.ExecuteContext(ctx)
	klog.Flush()
	if err != nil {
		stop()
		klog.Fatalf("run command: %v", err)
	}
}
