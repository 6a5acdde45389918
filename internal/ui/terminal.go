package ui

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type terminalUI struct{}

func NewTerminal() Interface {
	return &terminalUI{}
}

func (t *terminalUI) PrintInfo(ctx context.Context, s string) {
	fmt.Println(s)
}

func (t *terminalUI) PrintError(ctx context.Context, s string) {
	fmt.Fprintln(os.Stderr, s)
}

func (t *terminalUI) WaitForExit(ctx context.Context) error {
	fmt.Println("\nAppuyez sur Ctrl+C pour quitter.")

	// Prépare le canal pour les signaux d'interruption
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done(): // Context annulé ailleurs
		return ctx.Err()
	case <-sigCh: // Reçu Ctrl+C (SIGINT ou SIGTERM)
		return nil
	}
}
