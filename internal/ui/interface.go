package ui

import "context"

type Interface interface {
	PrintInfo(ctx context.Context, s string)
	PrintError(ctx context.Context, s string)

	// WaitForExit bloque jusqu'à ce qu'un signal d'annulation soit reçu via ctx (Ctrl+C).
	WaitForExit(ctx context.Context) error
}
