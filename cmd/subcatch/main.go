package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/patrickprogramme/subcatch/internal/app"
	"github.com/patrickprogramme/subcatch/internal/config"
	"github.com/patrickprogramme/subcatch/internal/ui"
)

func main() {
	flags := parseFlags()

	// déterminer exePath/binDir
	binDir := "."
	exePath, err := os.Executable()
	if err != nil {
		log.Printf("impossible de déterminer le chemin de l'executable: %v", err)
	} else {
		binDir = filepath.Dir(exePath)
		fmt.Printf("Lancement depuis: %s\n", exePath)
	}

	// emplacement config par défaut
	if flags.ConfigPath == "subcatch.yaml" || flags.ConfigPath == "" {
		flags.ConfigPath = filepath.Join(binDir, "subcatch.yaml")
	}

	// charger la config (créée avec les valeurs par défaut si absente)
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// appliquer le flag -copy par-dessus la config
	if flags.Copy {
		cfg.CopyToClipboard = true
	}

	// root context qui s'annule sur SIGINT / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tui := ui.NewTerminal()
	a := app.New(cfg, tui, flags)
	if err := a.Run(ctx); err != nil {
		log.Fatalf("app run: %v", err)
	}
}

func parseFlags() *app.CLIFlags {
	f := &app.CLIFlags{}
	flag.StringVar(&f.ConfigPath, "config", "subcatch.yaml", "path to config file")
	flag.StringVar(&f.Platform, "platform", "youtube", "plateforme vidéo (youtube ou bilibili)")
	flag.StringVar(&f.CaptureURL, "capture-url", "", "URL de sous-titres à rejouer à travers l'intercepteur")
	flag.StringVar(&f.VideoID, "video-id", "", "identifiant vidéo (bvid pour bilibili)")
	flag.StringVar(&f.PartID, "cid", "", "identifiant de partie bilibili")
	flag.StringVar(&f.Language, "lang", "", "code langue préféré (fallback : première piste)")
	flag.BoolVar(&f.Copy, "copy", false, "copier le texte extrait dans le presse-papier")
	flag.StringVar(&f.Listen, "listen", "", "adresse du mode serveur (ex: :8757)")
	flag.Parse()
	return f
}
