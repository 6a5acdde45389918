// Package app orchestre les différents modes d'exécution de subcatch :
// extraction directe bilibili, rejeu d'une URL de sous-titres à travers
// l'intercepteur, et mode serveur exposant le bus aux autres contextes.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/patrickprogramme/subcatch/internal/bilibili"
	"github.com/patrickprogramme/subcatch/internal/clipboard"
	"github.com/patrickprogramme/subcatch/internal/config"
	"github.com/patrickprogramme/subcatch/internal/fsutil"
	"github.com/patrickprogramme/subcatch/internal/intercept"
	"github.com/patrickprogramme/subcatch/internal/normalize"
	"github.com/patrickprogramme/subcatch/internal/session"
	"github.com/patrickprogramme/subcatch/internal/ui"
	"github.com/patrickprogramme/subcatch/pkg/model"
)

const (
	defaultExtractTimeout = 2 * time.Minute
	filePerm              = 0o644
)

// CLIFlags contient les information venant des flags de l'app
type CLIFlags struct {
	ConfigPath string
	Platform   string
	// CaptureURL est l'URL de sous-titres à rejouer à travers l'intercepteur
	// (mode youtube).
	CaptureURL string
	VideoID    string
	PartID     string
	Language   string
	Copy       bool
	// Listen active le mode serveur sur cette adresse (ex: ":8757").
	Listen string
}

// App orchestre les différentes dépendances (session, fournisseurs, FS...)
type App struct {
	cfg   *config.Config
	ui    ui.Interface
	flags *CLIFlags
}

// New construit l'application. Pour les tests, on préférera construire App en
// injectant des implémentations mock.
func New(cfg *config.Config, uiClient ui.Interface, flags *CLIFlags) *App {
	return &App{cfg: cfg, ui: uiClient, flags: flags}
}

// Run choisit le mode d'exécution et le déroule jusqu'au bout.
func (a *App) Run(ctx context.Context) error {
	if a.flags.Listen != "" {
		return a.runServe(ctx)
	}

	exCtx, exCancel := context.WithTimeout(ctx, defaultExtractTimeout)
	defer exCancel()

	switch a.flags.Platform {
	case string(model.PlatformBilibili):
		return a.runBilibili(exCtx)
	case string(model.PlatformYouTube), "":
		return a.runCapture(exCtx)
	default:
		return fmt.Errorf("plateforme inconnue : %s", a.flags.Platform)
	}
}

// runBilibili : flux fetch-direct complet, sans trafic de lecteur à observer.
func (a *App) runBilibili(ctx context.Context) error {
	if a.flags.VideoID == "" || a.flags.PartID == "" {
		return fmt.Errorf("le mode bilibili requiert -video-id (bvid) et -cid")
	}

	client := bilibili.New(nil)
	client.SetAPIBase(a.cfg.Bilibili.APIBase)
	client.SetTimeout(a.cfg.Bilibili.Timeout.Std())

	tracks, err := client.TrackList(ctx, a.flags.VideoID, a.flags.PartID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("opération annulée")
		}
		return fmt.Errorf("liste des pistes: %w", err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("cette vidéo n'annonce aucun sous-titre")
	}
	a.ui.PrintInfo(ctx, fmt.Sprintf("%d piste(s) annoncée(s)", len(tracks)))
	for _, t := range tracks {
		a.ui.PrintInfo(ctx, "  - "+t.String())
	}

	track, err := bilibili.PickTrack(tracks, a.flags.Language)
	if err != nil {
		return fmt.Errorf("sélection de piste: %w", err)
	}
	cues, err := client.FetchCues(ctx, track)
	if err != nil {
		return fmt.Errorf("téléchargement des sous-titres: %w", err)
	}

	info := model.VideoInfo{VideoID: a.flags.VideoID, PartID: a.flags.PartID, Tracks: tracks}
	data := model.NewExportData(model.PlatformBilibili, info, track.LanguageCode, cues)
	return a.finish(ctx, data)
}

// runCapture rejoue une URL de sous-titres à travers l'intercepteur : le
// corps de la réponse est capturé au vol dans la session, exactement comme
// dans le trafic vivant du lecteur, puis extrait.
func (a *App) runCapture(ctx context.Context) error {
	if a.flags.CaptureURL == "" {
		return fmt.Errorf("le mode capture requiert -capture-url")
	}

	sess := session.New()
	sess.SetVideoInfo(model.VideoInfo{VideoID: a.flags.VideoID})

	transport := intercept.New(nil, sess, func(ev intercept.CaptureEvent) {
		a.ui.PrintInfo(ctx, fmt.Sprintf("capture : langue %s (%s)", ev.LanguageCode, ev.Format))
	})
	transport.SetMarker(a.cfg.Capture.PathMarker)
	transport.SetMaxBytes(a.cfg.Capture.MaxBytes)
	// pas de timeout client : le contexte d'extraction borne déjà l'appel
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.flags.CaptureURL, nil)
	if err != nil {
		return fmt.Errorf("URL de capture invalide: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rejeu de la requête: %w", err)
	}
	resp.Body.Close()

	captured, ok := sess.CaptureFor(a.flags.Language)
	if !ok {
		return fmt.Errorf("la réponse n'a produit aucune capture exploitable")
	}
	cues := normalize.Normalize(captured.Data, captured.Format)
	if len(cues) == 0 {
		return fmt.Errorf("sous-titres capturés illisibles")
	}

	if a.cfg.SaveRawCapture {
		ext := ".json"
		if captured.Format == model.FormatTimedXML {
			ext = ".xml"
		}
		name := fsutil.SanitizeFilename("raw_"+captured.LanguageCode) + ext
		rawPath := filepath.Join(a.cfg.OutputDir, name)
		if err := fsutil.WriteFileAtomic(rawPath, captured.Data, filePerm); err != nil {
			a.ui.PrintError(ctx, fmt.Sprintf("sauvegarde du payload brut impossible: %v", err))
		} else {
			a.ui.PrintInfo(ctx, "payload brut sauvegardé : "+rawPath)
		}
	}

	info := sess.VideoInfo()
	data := model.NewExportData(model.PlatformYouTube, info, captured.LanguageCode, cues)
	return a.finish(ctx, data)
}

// finish matérialise l'export : fichier JSON atomique dans le dossier de
// sortie, et copie presse-papier du texte brut si demandée.
func (a *App) finish(ctx context.Context, data model.ExportData) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("sérialisation de l'export: %w", err)
	}

	base := data.VideoID
	if base == "" {
		base = "subtitles"
	}
	base = fsutil.SanitizeFilename(base + "_" + data.Language)

	path, err := fsutil.SaveJSONAtomic(a.cfg.OutputDir, base, b, false)
	if err != nil {
		return fmt.Errorf("écriture de l'export: %w", err)
	}
	a.ui.PrintInfo(ctx, fmt.Sprintf("export écrit : %s (%d cues)", path, len(data.Subtitles)))

	if a.flags.Copy || a.cfg.CopyToClipboard {
		if !clipboard.Available() {
			a.ui.PrintInfo(ctx, "presse-papier indisponible, copie ignorée")
			return nil
		}
		if err := clipboard.CopyText(data.Subtitles.Plain()); err != nil {
			return fmt.Errorf("copie presse-papier: %w", err)
		}
		a.ui.PrintInfo(ctx, "texte copié dans le presse-papier")
	}
	return nil
}
