// Package bilibili est le fournisseur "fetch direct" : contrairement à la
// plateforme interceptée, les sous-titres s'obtiennent ici par un appel
// requête/réponse stable à partir d'un couple d'identifiants (bvid, cid).
package bilibili

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickprogramme/subcatch/internal/fetch"
	"github.com/patrickprogramme/subcatch/pkg/model"
)

const (
	// DefaultAPIBase est la racine de l'API lecteur.
	DefaultAPIBase = "https://api.bilibili.com"

	// siteOrigin est exigé en Referer/Origin par l'API.
	siteOrigin = "https://www.bilibili.com"
)

var ErrNoSubtitle = errors.New("bilibili: no subtitle available")

// Client interroge l'API lecteur. Le zéro n'est pas utilisable, passer par New.
type Client struct {
	apiBase    string
	httpClient *http.Client
	timeout    time.Duration
}

// New construit le client. httpClient nil -> client par défaut.
func New(httpClient *http.Client) *Client {
	return &Client{
		apiBase:    DefaultAPIBase,
		httpClient: httpClient,
		timeout:    fetch.DefaultTimeout,
	}
}

// SetAPIBase remplace la racine d'API (tests).
func (c *Client) SetAPIBase(base string) { c.apiBase = strings.TrimSuffix(base, "/") }

// SetTimeout ajuste le délai par requête.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

func (c *Client) opts(origin bool) fetch.Options {
	headers := map[string]string{"Referer": siteOrigin}
	if origin {
		headers["Origin"] = siteOrigin
	}
	return fetch.Options{
		Timeout: c.timeout,
		Headers: headers,
		Client:  c.httpClient,
	}
}

// TrackList retourne les pistes annoncées pour la vidéo (bvid) et la partie
// (cid). Une vidéo sans sous-titres donne une liste vide, pas une erreur :
// c'est un état terminal attendu.
func (c *Client) TrackList(ctx context.Context, bvid, cid string) ([]model.CaptionTrack, error) {
	if bvid == "" || cid == "" {
		return nil, fmt.Errorf("bilibili: bvid et cid requis")
	}

	url := fmt.Sprintf("%s/x/player/wbi/v2?bvid=%s&cid=%s", c.apiBase, bvid, cid)
	env, err := fetch.JSON[apiEnvelope](ctx, url, c.opts(false))
	if err != nil {
		return nil, fmt.Errorf("bilibili: track list: %w", err)
	}
	if env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = "API returned error"
		}
		return nil, fmt.Errorf("bilibili: track list: code %d: %s", env.Code, msg)
	}

	tracks := make([]model.CaptionTrack, 0, len(env.Data.Subtitle.Subtitles))
	for _, rt := range env.Data.Subtitle.Subtitles {
		tracks = append(tracks, rt.toModel())
	}
	return tracks, nil
}

// FetchCues télécharge le corps d'une piste et le convertit en CueList.
// Les URLs protocole-relatif ("//host/...") sont complétées en https.
func (c *Client) FetchCues(ctx context.Context, track model.CaptionTrack) (model.CueList, error) {
	url := track.SourceLocator
	if url == "" {
		return nil, fmt.Errorf("bilibili: %w: piste %s sans URL", ErrNoSubtitle, track.LanguageCode)
	}
	if strings.HasPrefix(url, "//") {
		url = "https:" + url
	}

	body, err := fetch.JSON[rawBody](ctx, url, c.opts(true))
	if err != nil {
		return nil, fmt.Errorf("bilibili: subtitle content: %w", err)
	}

	cues := make(model.CueList, 0, len(body.Body))
	for _, line := range body.Body {
		text := strings.TrimSpace(line.Content)
		if text == "" {
			continue
		}
		cues = append(cues, model.Cue{
			StartSeconds: line.From,
			EndSeconds:   line.To,
			Text:         text,
		})
	}
	return cues, nil
}

// PickTrack sélectionne la piste demandée, ou la première disponible si la
// langue exacte n'existe pas (l'appelant tolère un résultat approché).
func PickTrack(tracks []model.CaptionTrack, lang string) (model.CaptionTrack, error) {
	if len(tracks) == 0 {
		return model.CaptionTrack{}, ErrNoSubtitle
	}
	for _, t := range tracks {
		if t.LanguageCode == lang {
			return t, nil
		}
	}
	return tracks[0], nil
}
