package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickprogramme/subcatch/internal/badge"
	"github.com/patrickprogramme/subcatch/internal/bilibili"
	"github.com/patrickprogramme/subcatch/internal/bridge"
	"github.com/patrickprogramme/subcatch/internal/export"
	"github.com/patrickprogramme/subcatch/internal/intercept"
	"github.com/patrickprogramme/subcatch/internal/session"
	"github.com/patrickprogramme/subcatch/pkg/model"
)

// testEnv assemble le trio de contextes : un faux contexte page (responder
// injector), le contrôleur (content) et un caller popup.
type testEnv struct {
	bus     *bridge.MemBus
	sess    *session.Session
	store   *export.AttrStore
	badge   *badge.LogIndicator
	ctrl    *Controller
	popup   *bridge.Caller
	page    *bridge.Responder
	cleanup []func()
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	env := &testEnv{
		bus:   bridge.NewMemBus(),
		sess:  session.New(),
		store: export.NewAttrStore(),
		badge: badge.NewLogIndicator(),
	}

	opts.Session = env.sess
	opts.Bus = env.bus
	opts.Export = env.store
	opts.Badge = env.badge
	opts.Caller = bridge.NewCaller(env.bus, bridge.SourceContent)
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 200 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	env.ctrl = New(opts)
	env.ctrl.Start(context.Background())
	env.popup = bridge.NewCaller(env.bus, bridge.SourcePopup)
	env.page = bridge.NewResponder(env.bus, bridge.SourceInjector)

	env.cleanup = append(env.cleanup,
		env.ctrl.Stop, env.popup.Close, opts.Caller.Close, env.page.Stop, env.bus.Close)
	t.Cleanup(func() {
		for _, fn := range env.cleanup {
			fn()
		}
	})
	return env
}

// servePageInfo fait répondre le faux contexte page avec les infos données.
func (e *testEnv) servePageInfo(info model.VideoInfo) {
	e.page.Handle(MsgGetVideoInfo, func(context.Context, json.RawMessage) (any, error) {
		return info, nil
	})
	e.page.Start(context.Background())
}

func TestGetStatus_ReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t, Options{TabID: 1, Platform: model.PlatformYouTube})
	env.servePageInfo(model.VideoInfo{
		VideoID: "vid42",
		Title:   "Demo",
		Tracks: []model.CaptionTrack{
			{LanguageCode: "en", DisplayName: "English"},
			{LanguageCode: "fr"},
		},
	})

	env.sess.UpsertCapture(session.CapturedCaption{LanguageCode: "en", Format: model.FormatTimedJSON, Seq: 1})

	raw, err := env.popup.Call(context.Background(), MsgGetStatus, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("GET_STATUS : %v", err)
	}
	var st StatusResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("décodage : %v", err)
	}

	if st.Platform != model.PlatformYouTube {
		t.Errorf("Platform = %q", st.Platform)
	}
	if st.VideoInfo.VideoID != "vid42" {
		t.Errorf("VideoID = %q", st.VideoInfo.VideoID)
	}
	if len(st.SubtitleList) != 2 {
		t.Fatalf("SubtitleList = %d entrées", len(st.SubtitleList))
	}
	if st.SubtitleList[0].Lan != "en" || st.SubtitleList[0].LanDoc != "English" {
		t.Errorf("première piste = %+v", st.SubtitleList[0])
	}
	// sans nom d'affichage, lan_doc retombe sur le code langue
	if st.SubtitleList[1].LanDoc != "fr" {
		t.Errorf("LanDoc fallback = %q", st.SubtitleList[1].LanDoc)
	}
	if !st.HasSubtitles {
		t.Error("HasSubtitles = false")
	}
	if st.CapturedCount != 1 || len(st.CapturedLanguages) != 1 || st.CapturedLanguages[0] != "en" {
		t.Errorf("captures = %d %v", st.CapturedCount, st.CapturedLanguages)
	}
}

func TestGetStatus_PageUnresponsiveServesCachedState(t *testing.T) {
	// aucun handler GET_VIDEO_INFO : le rafraîchissement expire, le statut
	// sert le dernier état connu au lieu d'échouer.
	env := newTestEnv(t, Options{TabID: 1, StatusTimeout: 50 * time.Millisecond})
	env.sess.SetVideoInfo(model.VideoInfo{VideoID: "cached", Title: "Stale but served"})

	raw, err := env.popup.Call(context.Background(), MsgGetStatus, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("GET_STATUS : %v", err)
	}
	var st StatusResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatal(err)
	}
	if st.VideoInfo.VideoID != "cached" {
		t.Errorf("VideoID = %q, attendu l'état en cache", st.VideoInfo.VideoID)
	}
}

// Scénario complet : une réponse XML capturée traverse session, extraction,
// normalisation et export, avec filtrage des entrées vides.
func TestExtract_EndToEndFromXMLCapture(t *testing.T) {
	env := newTestEnv(t, Options{TabID: 3, Platform: model.PlatformYouTube})
	env.servePageInfo(model.VideoInfo{VideoID: "vid123", Title: "Endtoend"})

	xmlBody := `<transcript><text start="0" dur="1.5">Hello</text><text start="2" dur="1">   </text></transcript>`
	env.sess.SetVideoInfo(model.VideoInfo{VideoID: "vid123", Title: "Endtoend"})
	env.sess.UpsertCapture(session.CapturedCaption{
		LanguageCode: "en",
		Format:       model.FormatTimedXML,
		Data:         []byte(xmlBody),
		Seq:          1,
	})

	raw, err := env.popup.Call(context.Background(), MsgExtractSubtitle,
		ExtractRequest{Language: "en"}, 2*time.Second)
	if err != nil {
		t.Fatalf("EXTRACT_SUBTITLE : %v", err)
	}
	var data model.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}

	if data.VideoID != "vid123" || data.Language != "en" {
		t.Errorf("export = %s/%s", data.VideoID, data.Language)
	}
	if len(data.Subtitles) != 1 {
		t.Fatalf("%d cues, attendu 1 (l'entrée blanche est filtrée)", len(data.Subtitles))
	}
	cue := data.Subtitles[0]
	if cue.StartSeconds != 0 || cue.EndSeconds != 1.5 || cue.Text != "Hello" {
		t.Errorf("cue = %+v", cue)
	}

	// l'export est relisible depuis le conteneur, et le badge passe à ready
	if stored, ok := env.store.Read(); !ok || stored.VideoID != "vid123" {
		t.Error("export absent du conteneur")
	}
	if env.badge.Last(3) != badge.StatusReady {
		t.Errorf("badge = %q", env.badge.Last(3))
	}
}

func TestExtract_TriggersReloadWhenNothingCaptured(t *testing.T) {
	env := newTestEnv(t, Options{Platform: model.PlatformYouTube, PollInterval: 10 * time.Millisecond})
	env.sess.SetVideoInfo(model.VideoInfo{VideoID: "vid9"})

	// le contexte page réagit à la demande de relance en produisant une
	// capture, comme le ferait le lecteur en rechargeant ses sous-titres
	env.page.HandleEvent(MsgReloadSubtitle, func(json.RawMessage) {
		env.sess.UpsertCapture(session.CapturedCaption{
			LanguageCode: "en",
			Format:       model.FormatTimedJSON,
			Data:         []byte(`{"events":[{"tStartMs":1000,"dDurationMs":500,"segs":[{"utf8":"Re"}]}]}`),
			Seq:          1,
		})
	})
	env.page.Start(context.Background())

	raw, err := env.popup.Call(context.Background(), MsgExtractSubtitle,
		ExtractRequest{Language: "en"}, 5*time.Second)
	if err != nil {
		t.Fatalf("EXTRACT_SUBTITLE : %v", err)
	}
	var data model.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Subtitles) != 1 || data.Subtitles[0].Text != "Re" {
		t.Errorf("cues = %+v", data.Subtitles)
	}
}

func TestExtract_DistinctErrors(t *testing.T) {
	t.Run("aucune capture", func(t *testing.T) {
		env := newTestEnv(t, Options{
			Platform:     model.PlatformYouTube,
			PollAttempts: 2,
			PollInterval: 10 * time.Millisecond,
		})
		env.sess.SetVideoInfo(model.VideoInfo{VideoID: "vid1"})

		_, err := env.popup.Call(context.Background(), MsgExtractSubtitle,
			ExtractRequest{Language: "en"}, 5*time.Second)
		if err == nil {
			t.Fatal("extraction sans capture devrait échouer")
		}
		if !errors.Is(err, bridge.ErrRemote) || !strings.Contains(err.Error(), ErrNoCapture.Error()) {
			t.Errorf("erreur = %v", err)
		}
	})

	t.Run("capture illisible", func(t *testing.T) {
		env := newTestEnv(t, Options{Platform: model.PlatformYouTube})
		env.sess.SetVideoInfo(model.VideoInfo{VideoID: "vid1"})
		env.sess.UpsertCapture(session.CapturedCaption{
			LanguageCode: "en",
			Format:       model.FormatTimedJSON,
			Data:         []byte(`{"events":[]}`), // vide après normalisation
			Seq:          1,
		})

		_, err := env.popup.Call(context.Background(), MsgExtractSubtitle,
			ExtractRequest{Language: "en"}, 5*time.Second)
		if err == nil || !strings.Contains(err.Error(), ErrUnreadable.Error()) {
			t.Errorf("erreur = %v, attendu capture illisible", err)
		}
	})

	t.Run("aucune vidéo", func(t *testing.T) {
		env := newTestEnv(t, Options{Platform: model.PlatformYouTube, StatusTimeout: 50 * time.Millisecond})

		_, err := env.popup.Call(context.Background(), MsgExtractSubtitle,
			ExtractRequest{Language: "en"}, 5*time.Second)
		if err == nil {
			t.Fatal("extraction sans vidéo devrait échouer")
		}
	})
}

func TestSubtitleDetected_DebouncePerLanguage(t *testing.T) {
	now := time.Unix(1000, 0)
	var count atomic.Int64

	env := newTestEnv(t, Options{
		TabID:          5,
		DebounceWindow: 3 * time.Second,
		Now:            func() time.Time { return now },
		OnDetected:     func(intercept.CaptureEvent) { count.Add(1) },
	})

	ev := intercept.CaptureEvent{LanguageCode: "en", Format: model.FormatTimedJSON}
	payload, _ := json.Marshal(ev)

	env.ctrl.onSubtitleDetected(payload)
	now = now.Add(time.Second)
	env.ctrl.onSubtitleDetected(payload) // dans la fenêtre : absorbé
	if got := count.Load(); got != 1 {
		t.Fatalf("%d notifications, attendu 1", got)
	}

	// autre langue : fenêtre indépendante
	evFr, _ := json.Marshal(intercept.CaptureEvent{LanguageCode: "fr", Format: model.FormatTimedJSON})
	env.ctrl.onSubtitleDetected(evFr)
	if got := count.Load(); got != 2 {
		t.Fatalf("%d notifications, attendu 2", got)
	}

	// fenêtre expirée : re-notifie
	now = now.Add(4 * time.Second)
	env.ctrl.onSubtitleDetected(payload)
	if got := count.Load(); got != 3 {
		t.Fatalf("%d notifications, attendu 3", got)
	}

	if env.badge.Last(5) != badge.StatusPending {
		t.Errorf("badge = %q", env.badge.Last(5))
	}
}

func TestExtract_BilibiliDirectFetch(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/x/player/wbi/v2"):
			fmt.Fprintf(w, `{"code":0,"data":{"subtitle":{"subtitles":[
				{"lan":"zh-CN","lan_doc":"中文","subtitle_url":"%s/body.json"}]}}}`, srvURL)
		case r.URL.Path == "/body.json":
			fmt.Fprint(w, `{"body":[{"from":1.2,"to":3.4,"content":"你好"},{"from":4,"to":5,"content":"  "}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	client := bilibili.New(srv.Client())
	client.SetAPIBase(srv.URL)

	env := newTestEnv(t, Options{TabID: 2, Platform: model.PlatformBilibili, Bilibili: client})
	env.sess.SetVideoInfo(model.VideoInfo{VideoID: "BV1xx411c7mD", PartID: "112233", Title: "Partie 1"})

	raw, err := env.popup.Call(context.Background(), MsgExtractSubtitle,
		ExtractRequest{Language: "zh-CN"}, 5*time.Second)
	if err != nil {
		t.Fatalf("EXTRACT_SUBTITLE bilibili : %v", err)
	}
	var data model.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}

	if data.Platform != model.PlatformBilibili || data.Language != "zh-CN" {
		t.Errorf("export = %s/%s", data.Platform, data.Language)
	}
	if len(data.Subtitles) != 1 || data.Subtitles[0].Text != "你好" {
		t.Errorf("cues = %+v", data.Subtitles)
	}

	// la liste de pistes obtenue est mémorisée dans la session
	if tracks := env.sess.VideoInfo().Tracks; len(tracks) != 1 {
		t.Errorf("pistes en session = %d", len(tracks))
	}
	if env.badge.Last(2) != badge.StatusReady {
		t.Errorf("badge = %q", env.badge.Last(2))
	}
}

func TestHooks_ResetClearsSessionAndDebounce(t *testing.T) {
	now := time.Unix(2000, 0)
	var count atomic.Int64
	env := newTestEnv(t, Options{
		TabID:          4,
		DebounceWindow: time.Hour,
		Now:            func() time.Time { return now },
		OnDetected:     func(intercept.CaptureEvent) { count.Add(1) },
	})

	env.sess.SetVideoInfo(model.VideoInfo{VideoID: "old"})
	env.sess.UpsertCapture(session.CapturedCaption{LanguageCode: "en", Format: model.FormatTimedJSON, Seq: 1})
	payload, _ := json.Marshal(intercept.CaptureEvent{LanguageCode: "en"})
	env.ctrl.onSubtitleDetected(payload)
	env.badge.Set(4, badge.StatusReady)

	hooks := env.ctrl.Hooks()
	hooks.OnReset()

	if env.sess.VideoID() != "" {
		t.Error("la session n'a pas été vidée")
	}
	if _, ok := env.sess.CaptureFor("en"); ok {
		t.Error("capture survivante après reset")
	}
	if env.badge.Last(4) != badge.StatusNone {
		t.Errorf("badge = %q", env.badge.Last(4))
	}

	// le dédoublonnage repart de zéro : la même langue re-notifie aussitôt
	env.ctrl.onSubtitleDetected(payload)
	if got := count.Load(); got != 2 {
		t.Errorf("%d notifications, attendu 2", got)
	}
}

func TestHooks_ReadySetsBadgeFromTracks(t *testing.T) {
	env := newTestEnv(t, Options{TabID: 6})
	hooks := env.ctrl.Hooks()

	hooks.OnReady(model.VideoInfo{VideoID: "v", Tracks: []model.CaptionTrack{{LanguageCode: "en"}}})
	if env.badge.Last(6) != badge.StatusPending {
		t.Errorf("badge avec pistes = %q", env.badge.Last(6))
	}
	if env.sess.VideoID() != "v" {
		t.Error("infos non mémorisées")
	}

	hooks.OnReady(model.VideoInfo{VideoID: "w"})
	if env.badge.Last(6) != badge.StatusNone {
		t.Errorf("badge sans piste = %q", env.badge.Last(6))
	}
}
