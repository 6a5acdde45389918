package bilibili

import "github.com/patrickprogramme/subcatch/pkg/model"

// apiEnvelope est l'enveloppe standard de l'API : code != 0 signale une
// erreur applicative même avec un statut HTTP 200.
type apiEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Subtitle struct {
			Subtitles []rawTrack `json:"subtitles"`
		} `json:"subtitle"`
	} `json:"data"`
}

// rawTrack est une piste telle qu'annoncée par l'API lecteur.
type rawTrack struct {
	Lan         string `json:"lan"`
	LanDoc      string `json:"lan_doc"`
	SubtitleURL string `json:"subtitle_url"`
	AiStatus    int    `json:"ai_status"` // >0 : sous-titres générés
}

func (t rawTrack) toModel() model.CaptionTrack {
	kind := model.TrackKindStandard
	if t.AiStatus > 0 {
		kind = model.TrackKindAuto
	}
	return model.CaptionTrack{
		LanguageCode:  t.Lan,
		DisplayName:   t.LanDoc,
		Kind:          kind,
		SourceLocator: t.SubtitleURL,
	}
}

// rawBody est le corps d'une piste : temps déjà en secondes, texte déjà
// propre ; le mapping vers Cue est direct (from/to/content -> start/end/text).
type rawBody struct {
	Body []rawLine `json:"body"`
}

type rawLine struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}
