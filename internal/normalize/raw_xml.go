package normalize

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// rawTimedXML représente le format timed-text XML :
// <transcript><text start="0" dur="1.5">Hello</text>...</transcript>
// Les attributs start/dur sont en secondes (fractionnaires), pas en ms.
type rawTimedXML struct {
	XMLName xml.Name     `xml:"transcript"`
	Texts   []rawXMLText `xml:"text"`
}

type rawXMLText struct {
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"` // absent -> 0
	Body  string  `xml:",chardata"`
}

// parseTimedXML parse un blob timed-XML et retourne la structure brute.
// Le décodeur est configuré en mode non-strict avec la table d'entités HTML :
// les payloads timedtext contiennent régulièrement des entités HTML (&nbsp;,
// &#39;, ...) qu'un parse XML strict rejetterait.
func parseTimedXML(b []byte) (rawTimedXML, error) {
	var raw rawTimedXML
	if len(b) == 0 {
		return raw, fmt.Errorf("parseTimedXML: empty input")
	}
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&raw); err != nil {
		return raw, fmt.Errorf("parseTimedXML: decode error: %w", err)
	}
	return raw, nil
}
