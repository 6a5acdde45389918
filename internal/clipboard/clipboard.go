// Package clipboard encapsule l'accès au presse-papier pour la copie du
// texte extrait.
package clipboard

import (
	"errors"

	"github.com/atotto/clipboard"
)

// ErrEmptyText est retourné quand on tente de copier une chaîne vide.
var ErrEmptyText = errors.New("le texte à copier ne peut pas être vide")

// CopyText écrit le texte des sous-titres dans le presse-papier.
func CopyText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	return clipboard.WriteAll(text)
}

// Available indique si un presse-papier utilisable est présent sur ce
// système (faux sur les environnements headless sans xclip/xsel).
func Available() bool {
	return !clipboard.Unsupported
}
