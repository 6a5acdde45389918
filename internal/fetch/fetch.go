// Package fetch fournit des utilitaires légers et testables pour télécharger
// des ressources HTTP : timeout via context, taille plafonnée, en-têtes
// additionnels (certaines APIs exigent Referer/Origin), client injectable
// pour brancher un transport intercepté ou un serveur de test.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultMaxBytes  = 10_000_000
	DefaultUserAgent = "SubCatch/1.0"
)

// Erreurs exportées
var (
	ErrStatus   = errors.New("unexpected HTTP status")
	ErrTooLarge = errors.New("response body too large")
)

// Options paramètre un téléchargement. La valeur zéro est utilisable :
// defaults appliqués champ par champ.
type Options struct {
	Timeout  time.Duration     // <=0 -> DefaultTimeout
	MaxBytes int64             // <=0 -> DefaultMaxBytes
	Headers  map[string]string // en-têtes additionnels (Referer, Origin, ...)
	Client   *http.Client      // nil -> client par défaut
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
}

// Bytes télécharge l'URL et retourne les octets.
// - ctx peut être nil.
// Note : lit tout en mémoire, adapté aux payloads JSON/XML de sous-titres.
func Bytes(ctx context.Context, rawURL string, opts Options) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts.normalize()

	// valider l'URL tôt
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("fetch: invalid url %q: %w", rawURL, err)
	}

	// timeout via context
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: %w: %s", ErrStatus, resp.Status)
	}

	// si Content-Length connu et supérieur à la limite -> échouer vite
	if resp.ContentLength > 0 && resp.ContentLength > opts.MaxBytes {
		return nil, fmt.Errorf("fetch: content-length %d exceeds limit %d: %w", resp.ContentLength, opts.MaxBytes, ErrTooLarge)
	}

	r := io.LimitReader(resp.Body, opts.MaxBytes+1) // +1 pour détecter dépassement
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("fetch: body too large (>%d bytes): %w", opts.MaxBytes, ErrTooLarge)
	}
	return data, nil
}
