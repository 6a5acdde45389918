package fetch

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONInto télécharge rawURL et décode le JSON directement dans dst (dst doit
// être un pointeur). Mêmes defaults et limites que Bytes.
func JSONInto(ctx context.Context, rawURL string, opts Options, dst any) error {
	data, err := Bytes(ctx, rawURL, opts)
	if err != nil {
		return fmt.Errorf("fetch json: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("fetch json: decode: %w", err)
	}
	return nil
}

// JSON générique : fetch + unmarshal dans une valeur typée.
func JSON[T any](ctx context.Context, rawURL string, opts Options) (T, error) {
	var zero T
	var v T
	if err := JSONInto(ctx, rawURL, opts, &v); err != nil {
		return zero, err
	}
	return v, nil
}
