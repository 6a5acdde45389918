package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteFileAtomic écrit data dans destPath de manière atomique : écriture dans
// un fichier temporaire du même répertoire puis os.Rename(tmp -> dest).
// Crée les répertoires parents si nécessaire.
//
// destPath : chemin complet vers le fichier cible.
// data : contenu à écrire.
// perm : permissions POSIX (ex: 0o644).
func WriteFileAtomic(destPath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(destPath)
	if dir == "" {
		dir = "."
	}
	// repertoire parent existe ?
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	// creation fichier temp
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// cleanup si échec
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	// écriture
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	// best-effort : forcer le flush disque avant le rename
	_ = tmp.Sync()

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// set permission (best-effort)
	_ = os.Chmod(tmpName, perm)

	// rename
	if err := os.Rename(tmpName, destPath); err != nil {
		return fmt.Errorf("rename tmp -> dest: %w", err)
	}
	return nil
}

// SaveJSONAtomic écrit content dans outDir sous baseName+".json".
// - overwrite=false : si le fichier existe, on ajoute un suffixe _1, _2, ...
// - overwrite=true  : on écrase directement (écriture atomique via tmp+rename).
// Retourne le chemin final du fichier.
func SaveJSONAtomic(outDir, baseName string, content []byte, overwrite bool) (string, error) {
	if baseName == "" {
		return "", fmt.Errorf("baseName empty")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", outDir, err)
	}

	// construction du nom final
	final := filepath.Join(outDir, baseName+".json")

	// gestion collision si on ne veut pas overwrite
	if !overwrite {
		if _, err := os.Stat(final); err == nil {
			// incrémenter suffixe _1, _2, ...
			const maxAttempts = 1000
			for i := 1; i <= maxAttempts; i++ {
				candidate := filepath.Join(outDir, fmt.Sprintf("%s_%d.json", baseName, i))
				if _, err := os.Stat(candidate); os.IsNotExist(err) {
					final = candidate
					break
				}
			}
			// si au bout des essais le fichier existe encore, fallback timestamp
			if _, err := os.Stat(final); err == nil {
				final = filepath.Join(outDir, fmt.Sprintf("%s_%d.json", baseName, time.Now().Unix()))
			}
		}
	}

	if err := WriteFileAtomic(final, content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", final, err)
	}
	return final, nil
}
