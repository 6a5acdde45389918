package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickprogramme/subcatch/internal/fsutil"
	"gopkg.in/yaml.v3"
)

const CurrentConfigVersion = 1

// Duration sérialise les durées en notation lisible ("5s", "100ms") dans le
// YAML ; yaml.v3 ne sait pas décoder time.Duration tout seul.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("durée invalide %q : %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	// aussi accepter un nombre brut de nanosecondes
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("durée invalide : %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std retourne la durée en time.Duration standard.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// struct pour les paramètres de configuration
type Config struct {
	// Chemins
	OutputDir string `yaml:"output_dir"`

	// Sortie
	CopyToClipboard bool `yaml:"copy_to_clipboard"`
	SaveRawCapture  bool `yaml:"save_raw_capture"`

	// Capture
	Capture struct {
		// Marqueur d'URL identifiant une réponse de sous-titres.
		PathMarker string `yaml:"path_marker"`
		// Taille maximale d'une réponse capturée (octets).
		MaxBytes int64 `yaml:"max_bytes"`
		// Fenêtre de dédoublonnage des notifications par langue.
		DebounceWindow Duration `yaml:"debounce_window"`
	} `yaml:"capture"`

	// Messagerie inter-contextes
	Bridge struct {
		CallTimeout   Duration `yaml:"call_timeout"`
		StatusTimeout Duration `yaml:"status_timeout"`
		PollAttempts  int      `yaml:"poll_attempts"`
		PollInterval  Duration `yaml:"poll_interval"`
	} `yaml:"bridge"`

	// Surveillance d'identité vidéo
	Supervisor struct {
		PollAttempts int      `yaml:"poll_attempts"`
		PollInterval Duration `yaml:"poll_interval"`
	} `yaml:"supervisor"`

	// Bilibili
	Bilibili struct {
		APIBase string   `yaml:"api_base"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"bilibili"`

	// Badge
	ShowBadge bool `yaml:"show_badge"`

	ConfigVersion int `yaml:"config_version"`

	configFilePath string
}

// configuration par défaut (les champs absents du fichier la conservent)
func defaultConfig() *Config {
	c := &Config{}

	c.OutputDir = "."
	c.CopyToClipboard = false
	c.SaveRawCapture = false

	c.Capture.PathMarker = "timedtext"
	c.Capture.MaxBytes = 10 << 20
	c.Capture.DebounceWindow = Duration(3 * time.Second)

	c.Bridge.CallTimeout = Duration(15 * time.Second)
	c.Bridge.StatusTimeout = Duration(2 * time.Second)
	c.Bridge.PollAttempts = 20
	c.Bridge.PollInterval = Duration(100 * time.Millisecond)

	c.Supervisor.PollAttempts = 20
	c.Supervisor.PollInterval = Duration(500 * time.Millisecond)

	c.Bilibili.APIBase = "https://api.bilibili.com"
	c.Bilibili.Timeout = Duration(10 * time.Second)

	c.ShowBadge = true

	c.ConfigVersion = CurrentConfigVersion

	return c
}

// Load lit la config; si le fichier n'existe pas, on écrit les valeurs par défaut
func Load(path string) (*Config, error) {
	if path == "" {
		path = "subcatch.yaml"
	}

	// si le fichier n'existe pas -> le créer avec les valeurs par défaut
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("échec de création du fichier de configuration par défaut : %w", err)
		}
	}

	cfg := defaultConfig()

	// lire le YAML brut et déserialiser dans cfg (les champs présents écraseront les defaults)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lecture du fichier de configuration %s impossible : %w", path, err)
	}

	// corriger les chemins Windows avec des backslashes
	data = bytes.ReplaceAll(data, []byte(`\`), []byte(`/`))

	// On déserialise dans cfg initialisé : les champs absents conservent les valeurs par défaut.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("analyse du fichier de configuration %s impossible : %w", path, err)
	}
	cfg.configFilePath = path

	cfg.normalizeConfig()

	return cfg, nil
}

func writeDefaultConfig(dstPath string) error {
	b, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return fmt.Errorf("sérialisation de la configuration par défaut impossible : %w", err)
	}

	// s'assurer que le dossier parent existe
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("échec mkdir pour la configuration %s : %w", filepath.Dir(dstPath), err)
	}

	// écrire atomiquement sur disque (évite les fichiers partiels)
	if err := fsutil.WriteFileAtomic(dstPath, b, 0o644); err != nil {
		return fmt.Errorf("échec d'écriture du fichier de configuration %s : %w", dstPath, err)
	}

	fmt.Printf("info : fichier de configuration par défaut créé : %s\n", dstPath)
	return nil
}

func (c *Config) normalizeConfig() {
	// Nettoyage des chemins
	c.OutputDir = filepath.Clean(c.OutputDir)

	// Le marqueur est comparé en minuscules sur l'URL entière.
	c.Capture.PathMarker = strings.TrimSpace(strings.ToLower(c.Capture.PathMarker))
	if c.Capture.PathMarker == "" {
		c.Capture.PathMarker = "timedtext"
	}
	if c.Capture.MaxBytes <= 0 {
		c.Capture.MaxBytes = 10 << 20
	}
	if c.Capture.DebounceWindow < 0 {
		c.Capture.DebounceWindow = 0
	}

	if c.Bridge.CallTimeout <= 0 {
		c.Bridge.CallTimeout = Duration(15 * time.Second)
	}
	if c.Bridge.StatusTimeout <= 0 {
		c.Bridge.StatusTimeout = Duration(2 * time.Second)
	}
	if c.Bridge.PollAttempts <= 0 {
		c.Bridge.PollAttempts = 20
	}
	if c.Bridge.PollInterval <= 0 {
		c.Bridge.PollInterval = Duration(100 * time.Millisecond)
	}

	if c.Supervisor.PollAttempts <= 0 {
		c.Supervisor.PollAttempts = 20
	}
	if c.Supervisor.PollInterval <= 0 {
		c.Supervisor.PollInterval = Duration(500 * time.Millisecond)
	}

	c.Bilibili.APIBase = strings.TrimRight(strings.TrimSpace(c.Bilibili.APIBase), "/")
	if c.Bilibili.APIBase == "" {
		c.Bilibili.APIBase = "https://api.bilibili.com"
	}
	if c.Bilibili.Timeout <= 0 {
		c.Bilibili.Timeout = Duration(10 * time.Second)
	}
}

// FilePath retourne le chemin du fichier d'où la config a été chargée.
func (c *Config) FilePath() string {
	return c.configFilePath
}
