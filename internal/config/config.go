package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bind     string
	LogLevel zerolog.Level

	ImageDir          string
	AllowedExtensions []string
	MaxUploadBytes    int64
	MaxCreateMB       int

	ControllerPath string
	CommandTimeout time.Duration
	ServiceUnit    string
	UseSudo        bool

	ConfirmTTL time.Duration
	AuditPath  string

	CORSOrigins    []string
	MetricsEnabled bool
	CookieKey      []byte
}

// DefaultExtensions are the image types the controller knows how to attach.
var DefaultExtensions = []string{"hda", "hds", "hdn", "hdi", "nhd", "hdr", "hdf", "iso", "cdr", "toast", "mos"}

func Default() Config {
	return Config{
		Bind:              "0.0.0.0:8080",
		LogLevel:          zerolog.InfoLevel,
		ImageDir:          "/home/pi/images",
		AllowedExtensions: append([]string(nil), DefaultExtensions...),
		MaxUploadBytes:    int64(4 * datasize.GB),
		MaxCreateMB:       4096,
		ControllerPath:    "/usr/local/bin/rasctl",
		CommandTimeout:    15 * time.Second,
		ServiceUnit:       "rascsi.service",
		UseSudo:           true,
		ConfirmTTL:        5 * time.Minute,
		AuditPath:         "/var/lib/rasweb/audit.db",
		MetricsEnabled:    true,
	}
}

type fileConfig struct {
	HTTP struct {
		Bind        string   `yaml:"bind"`
		CORSOrigins []string `yaml:"corsOrigins"`
		CookieKey   string   `yaml:"cookieKey"`
	} `yaml:"http"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Images struct {
		Dir         string   `yaml:"dir"`
		Extensions  []string `yaml:"extensions"`
		MaxUpload   string   `yaml:"maxUpload"`
		MaxCreateMB int      `yaml:"maxCreateMB"`
	} `yaml:"images"`
	Controller struct {
		Path    string `yaml:"path"`
		Timeout string `yaml:"timeout"`
	} `yaml:"controller"`
	Service struct {
		Unit string `yaml:"unit"`
		Sudo *bool  `yaml:"sudo"`
	} `yaml:"service"`
	Confirm struct {
		TTL string `yaml:"ttl"`
	} `yaml:"confirm"`
	Audit struct {
		Path *string `yaml:"path"`
	} `yaml:"audit"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// FromEnv loads the file named by RASWEB_CONFIG (if any) and applies env overrides.
func FromEnv() (Config, error) {
	return Load(os.Getenv("RASWEB_CONFIG"))
}

// Load builds a Config from defaults, the YAML file at path, a .env file in the
// working directory and RASWEB_* environment variables, in increasing precedence.
// Malformed field values are ignored and the previous layer's value is kept.
// A config file that cannot be read or parsed is an error; the returned Config
// is still usable and carries every other layer.
func Load(path string) (Config, error) {
	cfg := Default()
	var fileErr error
	if path != "" {
		fileErr = loadFile(&cfg, path)
	}
	_ = godotenv.Load()
	applyEnv(&cfg)
	if len(cfg.CookieKey) == 0 {
		cfg.CookieKey = make([]byte, 32)
		_, _ = rand.Read(cfg.CookieKey)
	}
	return cfg, fileErr
}

func loadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	applyFile(cfg, fc)
	return nil
}

func applyFile(cfg *Config, fc fileConfig) {
	setString(&cfg.Bind, fc.HTTP.Bind)
	if len(fc.HTTP.CORSOrigins) > 0 {
		cfg.CORSOrigins = fc.HTTP.CORSOrigins
	}
	setKey(&cfg.CookieKey, fc.HTTP.CookieKey)
	setLevel(&cfg.LogLevel, fc.Logging.Level)
	setString(&cfg.ImageDir, fc.Images.Dir)
	if len(fc.Images.Extensions) > 0 {
		cfg.AllowedExtensions = normalizeExts(fc.Images.Extensions)
	}
	setSize(&cfg.MaxUploadBytes, fc.Images.MaxUpload)
	if fc.Images.MaxCreateMB > 0 {
		cfg.MaxCreateMB = fc.Images.MaxCreateMB
	}
	setString(&cfg.ControllerPath, fc.Controller.Path)
	setDuration(&cfg.CommandTimeout, fc.Controller.Timeout)
	setString(&cfg.ServiceUnit, fc.Service.Unit)
	if fc.Service.Sudo != nil {
		cfg.UseSudo = *fc.Service.Sudo
	}
	setDuration(&cfg.ConfirmTTL, fc.Confirm.TTL)
	if fc.Audit.Path != nil {
		cfg.AuditPath = *fc.Audit.Path
	}
	if fc.Metrics.Enabled != nil {
		cfg.MetricsEnabled = *fc.Metrics.Enabled
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Bind, os.Getenv("RASWEB_BIND"))
	setLevel(&cfg.LogLevel, os.Getenv("RASWEB_LOG"))
	setString(&cfg.ImageDir, os.Getenv("RASWEB_IMAGE_DIR"))
	if v := os.Getenv("RASWEB_ALLOWED_EXT"); v != "" {
		cfg.AllowedExtensions = normalizeExts(strings.Split(v, ","))
	}
	setSize(&cfg.MaxUploadBytes, os.Getenv("RASWEB_MAX_UPLOAD"))
	if v := os.Getenv("RASWEB_MAX_CREATE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxCreateMB = n
		}
	}
	setString(&cfg.ControllerPath, os.Getenv("RASWEB_RASCTL"))
	setDuration(&cfg.CommandTimeout, os.Getenv("RASWEB_COMMAND_TIMEOUT"))
	setString(&cfg.ServiceUnit, os.Getenv("RASWEB_SERVICE_UNIT"))
	setBool(&cfg.UseSudo, os.Getenv("RASWEB_SUDO"))
	setDuration(&cfg.ConfirmTTL, os.Getenv("RASWEB_CONFIRM_TTL"))
	if v, ok := os.LookupEnv("RASWEB_AUDIT_DB"); ok {
		cfg.AuditPath = v
	}
	if v := os.Getenv("RASWEB_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	setBool(&cfg.MetricsEnabled, os.Getenv("RASWEB_METRICS"))
	setKey(&cfg.CookieKey, os.Getenv("RASWEB_COOKIE_KEY"))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setLevel(dst *zerolog.Level, v string) {
	if v == "" {
		return
	}
	if l, err := zerolog.ParseLevel(v); err == nil {
		*dst = l
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func setSize(dst *int64, v string) {
	if v == "" {
		return
	}
	if s, err := datasize.ParseString(v); err == nil && s > 0 {
		*dst = int64(s.Bytes())
	}
}

func setBool(dst *bool, v string) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

func setKey(dst *[]byte, v string) {
	if v == "" {
		return
	}
	if b, err := hex.DecodeString(v); err == nil && (len(b) == 32 || len(b) == 64) {
		*dst = b
	}
}

func normalizeExts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func splitList(v string) []string {
	out := []string{}
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
