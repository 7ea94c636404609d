package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the persistent application configuration
type Config struct {
	// Local document store (staging + main + etl metadata)
	Store StoreConfig `json:"store"`

	// Graph database connection
	Graph GraphConfig `json:"graph"`

	// Spreadsheet source
	Sheets SheetsConfig `json:"sheets"`

	// Blob storage for image sync
	Blob BlobConfig `json:"blob"`

	// PII encryption key registry
	KeyRegistryPath string `json:"key_registry_path"`

	// Pipeline tuning
	Pipeline PipelineConfig `json:"pipeline"`
}

// StoreConfig holds document store settings
type StoreConfig struct {
	Path     string `json:"path"`      // sqlite database file
	StageDir string `json:"stage_dir"` // staged per-collection JSON deltas
}

// GraphConfig holds graph database connection settings
type GraphConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// SheetsConfig holds spreadsheet source settings
type SheetsConfig struct {
	CredentialPath string `json:"credential_path"`
	SpreadsheetID  string `json:"spreadsheet_id"`
	ExportDir      string `json:"export_dir,omitempty"` // local CSV exports, used when no credentials are set
}

// BlobConfig holds blob storage settings for image sync
type BlobConfig struct {
	Account          string `json:"account"`
	Container        string `json:"container"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// PipelineConfig holds pipeline tuning knobs
type PipelineConfig struct {
	Workers    int  `json:"workers"`     // per-phase worker pool size
	DryRun     bool `json:"dry_run"`     // log writes without applying them
	MaxRetries int  `json:"max_retries"` // bounded retry attempts for store calls
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".storied")

	return &Config{
		Store: StoreConfig{
			Path:     filepath.Join(stateDir, "storied.db"),
			StageDir: filepath.Join(stateDir, "stage"),
		},
		Graph: GraphConfig{
			URI: "bolt://localhost:7687",
		},
		Sheets: SheetsConfig{
			SpreadsheetID: "Book Club DB",
		},
		Blob: BlobConfig{
			Container: "cover-art",
		},
		Pipeline: PipelineConfig{
			Workers:    4,
			MaxRetries: 3,
		},
	}
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".storied", "config.json")
}

// Load reads config from disk, or returns defaults
func Load() (*Config, error) {
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults and try to auto-populate from environment
			cfg := DefaultConfig()
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), nil
	}

	cfg.AutoPopulateFromEnv()
	return &cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path := ConfigPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for credentials
}

// AutoPopulateFromEnv fills in credentials from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if uri := os.Getenv("STORIED_GRAPH_URI"); uri != "" {
		c.Graph.URI = uri
	}
	if user := os.Getenv("STORIED_GRAPH_USER"); user != "" {
		c.Graph.User = user
	}
	if pwd := os.Getenv("STORIED_GRAPH_PASSWORD"); pwd != "" {
		c.Graph.Password = pwd
	}
	if cred := os.Getenv("STORIED_SHEETS_CREDENTIALS"); cred != "" {
		c.Sheets.CredentialPath = cred
	}
	if acc := os.Getenv("STORIED_BLOB_ACCOUNT"); acc != "" {
		c.Blob.Account = acc
	}
	if conn := os.Getenv("STORIED_BLOB_CONNECTION"); conn != "" {
		c.Blob.ConnectionString = conn
	}
	if keys := os.Getenv("STORIED_ENCRYPTION_KEYS"); keys != "" {
		c.KeyRegistryPath = keys
	}
}
