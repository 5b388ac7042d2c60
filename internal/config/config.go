package config

import (
	"runtime"
	"time"
)

const (
	// Default floor below which matches are discarded before persistence.
	DefaultMinScore = 56.0
	// Default cap on matches kept per tender.
	DefaultMaxMatches = 50
	// Cells read by the verification pass.
	DefaultVerifyMaxCells = 50
	DefaultVerifyTimeout  = 10 * time.Second
	// Placeholder age after which another worker may reclaim a tender.
	DefaultLockTTL = 30 * time.Minute
	// Retry policy for transient errors.
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
	// Files processed concurrently inside one tender.
	DefaultFileWorkers = 2
	// Columns of context either side of a matched cell.
	DefaultContextColumns = 3
)

var (
	// Default number of tender workers.
	DefaultNumWorkers = max(2, runtime.NumCPU()/2)
)

// Config holds application settings
type Config struct {
	WorkDir     string `mapstructure:"work_dir"`
	OutputDir   string `mapstructure:"output_dir"`
	StoreDSN    string `mapstructure:"store_dsn"`
	JournalPath string `mapstructure:"journal_path"`
	NumWorkers  int    `mapstructure:"workers"`
	FileWorkers int    `mapstructure:"file_workers"`
	WorkerID    string `mapstructure:"worker_id"`

	ManifestPath   string `mapstructure:"manifest"`
	CatalogPath    string `mapstructure:"catalog"`
	StopPhrasePath string `mapstructure:"stop_phrases"`

	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Reprocess     bool          `mapstructure:"reprocess"`
	KeepFiles     bool          `mapstructure:"keep_files"`

	Match    MatchConfig    `mapstructure:"match"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Download DownloadConfig `mapstructure:"download"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
}

type MatchConfig struct {
	MinScore       float64 `mapstructure:"min_score"`
	MaxMatches     int     `mapstructure:"max_matches"`
	ContextColumns int     `mapstructure:"context_columns"`
}

// VerifyConfig controls the bounded pre-parse check. Mode is "process",
// "inline" or "off".
type VerifyConfig struct {
	Mode           string        `mapstructure:"mode"`
	MaxCells       int           `mapstructure:"max_cells"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxMemoryShare float64       `mapstructure:"max_memory_share"`
}

type ToolsConfig struct {
	Unrar    string `mapstructure:"unrar"`
	SevenZip string `mapstructure:"seven_zip"`
}

type DownloadConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Concurrency int           `mapstructure:"concurrency"`
	MinTimeout  time.Duration `mapstructure:"min_timeout"`
	MaxTimeout  time.Duration `mapstructure:"max_timeout"`
	// Assumed throughput used to scale timeouts by document size.
	BytesPerSecond int64 `mapstructure:"bytes_per_second"`
}

// CloudConfig enables best-effort upload of matched source files. Empty
// Endpoint disables it.
type CloudConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		WorkDir:       "./work",
		OutputDir:     "./export",
		StoreDSN:      "./tenderscan.db",
		JournalPath:   "./tenderscan_journal.duckdb",
		NumWorkers:    DefaultNumWorkers,
		FileWorkers:   DefaultFileWorkers,
		LockTTL:       DefaultLockTTL,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
		Match: MatchConfig{
			MinScore:       DefaultMinScore,
			MaxMatches:     DefaultMaxMatches,
			ContextColumns: DefaultContextColumns,
		},
		Verify: VerifyConfig{
			Mode:           "process",
			MaxCells:       DefaultVerifyMaxCells,
			Timeout:        DefaultVerifyTimeout,
			MaxMemoryShare: 0.5,
		},
		Tools: ToolsConfig{
			Unrar:    "unrar",
			SevenZip: "7z",
		},
		Download: DownloadConfig{
			UserAgent:      "tenderscan/0.1 (Go-client)",
			Concurrency:    2,
			MinTimeout:     2 * time.Minute,
			MaxTimeout:     3 * time.Hour,
			BytesPerSecond: 256 * 1024,
		},
		Cloud: CloudConfig{
			Bucket: "tender-documents",
			UseSSL: true,
		},
	}
}
