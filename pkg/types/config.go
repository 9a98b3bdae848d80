// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "medline-harvest/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// ResolverConfig holds settings for identifier resolution against the
// PMC ID converter service.
type ResolverConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the ID converter endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Tool is the fixed client token sent as the tool parameter.
	Tool string `json:"tool" yaml:"tool" mapstructure:"tool"`

	// Email is the contact address the service's usage policy requires.
	Email string `json:"email" yaml:"email" mapstructure:"email"`

	// BatchSize caps the identifiers per request (default 200).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// MaxAttempts is the total number of attempts per batch (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// RetryDelay is the pause between attempts (default none).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`
}

// CorpusConfig locates the compressed MEDLINE corpus.
type CorpusConfig struct {
	// Dir is the directory holding the archive.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// Archive is the archive file name within Dir.
	Archive string `json:"archive" yaml:"archive" mapstructure:"archive"`

	// Member is the name of the single text member inside the archive.
	Member string `json:"member" yaml:"member" mapstructure:"member"`
}

// FetchConfig holds settings for the EDirect fetch tools.
type FetchConfig struct {
	// Dir is the EDirect installation directory, searched before PATH.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// InstallScript is an optional installer run when the tools are missing.
	InstallScript string `json:"install_script,omitempty" yaml:"install_script,omitempty" mapstructure:"install_script"`

	// Database is the Entrez database queried by esearch (default "pubmed").
	Database string `json:"database" yaml:"database" mapstructure:"database"`

	// Format is the efetch output format (default "medline").
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// APIKey is passed to the tools as NCBI_API_KEY.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// FailurePolicy selects what a harvest run does when a chunk fetch fails.
type FailurePolicy string

const (
	FailSkip  FailurePolicy = "skip"
	FailAbort FailurePolicy = "abort"
)

// HarvestConfig holds settings for the chunked fetch-and-merge loop.
type HarvestConfig struct {
	// ChunkSize caps the identifiers per fetch (default 9000).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size"`

	// Workers is the number of concurrent fetches (default 1). Merges are
	// always applied one at a time in chunk order.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// OnFailure is skip (warn and continue) or abort.
	OnFailure FailurePolicy `json:"on_failure" yaml:"on_failure" mapstructure:"on_failure"`
}

// CatalogConfig locates the SQLite record catalog.
type CatalogConfig struct {
	// Path is the database file.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Resolver ResolverConfig `json:"resolver" yaml:"resolver" mapstructure:"resolver"`
	Corpus   CorpusConfig   `json:"corpus" yaml:"corpus" mapstructure:"corpus"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch" mapstructure:"fetch"`
	Harvest  HarvestConfig  `json:"harvest" yaml:"harvest" mapstructure:"harvest"`
	Catalog  CatalogConfig  `json:"catalog" yaml:"catalog" mapstructure:"catalog"`
}

// DefaultPipelineConfig returns the built-in defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Resolver: ResolverConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   60 * time.Second,
				UserAgent: "medline-harvest/0.1",
			},
			BaseURL:     "https://www.ncbi.nlm.nih.gov/pmc/utils/idconv/v1.0/",
			Tool:        "genepopi_search_developer",
			BatchSize:   200,
			MaxAttempts: 3,
		},
		Corpus: CorpusConfig{
			Dir:     "output/medline/txts",
			Archive: "medline_output.txt.zip",
			Member:  "medline_output.txt",
		},
		Fetch: FetchConfig{
			Dir:      "output/medline/edirect",
			Database: "pubmed",
			Format:   "medline",
		},
		Harvest: HarvestConfig{
			ChunkSize: 9000,
			Workers:   1,
			OnFailure: FailSkip,
		},
		Catalog: CatalogConfig{
			Path: "data/records.db",
		},
	}
}
