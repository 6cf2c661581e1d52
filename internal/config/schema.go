package config

// WorkerConfig is the top-level YAML structure.
type WorkerConfig struct {
	Version   string        `yaml:"version"`
	Database  DatabaseConf  `yaml:"database"`
	Worker    WorkerConf    `yaml:"worker"`
	Ledger    LedgerConf    `yaml:"ledger"`
	Functions []FunctionDef `yaml:"functions"`
}

// DatabaseConf locates the SQLite store.
type DatabaseConf struct {
	Path string `yaml:"path"`
}

// WorkerConf holds the scheduler and sweeper cadence.
type WorkerConf struct {
	MatchIntervalMs int `yaml:"match_interval_ms"`
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
	BatchSize       int `yaml:"batch_size"`
	RetentionHours  int `yaml:"retention_hours"`
}

// LedgerConf configures the RPC endpoint and the service credential used for
// read-only submissions.
type LedgerConf struct {
	Endpoint         string `yaml:"endpoint"`
	ContractID       string `yaml:"contract_id"`
	CredentialSeed   string `yaml:"credential_seed"` // 32-byte hex ed25519 seed
	ConfirmAttempts  int    `yaml:"confirm_attempts"`
	ConfirmBackoffMs int    `yaml:"confirm_backoff_ms"`
}

// FunctionDef declares one contract entry point and its capability. The
// readonly flag is the declared truth; nothing is inferred from the name.
type FunctionDef struct {
	Name     string `yaml:"name"`
	ReadOnly bool   `yaml:"readonly"`
}
