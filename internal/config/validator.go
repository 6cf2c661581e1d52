package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Required fields and positive cadences
//   - Duplicate function bindings
//   - A well-formed service credential when a ledger endpoint is configured
func Validate(cfg *WorkerConfig) error {
	var errs []string

	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	if cfg.Worker.MatchIntervalMs < 0 {
		errs = append(errs, "worker.match_interval_ms must be positive")
	}
	if cfg.Worker.SweepIntervalMs < 0 {
		errs = append(errs, "worker.sweep_interval_ms must be positive")
	}
	if cfg.Worker.BatchSize < 0 {
		errs = append(errs, "worker.batch_size must be positive")
	}

	if len(cfg.Functions) == 0 {
		errs = append(errs, "functions must not be empty")
	}
	seen := make(map[string]bool)
	for i, fn := range cfg.Functions {
		if fn.Name == "" {
			errs = append(errs, fmt.Sprintf("functions[%d]: name is required", i))
			continue
		}
		if seen[fn.Name] {
			errs = append(errs, fmt.Sprintf("duplicate function binding %q", fn.Name))
		}
		seen[fn.Name] = true
	}

	if cfg.Ledger.Endpoint != "" {
		if cfg.Ledger.ContractID == "" {
			errs = append(errs, "ledger.contract_id is required when an endpoint is set")
		}
		if cfg.Ledger.CredentialSeed == "" {
			errs = append(errs, "ledger.credential_seed is required when an endpoint is set")
		} else if seed, err := hex.DecodeString(cfg.Ledger.CredentialSeed); err != nil || len(seed) != 32 {
			errs = append(errs, "ledger.credential_seed must be 32 bytes of hex")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
