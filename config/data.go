package config

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the directory holding the pebble stores.
// Priority: SNAPTOSIZE_DATA_DIR environment variable > "./data" default
func GetDataDir() string {
	if dir := os.Getenv("SNAPTOSIZE_DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}

// GetRegistryDBPath returns the path of the job registry store.
// Path: {DATA_DIR}/registry.db
func GetRegistryDBPath() string {
	return filepath.Join(GetDataDir(), "registry.db")
}

// GetLedgerDBPath returns the path of the free-use ledger store.
// Path: {DATA_DIR}/ledger.db
func GetLedgerDBPath() string {
	return filepath.Join(GetDataDir(), "ledger.db")
}

// GetRunDir returns the parent directory of synchronous batch outputs.
// Each batch writes into its own subdirectory, removed by the retention sweep.
func GetRunDir() string {
	if dir := os.Getenv("SNAPTOSIZE_RUN_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "snaptosize")
}

// GetBlobDir returns the base directory of the local blob backend.
// Not configurable by end users; only operators set SNAPTOSIZE_BLOB_DIR.
func GetBlobDir() string {
	if dir := os.Getenv("SNAPTOSIZE_BLOB_DIR"); dir != "" {
		return dir
	}
	return "./blobs"
}
