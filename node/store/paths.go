package store

import (
	"fmt"
	"os"
	"path/filepath"

	"dispenser.dev/node/dispenser"
)

// DeploymentDir returns the on-disk directory for one dispenser deployment:
//
//	datadir/dispensers/<dispenser id>/
func DeploymentDir(datadir string, id dispenser.Pubkey) string {
	return filepath.Join(datadir, "dispensers", id.String())
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}
