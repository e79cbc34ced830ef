package node

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dispenser.dev/node/dispenser"
)

// ReadList reads one entry per line. Blank lines and lines starting with '#'
// are skipped.
func ReadList(path string) ([]string, error) {
	raw, err := readFileByPath(path)
	if err != nil {
		return nil, err
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// BuildDenylist merges the inline denylists of cfg with its denylist files.
func BuildDenylist(cfg Config) (dispenser.Denylist, error) {
	native := append([]string(nil), cfg.DenyNative...)
	evm := append([]string(nil), cfg.DenyEvm...)
	if cfg.DenyNativeFile != "" {
		more, err := ReadList(cfg.DenyNativeFile)
		if err != nil {
			return dispenser.Denylist{}, fmt.Errorf("deny_native_file: %w", err)
		}
		native = append(native, more...)
	}
	if cfg.DenyEvmFile != "" {
		more, err := ReadList(cfg.DenyEvmFile)
		if err != nil {
			return dispenser.Denylist{}, fmt.Errorf("deny_evm_file: %w", err)
		}
		evm = append(evm, more...)
	}
	return ParseDenylist(NormalizeList(native...), NormalizeList(evm...))
}

func readFileByPath(path string) ([]byte, error) {
	return readFileFromDir(filepath.Dir(path), filepath.Base(path))
}

func readFileFromDir(dir, name string) ([]byte, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid file name: %q", name)
	}
	return fs.ReadFile(os.DirFS(dir), name)
}
