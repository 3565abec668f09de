package script

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadSearchPaths reads one search path per line. Blank lines and lines
// starting with '#' are skipped.
func LoadSearchPaths(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open search paths: %w", err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read search paths: %w", err)
	}
	return paths, nil
}
