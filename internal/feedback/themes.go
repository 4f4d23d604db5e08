package feedback

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// DefaultClasses are used when no theme list is configured.
var DefaultClasses = []string{
	"Product Quality",
	"Price",
	"Delivery",
	"Customer Service",
	"Packaging",
	"Website Experience",
	"Returns and Refunds",
	"Product Availability",
}

// LoadClasses reads one class per line from path. Blank lines and lines
// starting with # are ignored. An empty path yields DefaultClasses.
func LoadClasses(path string) ([]string, error) {
	if path == "" {
		return DefaultClasses, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read theme classes: %w", err)
	}

	var classes []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		classes = appendUnique(classes, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse theme classes: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("theme classes file %s is empty", path)
	}
	return classes, nil
}
