package classifier

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DefaultLabels is the ordered Hijaiyah label set the bundled model was
// trained on. Index i names output unit i of the model.
var DefaultLabels = []string{
	"ain", "alif", "ba", "dal", "dhod", "dzal",
	"dzho", "fa", "ghoin", "ha", "ha'", "hamzah", "jim",
	"kaf", "kho", "lam", "lamalif", "mim", "nun", "qof",
	"ro", "shod", "sin", "syin", "ta", "tho", "tsa",
	"wawu", "ya", "zain",
}

// LoadLabels reads one label per line, skipping blank lines. An empty path
// returns a copy of DefaultLabels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return append([]string(nil), DefaultLabels...), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}
