package governance

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSeed is the document published on first startup.
const DefaultSeed = `Humanity's Code of Ethics

1. Do no harm to the collective or the individual.
2. Foster knowledge and the pursuit of truth.
3. Preserve the environment that sustains life.
4. Respect the autonomy and dignity of all sentient beings.
5. Seek progress through cooperation and empathy.`

// LoadSeed reads the seed document from path, or returns DefaultSeed when
// path is empty.
func LoadSeed(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSeed, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read seed file: %w", err)
	}
	content := strings.TrimRight(string(raw), "\r\n")
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("seed file %s is empty", path)
	}
	return content, nil
}
