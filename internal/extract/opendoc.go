package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractOpenDocument handles ODT and RTF, detected from the content itself.
func extractOpenDocument(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return text, nil
}
