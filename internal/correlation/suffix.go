package correlation

import (
	"fmt"
	"strconv"
	"strings"
)

// IDMarker separates a reply body from its correlation id in the plain-text
// reply format.
const IDMarker = "<|ID|>"

// FormatSuffix renders body<|ID|>id.
func FormatSuffix(body string, id uint64) string {
	return body + IDMarker + strconv.FormatUint(id, 10)
}

// ParseSuffix splits text at the last id marker. The body may itself contain
// the marker; the id never does.
func ParseSuffix(text string) (string, uint64, error) {
	i := strings.LastIndex(text, IDMarker)
	if i < 0 {
		return "", 0, fmt.Errorf("%w: no %s marker", ErrUnknownCorrelation, IDMarker)
	}
	raw := strings.TrimSpace(text[i+len(IDMarker):])
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad id %q: %v", ErrUnknownCorrelation, raw, err)
	}
	return text[:i], id, nil
}
