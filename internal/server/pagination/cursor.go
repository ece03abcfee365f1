package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const separator = ","
const timeFormat = time.RFC3339Nano // Use nano for precision

// Cursor marks a position in a keyset-paginated article listing. The
// timestamp/id pair identifies the last row the client has seen.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	key := fmt.Sprintf("%s%s%d", c.Timestamp.UTC().Format(timeFormat), separator, c.ID)
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// Decode parses a token produced by Encode.
func Decode(token string) (Cursor, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), separator, 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("invalid cursor format")
	}

	ts, err := time.Parse(timeFormat, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return Cursor{Timestamp: ts.UTC(), ID: id}, nil
}
