package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Op names the listing a cursor continues.
type Op string

const (
	OpRows   Op = "rows"
	OpFilter Op = "filter"
)

// ErrCursorMismatch indicates a well-formed cursor used against a different
// workbook load, sheet, operation, or filter than the one that issued it.
var ErrCursorMismatch = errors.New("cursor: does not match request")

// Cursor is the canonical, opaque continuation token (pre-encoding) with short
// field names to minimize payload size. It is serialized to minified JSON and
// encoded with URL-safe base64. It carries no timestamp so that identical
// requests yield identical tokens.
//
// Fields:
//   - v:   version of the cursor schema
//   - wid: workbook load ID
//   - s:   sheet name
//   - op:  listing operation ("rows" or "filter")
//   - off: row offset into the full result
//   - ps:  page size
//   - ph:  optional predicate hash (filter code, language, sum column)
type Cursor struct {
	V   int    `json:"v"`
	Wid string `json:"wid"`
	S   string `json:"s"`
	Op  Op     `json:"op"`
	Off int    `json:"off"`
	Ps  int    `json:"ps"`
	Ph  string `json:"ph,omitempty"`
}

// EncodeCursor serializes and encodes the cursor as URL-safe base64 (without padding).
func EncodeCursor(c Cursor) (string, error) {
	if err := validate(&c); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor decodes a URL-safe base64 token and parses the JSON cursor.
func DecodeCursor(token string) (*Cursor, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return nil, errors.New("cursor: empty token")
	}
	data, err := base64.RawURLEncoding.DecodeString(t)
	if err != nil {
		return nil, fmt.Errorf("cursor: invalid base64: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cursor: invalid json: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Check verifies the cursor was issued for the same listing.
func (c *Cursor) Check(wid, sheet string, op Op, ph string) error {
	if c.Wid != wid || c.S != sheet || c.Op != op || c.Ph != ph {
		return ErrCursorMismatch
	}
	return nil
}

// HashPredicate returns a short stable digest of the parts that define a filter.
func HashPredicate(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// validate performs structural checks and defaulting.
func validate(c *Cursor) error {
	if c.V <= 0 {
		c.V = 1
	}
	if strings.TrimSpace(c.Wid) == "" {
		return errors.New("cursor: wid (workbook id) required")
	}
	if strings.TrimSpace(c.S) == "" {
		return errors.New("cursor: s (sheet) required")
	}
	switch c.Op {
	case OpRows, OpFilter:
	default:
		return fmt.Errorf("cursor: invalid op %q", string(c.Op))
	}
	if c.Off < 0 {
		return errors.New("cursor: off must be >= 0")
	}
	if c.Ps <= 0 || c.Ps > MaxResults {
		return fmt.Errorf("cursor: ps must be in 1..%d", MaxResults)
	}
	return nil
}

// NextOffset computes the next offset after returning n units.
func NextOffset(curr, n int) int {
	if curr < 0 {
		curr = 0
	}
	if n <= 0 {
		return curr
	}
	return curr + n
}
