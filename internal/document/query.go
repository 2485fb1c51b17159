package document

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts asc/desc in any case; empty means Asc.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", Asc:
		return Asc, nil
	case Desc:
		return Desc, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, s)
}

type OrderBy struct {
	Field     string
	Direction Direction
}

func (o OrderBy) Descending() bool { return o.Direction == Desc }

// Query selects documents of one collection. Without OrderBy results are
// ordered by id. After resumes a listing right past a previously returned
// document.
type Query struct {
	Filters []Filter
	OrderBy *OrderBy
	Limit   int
	Offset  int
	After   *Cursor
}

func (q Query) Validate() error {
	if err := ValidateFilters(q.Filters); err != nil {
		return err
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidArgument)
	}
	if q.Offset < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidArgument)
	}
	if q.OrderBy != nil {
		if strings.TrimSpace(q.OrderBy.Field) == "" {
			return fmt.Errorf("%w: empty order field", ErrInvalidArgument)
		}
		if q.OrderBy.Direction != Asc && q.OrderBy.Direction != Desc && q.OrderBy.Direction != "" {
			return fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, q.OrderBy.Direction)
		}
	}
	if q.After != nil {
		if q.After.ID == "" {
			return fmt.Errorf("%w: missing id", ErrInvalidCursor)
		}
		if (q.OrderBy != nil) != q.After.Ordered {
			return fmt.Errorf("%w: cursor does not match the query ordering", ErrInvalidCursor)
		}
	}
	return nil
}

// Cursor marks a position in an ordered listing: the ordering value and id
// of the last document seen.
type Cursor struct {
	Ordered bool   `json:"o,omitempty"`
	Value   Value  `json:"v"`
	ID      string `json:"id"`
}

// CursorAfter returns the cursor positioned on doc for the given ordering.
func CursorAfter(doc Document, order *OrderBy) *Cursor {
	c := &Cursor{ID: doc.ID}
	if order != nil {
		c.Ordered = true
		c.Value, _ = doc.Get(order.Field)
	}
	return c
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	return &c, nil
}
