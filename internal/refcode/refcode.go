package refcode

import (
	"fmt"

	"github.com/speps/go-hashids/v2"
)

// Codec turns internal payment attempt ids into short, non-sequential codes
// safe to show in redirect URLs, receipts and support conversations.
type Codec struct {
	h *hashids.HashID
}

func New(salt string) (*Codec, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = 8
	// No vowels or lookalike characters; codes get read out loud to support.
	data.Alphabet = "BCDFGHJKLMNPQRSTVWXYZ23456789"

	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("refcode: init hashids: %w", err)
	}
	return &Codec{h: h}, nil
}

func (c *Codec) Encode(id int64) (string, error) {
	code, err := c.h.EncodeInt64([]int64{id})
	if err != nil {
		return "", fmt.Errorf("refcode: encode %d: %w", id, err)
	}
	return code, nil
}

func (c *Codec) Decode(code string) (int64, error) {
	ids, err := c.h.DecodeInt64WithError(code)
	if err != nil {
		return 0, fmt.Errorf("refcode: decode %q: %w", code, err)
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("refcode: unexpected payload in %q", code)
	}
	return ids[0], nil
}
