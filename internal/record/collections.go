package record

import (
	"encoding/json"
	"fmt"
)

// Collections is the full content of a store, one ordered slice per kind.
// Its JSON shape is shared by secret storage and snapshot documents.
type Collections struct {
	Websites  []Website `json:"websites"`
	APIKeys   []APIKey  `json:"apiKeys"`
	MFATokens []MFA     `json:"mfaTokens"`
}

// Get returns the records of kind k in order.
func (c Collections) Get(k Kind) []Record {
	switch k {
	case KindWebsite:
		return toRecords(c.Websites)
	case KindAPIKey:
		return toRecords(c.APIKeys)
	case KindMFA:
		return toRecords(c.MFATokens)
	}
	return nil
}

// Set replaces the records of kind k. Records of another kind are dropped.
func (c *Collections) Set(k Kind, rs []Record) {
	switch k {
	case KindWebsite:
		c.Websites = fromRecords[Website](rs)
	case KindAPIKey:
		c.APIKeys = fromRecords[APIKey](rs)
	case KindMFA:
		c.MFATokens = fromRecords[MFA](rs)
	}
}

// Len returns the number of records across all kinds.
func (c Collections) Len() int {
	return len(c.Websites) + len(c.APIKeys) + len(c.MFATokens)
}

// Marshal encodes an ordered sequence of records as a JSON array. An empty
// sequence encodes as [] rather than null.
func Marshal(rs []Record) ([]byte, error) {
	if rs == nil {
		rs = []Record{}
	}
	return json.Marshal(rs)
}

// Unmarshal decodes a JSON array of records of kind k. A JSON null decodes
// to an empty sequence.
func Unmarshal(k Kind, data []byte) ([]Record, error) {
	switch k {
	case KindWebsite:
		return unmarshalAs[Website](data)
	case KindAPIKey:
		return unmarshalAs[APIKey](data)
	case KindMFA:
		return unmarshalAs[MFA](data)
	}
	return nil, fmt.Errorf("unknown record kind %q", k)
}

func unmarshalAs[T Record](data []byte) ([]Record, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return toRecords(items), nil
}

func toRecords[T Record](in []T) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		out = append(out, r)
	}
	return out
}

func fromRecords[T Record](in []Record) []T {
	out := make([]T, 0, len(in))
	for _, r := range in {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
