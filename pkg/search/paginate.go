package search

import (
	"encoding/base64"
	"encoding/json"
)

type pageToken struct {
	Offset int `json:"offset"`
}

// Paginate slices items at the offset encoded in token and returns the page
// plus a continuation token, empty when the listing is exhausted. The same
// token over the same ordered input reproduces the same page.
func Paginate[T any](items []T, token string, maxResults int) ([]T, string, error) {
	offset, err := ParseToken(token)
	if err != nil {
		return nil, "", err
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + maxResults
	if end > len(items) {
		end = len(items)
	}
	page := items[offset:end]
	if end < len(items) {
		return page, makeToken(end), nil
	}
	return page, "", nil
}

// ParseToken decodes a continuation token into its start offset. An empty
// token means offset zero.
func ParseToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, invalid("Invalid page token %q", token)
	}
	var decoded pageToken
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Offset < 0 {
		return 0, invalid("Invalid page token %q", token)
	}
	return decoded.Offset, nil
}

func makeToken(offset int) string {
	raw, _ := json.Marshal(pageToken{Offset: offset})
	return base64.StdEncoding.EncodeToString(raw)
}
