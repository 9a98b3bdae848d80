// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package idconv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// newRequest builds the converter query for one batch.
func (r *Resolver) newRequest(ctx context.Context, ids []string) (*http.Request, error) {
	params := url.Values{
		"ids":      {strings.Join(ids, ",")},
		"tool":     {r.cfg.Tool},
		"versions": {"no"},
		"format":   {"json"},
		"email":    {r.cfg.Email},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	return req, nil
}

// converterResponse is the ID converter JSON envelope. Records is a
// pointer so a body without the key is told apart from an empty list.
type converterResponse struct {
	Status  string                        `json:"status"`
	Message string                        `json:"message"`
	Records *[]map[string]json.RawMessage `json:"records"`
}

// decodeResponse parses a converter body into flat string fields per
// returned record. Numbers and booleans keep their literal text; nulls,
// objects, and arrays are dropped.
func decodeResponse(body io.Reader) ([]map[string]string, error) {
	var cr converterResponse
	if err := json.NewDecoder(body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("parsing ID converter response: %w", err)
	}
	if cr.Records == nil {
		if cr.Message != "" {
			return nil, fmt.Errorf("ID converter returned no records: %s", cr.Message)
		}
		return nil, fmt.Errorf("ID converter response has no records field")
	}

	out := make([]map[string]string, 0, len(*cr.Records))
	for _, raw := range *cr.Records {
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := scalarString(v); ok {
				fields[k] = s
			}
		}
		out = append(out, fields)
	}
	return out, nil
}

func scalarString(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", false
	}
	switch s[0] {
	case '"':
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", false
		}
		return str, true
	case '{', '[':
		return "", false
	}
	return s, true
}
