package cms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Sternrassler/cms-cache/pkg/reconcile"
)

// Project is a CMS project record. Only the identity fields are decoded;
// the full body is kept verbatim in Raw and written back unchanged.
type Project struct {
	UUID     string
	Modified string
	Raw      json.RawMessage
}

type projectHead struct {
	UUID     string       `json:"uuid"`
	Modified modifiedMark `json:"modified"`
}

// UnmarshalJSON decodes uuid and modified and keeps the whole object.
func (p *Project) UnmarshalJSON(b []byte) error {
	var head projectHead
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	p.UUID = head.UUID
	p.Modified = string(head.Modified)
	p.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON writes the original body, or just the identity fields for a
// project that was built in code.
func (p Project) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(struct {
		UUID     string `json:"uuid"`
		Modified string `json:"modified"`
	}{p.UUID, p.Modified})
}

// IdentifyProject is the reconcile.Identify function for projects.
func IdentifyProject(p Project) reconcile.IndexEntry {
	return reconcile.IndexEntry{ID: p.UUID, Modified: p.Modified}
}

// modifiedMark accepts the modified token as string or as number (the CMS
// sends unix seconds on some endpoints).
type modifiedMark string

func (m *modifiedMark) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = modifiedMark(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("modified: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*m = modifiedMark(strconv.FormatInt(i, 10))
		return nil
	}
	*m = modifiedMark(n.String())
	return nil
}

// unwrapList returns the JSON array of a list response. Bare arrays are
// returned as is; objects are unwrapped from their "result" or "data" member.
func unwrapList(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}

	switch body[0] {
	case '[':
		return body, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		for _, member := range []string{"result", "data"} {
			if raw, ok := envelope[member]; ok {
				return unwrapList(raw)
			}
		}
		return nil, fmt.Errorf("%w: object without result or data member", ErrInvalidResponse)
	case 'n':
		if bytes.Equal(body, []byte("null")) {
			return []byte("[]"), nil
		}
	}
	return nil, fmt.Errorf("%w: expected a list", ErrInvalidResponse)
}

// unwrapObject returns the JSON object of a single-object response, unwrapping
// a "result" or "data" envelope when the object has no "id" member.
func unwrapObject(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidResponse)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if _, ok := envelope["id"]; ok {
		return body, nil
	}
	for _, member := range []string{"result", "data"} {
		if raw, ok := envelope[member]; ok {
			return unwrapObject(raw)
		}
	}
	return body, nil
}
