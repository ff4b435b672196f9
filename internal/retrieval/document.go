package retrieval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Payload keys of an indexed document.
const (
	keyTitle       = "title"
	keyContent     = "content"
	keySource      = "source"
	keyURL         = "url"
	keyPermissions = "permissions"

	keySensitivity          = "sensitivity"
	keyTeams                = "teams"
	keyUsers                = "users"
	keyGeoRestricted        = "offshore_restricted"
	keyThirdPartyRestricted = "third_party_restricted"
)

// Document is one indexed chunk of source content.
type Document struct {
	ID                   string            `json:"id"`
	Title                string            `json:"title"`
	Content              string            `json:"content"`
	Source               string            `json:"source"`
	URL                  string            `json:"url,omitempty"`
	Tier                 conversation.Tier `json:"sensitivity"`
	Teams                []string          `json:"teams,omitempty"`
	Users                []string          `json:"users,omitempty"`
	GeoRestricted        bool              `json:"geo_restricted,omitempty"`
	ThirdPartyRestricted bool              `json:"third_party_restricted,omitempty"`
	Vector               []float32         `json:"vector,omitempty"`
}

// Validate checks the fields every backend needs.
func (d Document) Validate() error {
	switch {
	case d.ID == "":
		return &conversation.ValidationError{Field: "document.id", Reason: "must not be empty"}
	case strings.TrimSpace(d.Content) == "":
		return &conversation.ValidationError{Field: "document.content", Reason: fmt.Sprintf("document %s has no content", d.ID)}
	case len(d.Vector) == 0:
		return &conversation.ValidationError{Field: "document.vector", Reason: fmt.Sprintf("document %s has no vector", d.ID)}
	}
	return nil
}

func (d Document) payload() map[string]any {
	tier := d.Tier
	if tier == "" {
		tier = conversation.TierInternal
	}
	return map[string]any{
		keyTitle:   d.Title,
		keyContent: d.Content,
		keySource:  d.Source,
		keyURL:     d.URL,
		keyPermissions: map[string]any{
			keySensitivity:          string(tier),
			keyTeams:                nonNil(d.Teams),
			keyUsers:                nonNil(d.Users),
			keyGeoRestricted:        d.GeoRestricted,
			keyThirdPartyRestricted: d.ThirdPartyRestricted,
		},
	}
}

// candidateFromPayload maps a stored payload to a candidate. A missing
// sensitivity label maps to an empty tier, which the filter stage hides.
func candidateFromPayload(id string, score float32, payload map[string]any) conversation.Candidate {
	c := conversation.Candidate{
		ID:      id,
		Score:   score,
		Title:   stringOf(payload[keyTitle]),
		Content: stringOf(payload[keyContent]),
		Source:  stringOf(payload[keySource]),
		URL:     stringOf(payload[keyURL]),
		Payload: conversation.NormalizePayload(payload),
	}

	perms, _ := payload[keyPermissions].(map[string]any)
	if perms == nil {
		return c
	}
	c.Tier = conversation.Tier(strings.ToLower(stringOf(perms[keySensitivity])))
	c.Teams = stringsOf(perms[keyTeams])
	c.Users = stringsOf(perms[keyUsers])
	c.GeoRestricted = boolOf(perms[keyGeoRestricted])
	c.ThirdPartyRestricted = boolOf(perms[keyThirdPartyRestricted])
	return c
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func boolOf(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}

func stringsOf(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := stringOf(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return splitList(list)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
