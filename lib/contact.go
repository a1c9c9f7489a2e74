package lib

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fiffu/pushpanel/onesignal"
)

var (
	contactTagKeys    = []string{"mobile", "phone", "phoneNumber"}
	notPhoneChars     = regexp.MustCompile(`[^\d+]`)
	phoneLikeID       = regexp.MustCompile(`^\+?\d{10,15}$`)
	registerablePhone = regexp.MustCompile(`^\+?[1-9]\d{0,15}$`)
)

// ExtractContact picks a contact for a player. Tags win over the external user id, which
// wins over custom attributes. It returns "" when nothing usable is found.
func ExtractContact(p *onesignal.Player) string {
	for _, key := range contactTagKeys {
		if v := attrString(p.Tags[key]); v != "" {
			return v
		}
	}

	if p.ExternalUserID != "" && phoneLikeID.MatchString(notPhoneChars.ReplaceAllString(p.ExternalUserID, "")) {
		return p.ExternalUserID
	}

	keys := make([]string, 0, len(p.Custom))
	for k := range p.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lower := strings.ToLower(k)
		if !strings.Contains(lower, "mobile") && !strings.Contains(lower, "phone") {
			continue
		}
		if v := attrString(p.Custom[k]); v != "" {
			return v
		}
	}
	return ""
}

func attrString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case map[string]any, []any:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// normalizeContact strips whitespace and checks the result looks like a phone number.
func normalizeContact(raw string) (string, bool) {
	contact := strings.Join(strings.Fields(raw), "")
	return contact, registerablePhone.MatchString(contact)
}
