// Package template renders the body of outgoing password-reset notifications.
//
// Supported variables:
//
//	{{user.email}}, {{user.first_name}}, {{user.last_name}}
//
//	{{reset.token}}, {{reset.url}}, {{reset.expires_at}}
package template

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultResetBody is used when no body template is configured.
const DefaultResetBody = `{"to":"{{user.email}}","subject":"Password reset","text":"Hello {{user.first_name}}, use {{reset.url}} to choose a new password. The link expires at {{reset.expires_at}}."}`

type UserData struct {
	Email     string
	FirstName string
	LastName  string
}

type ResetData struct {
	Token     string
	URL       string
	ExpiresAt time.Time
}

// RenderBody substitutes template variables. Values are JSON-string escaped
// so that substitution inside a JSON document stays well formed.
// A nil section renders its variables as empty strings.
func RenderBody(body string, user *UserData, reset *ResetData) string {
	pairs := make([]string, 0, 12)

	if user != nil {
		pairs = append(pairs,
			"{{user.email}}", escape(user.Email),
			"{{user.first_name}}", escape(user.FirstName),
			"{{user.last_name}}", escape(user.LastName),
		)
	} else {
		pairs = append(pairs,
			"{{user.email}}", "",
			"{{user.first_name}}", "",
			"{{user.last_name}}", "",
		)
	}

	if reset != nil {
		pairs = append(pairs,
			"{{reset.token}}", escape(reset.Token),
			"{{reset.url}}", escape(reset.URL),
			"{{reset.expires_at}}", reset.ExpiresAt.UTC().Format(time.RFC3339),
		)
	} else {
		pairs = append(pairs,
			"{{reset.token}}", "",
			"{{reset.url}}", "",
			"{{reset.expires_at}}", "",
		)
	}

	return strings.NewReplacer(pairs...).Replace(body)
}

// ResetURL appends the token to base as a query parameter.
func ResetURL(base, token string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + token
}

func escape(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(raw[1 : len(raw)-1])
}
