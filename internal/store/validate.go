package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cellstore/internal/codec"
)

// historyRules bound the history size; a nil slice encodes as null.
var historyRules = codec.MustRules[[]HistoryEntry](
	fmt.Sprintf("value == null || size(value) <= %d", MaxHistory),
)

// Validators shared by the stored, raw and exported forms of each store.
var (
	collectionsValidator  = codec.ValidatorFunc[[]Collection](ValidateCollections)
	environmentsValidator = codec.ValidatorFunc[[]Environment](ValidateEnvironments)
	historyValidator      = codec.All(historyRules, codec.ValidatorFunc[[]HistoryEntry](ValidateHistory))
	cookiesValidator      = codec.ValidatorFunc[Cookies](ValidateCookies)
	secretsValidator      = codec.ValidatorFunc[[]Secret](ValidateSecrets)
)

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q", raw)
	}
	return nil
}

// ValidMethod reports whether m is one of Methods.
func ValidMethod(m Method) bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// ValidateRequest checks a stored request. URLs may still contain {{var}}
// placeholders, so only a parseable absolute URL or a placeholder prefix is
// required.
func ValidateRequest(r Request) error {
	if err := validateID(r.ID); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	return validateNewRequest(NewRequest{
		Method: r.Method, URL: r.URL, Variables: r.Variables,
	})
}

func validateNewRequest(r NewRequest) error {
	if !ValidMethod(r.Method) {
		return fmt.Errorf("request: unknown method %q", r.Method)
	}
	if r.URL == "" {
		return errors.New("request: url is required")
	}
	if !placeholderRe.MatchString(r.URL) {
		if err := validateURL(r.URL); err != nil {
			return fmt.Errorf("request: %w", err)
		}
	}
	if r.Variables != "" && !json.Valid([]byte(r.Variables)) {
		return errors.New("request: variables must be valid json")
	}
	return nil
}

// ValidateCollections checks every collection and request in the list.
func ValidateCollections(cs []Collection) error {
	seen := make(map[string]bool, len(cs))
	for _, c := range cs {
		if err := validateID(c.ID); err != nil {
			return fmt.Errorf("collection: %w", err)
		}
		if seen[c.ID] {
			return fmt.Errorf("collection: duplicate id %s", c.ID)
		}
		seen[c.ID] = true
		if c.BaseURL != "" {
			if err := validateURL(c.BaseURL); err != nil {
				return fmt.Errorf("collection %q: %w", c.Title, err)
			}
		}
		for _, r := range c.Requests {
			if err := ValidateRequest(r); err != nil {
				return fmt.Errorf("collection %q: %w", c.Title, err)
			}
		}
	}
	return nil
}

func ValidateEnvironments(envs []Environment) error {
	for _, e := range envs {
		if err := validateID(e.ID); err != nil {
			return fmt.Errorf("environment: %w", err)
		}
		if e.Name == "" {
			return fmt.Errorf("environment %s: name is required", e.ID)
		}
		for k := range e.Variables {
			if !variableNameRe.MatchString(k) {
				return fmt.Errorf("environment %q: invalid variable name %q", e.Name, k)
			}
		}
	}
	return nil
}

func ValidateHistory(entries []HistoryEntry) error {
	for _, h := range entries {
		if err := validateID(h.ID); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		if h.CreatedAt.IsZero() {
			return fmt.Errorf("history %s: createdAt is required", h.ID)
		}
	}
	return nil
}

func ValidateCookies(c Cookies) error {
	for domain, list := range c {
		if domain == "" {
			return errors.New("cookies: empty domain")
		}
		for _, ck := range list {
			if ck.Name == "" {
				return fmt.Errorf("cookies %s: cookie without name", domain)
			}
		}
	}
	return nil
}

func ValidateSecrets(secrets []Secret) error {
	for _, s := range secrets {
		if err := validateID(s.ID); err != nil {
			return fmt.Errorf("secret: %w", err)
		}
		if !variableNameRe.MatchString(s.Key) {
			return fmt.Errorf("secret: invalid key %q", s.Key)
		}
		switch s.Scope {
		case ScopeGlobal:
		case ScopeCollection:
			if s.CollectionID == "" {
				return fmt.Errorf("secret %q: collection scope needs collectionId", s.Key)
			}
		default:
			return fmt.Errorf("secret %q: unknown scope %q", s.Key, s.Scope)
		}
	}
	return nil
}
