package store

import (
	"time"

	"github.com/google/uuid"
)

// Method is an HTTP method, plus GRAPHQL for GraphQL-over-POST requests.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodGraphQL Method = "GRAPHQL"
)

// Methods lists the supported methods in display order.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodGraphQL}

const (
	DefaultCollectionName = "Default Collection"
	GlobalsEnvironment    = "Globals"

	// MaxHistory caps the request history, newest first.
	MaxHistory = 100
)

// Header is one request header. Key may be empty while the user is editing.
type Header struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

type Request struct {
	ID        string   `json:"id"`
	Method    Method   `json:"method"`
	Title     string   `json:"title,omitempty"`
	URL       string   `json:"url"`
	Body      string   `json:"body,omitempty"`
	Params    string   `json:"params,omitempty"`
	Query     string   `json:"query,omitempty"`     // GraphQL document
	Variables string   `json:"variables,omitempty"` // GraphQL variables, JSON
	Headers   []Header `json:"headers"`
}

// NewRequest is a Request before it has been assigned an ID.
type NewRequest struct {
	Method    Method   `json:"method"`
	Title     string   `json:"title,omitempty"`
	URL       string   `json:"url"`
	Body      string   `json:"body,omitempty"`
	Params    string   `json:"params,omitempty"`
	Query     string   `json:"query,omitempty"`
	Variables string   `json:"variables,omitempty"`
	Headers   []Header `json:"headers"`
}

func (n NewRequest) withID(id string) Request {
	return Request{
		ID:        id,
		Method:    n.Method,
		Title:     n.Title,
		URL:       n.URL,
		Body:      n.Body,
		Params:    n.Params,
		Query:     n.Query,
		Variables: n.Variables,
		Headers:   nonNil(n.Headers),
	}
}

type Collection struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	BaseURL  string    `json:"baseUrl,omitempty"`
	Requests []Request `json:"requests"`
	Headers  []Header  `json:"headers"`
}

// Variable is one environment variable. Secret values are masked in
// listings.
type Variable struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret"`
}

type Environment struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Variables map[string]Variable `json:"variables"`
}

// Response is the captured result of a request, as stored in history.
type Response struct {
	Status        int               `json:"status"`
	StatusText    string            `json:"statusText"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body,omitempty"`
	RequestURL    string            `json:"requestUrl,omitempty"`
	RequestMethod Method            `json:"requestMethod,omitempty"`
}

type HistoryEntry struct {
	ID                  string     `json:"id"`
	CreatedAt           time.Time  `json:"createdAt"`
	RequestSnapshot     NewRequest `json:"requestSnapshot"`
	SourceRequestID     string     `json:"sourceRequestId,omitempty"`
	Response            Response   `json:"response"`
	ActiveEnvironmentID string     `json:"activeEnvironmentId,omitempty"`
}

type CookieOptions struct {
	MaxAge   int        `json:"maxAge,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	HTTPOnly bool       `json:"httpOnly"`
	Path     string     `json:"path"`
	Domain   string     `json:"domain"`
	Secure   bool       `json:"secure,omitempty"`
	SameSite string     `json:"sameSite,omitempty"`
}

type Cookie struct {
	Name    string        `json:"cookieName"`
	Value   string        `json:"cookieValue"`
	Options CookieOptions `json:"options"`
}

// Cookies maps a domain to the cookies stored for it.
type Cookies map[string][]Cookie

// Secret scopes.
const (
	ScopeGlobal     = "global"
	ScopeCollection = "collection"
)

// Secret is a named value substituted as {{key}}. Collection-scoped secrets
// only apply to requests of CollectionID.
type Secret struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Value        string `json:"value"`
	Scope        string `json:"scope"`
	CollectionID string `json:"collectionId,omitempty"`
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
