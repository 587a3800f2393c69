package crawler

import (
	"net/http"
	"time"
)

// Action tells the pipeline what to do with a URL listed in a sitemap.
type Action string

// Supported URL actions.
const (
	ActionFetch  Action = "fetch"
	ActionDelete Action = "delete"
)

// ParseAction maps a configuration value onto an Action. Empty means fetch.
func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case "", ActionFetch:
		return ActionFetch, true
	case ActionDelete:
		return ActionDelete, true
	default:
		return "", false
	}
}

// BasicAuth holds static HTTP basic-auth credentials.
type BasicAuth struct {
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
}

// IsZero reports whether no credentials are configured.
func (a *BasicAuth) IsZero() bool {
	return a == nil || (a.Username == "" && a.Password == "")
}

// SitemapSpec describes one configured sitemap.
type SitemapSpec struct {
	URL    string     `mapstructure:"url" json:"url"`
	Lang   string     `mapstructure:"lang" json:"lang"`
	Action Action     `mapstructure:"action" json:"action,omitempty"`
	Auth   *BasicAuth `mapstructure:"auth" json:"auth,omitempty"`
}

// URLEntry is a single page discovered in a sitemap.
type URLEntry struct {
	URL    string `json:"url"`
	Lang   string `json:"lang"`
	Action Action `json:"action"`
}

// SelectorSpec declares how one record field is extracted from a page.
type SelectorSpec struct {
	Key        string   `mapstructure:"key" json:"key"`
	Selector   string   `mapstructure:"selector" json:"selector"`
	Attributes []string `mapstructure:"attributes" json:"attributes,omitempty"`
	Exclude    string   `mapstructure:"exclude" json:"exclude,omitempty"`
}

// DefaultAttributes are consulted when a selector does not list attributes.
var DefaultAttributes = []string{"content", "value"}

// AttributeNames returns the configured attribute names or the defaults.
func (s SelectorSpec) AttributeNames() []string {
	if len(s.Attributes) == 0 {
		return DefaultAttributes
	}
	return s.Attributes
}

// FetchRequest captures everything needed to GET a URL.
type FetchRequest struct {
	URL     string
	Auth    *BasicAuth
	Headers http.Header
}

// FetchResponse is the result returned by a Transport implementation. Redirects
// are not followed, so 3xx responses surface here with their Location header.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
