package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoSources is returned when a build is requested with nothing to build from.
	ErrNoSources = errors.New("no catalog source configured")
	// ErrNoCredentials is returned when the server would start without any usable login.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrDuplicateSource is returned when two sources share an explicit name.
	ErrDuplicateSource = errors.New("duplicate source name")
)

// Credential is an operator-issued client login.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Endpoint is a remote panel-style API upstream.
type Endpoint struct {
	Name string `json:"name"`
	Host string `json:"host"`
	URL  string `json:"url"` // older spelling of host
	User string `json:"user"`
	Pass string `json:"pass"`
	// Series actions are fetched for completeness but the catalog keeps no series.
	IncludeSeries bool `json:"include_series"`
}

// Playlist is an M3U upstream: an http(s) URL or a local file path.
type Playlist struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Feed is the static public channel feed.
type Feed struct {
	URL               string   `json:"url"`
	Prefix            string   `json:"prefix"`
	WhitelistedAmbits []string `json:"whitelisted_ambits"`
	Formats           []string `json:"formats"`
}

// Registry is the manually curated asset registry.
type Registry struct {
	File         string `json:"csv_file"`
	Category     string `json:"category"`
	MediaBaseURL string `json:"media_base_url"`
}

// CustomCategory forces streams whose name starts with any Match string into
// a synthetic category named Name.
type CustomCategory struct {
	Name  string   `json:"name"`
	Match []string `json:"match"`
}

// CustomCategories keeps rule order. It accepts either a JSON array of
// {"name","match"} objects or an object mapping name to match strings.
type CustomCategories []CustomCategory

// UnmarshalJSON decodes both accepted shapes, preserving object key order.
func (cc *CustomCategories) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*cc = nil
		return nil
	}
	if data[0] == '[' {
		var list []CustomCategory
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*cc = list
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var out CustomCategories
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var match []string
		if err := dec.Decode(&match); err != nil {
			return fmt.Errorf("custom category %q: %w", name, err)
		}
		out = append(out, CustomCategory{Name: name, Match: match})
	}
	*cc = out
	return nil
}

// Config is built once at startup and passed by pointer to every component.
// Nothing mutates it after Load returns.
type Config struct {
	BaseURL     string // public URL clients use to reach this server, e.g. http://10.0.0.2:8080
	Addr        string // listen address
	CatalogPath string
	LogoDir     string
	LedgerPath  string // sqlite id ledger; "" disables it

	FetchTimeout time.Duration // per upstream request
	LogoTimeout  time.Duration // per logo download
	MaxConns     int           // 0 = unlimited

	LogLevel  string
	LogFormat string

	Credentials []Credential
	Endpoints   []Endpoint
	Playlists   []Playlist
	Feed        *Feed
	Registry    Registry

	WhitelistedGroups        []string
	BlacklistedGroupPrefixes []string
	CustomLiveCategories     CustomCategories
	CustomMovieCategories    CustomCategories
}

// fileConfig mirrors the JSON config file. Key names follow the historical
// config.json layout, including its "grups" spelling.
type fileConfig struct {
	BaseURL     string       `json:"base_url"`
	Credentials []Credential `json:"credentials"`
	Endpoint    *Endpoint    `json:"endpoint"`
	Endpoints   []Endpoint   `json:"endpoints"`
	Playlists   []Playlist   `json:"playlists"`

	Whitelisted           []string         `json:"whitelisted_grups"`
	BlacklistedPrefixes   []string         `json:"blacklisted_grup_prefixes"`
	CustomLiveCategories  CustomCategories `json:"custom_live_categories"`
	CustomMovieCategories CustomCategories `json:"custom_movie_categories"`

	JSONSavePath string    `json:"json_save_path"`
	JSONDataFile string    `json:"json_data_file"`
	Feed         *Feed     `json:"tdtchannels_com"`
	Registry     *Registry `json:"s3_uploads"`
}

// Load reads the JSON config at path (a missing file yields an env-only config)
// and applies IPTV_CATALOG_* environment overrides.
// Call LoadEnvFile(".env") before Load to use a .env file.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	c := &Config{
		BaseURL:                  strings.TrimSuffix(getEnv("IPTV_CATALOG_BASE_URL", fc.BaseURL), "/"),
		CatalogPath:              getEnv("IPTV_CATALOG_CATALOG", firstNonEmpty(fc.JSONSavePath, fc.JSONDataFile, "final_data.json")),
		LogoDir:                  getEnv("IPTV_CATALOG_LOGO_DIR", "./logos"),
		LedgerPath:               os.Getenv("IPTV_CATALOG_LEDGER"),
		FetchTimeout:             getEnvDuration("IPTV_CATALOG_FETCH_TIMEOUT", 60*time.Second),
		LogoTimeout:              getEnvDuration("IPTV_CATALOG_LOGO_TIMEOUT", 10*time.Second),
		MaxConns:                 getEnvInt("IPTV_CATALOG_MAX_CONNS", 0),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "text"),
		Credentials:              fc.Credentials,
		Endpoints:                fc.Endpoints,
		Playlists:                fc.Playlists,
		Feed:                     fc.Feed,
		WhitelistedGroups:        fc.Whitelisted,
		BlacklistedGroupPrefixes: fc.BlacklistedPrefixes,
		CustomLiveCategories:     fc.CustomLiveCategories,
		CustomMovieCategories:    fc.CustomMovieCategories,
	}
	if fc.Endpoint != nil && (fc.Endpoint.Host != "" || fc.Endpoint.URL != "") {
		ep := *fc.Endpoint
		c.Endpoints = append([]Endpoint{ep}, c.Endpoints...)
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Host == "" {
			c.Endpoints[i].Host = c.Endpoints[i].URL
		}
		c.Endpoints[i].Host = strings.TrimSuffix(c.Endpoints[i].Host, "/")
	}
	if err := c.nameSources(); err != nil {
		return nil, err
	}
	if fc.Registry != nil {
		c.Registry = *fc.Registry
	}
	if c.Registry.File == "" {
		c.Registry.File = "uploads.csv"
	}
	if c.Registry.Category == "" {
		c.Registry.Category = "Custom"
	}
	if c.Feed != nil {
		if c.Feed.Prefix == "" {
			c.Feed.Prefix = "tdtch"
		}
		if len(c.Feed.Formats) == 0 {
			c.Feed.Formats = []string{"m3u8"}
		}
	}
	c.Addr = getEnv("IPTV_CATALOG_ADDR", addrFromBaseURL(c.BaseURL))
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.LogoTimeout <= 0 {
		c.LogoTimeout = 10 * time.Second
	}
	return c, nil
}

// RequireCredentials fails when the server has no usable login.
func (c *Config) RequireCredentials() error {
	if len(c.Credentials) == 0 {
		return ErrNoCredentials
	}
	for i, cred := range c.Credentials {
		if cred.Username == "" || cred.Password == "" {
			return fmt.Errorf("%w: credentials[%d] has an empty username or password", ErrNoCredentials, i)
		}
	}
	return nil
}

// RequireSources fails when a full build has no upstream to read.
func (c *Config) RequireSources() error {
	if len(c.Endpoints) == 0 && len(c.Playlists) == 0 && c.Feed == nil {
		return ErrNoSources
	}
	return nil
}

// addrFromBaseURL listens on the base URL's port on all interfaces (default 8080).
func addrFromBaseURL(base string) string {
	if u, err := url.Parse(base); err == nil && u.Port() != "" {
		return ":" + u.Port()
	}
	return ":8080"
}

// nameSources gives every endpoint and playlist a distinct name. Names key
// the qualified category ids of a multi-source merge, so explicit duplicates
// are rejected and derived names get a numeric suffix.
func (c *Config) nameSources() error {
	taken := make(map[string]bool, len(c.Endpoints)+len(c.Playlists))
	claim := func(name string) error {
		if name == "" {
			return nil
		}
		if taken[name] {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, name)
		}
		taken[name] = true
		return nil
	}
	for _, e := range c.Endpoints {
		if err := claim(e.Name); err != nil {
			return err
		}
	}
	for _, p := range c.Playlists {
		if err := claim(p.Name); err != nil {
			return err
		}
	}
	free := func(base string) string {
		name := base
		for n := 2; taken[name]; n++ {
			name = base + "-" + strconv.Itoa(n)
		}
		taken[name] = true
		return name
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Name == "" {
			c.Endpoints[i].Name = free(hostTag(c.Endpoints[i].Host, i))
		}
	}
	for i := range c.Playlists {
		if c.Playlists[i].Name == "" {
			c.Playlists[i].Name = free("m3u" + strconv.Itoa(i+1))
		}
	}
	return nil
}

// hostTag derives a short source tag from an endpoint host.
func hostTag(host string, i int) string {
	if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
		return strings.ReplaceAll(u.Hostname(), ".", "-")
	}
	return "api" + strconv.Itoa(i+1)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
