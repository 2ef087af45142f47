package server

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// player_api.php actions.
const (
	ActionLiveCategories   = "get_live_categories"
	ActionLiveStreams      = "get_live_streams"
	ActionVODCategories    = "get_vod_categories"
	ActionVODStreams       = "get_vod_streams"
	ActionVODInfo          = "get_vod_info"
	ActionSeriesCategories = "get_series_categories"
	ActionSeries           = "get_series"
)

type userInfo struct {
	Auth                 int      `json:"auth"`
	Username             string   `json:"username,omitempty"`
	Password             string   `json:"password,omitempty"`
	Status               string   `json:"status,omitempty"`
	IsTrial              string   `json:"is_trial,omitempty"`
	ActiveCons           string   `json:"active_cons,omitempty"`
	MaxConnections       string   `json:"max_connections,omitempty"`
	AllowedOutputFormats []string `json:"allowed_output_formats,omitempty"`
}

type serverInfo struct {
	URL            string `json:"url"`
	Port           string `json:"port"`
	ServerProtocol string `json:"server_protocol"`
	Timezone       string `json:"timezone"`
	TimestampNow   int64  `json:"timestamp_now"`
	TimeNow        string `json:"time_now"`
}

type summary struct {
	UserInfo            userInfo              `json:"user_info"`
	ServerInfo          serverInfo            `json:"server_info"`
	AvailableChannels   []catalog.LiveStream  `json:"available_channels"`
	AvailableCategories []catalog.Category    `json:"available_categories"`
	MovieData           []catalog.MovieStream `json:"movie_data"`
	MovieCategories     []catalog.Category    `json:"movie_categories"`
}

type vodInfo struct {
	Info      vodDetails `json:"info"`
	MovieData vodData    `json:"movie_data"`
}

type vodDetails struct {
	Name        string `json:"name"`
	MovieID     int    `json:"movie_id"`
	StreamType  string `json:"stream_type"`
	Director    string `json:"director"`
	Cast        string `json:"cast"`
	Rating      string `json:"rating"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	Cover       string `json:"cover"`
}

type vodData struct {
	StreamID           int      `json:"stream_id"`
	Name               string   `json:"name"`
	ContainerExtension string   `json:"container_extension"`
	StreamSource       []string `json:"stream_source"`
	CustomSID          string   `json:"custom_sid"`
	DirectSource       string   `json:"direct_source"`
	StreamLink         string   `json:"stream_link"`
}

func (s *Server) servePlayerAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	endpoint := action
	if endpoint == "" {
		endpoint = "summary"
	}

	if !s.authorized(q.Get("username"), q.Get("password")) {
		metrics.RecordAuthFailure()
		metrics.RecordRequest(endpoint, "unauthorized")
		writeJSON(w, http.StatusOK, map[string]userInfo{"user_info": {Auth: 0}})
		return
	}

	c := s.Catalog()
	status, body := http.StatusOK, any(nil)
	switch action {
	case "":
		body = s.buildSummary(q.Get("username"), q.Get("password"), c)
	case ActionLiveCategories:
		body = c.LiveCategories
	case ActionLiveStreams:
		body = byCategory(c.LiveStreams, q.Get("category_id"))
	case ActionVODCategories:
		body = c.MovieCategories
	case ActionVODStreams:
		body = byCategory(c.MovieStreams, q.Get("category_id"))
	case ActionSeriesCategories:
		body = c.SeriesCategories
	case ActionSeries:
		body = c.SeriesStreams
	case ActionVODInfo:
		body = lookupVOD(c, q.Get("vod_id"))
	default:
		endpoint = "unknown"
		status, body = http.StatusBadRequest, map[string]string{"error": "Unknown action"}
	}
	metrics.RecordRequest(endpoint, strconv.Itoa(status))
	writeJSON(w, status, body)
}

// byCategory narrows streams to categoryID; "" returns them all.
func byCategory[T any, P catalog.EntryPtr[T]](streams []T, categoryID string) []T {
	if categoryID == "" {
		return streams
	}
	return lo.Filter(streams, func(s T, _ int) bool {
		return P(&s).Base().CategoryID == categoryID
	})
}

func lookupVOD(c *catalog.Catalog, rawID string) any {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return map[string]string{"error": "vod not found"}
	}
	m, ok := c.FindMovie(id)
	if !ok {
		return map[string]string{"error": "vod not found"}
	}
	ext := m.ContainerExtension
	if ext == "" {
		ext = "mp4"
	}
	return vodInfo{
		Info: vodDetails{
			Name:       m.Name,
			MovieID:    id,
			StreamType: string(catalog.TypeMovie),
			Genre:      m.CategoryID,
			Cover:      m.StreamIcon,
		},
		MovieData: vodData{
			StreamID:           id,
			Name:               m.Name,
			ContainerExtension: ext,
			StreamSource:       []string{m.DirectSource},
			DirectSource:       m.DirectSource,
			StreamLink:         m.DirectSource,
		},
	}
}

func (s *Server) buildSummary(username, password string, c *catalog.Catalog) summary {
	now := time.Now().UTC()
	info := serverInfo{
		Port:           "80",
		ServerProtocol: "http",
		Timezone:       "UTC",
		TimestampNow:   now.Unix(),
		TimeNow:        now.Format(time.DateTime),
	}
	if u, err := url.Parse(s.BaseURL); err == nil && u.Host != "" {
		info.URL = u.Hostname()
		info.ServerProtocol = u.Scheme
		switch {
		case u.Port() != "":
			info.Port = u.Port()
		case u.Scheme == "https":
			info.Port = "443"
		}
	}
	return summary{
		UserInfo: userInfo{
			Auth:                 1,
			Username:             username,
			Password:             password,
			Status:               "Active",
			IsTrial:              "0",
			ActiveCons:           "0",
			MaxConnections:       "1",
			AllowedOutputFormats: []string{"m3u8", "ts"},
		},
		ServerInfo:          info,
		AvailableChannels:   c.LiveStreams,
		AvailableCategories: c.LiveCategories,
		MovieData:           c.MovieStreams,
		MovieCategories:     c.MovieCategories,
	}
}
