// Package places talks to a Google Places and Directions shaped HTTP API.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Google Maps web service root.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api"

// Candidate is one place returned by a text search.
type Candidate struct {
	Name             string `json:"name"`
	ID               string `json:"id"`
	FormattedAddress string `json:"formattedAddress"`
	Category         string `json:"category"`
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// Step is one manoeuvre of a route.
type Step struct {
	Instruction     string `json:"instruction"`
	DistanceMeters  int    `json:"distanceMeters"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Route is the first route of a directions response, summed over its legs.
type Route struct {
	Summary         string          `json:"summary"`
	DurationSeconds int             `json:"durationSeconds"`
	DistanceMeters  int             `json:"distanceMeters"`
	Steps           []Step          `json:"steps"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Service is the external place and directions capability.
type Service interface {
	Search(ctx context.Context, text string) ([]Candidate, error)
	Detail(ctx context.Context, placeID string) (*Coordinates, error)
	Directions(ctx context.Context, origin, destination Coordinates) (*Route, error)
}

// APIError wraps every failure talking to the service: transport errors,
// non-2xx responses and non-OK API statuses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("places %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("places %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Config holds client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Language   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration for the public Google endpoints.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:  apiKey,
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// Client implements Service over HTTP.
type Client struct {
	cfg  *Config
	http *http.Client
}

var _ Service = (*Client)(nil)

// New creates a client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

type textSearchResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Name             string   `json:"name"`
		PlaceID          string   `json:"place_id"`
		FormattedAddress string   `json:"formatted_address"`
		Types            []string `json:"types"`
	} `json:"results"`
}

// Search runs a free-text place search. ZERO_RESULTS is an empty list.
func (c *Client) Search(ctx context.Context, text string) ([]Candidate, error) {
	var resp textSearchResponse
	if err := c.get(ctx, "search", "/place/textsearch/json", url.Values{"query": {text}}, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "ZERO_RESULTS" {
		return []Candidate{}, nil
	}
	if err := checkStatus("search", resp.Status, resp.ErrorMessage); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		cand := Candidate{Name: r.Name, ID: r.PlaceID, FormattedAddress: r.FormattedAddress}
		if len(r.Types) > 0 {
			cand.Category = r.Types[0]
		}
		out = append(out, cand)
	}
	return out, nil
}

type detailResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Result       struct {
		Geometry struct {
			Location Coordinates `json:"location"`
		} `json:"geometry"`
	} `json:"result"`
}

// Detail resolves a place id to coordinates.
func (c *Client) Detail(ctx context.Context, placeID string) (*Coordinates, error) {
	var resp detailResponse
	q := url.Values{"place_id": {placeID}, "fields": {"geometry"}}
	if err := c.get(ctx, "detail", "/place/details/json", q, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus("detail", resp.Status, resp.ErrorMessage); err != nil {
		return nil, err
	}
	loc := resp.Result.Geometry.Location
	return &loc, nil
}

type directionsResponse struct {
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message"`
	Routes       []json.RawMessage `json:"routes"`
}

type valueField struct {
	Value int `json:"value"`
}

type routeBody struct {
	Summary string `json:"summary"`
	Legs    []struct {
		Duration valueField `json:"duration"`
		Distance valueField `json:"distance"`
		Steps    []struct {
			HTMLInstructions string     `json:"html_instructions"`
			Duration         valueField `json:"duration"`
			Distance         valueField `json:"distance"`
		} `json:"steps"`
	} `json:"legs"`
}

// Directions fetches a driving route. Step instructions are returned as
// plain text.
func (c *Client) Directions(ctx context.Context, origin, destination Coordinates) (*Route, error) {
	var resp directionsResponse
	q := url.Values{"origin": {origin.String()}, "destination": {destination.String()}}
	if err := c.get(ctx, "directions", "/directions/json", q, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus("directions", resp.Status, resp.ErrorMessage); err != nil {
		return nil, err
	}
	if len(resp.Routes) == 0 {
		return nil, &APIError{Op: "directions", StatusCode: http.StatusOK, Body: "no routes"}
	}

	var body routeBody
	if err := json.Unmarshal(resp.Routes[0], &body); err != nil {
		return nil, &APIError{Op: "directions", Err: fmt.Errorf("decode route: %w", err)}
	}

	route := &Route{Summary: body.Summary, Raw: resp.Routes[0]}
	for _, leg := range body.Legs {
		route.DurationSeconds += leg.Duration.Value
		route.DistanceMeters += leg.Distance.Value
		for _, s := range leg.Steps {
			route.Steps = append(route.Steps, Step{
				Instruction:     CleanInstruction(s.HTMLInstructions),
				DistanceMeters:  s.Distance.Value,
				DurationSeconds: s.Duration.Value,
			})
		}
	}
	return route, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func checkStatus(op, status, msg string) error {
	if status == "" || status == "OK" {
		return nil
	}
	body := status
	if msg != "" {
		body += ": " + msg
	}
	return &APIError{Op: op, StatusCode: http.StatusOK, Body: body}
}
