package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultOpenLibraryURL = "https://openlibrary.org"

// OpenLibrary resolves ISBNs with the Open Library Books API
// (api/books?jscmd=details).
type OpenLibrary struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenLibrary returns a resolver for baseURL ("" uses openlibrary.org).
func NewOpenLibrary(baseURL string, timeout time.Duration) *OpenLibrary {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOpenLibraryURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenLibrary{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (o *OpenLibrary) Name() string { return "openlibrary" }

type openLibraryResponse map[string]struct {
	Details struct {
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"`
		Authors  []struct {
			Name string `json:"name"`
		} `json:"authors"`
		Publishers    []string `json:"publishers"`
		PublishDate   string   `json:"publish_date"`
		NumberOfPages int      `json:"number_of_pages"`
		Languages     []struct {
			Key string `json:"key"`
		} `json:"languages"`
		Subjects    []string        `json:"subjects"`
		Description json.RawMessage `json:"description"`
	} `json:"details"`
}

var yearPattern = regexp.MustCompile(`\b(1[4-9]|20)\d{2}\b`)

// Resolve fetches the record for isbn.
func (o *OpenLibrary) Resolve(ctx context.Context, isbn string) (Resolved, error) {
	key := "ISBN:" + isbn
	endpoint := fmt.Sprintf("%s/api/books?bibkeys=%s&format=json&jscmd=details", o.BaseURL, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Resolved{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return Resolved{}, fmt.Errorf("query open library: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Resolved{}, fmt.Errorf("open library returned status %d", resp.StatusCode)
	}

	var payload openLibraryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Resolved{}, fmt.Errorf("decode open library response: %w", err)
	}
	entry, ok := payload[key]
	if !ok {
		return Resolved{}, fmt.Errorf("isbn %s not known to open library", isbn)
	}
	d := entry.Details

	var out Resolved
	if title := strings.TrimSpace(d.Title); title != "" {
		if sub := strings.TrimSpace(d.Subtitle); sub != "" {
			title += ": " + sub
		}
		out.Title = &title
	}
	for _, a := range d.Authors {
		out.Authors = append(out.Authors, a.Name)
	}
	if len(d.Publishers) > 0 {
		out.Publisher = &d.Publishers[0]
	}
	if len(d.Languages) > 0 {
		code := strings.TrimPrefix(d.Languages[0].Key, "/languages/")
		out.Language = &code
	}
	if d.NumberOfPages > 0 {
		n := d.NumberOfPages
		out.PageCount = &n
	}
	if m := yearPattern.FindString(d.PublishDate); m != "" {
		if year, err := strconv.Atoi(m); err == nil {
			out.Year = &year
		}
	}
	out.Keywords = d.Subjects
	if desc := decodeDescription(d.Description); desc != "" {
		out.Description = &desc
	}
	return out, nil
}

// decodeDescription accepts both forms Open Library uses: a plain string or
// {"type": "/type/text", "value": "..."}.
func decodeDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var typed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil {
		return strings.TrimSpace(typed.Value)
	}
	return ""
}

var _ Resolver = (*OpenLibrary)(nil)
