// Package discovery reads the editor's WOPI discovery feed: the actions it
// supports per file extension and the public keys it signs proofs with.
package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wopihost/internal/model"
)

var ErrNoProofKey = errors.New("discovery: feed has no proof-key")

// Action is one editor operation bound to a file extension.
type Action struct {
	App          string `json:"app"`
	FavIconURL   string `json:"favIconUrl"`
	CheckLicense bool   `json:"checkLicense"`
	Name         string `json:"name"`
	Ext          string `json:"ext"`
	ProgID       string `json:"progid"`
	IsDefault    bool   `json:"isDefault"`
	URLSrc       string `json:"urlsrc"`
	Requires     string `json:"requires"`
}

// ProofKeys holds the current and previous proof signing keys. Modulus and
// exponent are base64 encoded big-endian integers.
type ProofKeys struct {
	Value       string `json:"value"`
	Modulus     string `json:"modulus"`
	Exponent    string `json:"exponent"`
	OldValue    string `json:"oldValue"`
	OldModulus  string `json:"oldModulus"`
	OldExponent string `json:"oldExponent"`
}

// Feed is a parsed discovery document.
type Feed struct {
	Actions   []Action
	ProofKeys *ProofKeys
}

type xmlDiscovery struct {
	NetZones []struct {
		Apps []struct {
			Name         string `xml:"name,attr"`
			FavIconURL   string `xml:"favIconUrl,attr"`
			CheckLicense string `xml:"checkLicense,attr"`
			Actions      []struct {
				Name     string  `xml:"name,attr"`
				Ext      string  `xml:"ext,attr"`
				ProgID   string  `xml:"progid,attr"`
				Default  *string `xml:"default,attr"`
				URLSrc   string  `xml:"urlsrc,attr"`
				Requires string  `xml:"requires,attr"`
			} `xml:"action"`
		} `xml:"app"`
	} `xml:"net-zone"`
	ProofKey *struct {
		Value       string `xml:"value,attr"`
		Modulus     string `xml:"modulus,attr"`
		Exponent    string `xml:"exponent,attr"`
		OldValue    string `xml:"oldvalue,attr"`
		OldModulus  string `xml:"oldmodulus,attr"`
		OldExponent string `xml:"oldexponent,attr"`
	} `xml:"proof-key"`
}

// Parse decodes a discovery XML document.
func Parse(data []byte) (*Feed, error) {
	var doc xmlDiscovery
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("discovery: parse feed: %w", err)
	}

	feed := &Feed{}
	for _, zone := range doc.NetZones {
		for _, app := range zone.Apps {
			checkLicense, _ := strconv.ParseBool(app.CheckLicense)
			for _, a := range app.Actions {
				feed.Actions = append(feed.Actions, Action{
					App:          app.Name,
					FavIconURL:   app.FavIconURL,
					CheckLicense: checkLicense,
					Name:         a.Name,
					Ext:          strings.ToLower(a.Ext),
					ProgID:       a.ProgID,
					IsDefault:    a.Default != nil,
					URLSrc:       a.URLSrc,
					Requires:     a.Requires,
				})
			}
		}
	}
	if pk := doc.ProofKey; pk != nil {
		feed.ProofKeys = &ProofKeys{
			Value:       pk.Value,
			Modulus:     pk.Modulus,
			Exponent:    pk.Exponent,
			OldValue:    pk.OldValue,
			OldModulus:  pk.OldModulus,
			OldExponent: pk.OldExponent,
		}
	}
	return feed, nil
}

// Fetcher retrieves the raw discovery document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPFetcher downloads the feed over HTTP with a bounded timeout.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.url == "" {
		return nil, errors.New("discovery: feed url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("discovery: feed returned %s", resp.Status)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("discovery: read feed: %w", err)
	}
	return buf.Bytes(), nil
}

// ActionsFor returns the actions registered for the extension of
// baseFileName, default actions first.
func ActionsFor(actions []Action, baseFileName string) []Action {
	ext := model.FileExtension(baseFileName)
	var out []Action
	for _, a := range actions {
		if a.Ext == ext {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsDefault && !out[j].IsDefault
	})
	return out
}

// FindAction returns the first action with the given extension and name.
func FindAction(actions []Action, ext, name string) (Action, bool) {
	for _, a := range actions {
		if a.Ext == ext && a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}
