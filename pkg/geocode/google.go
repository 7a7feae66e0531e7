package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// defaultGoogleTimeout bounds one geocoding request end to end.
const defaultGoogleTimeout = 10 * time.Second

// googleResponse is the JSON envelope from the Google Geocoding API.
type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

type googleResult struct {
	FormattedAddress string `json:"formatted_address"`
	PartialMatch     bool   `json:"partial_match"`
	PlaceID          string `json:"place_id"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	AddressComponents []googleComponent `json:"address_components"`
}

type googleComponent struct {
	Types     []string `json:"types"`
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
}

// GoogleProvider geocodes addresses against the Google Geocoding API.
type GoogleProvider struct {
	httpClient *http.Client
	apiKey     string
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithHTTPClient sets a custom HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) GoogleOption {
	return func(p *GoogleProvider) {
		p.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) GoogleOption {
	return func(p *GoogleProvider) {
		p.httpClient.Timeout = d
	}
}

// NewGoogleProvider creates a GoogleProvider with the given API key.
func NewGoogleProvider(apiKey string, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		httpClient: &http.Client{Timeout: defaultGoogleTimeout},
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Resolve implements Provider. ZERO_RESULTS is returned as a Valid=false
// Result because it is a fact about the address; every other non-OK status
// and any transport failure is a *ProviderError.
func (p *GoogleProvider) Resolve(ctx context.Context, address string) (*Result, error) {
	if p.apiKey == "" {
		return nil, &ProviderError{Status: "REQUEST_DENIED", Message: "google api key not configured"}
	}

	params := url.Values{
		"address": {address},
		"key":     {p.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Status: "TRANSPORT", Message: "google request failed", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Status: "TRANSPORT", Message: fmt.Sprintf("google returned http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Status: "TRANSPORT", Message: "google read body", Err: err}
	}

	var gr googleResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, &ProviderError{Status: "TRANSPORT", Message: "google malformed response", Err: err}
	}

	switch gr.Status {
	case "OK":
		if len(gr.Results) == 0 {
			return nil, &ProviderError{Status: gr.Status, Message: "google returned OK with no results"}
		}
		return parseGoogleResult(&gr.Results[0]), nil
	case "ZERO_RESULTS":
		return &Result{
			FormattedAddress: address,
			Valid:            false,
			ErrorReason:      "not_found",
		}, nil
	default:
		// OVER_QUERY_LIMIT, REQUEST_DENIED, INVALID_REQUEST, UNKNOWN_ERROR.
		return nil, &ProviderError{Status: gr.Status, Message: gr.ErrorMessage}
	}
}

// parseGoogleResult maps the first provider result into a Result. Suburb
// prefers locality, falling back to sublocality only when locality is absent.
func parseGoogleResult(gr *googleResult) *Result {
	lat := gr.Geometry.Location.Lat
	lng := gr.Geometry.Location.Lng

	r := &Result{
		FormattedAddress: gr.FormattedAddress,
		Latitude:         &lat,
		Longitude:        &lng,
		Valid:            true,
		PartialMatch:     gr.PartialMatch,
		PlaceID:          gr.PlaceID,
		LocationType:     gr.Geometry.LocationType,
	}

	var sublocality string
	for _, comp := range gr.AddressComponents {
		for _, typ := range comp.Types {
			switch typ {
			case "street_number":
				r.StreetNumber = comp.LongName
			case "route":
				r.StreetName = comp.LongName
			case "locality":
				r.Suburb = comp.LongName
			case "sublocality":
				sublocality = comp.LongName
			case "administrative_area_level_1":
				r.State = comp.LongName
			case "postal_code":
				r.Postcode = comp.LongName
			case "country":
				r.Country = comp.LongName
			}
		}
	}
	if r.Suburb == "" {
		r.Suburb = sublocality
	}

	return r
}
