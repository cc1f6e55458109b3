// Package skyway scrapes fares from Skyway, a metasearch front end whose
// results page is hydrated from a same-origin JSON API. It is the reference
// plugin: new site plugins should copy its shape.
package skyway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fareloom/fareloom/pkg/engine"
	"github.com/fareloom/fareloom/pkg/schemas"
	"github.com/fareloom/fareloom/pkg/scrapers"
	"github.com/fareloom/fareloom/pkg/waiter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	baseURL     = "https://www.skyway.test"
	farePattern = "*/api/v2/fares*"
)

func init() {
	scrapers.Register(&Scraper{})
}

// Scraper implements the engine plugin contract for Skyway.
type Scraper struct{}

func (s *Scraper) Metadata() schemas.ScraperMetadata {
	return schemas.ScraperMetadata{
		Name: "skyway",
		BlockURLs: []string{
			"google-analytics.com",
			"googletagmanager.com",
			"doubleclick.net",
			"facebook.net",
			"hotjar.com",
			"*://*.skyway.test/ads/*",
			"*.png", "*.jpg", "*.gif", "*.woff2",
		},
		DefaultTimeout: 90 * time.Second,
	}
}

func (s *Scraper) Run(ctx context.Context, h *engine.Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
	if err := h.Navigate(searchURL(q)); err != nil {
		return nil, err
	}

	// A consent wall intercepts the first visit of every fresh profile.
	if html, err := h.HTML(); err == nil && strings.Contains(html, "consent-banner") {
		h.Log("dismissing consent banner")
		if err := h.Click("#consent-accept"); err != nil {
			h.Log("consent dismissal failed, continuing", zap.Error(err))
		}
	}

	match, err := h.WaitFor(
		waiter.Condition{
			Name:                 "fares-api",
			Kind:                 waiter.KindURL,
			Pattern:              farePattern,
			RequiredStatus:       200,
			FailOnStatusMismatch: true,
		},
		waiter.Condition{
			Name:     "empty-state",
			Kind:     waiter.KindHTML,
			Contains: `class="no-flights-message"`,
		},
		waiter.Condition{
			Name:     "bot-wall",
			Kind:     waiter.KindHTML,
			Contains: `id="px-captcha"`,
		},
	)
	if err != nil {
		return nil, err
	}

	switch match.Condition.Name {
	case "bot-wall":
		return nil, &engine.DetectionError{Site: "skyway", Signal: "captcha interstitial"}
	case "empty-state":
		h.Warnf("skyway returned no flights for %s-%s on %s",
			q.Origin, q.Destination, q.Date.Format("2006-01-02"))
		return nil, engine.ErrNoResults
	}

	body := match.Response.Body
	if len(body) == 0 {
		// The response stage can miss bodies for responses served from the
		// browser's own cache; re-fetch same-origin inside the page.
		h.Log("fares body not captured, re-fetching in page")
		raw, err := h.EvaluateRaw(refetchScript(q))
		if err != nil {
			return nil, fmt.Errorf("in-page fares fetch failed: %w", err)
		}
		body = []byte(raw)
	}

	records, err := parseFares(body)
	if err != nil {
		h.Log("fares payload unparseable, falling back to DOM", zap.Error(err))
		html, herr := h.HTML()
		if herr != nil {
			return nil, herr
		}
		return parseResultRows(html)
	}
	if len(records) == 0 {
		h.Warnf("fares payload contained no itineraries")
		return nil, engine.ErrNoResults
	}
	return records, nil
}

func searchURL(q schemas.Query) string {
	v := url.Values{}
	v.Set("from", q.Origin)
	v.Set("to", q.Destination)
	v.Set("depart", q.Date.Format("2006-01-02"))
	if !q.ReturnDate.IsZero() {
		v.Set("return", q.ReturnDate.Format("2006-01-02"))
	}
	if q.Passengers > 1 {
		v.Set("adults", fmt.Sprintf("%d", q.Passengers))
	}
	return baseURL + "/flights/results?" + v.Encode()
}

func refetchScript(q schemas.Query) string {
	return fmt.Sprintf(
		`fetch('/api/v2/fares?from=%s&to=%s&depart=%s').then(r => r.text())`,
		q.Origin, q.Destination, q.Date.Format("2006-01-02"))
}

// farePayload mirrors the /api/v2/fares response.
type farePayload struct {
	Currency    string `json:"currency"`
	Itineraries []struct {
		Carrier      string  `json:"carrier"`
		FlightNumber string  `json:"flightNumber"`
		Origin       string  `json:"origin"`
		Destination  string  `json:"destination"`
		Departure    string  `json:"departureTime"`
		Arrival      string  `json:"arrivalTime"`
		Price        float64 `json:"price"`
		Cabin        string  `json:"cabinClass"`
	} `json:"itineraries"`
}

func parseFares(body []byte) ([]schemas.FlightRecord, error) {
	var payload farePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding fares payload: %w", err)
	}
	records := make([]schemas.FlightRecord, 0, len(payload.Itineraries))
	for _, it := range payload.Itineraries {
		dep, err := time.Parse(time.RFC3339, it.Departure)
		if err != nil {
			return nil, fmt.Errorf("itinerary %s: bad departure %q: %w", it.FlightNumber, it.Departure, err)
		}
		arr, err := time.Parse(time.RFC3339, it.Arrival)
		if err != nil {
			return nil, fmt.Errorf("itinerary %s: bad arrival %q: %w", it.FlightNumber, it.Arrival, err)
		}
		records = append(records, schemas.FlightRecord{
			Site:         "skyway",
			Airline:      it.Carrier,
			FlightNumber: it.FlightNumber,
			Origin:       it.Origin,
			Destination:  it.Destination,
			Departure:    dep,
			Arrival:      arr,
			Fare:         it.Price,
			Currency:     payload.Currency,
			Cabin:        it.Cabin,
		})
	}
	return records, nil
}

// parseResultRows extracts fares from the rendered results list. Less
// reliable than the API payload; used only when that path fails.
func parseResultRows(html string) ([]schemas.FlightRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var records []schemas.FlightRecord
	doc.Find("div.result-row").Each(func(_ int, row *goquery.Selection) {
		rec := schemas.FlightRecord{Site: "skyway"}
		rec.Airline = strings.TrimSpace(row.Find(".carrier-name").Text())
		rec.FlightNumber = strings.TrimSpace(row.Find(".flight-number").Text())
		rec.Origin = strings.TrimSpace(row.Find(".leg-origin").Text())
		rec.Destination = strings.TrimSpace(row.Find(".leg-destination").Text())
		rec.Cabin = strings.TrimSpace(row.Find(".cabin-class").Text())
		if dep, ok := row.Find(".depart-time").Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dep); err == nil {
				rec.Departure = t
			}
		}
		if arr, ok := row.Find(".arrive-time").Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, arr); err == nil {
				rec.Arrival = t
			}
		}
		if price, ok := row.Find(".fare-amount").Attr("data-price"); ok {
			var f float64
			if _, err := fmt.Sscanf(price, "%f", &f); err == nil {
				rec.Fare = f
			}
		}
		rec.Currency = strings.TrimSpace(row.Find(".fare-currency").Text())
		if rec.FlightNumber != "" {
			records = append(records, rec)
		}
	})
	if len(records) == 0 {
		return nil, engine.ErrNoResults
	}
	return records, nil
}
