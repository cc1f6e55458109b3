// Package schemas holds the shared data shapes exchanged between the engine,
// the site plugins, and the CLI. It deliberately has no dependencies on the
// rest of the project so every layer can import it.
package schemas

import "time"

// Query carries the search parameters handed to every site plugin.
type Query struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Date        time.Time `json:"date"`
	ReturnDate  time.Time `json:"return_date,omitempty"`
	Passengers  int       `json:"passengers,omitempty"`
}

// FlightRecord is the standardized record shape plugins return.
// The engine never inspects these; it only moves them around.
type FlightRecord struct {
	Site         string    `json:"site"`
	Airline      string    `json:"airline"`
	FlightNumber string    `json:"flight_number"`
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	Departure    time.Time `json:"departure"`
	Arrival      time.Time `json:"arrival"`
	Fare         float64   `json:"fare"`
	Currency     string    `json:"currency"`
	Cabin        string    `json:"cabin,omitempty"`
}

// ScraperMetadata is the static description a plugin supplies to the engine.
// The engine consumes it read-only.
type ScraperMetadata struct {
	// Name identifies the plugin in the registry and in logs.
	Name string
	// BlockURLs are glob patterns (over full URLs) or bare domains whose
	// requests the interceptor refuses before they leave the process.
	BlockURLs []string
	// DefaultTimeout bounds waitFor calls that do not supply their own.
	DefaultTimeout time.Duration
}
