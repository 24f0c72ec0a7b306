package ratelimit

import (
	"fmt"
	"time"
)

// Config describes one named limiter: Rate requests per Period, with bursts up to Burst.
type Config struct {
	Rate   float64       `json:"rate" yaml:"rate" validate:"gt=0"`
	Period time.Duration `json:"period" yaml:"period" validate:"gt=0"`
	Burst  int           `json:"burst" yaml:"burst" validate:"gt=0"`
}

// PerSecond returns the continuous refill rate in tokens per second.
func (c Config) PerSecond() float64 {
	return c.Rate / c.Period.Seconds()
}

// Validate checks that the limiter can ever admit a request.
func (c Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", c.Rate)
	}
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", c.Period)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d", c.Burst)
	}
	return nil
}

// Service names used by the source adapters and the embedding service.
const (
	ServiceSEC           = "sec"
	ServiceCourtListener = "courtlistener"
	ServiceVoyage        = "voyage"
	ServiceGemini        = "gemini"
	ServiceUSASpending   = "usaspending"
	ServiceGDELT         = "gdelt"
	ServiceOpenSky       = "opensky"
	ServiceADSBX         = "adsbx"
)

// DefaultConfigs returns the published ceilings for every external service.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		ServiceSEC:           {Rate: 10, Period: time.Second, Burst: 10},
		ServiceCourtListener: {Rate: 5000, Period: time.Hour, Burst: 100},
		ServiceVoyage:        {Rate: 100, Period: time.Second, Burst: 100},
		ServiceGemini:        {Rate: 25, Period: time.Second, Burst: 25},
		ServiceUSASpending:   {Rate: 100, Period: time.Second, Burst: 50},
		ServiceGDELT:         {Rate: 10, Period: time.Second, Burst: 10},
		// anonymous OpenSky accounts get 400 calls per day
		ServiceOpenSky: {Rate: 400, Period: 24 * time.Hour, Burst: 10},
		// RapidAPI free tier: 10k calls per month
		ServiceADSBX: {Rate: 10000, Period: 30 * 24 * time.Hour, Burst: 5},
	}
}
