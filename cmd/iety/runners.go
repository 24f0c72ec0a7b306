package main

import (
	"sort"

	"github.com/jonathan/iety/internal/fetch"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/sources/courtlistener"
	"github.com/jonathan/iety/internal/sources/flights"
	"github.com/jonathan/iety/internal/sources/gdelt"
	"github.com/jonathan/iety/internal/sources/sec"
	"github.com/jonathan/iety/internal/sources/usaspending"
)

// sourceAliases maps the short source names accepted by ingest to pipeline
// names.
var sourceAliases = map[string]string{
	"usaspending":   usaspending.PipelineName,
	"sec":           sec.PipelineName,
	"legal":         courtlistener.OpinionsPipelineName,
	"legal-dockets": courtlistener.DocketsPipelineName,
	"gdelt":         gdelt.PipelineName,
	"opensky":       flights.OpenSkyPipelineName,
	"adsbx":         flights.ADSBXPipelineName,
}

// runners builds every ingestion pipeline keyed by name.
func (a *app) runners() map[string]pipeline.Runner {
	src := a.cfg.Sources
	client := func(opts fetch.Options) *fetch.Client {
		return fetch.New(&opts, a.limiter, a.logger)
	}

	courtHeaders := map[string]string{}
	if src.CourtListenerAPIKey != "" {
		courtHeaders["Authorization"] = "Token " + src.CourtListenerAPIKey
	}
	courtClient := client(fetch.Options{
		Service: courtlistener.Service,
		BaseURL: src.CourtListenerBaseURL,
		Headers: courtHeaders,
	})

	runners := []pipeline.Runner{
		pipeline.New[map[string]any, usaspending.Award](
			usaspending.New(
				client(fetch.Options{Service: usaspending.Service, BaseURL: src.USASpendingBaseURL}),
				a.db, usaspending.Config{}, a.logger),
			a.db, a.logger),
		pipeline.New[map[string]any, sec.Company](
			sec.New(
				client(fetch.Options{Service: sec.Service, BaseURL: src.SECBaseURL, UserAgent: src.SECUserAgent}),
				a.db, sec.Config{}, a.logger),
			a.db, a.logger),
		pipeline.New[map[string]any, courtlistener.Opinion](
			courtlistener.NewOpinionSource(courtClient, a.db, src.CourtListenerQuery, a.logger),
			a.db, a.logger),
		pipeline.New[map[string]any, courtlistener.Docket](
			courtlistener.NewDocketSource(courtClient, a.db, "", a.logger),
			a.db, a.logger),
		pipeline.New[gdelt.Row, gdelt.Event](
			gdelt.New(
				client(fetch.Options{Service: gdelt.Service}),
				a.db, gdelt.Config{LastUpdateURL: src.GDELTLastUpdateURL}, a.logger),
			a.db, a.logger),
		pipeline.New[flights.StateVector, flights.Observation](
			flights.NewOpenSkySource(
				client(fetch.Options{
					Service:  flights.OpenSkyService,
					BaseURL:  src.OpenSkyBaseURL,
					Username: src.OpenSkyUsername,
					Password: src.OpenSkyPassword,
				}),
				a.db, flights.Config{}, a.logger),
			a.db, a.logger),
		pipeline.New[flights.ADSBXState, flights.Observation](
			flights.NewADSBXSource(
				client(fetch.Options{
					Service: flights.ADSBXService,
					BaseURL: src.ADSBXBaseURL,
					Headers: flights.ADSBXHeaders(src.ADSBXAPIKey),
				}),
				a.db, flights.Config{}, a.logger),
			a.db, a.logger),
	}

	byName := make(map[string]pipeline.Runner, len(runners))
	for _, r := range runners {
		byName[r.Name()] = r
	}
	return byName
}

// runnerNames returns the pipeline names in a stable order.
func runnerNames(runners map[string]pipeline.Runner) []string {
	names := make([]string, 0, len(runners))
	for name := range runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
