package flights

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/iety/internal/fetch"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/pipeline/pipelinetest"
)

type memoryFlightStore struct {
	mu           sync.Mutex
	aircraft     []Aircraft
	observations map[string]Observation
}

func newMemoryFlightStore(aircraft ...Aircraft) *memoryFlightStore {
	return &memoryFlightStore{aircraft: aircraft, observations: map[string]Observation{}}
}

func (m *memoryFlightStore) TrackedAircraft(context.Context) ([]Aircraft, error) {
	return m.aircraft, nil
}

func (m *memoryFlightStore) InsertObservations(_ context.Context, observations []Observation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range observations {
		key := o.ICAO24 + "/" + o.ObservedAt.Format(time.RFC3339Nano)
		if _, ok := m.observations[key]; ok {
			continue
		}
		m.observations[key] = o
		n++
	}
	return n, nil
}

var (
	worldAtlantic = Aircraft{ICAO24: "AB1234", Registration: "N802WA", Operator: "World Atlantic"}
	ifl           = Aircraft{ICAO24: "a0c5f1", Registration: "N368CG", Operator: "iAero"}
	fixedNow      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

// stateVector builds an 18-element OpenSky state with the given timestamps.
func stateVector(icao24 string, timePosition, lastContact any) StateVector {
	return StateVector{
		icao24, "TEST01  ", "United States", timePosition, lastContact,
		-77.0, 38.9, 10000.0, false, 250.0,
		180.0, -1.5, nil, 10050.0, nil,
		false, float64(0), float64(0),
	}
}

func TestOpenSkyTransform_ObservedAt(t *testing.T) {
	src := NewOpenSkySource(nil, nil, Config{}, nil)
	tests := []struct {
		name     string
		state    StateVector
		wantOK   bool
		wantUnix int64
	}{
		{"both null skipped", stateVector("abc123", nil, nil), false, 0},
		{"last contact only", stateVector("def456", nil, float64(1700000000)), true, 1700000000},
		{"time position only", stateVector("def456", float64(1700000050), nil), true, 1700000050},
		{"last contact preferred", stateVector("ghi789", float64(1700000000), float64(1700000100)), true, 1700000100},
		{"short vector skipped", StateVector{"abc123", "X"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, ok, err := src.Transform(context.Background(), tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantUnix, obs.ObservedAt.Unix())
			}
		})
	}
}

func TestOpenSkyTransform_Fields(t *testing.T) {
	src := NewOpenSkySource(nil, nil, Config{}, nil)
	obs, ok, err := src.Transform(context.Background(), stateVector("ABC123", nil, float64(1700000000)))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "abc123", obs.ICAO24)
	assert.Equal(t, "TEST01", obs.Callsign)
	assert.Equal(t, "United States", obs.OriginCountry)
	require.NotNil(t, obs.Latitude)
	assert.InDelta(t, 38.9, *obs.Latitude, 1e-9)
	require.NotNil(t, obs.AltitudeM)
	assert.InDelta(t, 10000.0, *obs.AltitudeM, 1e-9)
	require.NotNil(t, obs.VerticalRate)
	assert.InDelta(t, -1.5, *obs.VerticalRate, 1e-9)
	assert.False(t, obs.OnGround)
	assert.Equal(t, OpenSkyService, obs.Source)
}

func TestOpenSkyRun_OneSnapshotPerInterval(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/states/all", r.URL.Path)
		assert.Equal(t, []string{"ab1234", "a0c5f1"}, r.URL.Query()["icao24"])
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "pass", pass)
		_, _ = w.Write([]byte(`{"time": 1700000100, "states": [
			["ab1234", "WAL801 ", "United States", 1700000090, 1700000100, -97.0, 32.9, 1200.5, false, 120.0, 90.0, 5.0, null, 1250.0, "1200", false, 0, 0],
			["a0c5f1", null, "United States", null, null, null, null, null, true, null, null, null, null, null, null, false, 0, 0]
		]}`))
	}))
	defer server.Close()

	store := newMemoryFlightStore(worldAtlantic, ifl)
	client := fetch.New(&fetch.Options{Service: OpenSkyService, BaseURL: server.URL, Username: "user", Password: "pass"}, nil, nil)
	src := NewOpenSkySource(client, store, Config{}, nil)
	current := fixedNow
	src.now = func() time.Time { return current }
	checkpoints := pipelinetest.NewMemoryStore()

	p := pipeline.New[StateVector, Observation](src, checkpoints, nil)
	stats, err := p.Run(context.Background(), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, requests)

	cp, ok := checkpoints.Checkpoint(OpenSkyPipelineName)
	require.True(t, ok)
	require.NotNil(t, cp.LastDate)
	assert.Equal(t, fixedNow, *cp.LastDate)

	// within the interval: no request
	current = fixedNow.Add(time.Minute)
	stats, err = p.Run(context.Background(), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Fetched)
	assert.Equal(t, 1, requests)

	// after the interval: same observation is ignored by the store
	current = fixedNow.Add(DefaultMinPollInterval)
	stats, err = p.Run(context.Background(), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Equal(t, 0, stats.Upserted)
	assert.Len(t, store.observations, 1)
}

func TestOpenSky_NoTrackedAircraft(t *testing.T) {
	src := NewOpenSkySource(nil, newMemoryFlightStore(), Config{}, nil)
	states, cp, err := src.FetchBatch(context.Background(), pipeline.Checkpoint{})
	require.NoError(t, err)
	assert.Empty(t, states)
	assert.Nil(t, cp.LastDate)
}

func TestOpenSky_HTTPErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := fetch.New(&fetch.Options{Service: OpenSkyService, BaseURL: server.URL}, nil, nil)
	src := NewOpenSkySource(client, newMemoryFlightStore(worldAtlantic), Config{}, nil)
	_, _, err := src.FetchBatch(context.Background(), pipeline.Checkpoint{})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, fetch.StatusCode(err))
}

func newADSBXServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-RapidAPI-Key"))
		assert.Equal(t, ADSBXHost, r.Header.Get("X-RapidAPI-Host"))
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/icao/AB1234/":
			_, _ = w.Write([]byte(`{"ac": [{"hex": "ab1234", "flight": "WAL801  ", "r": "N802WA",
				"lat": 32.9, "lon": -97.0, "alt_baro": 10000, "gs": 100, "track": 270.5, "baro_rate": -1000}]}`))
		case "/icao/A0C5F1/":
			_, _ = w.Write([]byte(`{"ac": []}`))
		case "/registration/N368CG/":
			_, _ = w.Write([]byte(`{"ac": [{"hex": "a0c5f1", "alt_baro": "ground", "gs": 0}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &paths
}

func TestADSBX_FetchFallsBackToRegistration(t *testing.T) {
	server, paths := newADSBXServer(t)
	unknown := Aircraft{ICAO24: "ffffff"}
	client := fetch.New(&fetch.Options{Service: ADSBXService, BaseURL: server.URL, Headers: ADSBXHeaders("secret")}, nil, nil)
	src := NewADSBXSource(client, newMemoryFlightStore(worldAtlantic, ifl, unknown), Config{}, nil)
	src.now = func() time.Time { return fixedNow }

	states, cp, err := src.FetchBatch(context.Background(), pipeline.Checkpoint{})
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "ab1234", states[0].Aircraft["hex"])
	assert.Equal(t, "a0c5f1", states[1].Aircraft["hex"])
	assert.Equal(t, fixedNow, states[0].ObservedAt)
	assert.Equal(t, []string{"/icao/AB1234/", "/icao/A0C5F1/", "/registration/N368CG/", "/icao/FFFFFF/"}, *paths)

	assert.Equal(t, float64(3), toFloat(cp.Metadata["aircraft_tracked"]))
	assert.Equal(t, float64(2), toFloat(cp.Metadata["observations"]))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return -1
}

func TestADSBXTransform_Units(t *testing.T) {
	src := NewADSBXSource(nil, nil, Config{}, nil)

	obs, ok, err := src.Transform(context.Background(), ADSBXState{
		Aircraft: map[string]any{
			"hex": "AB1234", "flight": "WAL801  ", "lat": 32.9, "lon": -97.0,
			"alt_baro": float64(10000), "gs": float64(100), "track": 270.5, "baro_rate": float64(-1000),
		},
		ObservedAt: fixedNow,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ab1234", obs.ICAO24)
	assert.Equal(t, "WAL801", obs.Callsign)
	assert.Equal(t, "United States", obs.OriginCountry)
	assert.InDelta(t, 3048.0, *obs.AltitudeM, 1e-6)
	assert.InDelta(t, 51.4444, *obs.VelocityMS, 1e-6)
	assert.InDelta(t, -5.08, *obs.VerticalRate, 1e-6)
	assert.False(t, obs.OnGround)
	assert.Equal(t, fixedNow, obs.ObservedAt)

	obs, ok, err = src.Transform(context.Background(), ADSBXState{
		Aircraft: map[string]any{"hex": "a0c5f1", "alt_baro": "ground"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, obs.OnGround)
	assert.Nil(t, obs.AltitudeM)
	assert.Nil(t, obs.VelocityMS)

	_, ok, err = src.Transform(context.Background(), ADSBXState{Aircraft: map[string]any{"flight": "X"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestADSBX_ServerErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := fetch.New(&fetch.Options{Service: ADSBXService, BaseURL: server.URL}, nil, nil)
	src := NewADSBXSource(client, newMemoryFlightStore(worldAtlantic), Config{}, nil)
	_, _, err := src.FetchBatch(context.Background(), pipeline.Checkpoint{})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, fetch.StatusCode(err))
}

func TestPolledRecently(t *testing.T) {
	last := fixedNow
	cp := pipeline.Checkpoint{LastDate: &last}
	assert.False(t, polledRecently(pipeline.Checkpoint{}, fixedNow, time.Minute))
	assert.True(t, polledRecently(cp, fixedNow.Add(30*time.Second), time.Minute))
	assert.False(t, polledRecently(cp, fixedNow.Add(time.Minute), time.Minute))
}
