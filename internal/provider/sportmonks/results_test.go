package sportmonks

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:         srv.URL,
		APIToken:        "test-token",
		RequestInterval: time.Millisecond,
		Timeout:         time.Second,
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
	}, slog.New(slog.DiscardHandler))
}

func TestFetchFixtureResultsKeepsInProgressFixtures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"id":101,"state":{"short_name":"2H"}},
			{"id":102,"state":{"short_name":"FT"},"scores":[
				{"description":"CURRENT","score":{"participant":"home","goals":2}},
				{"description":"CURRENT","score":{"participant":"away","goals":1}}
			]}
		]}`))
	})

	results, perID, err := client.FetchFixtureResults(context.Background(),
		[]domain.FixtureID{101, 102, 103})
	if err != nil {
		t.Fatalf("FetchFixtureResults: %v", err)
	}

	byID := map[domain.FixtureID]Result{}
	for _, r := range results {
		byID[r.FixtureID] = r
	}

	inPlay, ok := byID[101]
	if !ok {
		t.Fatal("in-progress fixture 101 missing from results")
	}
	if inPlay.Terminal() || inPlay.Status != domain.StatusSecondHalf {
		t.Fatalf("fixture 101 = %+v, want non-terminal status 2H", inPlay)
	}
	if inPlay.HomeScore != nil || inPlay.FinishedAt != nil {
		t.Fatalf("fixture 101 carries scores before full time: %+v", inPlay)
	}
	if _, failed := perID[101]; failed {
		t.Fatalf("in-progress fixture 101 reported as a failure: %v", perID[101])
	}

	done, ok := byID[102]
	if !ok || !done.Terminal() || done.HomeScore == nil || *done.HomeScore != 2 {
		t.Fatalf("terminal fixture 102 = %+v, want FT with scores", done)
	}

	ferr, ok := perID[103]
	if !ok {
		t.Fatal("absent fixture 103 not reported per id")
	}
	pe, ok := domain.AsProviderError(ferr)
	if !ok || pe.Kind != domain.ProviderNotFound {
		t.Fatalf("fixture 103 error = %v, want provider not_found", ferr)
	}
}
