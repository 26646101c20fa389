package sportmonks

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// resultsBatchSize caps the number of fixture ids per multi-fixture request.
const resultsBatchSize = 25

// Result is a provider-reported fixture state. Fixtures that are not yet
// terminal carry their live status and no scores; callers gate persistence on
// Terminal.
type Result struct {
	FixtureID  domain.FixtureID
	Status     string
	HomeScore  *int
	AwayScore  *int
	HTHome     *int
	HTAway     *int
	FinishedAt *time.Time
}

// Terminal reports whether the match is definitively over.
func (r *Result) Terminal() bool { return domain.IsTerminalStatus(r.Status) }

// Cancelled reports whether the match will not be played.
func (r *Result) Cancelled() bool { return domain.IsCancelledStatus(r.Status) }

// FetchFixtureResults fetches current state and scores for the given fixture
// ids. It returns at most one result per input id; fixtures still in progress
// or pre-match come back with their live status, not as errors. Per-id
// failures are returned alongside the successes; a malformed record never
// aborts the batch.
func (c *Client) FetchFixtureResults(ctx context.Context, ids []domain.FixtureID) ([]Result, map[domain.FixtureID]error, error) {
	perID := make(map[domain.FixtureID]error)
	var out []Result

	for start := 0; start < len(ids); start += resultsBatchSize {
		end := start + resultsBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		results, err := c.fetchResultsChunk(ctx, chunk)
		if err != nil {
			// Batch-level failure: attribute it to every id in the chunk so
			// the caller can retry them on the next tick.
			for _, id := range chunk {
				perID[id] = err
			}
			continue
		}

		seen := make(map[domain.FixtureID]bool, len(results))
		for _, r := range results {
			seen[r.FixtureID] = true
			out = append(out, r)
		}
		for _, id := range chunk {
			if !seen[id] {
				perID[id] = &domain.ProviderError{Kind: domain.ProviderNotFound,
					Op: "fixture results", Err: fmt.Errorf("fixture %d absent from response", id)}
			}
		}
	}

	return out, perID, nil
}

func (c *Client) fetchResultsChunk(ctx context.Context, ids []domain.FixtureID) ([]Result, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	path := "/v3/football/fixtures/multi/" + strings.Join(parts, ",")

	params := url.Values{}
	params.Set("include", "scores;participants;league")

	body, err := c.doGet(ctx, path, params)
	if err != nil {
		return nil, err
	}
	env, perr := decodeEnvelope(path, body)
	if perr != nil {
		return nil, perr
	}

	now := time.Now().UTC()
	var out []Result
	for i := range env.Data {
		f := &env.Data[i]
		r := Result{
			FixtureID: domain.FixtureID(f.ID),
			Status:    f.State.ShortName,
		}
		if r.Status == "" {
			r.Status = domain.StatusNotStarted
		}
		if r.Terminal() {
			r.HomeScore, r.AwayScore = f.fullTimeScores()
			r.HTHome, r.HTAway = f.halfTimeScores()
			finished := now
			r.FinishedAt = &finished
		}
		out = append(out, r)
	}
	return out, nil
}
