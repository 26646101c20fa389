package sportmonks

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// fixtureWindowDays is the size of the rolling fixture pool.
const fixtureWindowDays = 7

// FixtureBatch is the outcome of a 7-day fixture fetch.
type FixtureBatch struct {
	Fixtures []domain.Fixture
	Odds     []domain.FixtureOdds
	// Dropped counts records skipped as malformed or league-excluded.
	Dropped int
}

// Fetch7DayFixtures pulls fixtures with odds for the next seven days starting
// at from (UTC). Excluded leagues are filtered; malformed records are dropped
// and counted without aborting the batch.
func (c *Client) Fetch7DayFixtures(ctx context.Context, from time.Time) (*FixtureBatch, error) {
	start := from.UTC().Format("2006-01-02")
	end := from.UTC().AddDate(0, 0, fixtureWindowDays).Format("2006-01-02")
	path := fmt.Sprintf("/v3/football/fixtures/between/%s/%s", start, end)

	batch := &FixtureBatch{}
	now := time.Now().UTC()

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("include", "participants;league;odds")
		params.Set("page", strconv.Itoa(page))

		body, err := c.doGet(ctx, path, params)
		if err != nil {
			return nil, err
		}
		env, perr := decodeEnvelope(path, body)
		if perr != nil {
			return nil, perr
		}

		for i := range env.Data {
			f := &env.Data[i]
			fixture, ok := f.toDomainFixture()
			if !ok {
				batch.Dropped++
				c.logger.WarnContext(ctx, "dropping malformed fixture",
					slog.Int64("fixture_id", f.ID))
				continue
			}
			if excludedLeague(fixture.LeagueName, c.excluded) {
				batch.Dropped++
				continue
			}
			batch.Fixtures = append(batch.Fixtures, fixture)
			batch.Odds = append(batch.Odds, f.toDomainOdds(now)...)
		}

		if env.Pagination == nil || !env.Pagination.HasMore {
			break
		}
	}

	c.logger.InfoContext(ctx, "fetched 7-day fixtures",
		slog.Int("fixtures", len(batch.Fixtures)),
		slog.Int("odds", len(batch.Odds)),
		slog.Int("dropped", batch.Dropped),
	)
	return batch, nil
}
