package syncedcron_test

import (
	"context"
	"fmt"
	"time"

	syncedcron "github.com/Anonyfox/meteor-synced-cron"
	"github.com/Anonyfox/meteor-synced-cron/schedule"
	"github.com/Anonyfox/meteor-synced-cron/store/memory"
)

func Example() {
	s, err := syncedcron.New(
		syncedcron.WithStore(memory.New()),
		syncedcron.WithUTC(),
	)
	if err != nil {
		panic(err)
	}

	err = s.Add("nightly-report", schedule.DailyAt("02:30"),
		func(ctx context.Context, intendedAt time.Time, name string) (any, error) {
			return fmt.Sprintf("report for %s", intendedAt.Format("2006-01-02")), nil
		})
	if err != nil {
		panic(err)
	}

	err = s.Add("cache-sweep", schedule.Expr("*/15 * * * *"),
		func(ctx context.Context, intendedAt time.Time, name string) (any, error) {
			return nil, nil
		},
		syncedcron.WithoutPersistence(),
	)
	if err != nil {
		panic(err)
	}

	if err := s.Start(context.Background()); err != nil {
		panic(err)
	}
	defer s.Stop()

	next, _ := s.NextScheduledAt("nightly-report")
	fmt.Println(next.Minute())
	// Output: 30
}
