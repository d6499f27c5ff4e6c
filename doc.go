// Package syncedcron schedules named jobs across any number of
// cooperating process instances and guarantees each firing runs on at
// most one of them.
//
// Coordination needs no leader election and no clock agreement beyond
// ordinary NTP drift. Every instance computes the same intended firing
// instant, truncated to the second, and races an insert of the
// (name, intendedAt) pair into a shared record store with a unique
// constraint. Exactly one insert wins; the winner executes the job and
// records the outcome, the losers skip silently.
//
// Stores ship for MongoDB, Redis, Postgres (via bun), and an in-memory
// variant for tests and single-process use:
//
//	store := mongostore.New(client.Database("app"), "cronHistory")
//	s, err := syncedcron.New(
//		syncedcron.WithStore(store),
//		syncedcron.WithUTC(),
//	)
//
// Jobs combine a schedule with a body:
//
//	err = s.Add("cleanup", schedule.Every(4, schedule.Hours, false),
//		func(ctx context.Context, intendedAt time.Time, name string) (any, error) {
//			return nil, purgeExpired(ctx)
//		})
//	err = s.Start(ctx)
//
// Schedules come in three shapes: fixed intervals (drifting or aligned
// to unit boundaries), daily at a fixed time, and five-field cron
// expressions. See the schedule package.
package syncedcron
