package catalog

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// StartPeriodicRefresh schedules background refreshes on a cron expression
// (e.g. "@every 6h" or "0 */6 * * *"). Refresh failures are logged and the
// previous snapshot stays in place. The returned stop function halts the
// scheduler; it does not interrupt a refresh already in flight.
func (s *Service) StartPeriodicRefresh(spec string) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("scheduled catalog refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { c.Stop() }, nil
}
