package stats

import (
	"context"
	"log/slog"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"golang.org/x/sync/errgroup"
)

// Dashboard holds the headline counts of the workspace.
type Dashboard struct {
	Companies        int `json:"companies"`
	ColdCalls        int `json:"cold_calls"`
	Recordings       int `json:"recordings"`
	PendingFollowUps int `json:"pending_follow_ups"`
	Unclaimed        int `json:"unclaimed_cold_calls"`
}

// LoadDashboard counts the headline figures concurrently. A failing count is
// logged and reported as 0.
func LoadDashboard(ctx context.Context, c Counter, logger *slog.Logger) (Dashboard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var d Dashboard
	counts := []struct {
		name, collection, filter string
		dst                      *int
	}{
		{"companies", crm.Companies, "", &d.Companies},
		{"cold_calls", crm.ColdCalls, "", &d.ColdCalls},
		{"recordings", crm.Recordings, "", &d.Recordings},
		{"pending_follow_ups", crm.FollowUps, pocketbase.Eq("status", string(crm.FollowUpPending)), &d.PendingFollowUps},
		{"unclaimed", crm.ColdCalls, pocketbase.Eq("claimed_by", ""), &d.Unclaimed},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range counts {
		g.Go(func() error {
			n, err := c.Count(gctx, q.collection, q.filter)
			if err != nil {
				if pocketbase.IsCancelled(err) {
					return err
				}
				logger.Warn("dashboard count failed", "query", q.name, "error", err)
				return nil
			}
			*q.dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}
