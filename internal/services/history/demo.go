package history

import (
	"context"
	"time"

	"qrsafe/internal/domain"
	"qrsafe/internal/services/canon"
)

type demoScan struct {
	payload   string
	rep       *domain.ReputationVerdict
	safe      int
	unsafe    int
	ago       time.Duration
	durationM int64
}

var demoScans = []demoScan{
	{payload: "https://example.com/menu", rep: &domain.ReputationVerdict{TotalEngines: 70, State: domain.ReputationComplete, IsSecure: true}, safe: 12, ago: 3 * time.Hour, durationM: 840},
	{payload: "http://free-prizes.example.net/claim?id=42", rep: &domain.ReputationVerdict{MaliciousCount: 15, TotalEngines: 70, State: domain.ReputationComplete}, unsafe: 9, safe: 1, ago: 26 * time.Hour, durationM: 1210},
	{payload: "https://new-shop.example.org/", rep: &domain.ReputationVerdict{State: domain.ReputationPending}, safe: 4, unsafe: 1, ago: 50 * time.Hour, durationM: 2300},
	{payload: "WIFI:S:CoffeeBar;T:WPA;P:espresso;;", ago: 75 * time.Hour, durationM: 15},
}

// SeedDemo inserts sample entries flagged as demo rows, backdated over the
// last few days. It is meant for an empty history; identifiers that already
// have an entry are skipped.
func (s *Service) SeedDemo(ctx context.Context) ([]domain.ScanHistoryEntry, error) {
	now := s.now()
	var out []domain.ScanHistoryEntry
	for i := len(demoScans) - 1; i >= 0; i-- {
		d := demoScans[i]
		id, err := canon.Canonicalize(d.payload)
		if err != nil {
			return out, err
		}
		var com *domain.CommunityRating
		if d.safe+d.unsafe > 0 {
			com = &domain.CommunityRating{IdentifierHash: id.Hash, SafeCount: d.safe, UnsafeCount: d.unsafe, LastUpdated: now.Add(-d.ago)}
			com.Recount()
		}
		var rep *domain.ReputationVerdict
		if d.rep != nil {
			v := *d.rep
			v.IsSecure = v.State == domain.ReputationComplete && v.DetectionRatio() < 0.02
			rep = &v
		}
		a := s.combiner.Combine(rep, com, !id.Web)
		e, dup := s.insertDemo(ctx, id, a, time.Duration(d.durationM)*time.Millisecond, now.Add(-d.ago))
		if !dup {
			out = append(out, e)
		}
	}
	return out, nil
}
