// Package nightwheel は週ごとの回数制限つきのナイトホイールを提供する。
package nightwheel

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hitoshi/perkledger/internal/allowance"
	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/catalog"
	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/model"
)

// PointsAdjuster はポイントの加算を行う。
type PointsAdjuster interface {
	Adjust(ctx context.Context, ownerID, kind string, delta int, cycleKey *string) (int, error)
}

// Consumer は週ごとの利用回数を消費する。
type Consumer interface {
	Consume(ctx context.Context, ownerID, weekToken string, a allowance.Allowance) (*allowance.Usage, error)
}

// Result はスピンの結果。
type Result struct {
	Bar         string           `json:"bar"`
	Special     string           `json:"special"`
	Challenge   string           `json:"challenge"`
	Points      int              `json:"points"`
	TotalPoints int              `json:"totalPoints"`
	Week        string           `json:"week"`
	Usage       *allowance.Usage `json:"usage"`
}

// Service はナイトホイールのスピンを処理する。
type Service struct {
	profiles identity.ProfileReader
	tracker  Consumer
	points   PointsAdjuster
	catalog  *catalog.Catalog
	audit    audit.Appender
	metrics  metrics.MetricsCollector
	loc      *time.Location
	now      func() time.Time
	pick     func(n int) int
}

// NewService はServiceを生成する。
func NewService(
	profiles identity.ProfileReader,
	tracker Consumer,
	points PointsAdjuster,
	cat *catalog.Catalog,
	auditor audit.Appender,
	m metrics.MetricsCollector,
	loc *time.Location,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		profiles: profiles,
		tracker:  tracker,
		points:   points,
		catalog:  cat,
		audit:    auditor,
		metrics:  m,
		loc:      loc,
		now:      time.Now,
		pick:     rand.Intn,
	}
}

// Spin は今週のスピンを1回消費し、ポイントを付与して結果を返す。
// 利用枠の消費とポイントの加算は別々のトランザクションで行う。
func (s *Service) Spin(ctx context.Context, ownerID string, caps identity.Capabilities) (*Result, error) {
	if ownerID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	profile, err := s.profiles.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, model.NewProfileMissingError()
	}

	ceo := profile.CEO || caps.Has(identity.CapabilityCEO)
	limit, unlimited := s.catalog.SpinAllowance(profile.Tier, profile.FreeMembership, ceo)

	week := allowance.WeekToken(s.now(), s.loc)
	usage, err := s.tracker.Consume(ctx, ownerID, week, allowance.Allowance{Limit: limit, Unlimited: unlimited})
	if err != nil {
		return nil, err
	}

	wheel := s.catalog.NightWheel
	total, err := s.points.Adjust(ctx, ownerID, model.BalanceKindPoints, wheel.SpinPoints, nil)
	if err != nil {
		// 利用枠は消費済みのため、ポイントのみ付与できなかったことを記録する
		slog.Error("failed to credit night wheel points",
			slog.String("owner_id", ownerID),
			slog.String("week", week),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	res := &Result{
		Bar:         s.choose(wheel.Content.Bars),
		Special:     s.choose(wheel.Content.Specials),
		Challenge:   s.choose(wheel.Content.Challenges),
		Points:      wheel.SpinPoints,
		TotalPoints: total,
		Week:        week,
		Usage:       usage,
	}

	s.audit.Append(audit.ActionSpinNightWheel, ownerID, map[string]any{
		"week":      week,
		"bar":       res.Bar,
		"special":   res.Special,
		"challenge": res.Challenge,
		"points":    res.Points,
		"spent":     usage.Spent,
	})
	s.metrics.RecordNightWheelSpin()
	return res, nil
}

func (s *Service) choose(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[s.pick(len(options))]
}
