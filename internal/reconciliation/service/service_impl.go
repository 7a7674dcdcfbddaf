package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	"github.com/classbill/classbill/internal/config"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	"github.com/classbill/classbill/internal/observability/metrics"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	recondomain "github.com/classbill/classbill/internal/reconciliation/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/classbill/classbill/pkg/db/option"
	"github.com/classbill/classbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	metrics         *metrics.Metrics
	duplicateWindow time.Duration

	runrepo     repository.Repository[recondomain.Run]
	findingrepo repository.Repository[recondomain.Finding]
	invoicerepo repository.Repository[invoicedomain.Invoice]
	chargerepo  repository.Repository[chargedomain.Charge]
	paymentrepo repository.Repository[paymentdomain.Payment]
}

func NewService(p ServiceParam) recondomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("reconciliation.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		metrics:         p.Metrics,
		duplicateWindow: time.Duration(p.Config.ReconDuplicateWindowSeconds) * time.Second,

		runrepo:     repository.ProvideStore[recondomain.Run](p.DB),
		findingrepo: repository.ProvideStore[recondomain.Finding](p.DB),
		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		chargerepo:  repository.ProvideStore[chargedomain.Charge](p.DB),
		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
	}
}

func (s *Service) Run(ctx context.Context, schoolID snowflake.ID, triggeredBy *snowflake.ID) (*recondomain.Run, error) {
	now := s.clock.Now()
	run := &recondomain.Run{
		ID:                s.genID.Generate(),
		SchoolID:          schoolID,
		TriggeredByUserID: triggeredBy,
		Status:            recondomain.RunStatusQueued,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.runrepo.Create(ctx, run); err != nil {
		return nil, err
	}

	started := s.clock.Now()
	run.Status = recondomain.RunStatusRunning
	run.StartedAt = &started
	run.UpdatedAt = started
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return nil, err
	}

	findings, err := s.executeChecks(ctx, schoolID, started)
	finished := s.clock.Now()
	run.FinishedAt = &finished
	run.UpdatedAt = finished
	if err == nil {
		for _, finding := range findings {
			finding.ID = s.genID.Generate()
			finding.RunID = run.ID
			finding.SchoolID = schoolID
			finding.CreatedAt = finished
		}
		err = s.findingrepo.BatchCreate(ctx, findings)
	}
	if err == nil {
		run.Status = recondomain.RunStatusCompleted
		run.Summary = summarize(findings)
		err = s.db.WithContext(ctx).Save(run).Error
	}
	if err != nil {
		// Failures of any kind land in the run itself; the run is the job's
		// caller-visible result and must not stay in the running state.
		run.Status = recondomain.RunStatusFailed
		run.Summary = datatypes.JSONMap{"error": err.Error()}
		s.log.Warn("reconciliation run failed",
			zap.Int64("school_id", schoolID.Int64()),
			zap.Int64("run_id", run.ID.Int64()),
			zap.Error(err),
		)
		if saveErr := s.db.WithContext(ctx).Save(run).Error; saveErr != nil {
			s.log.Error("reconciliation run state save failed",
				zap.Int64("run_id", run.ID.Int64()),
				zap.Error(saveErr),
			)
		}
		return run, nil
	}

	if s.metrics != nil {
		for _, finding := range findings {
			s.metrics.ReconFindings.WithLabelValues(string(finding.Severity)).Inc()
		}
	}
	s.log.Info("reconciliation run completed",
		zap.Int64("school_id", schoolID.Int64()),
		zap.Int64("run_id", run.ID.Int64()),
		zap.Int("findings", len(findings)),
	)
	return run, nil
}

func summarize(findings []*recondomain.Finding) datatypes.JSONMap {
	byCheck := map[string]any{}
	bySeverity := map[string]any{}
	for _, finding := range findings {
		if n, ok := byCheck[finding.CheckCode].(int); ok {
			byCheck[finding.CheckCode] = n + 1
		} else {
			byCheck[finding.CheckCode] = 1
		}
		if n, ok := bySeverity[string(finding.Severity)].(int); ok {
			bySeverity[string(finding.Severity)] = n + 1
		} else {
			bySeverity[string(finding.Severity)] = 1
		}
	}
	return datatypes.JSONMap{
		"findings_total": len(findings),
		"by_check":       byCheck,
		"by_severity":    bySeverity,
	}
}

func (s *Service) GetRun(ctx context.Context, schoolID, runID snowflake.ID) (*recondomain.RunWithFindings, error) {
	run, err := s.runrepo.FindOne(ctx, &recondomain.Run{ID: runID, SchoolID: schoolID})
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperr.NotFound("Reconciliation run not found")
	}
	findings, err := s.findingrepo.Find(ctx, &recondomain.Finding{RunID: runID}, option.OrderBy("id"))
	if err != nil {
		return nil, err
	}
	return &recondomain.RunWithFindings{Run: run, Findings: findings}, nil
}

func (s *Service) ListRuns(ctx context.Context, schoolID snowflake.ID) ([]*recondomain.Run, error) {
	return s.runrepo.Find(ctx, &recondomain.Run{SchoolID: schoolID}, option.OrderBy("created_at DESC, id DESC"))
}
