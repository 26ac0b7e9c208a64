package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	apperrors "github.com/adirachman/wa-broadcast-api/pkg/errors"
)

// maxExampleRecipients caps how many affected recipients a report lists per
// error category.
const maxExampleRecipients = 10

// Service is the execution-history surface: append/update bookkeeping plus
// on-demand report aggregation. No business logic beyond counters.
type Service struct {
	repo repository.CampaignRepository
}

func NewService(repo repository.CampaignRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	if err := s.repo.Create(ctx, campaign); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) UpdateCampaign(ctx context.Context, campaign *model.Campaign) error {
	if err := s.repo.Update(ctx, campaign); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) RecordMessage(ctx context.Context, record *model.MessageRecord) error {
	if err := s.repo.RecordMessage(ctx, record); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if campaign == nil {
		return nil, apperrors.NotFound("campaign", nil)
	}
	return campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context, page model.Pagination) ([]*model.Campaign, error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize < 1 {
		page.PageSize = 20
	}
	campaigns, err := s.repo.List(ctx, page.PageSize, (page.Page-1)*page.PageSize)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return campaigns, nil
}

func (s *Service) ListMessages(ctx context.Context, campaignID uuid.UUID) ([]*model.MessageRecord, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	records, err := s.repo.ListMessages(ctx, campaignID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return records, nil
}

// GenerateReport aggregates one campaign's message records into totals,
// per-category error breakdowns, per-batch success rates and a rule-based
// set of recommendations.
func (s *Service) GenerateReport(ctx context.Context, campaignID uuid.UUID) (*model.CampaignReport, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.ListMessages(ctx, campaignID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	report := &model.CampaignReport{Campaign: campaign}

	resolved := campaign.SuccessCount + campaign.FailureCount
	if resolved > 0 {
		report.SuccessRate = float64(campaign.SuccessCount) / float64(resolved)
	}

	report.ErrorBreakdown = errorBreakdown(records)
	report.BatchStats = batchStats(records)
	report.Recommendations = recommendations(report)

	return report, nil
}

func errorBreakdown(records []*model.MessageRecord) []model.ErrorCategoryStat {
	byCategory := make(map[string]*model.ErrorCategoryStat)
	for _, rec := range records {
		if rec.Status != model.MessageRecordStatusFailed {
			continue
		}
		category := string(gateway.CategoryUnknown)
		if rec.ErrorCategory != nil {
			category = *rec.ErrorCategory
		}

		stat, ok := byCategory[category]
		if !ok {
			stat = &model.ErrorCategoryStat{Category: category}
			byCategory[category] = stat
		}
		stat.Count++
		if stat.ExampleMessage == "" && rec.ErrorMessage != nil {
			stat.ExampleMessage = *rec.ErrorMessage
		}
		if len(stat.Recipients) < maxExampleRecipients {
			stat.Recipients = append(stat.Recipients, rec.Recipient)
		}
	}

	stats := make([]model.ErrorCategoryStat, 0, len(byCategory))
	for _, stat := range byCategory {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Count > stats[j].Count })
	return stats
}

func batchStats(records []*model.MessageRecord) []model.BatchStat {
	byBatch := make(map[int]*model.BatchStat)
	for _, rec := range records {
		stat, ok := byBatch[rec.BatchNumber]
		if !ok {
			stat = &model.BatchStat{BatchNumber: rec.BatchNumber}
			byBatch[rec.BatchNumber] = stat
		}
		stat.Total++
		if rec.Status == model.MessageRecordStatusSent {
			stat.SuccessCount++
		} else {
			stat.FailureCount++
		}
	}

	stats := make([]model.BatchStat, 0, len(byBatch))
	for _, stat := range byBatch {
		if stat.Total > 0 {
			stat.SuccessRate = float64(stat.SuccessCount) / float64(stat.Total)
		}
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].BatchNumber < stats[j].BatchNumber })
	return stats
}

func recommendations(report *model.CampaignReport) []string {
	var recs []string

	resolved := report.Campaign.SuccessCount + report.Campaign.FailureCount
	if resolved > 0 && report.SuccessRate < 0.7 {
		recs = append(recs, fmt.Sprintf(
			"High failure rate (%.0f%%): check session connectivity before the next campaign.",
			(1-report.SuccessRate)*100))
	}

	for _, stat := range report.ErrorBreakdown {
		switch gateway.ErrorCategory(stat.Category) {
		case gateway.CategoryRateLimited:
			recs = append(recs, "Rate-limit errors observed: increase the batch delay or reduce the batch size.")
		case gateway.CategoryInvalidRecipient:
			recs = append(recs, fmt.Sprintf("%d invalid recipients: clean the recipient list before resending.", stat.Count))
		case gateway.CategorySessionInvalid, gateway.CategorySessionDisconnected:
			recs = append(recs, "Session errors observed: re-authenticate the WhatsApp session.")
		case gateway.CategoryRecipientBlocked:
			recs = append(recs, fmt.Sprintf("%d recipients have blocked this sender: remove them from future campaigns.", stat.Count))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "Delivery healthy: no action needed.")
	}
	return recs
}
