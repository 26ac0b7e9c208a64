package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
)

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
	records   map[uuid.UUID][]*model.MessageRecord
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[uuid.UUID]*model.Campaign),
		records:   make(map[uuid.UUID][]*model.MessageRecord),
	}
}

func (r *fakeCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.campaigns[c.ID] = c
	return nil
}

func (r *fakeCampaignRepo) Get(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	return r.campaigns[id], nil
}

func (r *fakeCampaignRepo) GetBySchedule(_ context.Context, _ uuid.UUID) (*model.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) Update(_ context.Context, c *model.Campaign) error {
	r.campaigns[c.ID] = c
	return nil
}

func (r *fakeCampaignRepo) IncrementCounters(_ context.Context, _ uuid.UUID, _, _ int) (*model.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) MarkCompleted(_ context.Context, _ uuid.UUID, _ model.CampaignStatus) error {
	return nil
}

func (r *fakeCampaignRepo) List(_ context.Context, _, _ int) ([]*model.Campaign, error) {
	var out []*model.Campaign
	for _, c := range r.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCampaignRepo) RecordMessage(_ context.Context, record *model.MessageRecord) error {
	r.records[record.CampaignID] = append(r.records[record.CampaignID], record)
	return nil
}

func (r *fakeCampaignRepo) ListMessages(_ context.Context, campaignID uuid.UUID) ([]*model.MessageRecord, error) {
	return r.records[campaignID], nil
}

func (r *fakeCampaignRepo) PruneOldest(_ context.Context, _ int) (int64, error) { return 0, nil }

func seedCampaign(t *testing.T, repo *fakeCampaignRepo, success, failure int) *model.Campaign {
	t.Helper()
	campaign := &model.Campaign{
		Name:         "launch",
		Session:      "main",
		Status:       model.CampaignStatusCompleted,
		TotalCount:   success + failure,
		SuccessCount: success,
		FailureCount: failure,
	}
	require.NoError(t, repo.Create(context.Background(), campaign))
	return campaign
}

func addRecord(repo *fakeCampaignRepo, campaignID uuid.UUID, batch int, status model.MessageRecordStatus, category, message string) {
	rec := &model.MessageRecord{
		CampaignID:  campaignID,
		Recipient:   fmt.Sprintf("62811%07d", len(repo.records[campaignID])),
		Status:      status,
		BatchNumber: batch,
	}
	if category != "" {
		rec.ErrorCategory = &category
		rec.ErrorMessage = &message
	}
	_ = repo.RecordMessage(context.Background(), rec)
}

func TestGenerateReportAggregates(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := NewService(repo)
	campaign := seedCampaign(t, repo, 6, 4)

	for i := 0; i < 4; i++ {
		addRecord(repo, campaign.ID, 1, model.MessageRecordStatusSent, "", "")
	}
	addRecord(repo, campaign.ID, 1, model.MessageRecordStatusFailed, string(gateway.CategoryInvalidRecipient), "invalid number")
	for i := 0; i < 2; i++ {
		addRecord(repo, campaign.ID, 2, model.MessageRecordStatusSent, "", "")
	}
	for i := 0; i < 3; i++ {
		addRecord(repo, campaign.ID, 2, model.MessageRecordStatusFailed, string(gateway.CategoryTimeout), "request timed out")
	}

	report, err := svc.GenerateReport(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, report.SuccessRate, 0.001)

	// Breakdown is ordered by descending count with example details.
	require.Len(t, report.ErrorBreakdown, 2)
	assert.Equal(t, string(gateway.CategoryTimeout), report.ErrorBreakdown[0].Category)
	assert.Equal(t, 3, report.ErrorBreakdown[0].Count)
	assert.Equal(t, "request timed out", report.ErrorBreakdown[0].ExampleMessage)
	assert.Len(t, report.ErrorBreakdown[0].Recipients, 3)
	assert.Equal(t, string(gateway.CategoryInvalidRecipient), report.ErrorBreakdown[1].Category)

	// Batch stats ordered by batch number.
	require.Len(t, report.BatchStats, 2)
	assert.Equal(t, 1, report.BatchStats[0].BatchNumber)
	assert.Equal(t, 5, report.BatchStats[0].Total)
	assert.InDelta(t, 0.8, report.BatchStats[0].SuccessRate, 0.001)
	assert.Equal(t, 2, report.BatchStats[1].BatchNumber)
	assert.InDelta(t, 0.4, report.BatchStats[1].SuccessRate, 0.001)
}

func TestGenerateReportRecommendations(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := NewService(repo)
	campaign := seedCampaign(t, repo, 2, 8)

	for i := 0; i < 5; i++ {
		addRecord(repo, campaign.ID, 1, model.MessageRecordStatusFailed, string(gateway.CategoryRateLimited), "429 too many requests")
	}
	for i := 0; i < 3; i++ {
		addRecord(repo, campaign.ID, 1, model.MessageRecordStatusFailed, string(gateway.CategoryInvalidRecipient), "invalid number")
	}

	report, err := svc.GenerateReport(context.Background(), campaign.ID)
	require.NoError(t, err)

	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations[0], "High failure rate (80%)")

	joined := fmt.Sprint(report.Recommendations)
	assert.Contains(t, joined, "increase the batch delay")
	assert.Contains(t, joined, "3 invalid recipients")
	assert.NotContains(t, joined, "Delivery healthy")
}

func TestGenerateReportHealthyCampaign(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := NewService(repo)
	campaign := seedCampaign(t, repo, 10, 0)

	for i := 0; i < 10; i++ {
		addRecord(repo, campaign.ID, 1, model.MessageRecordStatusSent, "", "")
	}

	report, err := svc.GenerateReport(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, report.SuccessRate, 0.001)
	assert.Empty(t, report.ErrorBreakdown)
	assert.Equal(t, []string{"Delivery healthy: no action needed."}, report.Recommendations)
}

func TestGenerateReportUnknownCampaign(t *testing.T) {
	svc := NewService(newFakeCampaignRepo())
	_, err := svc.GenerateReport(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestListMessagesRequiresCampaign(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := NewService(repo)

	_, err := svc.ListMessages(context.Background(), uuid.New())
	assert.Error(t, err)

	campaign := seedCampaign(t, repo, 1, 0)
	addRecord(repo, campaign.ID, 1, model.MessageRecordStatusSent, "", "")
	records, err := svc.ListMessages(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
