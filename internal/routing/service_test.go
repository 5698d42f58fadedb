package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/cel"
	"beacon/pkg/models"
)

type fakeRoutingRepository struct {
	rules []Rule
	prefs map[string][]Preference
}

func newFakeRoutingRepository() *fakeRoutingRepository {
	return &fakeRoutingRepository{prefs: make(map[string][]Preference)}
}

func (f *fakeRoutingRepository) CreateRule(ctx context.Context, rule *Rule) error {
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *fakeRoutingRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			return &f.rules[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRoutingRepository) ListRules(ctx context.Context, enabledOnly bool) ([]Rule, error) {
	if !enabledOnly {
		return f.rules, nil
	}
	var out []Rule
	for _, rule := range f.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeRoutingRepository) UpdateRule(ctx context.Context, rule *Rule) error { return nil }
func (f *fakeRoutingRepository) DeleteRule(ctx context.Context, id string) error  { return nil }

func (f *fakeRoutingRepository) UpsertPreference(ctx context.Context, pref *Preference) error {
	f.prefs[pref.RecipientID] = append(f.prefs[pref.RecipientID], *pref)
	return nil
}

func (f *fakeRoutingRepository) ListPreferences(ctx context.Context, recipientID string) ([]Preference, error) {
	return f.prefs[recipientID], nil
}

func (f *fakeRoutingRepository) DeletePreference(ctx context.Context, recipientID, channel string) error {
	return nil
}

func routingEvent(priority models.Priority) models.NotificationEvent {
	return models.NotificationEvent{
		EventType:   models.EventJobAssigned,
		EntityID:    "job-1",
		RecipientID: "staff-1",
		SourceID:    "scheduler",
		Priority:    priority,
	}
}

func newTestRoutingService(t *testing.T, repo Repository) *Service {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	svc := NewService(repo, evaluator, config.RoutingConfig{ReloadIntervalSeconds: 3600}, logger.NopLogger())
	require.NoError(t, svc.Reload(context.Background()))
	t.Cleanup(svc.Stop)
	return svc
}

func channelTypes(targets []channel.Target) []channel.Type {
	out := make([]channel.Type, len(targets))
	for i, target := range targets {
		out[i] = target.Type
	}
	return out
}

func TestResolveChannels_DefaultPlans(t *testing.T) {
	svc := newTestRoutingService(t, newFakeRoutingRepository())
	ctx := context.Background()

	tests := []struct {
		priority models.Priority
		want     []channel.Type
	}{
		{models.PriorityUrgent, []channel.Type{channel.TypePush, channel.TypeRealtime, channel.TypeWebhook}},
		{models.PriorityHigh, []channel.Type{channel.TypePush, channel.TypeRealtime}},
		{models.PriorityNormal, []channel.Type{channel.TypePush}},
		{models.PriorityLow, []channel.Type{channel.TypePush}},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			targets, err := svc.ResolveChannels(ctx, routingEvent(tt.priority))
			require.NoError(t, err)
			assert.Equal(t, tt.want, channelTypes(targets))
		})
	}
}

func TestResolveChannels_RuleOverridesPlan(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.rules = []Rule{
		{
			ID:         "r1",
			Name:       "overdue-everywhere",
			Expression: `event_type == "job.overdue"`,
			Channels:   []string{"push", "webhook"},
			Priority:   10,
			Enabled:    true,
		},
	}
	svc := newTestRoutingService(t, repo)

	event := routingEvent(models.PriorityLow)
	event.EventType = models.EventJobOverdue

	targets, err := svc.ResolveChannels(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, []channel.Type{channel.TypePush, channel.TypeWebhook}, channelTypes(targets))

	// A non-matching event keeps the default plan.
	targets, err = svc.ResolveChannels(context.Background(), routingEvent(models.PriorityLow))
	require.NoError(t, err)
	assert.Equal(t, []channel.Type{channel.TypePush}, channelTypes(targets))
}

func TestResolveChannels_FirstMatchingRuleWins(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.rules = []Rule{
		{ID: "r1", Name: "first", Expression: `priority == "urgent"`, Channels: []string{"realtime"}, Priority: 1, Enabled: true},
		{ID: "r2", Name: "second", Expression: `priority == "urgent"`, Channels: []string{"webhook"}, Priority: 2, Enabled: true},
	}
	svc := newTestRoutingService(t, repo)

	targets, err := svc.ResolveChannels(context.Background(), routingEvent(models.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, []channel.Type{channel.TypeRealtime}, channelTypes(targets))
}

func TestResolveChannels_DisabledPreferenceRemovesChannel(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.prefs["staff-1"] = []Preference{
		{RecipientID: "staff-1", Channel: "push", Enabled: false},
	}
	svc := newTestRoutingService(t, repo)

	targets, err := svc.ResolveChannels(context.Background(), routingEvent(models.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, []channel.Type{channel.TypeRealtime}, channelTypes(targets))
}

func TestResolveChannels_PreferenceSuppliesEndpoint(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.prefs["staff-1"] = []Preference{
		{RecipientID: "staff-1", Channel: "push", Enabled: true, Endpoint: "device-token-1"},
	}
	svc := newTestRoutingService(t, repo)

	targets, err := svc.ResolveChannels(context.Background(), routingEvent(models.PriorityNormal))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "device-token-1", targets[0].Endpoint)
}

func TestResolveChannels_AllChannelsDisabledYieldsEmptyPlan(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.prefs["staff-1"] = []Preference{
		{RecipientID: "staff-1", Channel: "push", Enabled: false},
	}
	svc := newTestRoutingService(t, repo)

	targets, err := svc.ResolveChannels(context.Background(), routingEvent(models.PriorityNormal))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestReload_SkipsRulesThatFailToCompile(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.rules = []Rule{
		{ID: "bad", Name: "broken", Expression: `not valid cel!!!`, Channels: []string{"push"}, Priority: 1, Enabled: true},
		{ID: "good", Name: "works", Expression: `priority == "urgent"`, Channels: []string{"webhook"}, Priority: 2, Enabled: true},
	}
	svc := newTestRoutingService(t, repo)

	targets, err := svc.ResolveChannels(context.Background(), routingEvent(models.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, []channel.Type{channel.TypeWebhook}, channelTypes(targets))
}

func TestResolveChannels_RuleWithUnknownChannelNameSkipsIt(t *testing.T) {
	repo := newFakeRoutingRepository()
	repo.rules = []Rule{
		{ID: "r1", Name: "typo", Expression: `priority == "urgent"`, Channels: []string{"push", "pigeon"}, Priority: 1, Enabled: true},
	}
	svc := newTestRoutingService(t, repo)

	targets, err := svc.ResolveChannels(context.Background(), routingEvent(models.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, []channel.Type{channel.TypePush}, channelTypes(targets))
}

func TestValidateExpression(t *testing.T) {
	svc := newTestRoutingService(t, newFakeRoutingRepository())

	assert.NoError(t, svc.ValidateExpression(`event_type == "job.assigned"`))
	assert.Error(t, svc.ValidateExpression(`event_type`))
	assert.Error(t, svc.ValidateExpression(`!!!`))
}
