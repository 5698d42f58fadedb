package routing

import (
	"context"
	"sync"
	"time"

	celgo "github.com/google/cel-go/cel"

	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/cel"
	apperrors "beacon/pkg/errors"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

type compiledRule struct {
	rule    Rule
	program celgo.Program
}

// Service resolves the channel plan for each admitted event. Enabled rules
// are compiled once and cached; the cache refreshes on a timer and
// immediately after any rule mutation through this service.
type Service struct {
	repo      Repository
	evaluator *cel.Evaluator
	logger    logger.Logger

	mu    sync.RWMutex
	rules []compiledRule

	reloadInterval time.Duration
	stopOnce       sync.Once
	stop           chan struct{}
}

func NewService(repo Repository, evaluator *cel.Evaluator, cfg config.RoutingConfig, log logger.Logger) *Service {
	interval := time.Duration(cfg.ReloadIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &Service{
		repo:           repo,
		evaluator:      evaluator,
		logger:         log,
		reloadInterval: interval,
		stop:           make(chan struct{}),
	}
}

// Start loads the rule cache and begins periodic refresh.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	go s.runReloader()
	return nil
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Reload replaces the compiled rule cache from the database. Rules that fail
// to compile are skipped with a log line rather than poisoning the cache.
func (s *Service) Reload(ctx context.Context) error {
	rules, err := s.repo.ListRules(ctx, true)
	if err != nil {
		return err
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		program, err := s.evaluator.CompileRule(rule.Expression)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Skipping routing rule that fails to compile",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, compiledRule{rule: rule, program: program})
	}

	s.mu.Lock()
	s.rules = compiled
	s.mu.Unlock()

	metrics.SetRoutingRulesActive(len(compiled))
	return nil
}

func (s *Service) runReloader() {
	ticker := time.NewTicker(s.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.Reload(ctx); err != nil {
				s.logger.Warnw("Failed to reload routing rules",
					"error", err,
				)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// ResolveChannels builds the ordered delivery plan for the event: the
// default plan for its priority, replaced wholesale by the first matching
// override rule, then filtered through the recipient's channel preferences.
// An empty plan is a valid outcome; the caller decides what to do with it.
func (s *Service) ResolveChannels(ctx context.Context, event models.NotificationEvent) ([]channel.Target, error) {
	plan := s.basePlan(ctx, event)

	prefs, err := s.repo.ListPreferences(ctx, event.RecipientID)
	if err != nil {
		return nil, err
	}
	byChannel := make(map[string]Preference, len(prefs))
	for _, pref := range prefs {
		byChannel[pref.Channel] = pref
	}

	targets := make([]channel.Target, 0, len(plan))
	for _, ch := range plan {
		pref, registered := byChannel[string(ch)]
		if registered && !pref.Enabled {
			continue
		}
		target := channel.Target{Type: ch}
		if registered {
			target.Endpoint = pref.Endpoint
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (s *Service) basePlan(ctx context.Context, event models.NotificationEvent) []channel.Type {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	for _, cr := range rules {
		matched, err := s.evaluator.EvaluateRule(ctx, cr.program, event)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Routing rule evaluation failed, skipping rule",
				"rule_id", cr.rule.ID,
				"error", err,
			)
			continue
		}
		if matched {
			plan := make([]channel.Type, 0, len(cr.rule.Channels))
			for _, name := range cr.rule.Channels {
				ch := channel.Type(name)
				if channel.ValidType(ch) {
					plan = append(plan, ch)
				}
			}
			return plan
		}
	}

	defaults := defaultPlans[string(event.Priority)]
	plan := make([]channel.Type, len(defaults))
	copy(plan, defaults)
	return plan
}

// ValidateExpression checks a candidate rule expression without storing it.
func (s *Service) ValidateExpression(expression string) error {
	return s.evaluator.ValidateRuleExpression(expression)
}

// CreateRule validates, stores, and makes the rule live.
func (s *Service) CreateRule(ctx context.Context, rule *Rule) error {
	if err := s.evaluator.ValidateRuleExpression(rule.Expression); err != nil {
		return apperrors.ErrValidation.WithCause(err).WithDetail("field", "expression")
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return err
	}
	return s.Reload(ctx)
}

func (s *Service) GetRule(ctx context.Context, id string) (*Rule, error) {
	return s.repo.GetRule(ctx, id)
}

func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.repo.ListRules(ctx, false)
}

func (s *Service) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := s.evaluator.ValidateRuleExpression(rule.Expression); err != nil {
		return apperrors.ErrValidation.WithCause(err).WithDetail("field", "expression")
	}
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return err
	}
	return s.Reload(ctx)
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	return s.Reload(ctx)
}

func (s *Service) UpsertPreference(ctx context.Context, pref *Preference) error {
	return s.repo.UpsertPreference(ctx, pref)
}

func (s *Service) ListPreferences(ctx context.Context, recipientID string) ([]Preference, error) {
	return s.repo.ListPreferences(ctx, recipientID)
}

func (s *Service) DeletePreference(ctx context.Context, recipientID, channel string) error {
	return s.repo.DeletePreference(ctx, recipientID, channel)
}
