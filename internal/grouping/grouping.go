// Package grouping implements the Grouper (C6): a two-tier alert
// grouping engine. The fast path matches an alert against learned,
// trusted Rules with no external call; the slow path falls back to the
// Investigator's VerifyGrouping and, once enough alerts have been
// admitted to a Group by the same shared predicate, induces a candidate
// Rule that is promoted to trusted after a run of consecutive verified
// uses (§4.6).
package grouping

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// Store is the subset of store.Store the Grouper depends on: it reads
// group members' labels back out to infer a common predicate, and
// writes the resulting GroupID onto each admitted Alert.
type Store interface {
	Get(fingerprint string) (*core.Alert, bool)
	SetGroupID(fingerprint, groupID string) error
}

// Config holds Grouper tuning parameters (§4.6, §6.5).
type Config struct {
	// InductionThreshold is the number of members (counting the alert
	// that opened the Group) a Group needs, checked after each verified
	// slow-path admission, before a candidate Rule is induced from their
	// common labels.
	InductionThreshold int
	// PromotionThreshold is the number of consecutive verified uses a
	// candidate Rule needs before it is promoted to trusted.
	PromotionThreshold int
	// FastPathCacheSize bounds the label-set -> Rule lookup cache.
	FastPathCacheSize int
}

// DefaultConfig returns sensible Config defaults.
func DefaultConfig() Config {
	return Config{
		InductionThreshold: 3,
		PromotionThreshold: 5,
		FastPathCacheSize:  4096,
	}
}

// Grouper implements the two-tier matching and rule-learning described
// in §4.6.
type Grouper struct {
	store        Store
	investigator core.Investigator
	ruleRepo     core.RuleRepository // nil: rules are process-local only
	cfg          Config
	metrics      *metrics.GroupingMetrics
	logger       *slog.Logger

	mu          sync.Mutex
	groups      map[string]*core.Group // groupID -> Group
	byRootCause map[string]*core.Group // rootCause -> most recent Group
	rules       []*core.Rule           // sorted by Specificity() descending
	rulesByID   map[string]*core.Rule
	fastCache   *lru.Cache[string, string] // label-set hash -> Rule ID
}

// New creates a Grouper. ruleRepo may be nil, in which case learned
// Rules do not survive a restart.
func New(s Store, investigator core.Investigator, ruleRepo core.RuleRepository, cfg Config, m *metrics.GroupingMetrics, logger *slog.Logger) *Grouper {
	if cfg.InductionThreshold == 0 {
		cfg.InductionThreshold = DefaultConfig().InductionThreshold
	}
	if cfg.PromotionThreshold == 0 {
		cfg.PromotionThreshold = DefaultConfig().PromotionThreshold
	}
	if cfg.FastPathCacheSize == 0 {
		cfg.FastPathCacheSize = DefaultConfig().FastPathCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, string](cfg.FastPathCacheSize)
	return &Grouper{
		store:        s,
		investigator: investigator,
		ruleRepo:     ruleRepo,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		groups:       make(map[string]*core.Group),
		byRootCause:  make(map[string]*core.Group),
		rulesByID:    make(map[string]*core.Rule),
		fastCache:    cache,
	}
}

// LoadRules restores the learned Rule catalogue from ruleRepo. Call once
// at startup, before Process is used.
func (g *Grouper) LoadRules(ctx context.Context) error {
	if g.ruleRepo == nil {
		return nil
	}
	rules, err := g.ruleRepo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range rules {
		g.rules = append(g.rules, r)
		g.rulesByID[r.ID] = r
	}
	g.sortRulesLocked()
	if g.metrics != nil {
		g.metrics.RulesActive.Set(float64(len(g.rulesByID)))
	}
	return nil
}

// Process assigns alert to a Group, mutating Store with the resulting
// GroupID (§4.6). alert must carry a completed Enrichment; the Grouper
// has nothing to match on otherwise.
func (g *Grouper) Process(ctx context.Context, alert *core.Alert) (*core.Group, error) {
	if alert.Enrichment == nil || alert.Enrichment.Status != core.EnrichmentOK {
		return nil, fmt.Errorf("grouping requires a completed enrichment for %s", alert.Fingerprint)
	}
	rootCause := alert.Enrichment.RootCause

	g.mu.Lock()
	var toPersist []*core.Rule
	defer func() {
		g.mu.Unlock()
		g.persist(ctx, toPersist)
	}()

	if rule := g.matchTrustedRuleLocked(alert); rule != nil {
		if group, ok := g.groups[rule.GroupID]; ok && group.RootCause == rootCause {
			g.admitLocked(group, alert)
			rule.Verifications++
			toPersist = append(toPersist, rule)
			g.recordFastPathHit()
			return group, nil
		}
		// The labels matched but the root cause diverged: the trusted
		// Rule's predicate no longer identifies a single cause, so it is
		// retired (S4) and the alert falls through to slow-path admission.
		g.retireLocked(rule)
		toPersist = append(toPersist, rule)
	}
	g.recordFastPathMiss()

	group := g.byRootCause[rootCause]
	if group == nil {
		group = g.newGroupLocked(rootCause, alert.Enrichment.Category)
		g.admitLocked(group, alert)
		return group, nil
	}

	start := time.Now()
	result, err := g.investigator.VerifyGrouping(ctx, alert, rootCause)
	g.recordVerify(result.Accepted && err == nil, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("verifying grouping for %s: %w", alert.Fingerprint, err)
	}

	candidateRule := g.candidateRuleForGroupLocked(group.ID)
	if !result.Accepted {
		if candidateRule != nil {
			g.retireLocked(candidateRule)
			toPersist = append(toPersist, candidateRule)
		}
		fresh := g.newGroupLocked(rootCause, alert.Enrichment.Category)
		g.admitLocked(fresh, alert)
		return fresh, nil
	}

	g.admitLocked(group, alert)
	if induced := g.afterVerifiedAdmitLocked(group, candidateRule); induced != nil {
		toPersist = append(toPersist, induced)
	}
	return group, nil
}

// matchTrustedRuleLocked returns the highest-specificity trusted Rule
// matching alert's labels, or nil. Retired and candidate Rules are never
// consulted here (I6).
func (g *Grouper) matchTrustedRuleLocked(alert *core.Alert) *core.Rule {
	key := labelSetKey(alert.Labels)
	if id, ok := g.fastCache.Get(key); ok {
		if rule, ok := g.rulesByID[id]; ok && rule.State == core.RuleTrusted {
			return rule
		}
		g.fastCache.Remove(key)
	}
	for _, rule := range g.rules {
		if rule.State != core.RuleTrusted {
			continue
		}
		if evaluatePredicate(rule.Predicate, alert.Labels) {
			g.fastCache.Add(key, rule.ID)
			return rule
		}
	}
	return nil
}

func (g *Grouper) candidateRuleForGroupLocked(groupID string) *core.Rule {
	for _, rule := range g.rules {
		if rule.GroupID == groupID && rule.State == core.RuleCandidate {
			return rule
		}
	}
	return nil
}

// afterVerifiedAdmitLocked advances a candidate Rule's verification
// count (promoting it once PromotionThreshold is reached) or, if group
// has no Rule yet and has accumulated enough slow-path members, induces
// one from their common labels. Returns a Rule to persist, if any.
func (g *Grouper) afterVerifiedAdmitLocked(group *core.Group, rule *core.Rule) *core.Rule {
	if rule == nil {
		if len(group.Members) >= g.cfg.InductionThreshold {
			return g.induceRuleLocked(group)
		}
		return nil
	}
	rule.Verifications++
	if rule.State == core.RuleCandidate && rule.Verifications >= g.cfg.PromotionThreshold {
		rule.State = core.RuleTrusted
		g.recordRuleTransition("promoted")
	}
	return rule
}

// induceRuleLocked builds a candidate Rule from the label keys shared,
// with identical values, across every member of group. Returns nil
// (and induces nothing) if the members share no common label, per
// §4.6's "inferable common predicate" requirement.
func (g *Grouper) induceRuleLocked(group *core.Group) *core.Rule {
	common := g.commonLabelsLocked(group.Members)
	if len(common) == 0 {
		return nil
	}

	keys := make([]string, 0, len(common))
	for k := range common {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]core.Clause, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, core.Clause{Key: k, Op: core.OpEquals, Value: common[k]})
	}

	rule := &core.Rule{
		ID:        uuid.NewString(),
		GroupID:   group.ID,
		Predicate: core.Predicate{Clauses: clauses},
		RootCause: group.RootCause,
		Category:  group.Category,
		State:     core.RuleCandidate,
		CreatedAt: time.Now(),
	}
	group.RuleID = rule.ID
	g.rules = append(g.rules, rule)
	g.rulesByID[rule.ID] = rule
	g.sortRulesLocked()
	g.recordRuleTransition("induced")
	if g.metrics != nil {
		g.metrics.RulesActive.Set(float64(len(g.rulesByID)))
	}
	return rule
}

func (g *Grouper) commonLabelsLocked(members []string) map[string]string {
	var common map[string]string
	for _, fp := range members {
		alert, ok := g.store.Get(fp)
		if !ok {
			continue
		}
		if common == nil {
			common = make(map[string]string, len(alert.Labels))
			for k, v := range alert.Labels {
				common[k] = v
			}
			continue
		}
		for k, v := range common {
			if alert.Labels[k] != v {
				delete(common, k)
			}
		}
	}
	return common
}

func (g *Grouper) retireLocked(rule *core.Rule) {
	rule.Failures++
	rule.State = core.RuleRetired
	g.recordRuleTransition("retired")
	g.fastCache.Purge()
}

func (g *Grouper) sortRulesLocked() {
	sort.SliceStable(g.rules, func(i, j int) bool {
		return g.rules[i].Specificity() > g.rules[j].Specificity()
	})
}

func (g *Grouper) newGroupLocked(rootCause string, category core.Category) *core.Group {
	group := &core.Group{
		ID:        uuid.NewString(),
		RootCause: rootCause,
		Category:  category,
		CreatedAt: time.Now(),
	}
	g.groups[group.ID] = group
	g.byRootCause[rootCause] = group
	if g.metrics != nil {
		g.metrics.GroupsTotal.Inc()
	}
	return group
}

func (g *Grouper) admitLocked(group *core.Group, alert *core.Alert) {
	for _, fp := range group.Members {
		if fp == alert.Fingerprint {
			return
		}
	}
	group.Members = append(group.Members, alert.Fingerprint)
	if err := g.store.SetGroupID(alert.Fingerprint, group.ID); err != nil {
		g.logger.Warn("failed to record group membership", "fingerprint", alert.Fingerprint, "group", group.ID, "error", err)
	}
	if g.metrics != nil {
		g.metrics.MembersAddedTotal.Inc()
	}
}

// Get returns a Group by ID.
func (g *Grouper) Get(groupID string) (*core.Group, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.groups[groupID]
	return group, ok
}

// List returns every known Group.
func (g *Grouper) List() []*core.Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*core.Group, 0, len(g.groups))
	for _, group := range g.groups {
		out = append(out, group)
	}
	return out
}

// Rules returns every known Rule (candidate, trusted, and retired),
// ordered by Specificity() descending, for the admin read surface.
func (g *Grouper) Rules() []*core.Rule {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*core.Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

func (g *Grouper) persist(ctx context.Context, rules []*core.Rule) {
	if g.ruleRepo == nil {
		return
	}
	for _, rule := range rules {
		if err := g.ruleRepo.SaveRule(ctx, rule); err != nil {
			g.logger.Warn("failed to persist rule", "rule", rule.ID, "error", err)
		}
	}
}

func (g *Grouper) recordFastPathHit() {
	if g.metrics != nil {
		g.metrics.FastPathHits.Inc()
	}
}

func (g *Grouper) recordFastPathMiss() {
	if g.metrics != nil {
		g.metrics.FastPathMisses.Inc()
	}
}

func (g *Grouper) recordVerify(accepted bool, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.VerifyTotal.WithLabelValues(resultLabel(accepted)).Inc()
	g.metrics.VerifySeconds.WithLabelValues(resultLabel(accepted)).Observe(elapsed.Seconds())
}

func resultLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

func (g *Grouper) recordRuleTransition(transition string) {
	if g.metrics != nil {
		g.metrics.RuleTransitions.WithLabelValues(transition).Inc()
	}
}

// evaluatePredicate reports whether labels satisfies every clause of p.
// An empty predicate never matches: a Rule with no clauses carries no
// information and must not be treated as a wildcard.
func evaluatePredicate(p core.Predicate, labels map[string]string) bool {
	if len(p.Clauses) == 0 {
		return false
	}
	for _, c := range p.Clauses {
		v := labels[c.Key]
		switch c.Op {
		case core.OpEquals:
			if v != c.Value {
				return false
			}
		case core.OpPrefix:
			if !strings.HasPrefix(v, c.Value) {
				return false
			}
		case core.OpRegex:
			re, err := regexp.Compile(c.Value)
			if err != nil || !re.MatchString(v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// labelSetKey builds a deterministic cache key from a label set,
// independent of map iteration order.
func labelSetKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
