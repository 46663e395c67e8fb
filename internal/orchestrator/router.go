package orchestrator

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/droverhq/drover/internal/model"
)

// Routing rule names, reported in logs and by the dry-run endpoint.
const (
	RuleNewTask     = "new_task"
	RuleIDPrefix    = "id_prefix"
	RuleBracket     = "bracket_title"
	RuleMention     = "title_mention"
	RuleFollowUp    = "follow_up"
	RuleKeyword     = "keyword_score"
	RuleFallback    = "fallback"
	RuleNewFallback = "fallback_create"
)

// Decision is the router's verdict for one inbound text. Either AgentID
// is set (route to an existing agent) or CreateGoal is set (create a new
// agent and deliver Body as its first message).
type Decision struct {
	Rule       string `json:"rule"`
	AgentID    string `json:"agent_id,omitempty"`
	CreateGoal string `json:"create_goal,omitempty"`
	Body       string `json:"body,omitempty"`
}

var defaultTriggers = []string{"new agent", "new task", "start a new", "create agent"}

var defaultAckWords = []string{
	"yes", "no", "ok", "sure", "do it", "go", "y", "n",
	"yeah", "nah", "continue", "stop", "done", "thanks",
}

var defaultStopWords = []string{
	"a", "an", "the", "and", "or", "but", "of", "to", "in", "on", "at",
	"for", "with", "is", "are", "was", "it", "this", "that", "be", "as",
	"by", "from", "do", "can", "you", "i", "me", "my", "we", "us", "please",
}

const (
	shortReplyLen  = 30
	mentionMinLen  = 5
	scoreThreshold = 2
)

var bracketRe = regexp.MustCompile(`(?s)^\[([^\]]+)\]\s*(.*)`)

// Router decides which agent an inbound text belongs to. The cascade is
// an ordered list of rules evaluated in strict priority order; the first
// match wins. The decision step is pure apart from the last-routed
// bonus used by the keyword rule.
type Router struct {
	triggers  []string
	ackWords  map[string]struct{}
	stopWords map[string]struct{}
	minRefLen int

	mu         sync.Mutex
	lastRouted string
}

// NewRouter builds a router with the default trigger, acknowledgement
// and stop-word sets.
func NewRouter(minRefLen int) *Router {
	if minRefLen <= 0 {
		minRefLen = model.ShortIDLen
	}
	r := &Router{
		triggers:  defaultTriggers,
		ackWords:  map[string]struct{}{},
		stopWords: map[string]struct{}{},
		minRefLen: minRefLen,
	}
	for _, w := range defaultAckWords {
		r.ackWords[w] = struct{}{}
	}
	for _, w := range defaultStopWords {
		r.stopWords[w] = struct{}{}
	}
	return r
}

// RecordRouted stores the target of the last executed decision for the
// keyword rule's recency bonus.
func (r *Router) RecordRouted(agentID string) {
	r.mu.Lock()
	r.lastRouted = agentID
	r.mu.Unlock()
}

type routeRule struct {
	name  string
	match func(text string, live []*model.Agent) *Decision
}

// Route evaluates the cascade over the live (non-stopped) agents.
// Stopped agents are invisible to every rule.
func (r *Router) Route(text string, agents []*model.Agent) Decision {
	live := make([]*model.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Live() {
			live = append(live, a)
		}
	}
	rules := []routeRule{
		{RuleNewTask, r.matchNewTask},
		{RuleIDPrefix, r.matchIDPrefix},
		{RuleBracket, r.matchBracket},
		{RuleMention, r.matchMention},
		{RuleFollowUp, r.matchFollowUp},
		{RuleKeyword, r.matchKeyword},
	}
	for _, rule := range rules {
		if d := rule.match(text, live); d != nil {
			d.Rule = rule.name
			return *d
		}
	}
	return r.fallback(text, live)
}

// Rule 1: an explicit new-task trigger phrase always creates a new
// agent. The goal is the text with every trigger phrase removed; the
// raw text is the first message.
func (r *Router) matchNewTask(text string, live []*model.Agent) *Decision {
	lower := strings.ToLower(text)
	hit := false
	for _, trig := range r.triggers {
		if strings.Contains(lower, trig) {
			hit = true
			break
		}
	}
	if !hit {
		return nil
	}
	goal := text
	for _, trig := range r.triggers {
		goal = removeFold(goal, trig)
	}
	goal = strings.Trim(goal, " \t\n:-")
	if goal == "" {
		goal = strings.TrimSpace(text)
	}
	return &Decision{CreateGoal: goal, Body: text}
}

// removeFold deletes every case-insensitive occurrence of phrase.
func removeFold(s, phrase string) string {
	lower := strings.ToLower(s)
	phrase = strings.ToLower(phrase)
	for {
		i := strings.Index(lower, phrase)
		if i < 0 {
			return s
		}
		s = s[:i] + s[i+len(phrase):]
		lower = lower[:i] + lower[i+len(phrase):]
	}
}

// Rule 2: the first token, at minimum reference length, addresses an
// agent by case-sensitive id prefix. Zero or several matches fall
// through rather than erroring.
func (r *Router) matchIDPrefix(text string, live []*model.Agent) *Decision {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields[0]) < r.minRefLen {
		return nil
	}
	token := fields[0]
	var hit *model.Agent
	for _, a := range live {
		if strings.HasPrefix(a.ID, token) {
			if hit != nil {
				return nil
			}
			hit = a
		}
	}
	if hit == nil {
		return nil
	}
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), token))
	if body == "" {
		body = text
	}
	return &Decision{AgentID: hit.ID, Body: body}
}

// Rule 3: "[Title] body" addressing; the title must equal a live
// agent's title case-insensitively.
func (r *Router) matchBracket(text string, live []*model.Agent) *Decision {
	m := bracketRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	title := strings.TrimSpace(m[1])
	for _, a := range live {
		if strings.EqualFold(a.Title, title) {
			body := strings.TrimSpace(m[2])
			if body == "" {
				body = text
			}
			return &Decision{AgentID: a.ID, Body: body}
		}
	}
	return nil
}

// Rule 4: a live agent's title appears inside the text. Longest title
// wins; equal lengths break on recency.
func (r *Router) matchMention(text string, live []*model.Agent) *Decision {
	lower := strings.ToLower(text)
	var best *model.Agent
	for _, a := range live {
		title := strings.TrimSpace(a.Title)
		if len(title) <= mentionMinLen {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(title)) {
			continue
		}
		if best == nil ||
			len(a.Title) > len(best.Title) ||
			(len(a.Title) == len(best.Title) && a.LastActive.After(best.LastActive)) {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	return &Decision{AgentID: best.ID, Body: text}
}

// Rule 5: a short acknowledgement continues the obvious conversation:
// the single busy agent, else the most recently active idle one.
func (r *Router) matchFollowUp(text string, live []*model.Agent) *Decision {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	_, ack := r.ackWords[trimmed]
	if !ack && len(text) >= shortReplyLen {
		return nil
	}
	var busy []*model.Agent
	var lastIdle *model.Agent
	for _, a := range live {
		switch a.Status {
		case model.StatusBusy:
			busy = append(busy, a)
		case model.StatusIdle:
			if lastIdle == nil || a.LastActive.After(lastIdle.LastActive) {
				lastIdle = a
			}
		}
	}
	if len(busy) == 1 {
		return &Decision{AgentID: busy[0].ID, Body: text}
	}
	if lastIdle != nil {
		return &Decision{AgentID: lastIdle.ID, Body: text}
	}
	return nil
}

// Rule 6: token overlap against goal and current task, with a bonus for
// the agent that handled the previous routed message. The best score
// must clear the threshold and beat the runner-up outright.
func (r *Router) matchKeyword(text string, live []*model.Agent) *Decision {
	tokens := r.tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	r.mu.Lock()
	last := r.lastRouted
	r.mu.Unlock()

	type scored struct {
		agent *model.Agent
		score int
	}
	var ranked []scored
	for _, a := range live {
		score := 3*overlap(tokens, r.tokenize(a.Goal)) + 2*overlap(tokens, r.tokenize(a.CurrentTask))
		if a.ID == last {
			score += 2
		}
		if score > 0 {
			ranked = append(ranked, scored{a, score})
		}
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if ranked[0].score < scoreThreshold {
		return nil
	}
	if len(ranked) > 1 && ranked[1].score == ranked[0].score {
		return nil
	}
	return &Decision{AgentID: ranked[0].agent.ID, Body: text}
}

// Rule 7: the most recently active live agent, or a brand-new agent
// when none exists.
func (r *Router) fallback(text string, live []*model.Agent) Decision {
	var best *model.Agent
	for _, a := range live {
		if best == nil || a.LastActive.After(best.LastActive) {
			best = a
		}
	}
	if best != nil {
		return Decision{Rule: RuleFallback, AgentID: best.ID, Body: text}
	}
	return Decision{Rule: RuleNewFallback, CreateGoal: strings.TrimSpace(text), Body: text}
}

func (r *Router) tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f == "" {
			continue
		}
		if _, stop := r.stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
