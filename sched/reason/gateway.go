package reason

import (
	"context"
	"time"

	"github.com/dshills/schedflow/sched"
)

// Gateway implements sched.Reasoner on top of a Provider.
//
// For each call it optimizes the job context (dropping old history, never
// rewriting it), builds a structured-output prompt, validates the
// provider's response against the schema and semantic rules, and attempts
// repair when the response is malformed and the failure category is
// repairable. Terminal failures surface as *sched.MalformedResponseError.
type Gateway struct {
	provider Provider
	cfg      sched.AgentConfig
	now      func() time.Time
}

var _ sched.Reasoner = (*Gateway)(nil)

// NewGateway builds a reasoner gateway. The config should already carry
// defaults (sched.Config.ApplyDefaults).
func NewGateway(provider Provider, cfg sched.AgentConfig) *Gateway {
	return &Gateway{provider: provider, cfg: cfg, now: time.Now}
}

// SetClock replaces the gateway's time source for tests.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// complete calls the provider, retrying transport errors up to MaxRetries
// extra attempts. Every attempt's token usage is folded into usage. Returns
// the last response, the number of attempts made, and the last error.
func (g *Gateway) complete(ctx context.Context, req Request, usage *sched.TokenUsage) (Response, int, error) {
	var resp Response
	var err error
	attempts := 0
	for attempts <= g.cfg.MaxRetries {
		attempts++
		resp, err = g.provider.Complete(ctx, req)
		usage.Add(resp.Usage)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	return resp, attempts, err
}

// Plan asks the provider which endpoints to call and how.
func (g *Gateway) Plan(ctx context.Context, jc *sched.JobContext) (sched.PlanResult, error) {
	oc := g.optimizeContext(jc)
	prompt := buildPlanPrompt(oc)

	var result sched.PlanResult

	resp, attempts, err := g.complete(ctx, Request{
		System:      planSystemPrompt,
		Prompt:      prompt,
		Temperature: g.cfg.Temperature,
	}, &result.Usage)
	if err != nil {
		return result, &sched.MalformedResponseError{
			Phase: sched.PhasePlan, Category: sched.ReasonerUnknown, Attempts: attempts, Err: err,
		}
	}

	plan, verr := g.checkPlan(resp.Content)
	if verr == nil {
		result.Plan = plan
		return result, nil
	}

	category := sched.ClassifyReasonerFailure(verr)
	result.Repair.Category = category

	if g.repairEligible(category) {
		result.Repair.Attempted = true
		for i := 0; i < g.cfg.MaxRepairAttempts; i++ {
			// The corrective instruction rides on the system prompt; the
			// user prompt is resent unchanged.
			repairResp, n, rerr := g.complete(ctx, Request{
				System:      buildRepairSystem(planSystemPrompt, verr),
				Prompt:      prompt,
				Temperature: 0,
			}, &result.Usage)
			attempts += n
			if rerr != nil {
				verr = rerr
				continue
			}
			plan, verr = g.checkPlan(repairResp.Content)
			if verr == nil {
				result.Repair.Succeeded = true
				result.Plan = plan
				return result, nil
			}
		}
	}

	return result, &sched.MalformedResponseError{
		Phase:    sched.PhasePlan,
		Category: category,
		Attempts: attempts,
		Err:      verr,
	}
}

// Schedule asks the provider when the job should run next. Under
// SemanticStrict=false a semantically invalid decision is salvaged instead
// of rejected, with warnings appended to its reasoning.
func (g *Gateway) Schedule(ctx context.Context, jc *sched.JobContext, results []sched.EndpointResult) (sched.ScheduleResult, error) {
	oc := g.optimizeContext(jc)
	prompt := buildSchedulePrompt(oc, results)
	now := g.currentTime(jc)

	var result sched.ScheduleResult

	resp, attempts, err := g.complete(ctx, Request{
		System:      scheduleSystemPrompt,
		Prompt:      prompt,
		Temperature: g.cfg.Temperature,
	}, &result.Usage)
	if err != nil {
		return result, &sched.MalformedResponseError{
			Phase: sched.PhaseSchedule, Category: sched.ReasonerUnknown, Attempts: attempts, Err: err,
		}
	}

	decision, verr := g.checkSchedule(resp.Content, now)
	if verr == nil {
		result.Decision = decision
		return result, nil
	}

	category := sched.ClassifyReasonerFailure(verr)
	result.Repair.Category = category

	// Salvage before spending a repair call: with strict mode off a
	// semantically invalid decision is adjusted rather than rejected.
	if category == sched.SemanticViolation && !g.cfg.SemanticStrict {
		if salvaged, ok := g.salvage(resp.Content, now); ok {
			result.Decision = salvaged
			return result, nil
		}
	}

	if g.repairEligible(category) {
		result.Repair.Attempted = true
		for i := 0; i < g.cfg.MaxRepairAttempts; i++ {
			repairResp, n, rerr := g.complete(ctx, Request{
				System:      buildRepairSystem(scheduleSystemPrompt, verr),
				Prompt:      prompt,
				Temperature: 0,
			}, &result.Usage)
			attempts += n
			if rerr != nil {
				verr = rerr
				continue
			}
			decision, verr = g.checkSchedule(repairResp.Content, now)
			if verr == nil {
				result.Repair.Succeeded = true
				result.Decision = decision
				return result, nil
			}
		}
	}

	return result, &sched.MalformedResponseError{
		Phase:    sched.PhaseSchedule,
		Category: category,
		Attempts: attempts,
		Err:      verr,
	}
}

func (g *Gateway) checkPlan(content string) (sched.ExecutionPlan, error) {
	plan, err := parsePlan(content)
	if err != nil {
		return sched.ExecutionPlan{}, err
	}
	if err := validatePlan(plan, g.cfg.ValidateSemantics); err != nil {
		return sched.ExecutionPlan{}, err
	}
	return plan, nil
}

func (g *Gateway) checkSchedule(content string, now time.Time) (sched.ScheduleDecision, error) {
	decision, err := parseSchedule(content)
	if err != nil {
		return sched.ScheduleDecision{}, err
	}
	if err := validateSchedule(decision, now, g.cfg.ValidateSemantics); err != nil {
		return sched.ScheduleDecision{}, err
	}
	return decision, nil
}

// salvage re-parses the raw content (it passed schema parsing to reach a
// semantic failure) and adjusts it into validity.
func (g *Gateway) salvage(content string, now time.Time) (sched.ScheduleDecision, bool) {
	decision, err := parseSchedule(content)
	if err != nil {
		return sched.ScheduleDecision{}, false
	}
	salvaged, _ := salvageSchedule(decision, now)
	if err := validateSchedule(salvaged, now, g.cfg.ValidateSemantics); err != nil {
		return sched.ScheduleDecision{}, false
	}
	return salvaged, true
}

func (g *Gateway) repairEligible(category sched.ReasonerFailureCategory) bool {
	return g.cfg.RepairMalformedResponses && g.cfg.MaxRepairAttempts > 0 && category.Repairable()
}

// currentTime prefers the cycle's stamped time over the wall clock so
// semantic checks agree with the prompt.
func (g *Gateway) currentTime(jc *sched.JobContext) time.Time {
	if !jc.Exec.CurrentTime.IsZero() {
		return jc.Exec.CurrentTime
	}
	return g.now()
}

// optimizeContext trims the context forwarded to the provider: messages are
// capped at MaxMessages (system messages kept, then the most recent
// non-system messages, never fewer than MinRecentMessages), and endpoint
// usage entries are capped at MaxEndpointUsageEntries. Optimization only
// drops entries; it never rewrites them. Disabled, it returns the context
// unchanged.
func (g *Gateway) optimizeContext(jc *sched.JobContext) *sched.JobContext {
	po := g.cfg.PromptOptimization
	if !po.Enabled {
		return jc
	}

	oc := *jc

	if len(jc.Messages) > po.MaxMessages {
		var system, rest []sched.Message
		for _, m := range jc.Messages {
			if m.Role == "system" {
				system = append(system, m)
			} else {
				rest = append(rest, m)
			}
		}
		keep := po.MaxMessages - len(system)
		if keep < po.MinRecentMessages {
			keep = po.MinRecentMessages
		}
		if keep > len(rest) {
			keep = len(rest)
		}
		oc.Messages = append(system, rest[len(rest)-keep:]...)
	}

	if len(jc.Usage) > po.MaxEndpointUsageEntries {
		oc.Usage = jc.Usage[len(jc.Usage)-po.MaxEndpointUsageEntries:]
	}
	return &oc
}
