package orch

import (
	"context"
	"fmt"

	"codecrew/pkg/agent"
	"codecrew/pkg/agents"
	"codecrew/pkg/config"
	"codecrew/pkg/runner"
	"codecrew/pkg/utils"
)

// NewAgentProvider builds the production AgentProvider: LLM clients come
// from the factory with the full middleware chain, the tester runs pytest
// through the exec runner.
func NewAgentProvider(cfg config.Config, factory *agent.ClientFactory) AgentProvider {
	execRunner := runner.NewExecRunner("", cfg.Workflow.AgentTimeout())

	return func(sessionID, model string) (AgentSet, error) {
		refinerClient, err := factory.CreateClient(agent.RoleRefiner, sessionID, model)
		if err != nil {
			return AgentSet{}, fmt.Errorf("refiner client: %w", err)
		}
		coderClient, err := factory.CreateClient(agent.RoleCoder, sessionID, model)
		if err != nil {
			return AgentSet{}, fmt.Errorf("coder client: %w", err)
		}
		reviewerClient, err := factory.CreateClient(agent.RoleReviewer, sessionID, model)
		if err != nil {
			return AgentSet{}, fmt.Errorf("reviewer client: %w", err)
		}
		testerClient, err := factory.CreateClient(agent.RoleTester, sessionID, model)
		if err != nil {
			return AgentSet{}, fmt.Errorf("tester client: %w", err)
		}

		coderModel := model
		if coderModel == "" {
			coderModel = cfg.Models.ForRole("coder")
		}
		counter, err := utils.NewTokenCounter(coderModel)
		if err != nil {
			// Counting degrades to estimation; not fatal.
			counter = nil
		}
		budget := config.MaxOutputTokensFor(coderModel, 0)

		return AgentSet{
			Refiner:  agents.NewRefiner(refinerClient),
			Coder:    agents.NewCoder(coderClient, counter, budget),
			Reviewer: reviewerAdapter{agents.NewReviewer(reviewerClient)},
			Tester:   testerAdapter{agents.NewTester(testerClient, execRunner)},
		}, nil
	}
}

type reviewerAdapter struct {
	reviewer *agents.Reviewer
}

func (a reviewerAdapter) Review(ctx context.Context, problem, code string) (ReviewVerdict, error) {
	verdict, err := a.reviewer.Review(ctx, problem, code)
	if err != nil {
		return ReviewVerdict{}, err
	}
	return ReviewVerdict{Approved: verdict.Approved, Feedback: verdict.Feedback}, nil
}

type testerAdapter struct {
	tester *agents.Tester
}

func (a testerAdapter) Test(ctx context.Context, problem, code string) (TestOutcome, error) {
	result, err := a.tester.Test(ctx, problem, code)
	if err != nil {
		return TestOutcome{}, err
	}
	return TestOutcome{Passed: result.Passed, Summary: result.Summary()}, nil
}
