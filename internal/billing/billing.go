// Package billing exposes the subscription-plan quota the conversation
// engine enforces on AI responses. The monthly ceiling is independent of
// the short-term sliding-window rate limiter.
package billing

import (
	"context"
	"fmt"

	"github.com/helpdeskai/support-platform/internal/store"
)

// Quota is a company's monthly AI response allowance and current usage.
// A zero Limit means unlimited.
type Quota struct {
	Limit int `json:"limit"`
	Used  int `json:"used"`
}

// Exhausted reports whether the quota has been reached.
func (q Quota) Exhausted() bool {
	return q.Limit > 0 && q.Used >= q.Limit
}

// Plans is the billing collaborator contract.
type Plans interface {
	Quota(ctx context.Context, companyID string) (Quota, error)
	RecordAIResponse(ctx context.Context, companyID string) error
}

// StorePlans reads quotas from the company store.
type StorePlans struct {
	companies store.CompanyStore
}

// NewStorePlans creates a store-backed Plans implementation.
func NewStorePlans(companies store.CompanyStore) *StorePlans {
	return &StorePlans{companies: companies}
}

// Quota returns the company's monthly AI response quota.
func (p *StorePlans) Quota(ctx context.Context, companyID string) (Quota, error) {
	company, err := p.companies.GetCompany(ctx, companyID)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to load company: %w", err)
	}
	return Quota{
		Limit: company.AIResponsesPerMonth,
		Used:  company.AIResponsesThisMonth,
	}, nil
}

// RecordAIResponse bumps the monthly counter.
func (p *StorePlans) RecordAIResponse(ctx context.Context, companyID string) error {
	if _, err := p.companies.IncrementMonthlyAIResponses(ctx, companyID); err != nil {
		return fmt.Errorf("failed to record AI response: %w", err)
	}
	return nil
}
