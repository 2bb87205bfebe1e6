package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"prop-ledger/models"
	"prop-ledger/observability"
)

// planFile is the layout of the offline plan catalog
type planFile struct {
	Plans []models.Plan `yaml:"plans"`
}

// PlanCatalog serves the read-only plan reference data. The backend is
// authoritative; the last good answer is kept in memory and an optional YAML
// file covers a backend that has never answered.
type PlanCatalog struct {
	fetcher PlanFetcher
	file    string

	mu    sync.RWMutex
	plans []models.Plan
}

// NewPlanCatalog creates a catalog. fetcher or file may be empty, not both.
func NewPlanCatalog(fetcher PlanFetcher, file string) *PlanCatalog {
	return &PlanCatalog{fetcher: fetcher, file: file}
}

// Plans returns the current catalog
func (c *PlanCatalog) Plans(ctx context.Context) ([]models.Plan, error) {
	if c.fetcher != nil {
		plans, err := c.fetcher.FetchPlans(ctx)
		if err == nil {
			c.store(plans)
			return clonePlans(plans), nil
		}
		if cached := c.cached(); cached != nil {
			observability.Warn("plan catalog unavailable, serving last known plans", "error", err)
			return cached, nil
		}
		if c.file == "" {
			return nil, fmt.Errorf("failed to fetch plans: %w", err)
		}
		observability.Warn("plan catalog unavailable, reading plans file", "file", c.file, "error", err)
	}

	plans, err := LoadPlansFile(c.file)
	if err != nil {
		return nil, err
	}
	c.store(plans)
	return clonePlans(plans), nil
}

// Find returns the plan matching the account's plan id, or its name when the
// backend only reported a name.
func (c *PlanCatalog) Find(ctx context.Context, account *models.ChallengeAccount) (*models.Plan, error) {
	if account == nil {
		return nil, nil
	}
	plans, err := c.Plans(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if account.PlanID != "" && plans[i].ID == account.PlanID {
			return &plans[i], nil
		}
	}
	for i := range plans {
		if account.PlanName != "" && strings.EqualFold(plans[i].Name, account.PlanName) {
			return &plans[i], nil
		}
	}
	return nil, nil
}

// LoadPlansFile reads a YAML plan catalog
func LoadPlansFile(path string) ([]models.Plan, error) {
	if path == "" {
		return nil, fmt.Errorf("no plans file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	return f.Plans, nil
}

func (c *PlanCatalog) store(plans []models.Plan) {
	c.mu.Lock()
	c.plans = clonePlans(plans)
	c.mu.Unlock()
}

func (c *PlanCatalog) cached() []models.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.plans == nil {
		return nil
	}
	return clonePlans(c.plans)
}

func clonePlans(in []models.Plan) []models.Plan {
	return append([]models.Plan(nil), in...)
}
