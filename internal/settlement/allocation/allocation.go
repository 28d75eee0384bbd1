// Package allocation decides how a requested quantity of one medicine is drawn
// from its stocked batches.
package allocation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/medilink-backend/pkg/db/models"
)

// Policy selects the order batches are drained in.
type Policy string

const (
	// PolicyRetrieval keeps the order the store returned.
	PolicyRetrieval Policy = "retrieval"
	// PolicyOldestFirst drains by created_at, then id.
	PolicyOldestFirst Policy = "oldest_first"
	// PolicyLargestFirst drains by stock descending, then created_at, then id.
	PolicyLargestFirst Policy = "largest_first"
)

// ErrInvalidQuantity is returned for a requested quantity below one.
var ErrInvalidQuantity = errors.New("allocation: quantity must be at least 1")

// InsufficientStockError reports that the batches cannot cover the request.
type InsufficientStockError struct {
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("allocation: requested %d but only %d available", e.Requested, e.Available)
}

// Entry is the quantity drawn from one batch.
type Entry struct {
	BatchID     uuid.UUID
	Quantity    int
	StockBefore int
	StockAfter  int
}

// Plan is an ordered list of entries whose quantities sum to the request.
type Plan []Entry

// Total returns the units the plan draws.
func (p Plan) Total() int {
	total := 0
	for _, entry := range p {
		total += entry.Quantity
	}
	return total
}

// Allocator builds plans under one policy. It holds no state between calls.
type Allocator struct {
	policy Policy
}

// New returns an allocator for policy. An empty policy means PolicyRetrieval.
func New(policy Policy) (*Allocator, error) {
	parsed, err := ParsePolicy(string(policy))
	if err != nil {
		return nil, err
	}
	return &Allocator{policy: parsed}, nil
}

// ParsePolicy matches a policy name case-insensitively.
func ParsePolicy(value string) (Policy, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return PolicyRetrieval, nil
	}
	for _, candidate := range []Policy{PolicyRetrieval, PolicyOldestFirst, PolicyLargestFirst} {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unknown allocation policy %q", value)
}

// Policy returns the configured policy.
func (a *Allocator) Policy() Policy {
	return a.policy
}

// Allocate draws requested units from batches. Batches with no stock are
// skipped. The input slice is not modified.
func (a *Allocator) Allocate(requested int, batches []models.MedicineBatch) (Plan, error) {
	if requested <= 0 {
		return nil, ErrInvalidQuantity
	}

	available := 0
	candidates := make([]models.MedicineBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.Stock <= 0 {
			continue
		}
		available += batch.Stock
		candidates = append(candidates, batch)
	}
	if available < requested {
		return nil, &InsufficientStockError{Requested: requested, Available: available}
	}

	a.order(candidates)

	plan := make(Plan, 0, len(candidates))
	remaining := requested
	for _, batch := range candidates {
		if remaining == 0 {
			break
		}
		take := min(remaining, batch.Stock)
		plan = append(plan, Entry{
			BatchID:     batch.ID,
			Quantity:    take,
			StockBefore: batch.Stock,
			StockAfter:  batch.Stock - take,
		})
		remaining -= take
	}
	return plan, nil
}

func (a *Allocator) order(batches []models.MedicineBatch) {
	switch a.policy {
	case PolicyOldestFirst:
		sort.SliceStable(batches, func(i, j int) bool {
			return olderThan(batches[i], batches[j])
		})
	case PolicyLargestFirst:
		sort.SliceStable(batches, func(i, j int) bool {
			if batches[i].Stock != batches[j].Stock {
				return batches[i].Stock > batches[j].Stock
			}
			return olderThan(batches[i], batches[j])
		})
	}
}

func olderThan(a, b models.MedicineBatch) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
