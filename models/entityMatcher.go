package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"github.com/agnivade/levenshtein"
)

// matchFloor is the minimum acceptability score. Below it a guess resolves to
// nothing, which routes the document to review; the matcher never creates
// entities from unverified AI text.
const matchFloor = 0.5

type MatchResult struct {
	EntityId int
	Score    float64
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// matchScore combines exact case-insensitive equality (1.0) with the better of
// token overlap and normalized edit distance for fuzzy candidates.
func matchScore(guess, candidate string) float64 {
	g := normalizeName(guess)
	c := normalizeName(candidate)
	if g == "" || c == "" {
		return 0
	}
	if g == c {
		return 1.0
	}

	overlap := tokenOverlap(g, c)
	dist := levenshtein.ComputeDistance(g, c)
	longest := len(g)
	if len(c) > longest {
		longest = len(c)
	}
	editScore := 1 - float64(dist)/float64(longest)

	if overlap > editScore {
		return overlap
	}
	return editScore
}

func tokenOverlap(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		setA[t] = true
	}
	union := make(map[string]bool, len(tokensA)+len(tokensB))
	for t := range setA {
		union[t] = true
	}
	shared := 0
	for _, t := range tokensB {
		if setA[t] {
			shared++
		}
		union[t] = true
	}
	return float64(shared) / float64(len(union))
}

type matchCandidate struct {
	id            int
	name          string
	lastMatchedAt *time.Time
}

// bestMatch picks the highest-scoring candidate above the floor. Ties break
// toward the most-recently-used entity, which reduces ambiguity for repeat
// customers and items.
func bestMatch(guess string, candidates []matchCandidate) (MatchResult, bool) {
	var best MatchResult
	var bestMRU *time.Time
	found := false

	for _, candidate := range candidates {
		score := matchScore(guess, candidate.name)
		if score < matchFloor {
			continue
		}
		if !found || score > best.Score ||
			(score == best.Score && moreRecent(candidate.lastMatchedAt, bestMRU)) {
			best = MatchResult{EntityId: candidate.id, Score: score}
			bestMRU = candidate.lastMatchedAt
			found = true
		}
	}
	return best, found
}

func moreRecent(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// MatchCustomer resolves a free-text customer name guess to a canonical
// customer id. Returns false when nothing scores above the floor.
func MatchCustomer(ctx context.Context, nameGuess string) (MatchResult, bool, error) {
	db := config.GetDB()

	var customers []*Customer
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&customers).Error; err != nil {
		return MatchResult{}, false, err
	}

	candidates := make([]matchCandidate, 0, len(customers))
	for _, c := range customers {
		candidates = append(candidates, matchCandidate{id: c.ID, name: c.Name, lastMatchedAt: c.LastMatchedAt})
	}

	result, ok := bestMatch(nameGuess, candidates)
	if !ok {
		return MatchResult{}, false, nil
	}

	now := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&Customer{}).
		Where("id = ?", result.EntityId).
		Update("last_matched_at", &now).Error; err != nil {
		config.LogError(config.GetLogger(), "entityMatcher.go", "MatchCustomer", "touch mru", result.EntityId, err)
	}
	return result, true, nil
}

// MatchItem resolves an extracted line description to an inventory item id.
func MatchItem(ctx context.Context, descriptionGuess string) (MatchResult, bool, error) {
	db := config.GetDB()

	var items []*InventoryItem
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&items).Error; err != nil {
		return MatchResult{}, false, err
	}

	candidates := make([]matchCandidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, matchCandidate{id: item.ID, name: item.Name, lastMatchedAt: item.LastMatchedAt})
	}

	result, ok := bestMatch(descriptionGuess, candidates)
	if !ok {
		return MatchResult{}, false, nil
	}

	now := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&InventoryItem{}).
		Where("id = ?", result.EntityId).
		Update("last_matched_at", &now).Error; err != nil {
		config.LogError(config.GetLogger(), "entityMatcher.go", "MatchItem", "touch mru", result.EntityId, err)
	}
	return result, true, nil
}
