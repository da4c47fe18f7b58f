package segmentation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/campaign-engine/internal/domain"
)

func TestBuildQuery_ByIDs(t *testing.T) {
	q := Plan(10, domain.SegmentCriteria{ContactIDs: []int64{1, 2}})
	sql, args := NewQueryBuilder().BuildQuery(q)

	assert.Contains(t, sql, "c.company_id = $1")
	assert.Contains(t, sql, "c.is_active = TRUE")
	assert.Contains(t, sql, "BETWEEN 7 AND 15")
	assert.Contains(t, sql, "c.id = ANY($2)")
	assert.NotContains(t, sql, "unnest")
	assert.NotContains(t, sql, "JOIN deals")
	assert.Len(t, args, 2)
	assert.Equal(t, int64(10), args[0])
}

func TestBuildQuery_Filtered(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	q := Plan(10, domain.SegmentCriteria{
		ContactIDs:         []int64{1, 2, 3},
		Tags:               []string{"VIP"},
		CreatedAfter:       &after,
		CreatedBefore:      &before,
		ExcludedContactIDs: []int64{9},
	})
	sql, args := NewQueryBuilder().BuildQuery(q)

	assert.Contains(t, sql, "c.id = ANY($2)")
	assert.Contains(t, sql, "lower(btrim(t.tag)) = ANY($3)")
	assert.Contains(t, sql, "c.created_at >= $4")
	assert.Contains(t, sql, "c.created_at <= $5")
	assert.Contains(t, sql, "NOT (c.id = ANY($6))")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY c.created_at DESC, c.id DESC"))
	assert.Len(t, args, 6)
	assert.Equal(t, after, args[3])
}

func TestBuildQuery_Pipeline(t *testing.T) {
	q := Plan(10, domain.SegmentCriteria{PipelineStageIDs: []int64{4}})
	sql, args := NewQueryBuilder().BuildQuery(q)

	assert.Contains(t, sql, "SELECT DISTINCT")
	assert.Contains(t, sql, "INNER JOIN deals d ON d.contact_id = c.id")
	assert.Contains(t, sql, "d.stage_id = ANY($2)")
	assert.Len(t, args, 2)
}

func TestBuildDetailQuery(t *testing.T) {
	q := Plan(10, domain.SegmentCriteria{Tags: []string{"vip"}})
	sql, args := NewQueryBuilder().BuildDetailQuery(q, 25)

	assert.Contains(t, sql, "AS last_conversation_at")
	assert.True(t, strings.HasSuffix(sql, "LIMIT $3"))
	assert.Equal(t, 25, args[len(args)-1])
}

func TestQueryBuilder_ResetsBetweenBuilds(t *testing.T) {
	qb := NewQueryBuilder()
	q := Plan(10, domain.SegmentCriteria{ContactIDs: []int64{1}})
	first, _ := qb.BuildQuery(q)
	second, args := qb.BuildQuery(q)
	assert.Equal(t, first, second)
	assert.Len(t, args, 2)
}
