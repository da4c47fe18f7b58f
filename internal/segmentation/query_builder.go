package segmentation

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const contactColumns = `c.id, c.company_id, c.name, c.email, c.phone, c.company,
			c.tags, c.is_active, c.created_at, c.last_activity_at`

// phoneDigitsSQL mirrors ValidPhone.
const phoneDigitsSQL = "length(regexp_replace(COALESCE(c.phone, ''), '[^0-9]', '', 'g')) BETWEEN 7 AND 15"

// QueryBuilder builds SQL for a ContactQuery. The id-only, filtered and
// pipeline variants are separate query shapes.
type QueryBuilder struct {
	args       []interface{}
	argCounter int
}

// NewQueryBuilder creates a new QueryBuilder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

func (qb *QueryBuilder) reset() {
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1
}

// BuildQuery returns the contacts matching q, newest first.
func (qb *QueryBuilder) BuildQuery(q ContactQuery) (string, []interface{}) {
	qb.reset()
	query := qb.selectClause(q, "") + qb.whereClause(q) + "\nORDER BY c.created_at DESC, c.id DESC"
	return query, qb.args
}

// BuildDetailQuery is BuildQuery plus the latest conversation activity per
// contact, capped at limit rows.
func (qb *QueryBuilder) BuildDetailQuery(q ContactQuery, limit int) (string, []interface{}) {
	qb.reset()
	activity := `,
			(SELECT MAX(cv.last_message_at) FROM conversations cv
			 WHERE cv.contact_id = c.id AND cv.company_id = c.company_id) AS last_conversation_at`
	query := qb.selectClause(q, activity) + qb.whereClause(q) + "\nORDER BY c.created_at DESC, c.id DESC"
	query += "\nLIMIT " + qb.nextArg(limit)
	return query, qb.args
}

func (qb *QueryBuilder) selectClause(q ContactQuery, extra string) string {
	if q.Mode == ModePipeline {
		return fmt.Sprintf(`
		SELECT DISTINCT %s%s
		FROM contacts c
		INNER JOIN deals d ON d.contact_id = c.id AND d.company_id = c.company_id`, contactColumns, extra)
	}
	return fmt.Sprintf(`
		SELECT %s%s
		FROM contacts c`, contactColumns, extra)
}

func (qb *QueryBuilder) whereClause(q ContactQuery) string {
	where := []string{
		fmt.Sprintf("c.company_id = %s", qb.nextArg(q.CompanyID)),
		"c.is_active = TRUE",
		phoneDigitsSQL,
	}

	if len(q.ContactIDs) > 0 {
		where = append(where, fmt.Sprintf("c.id = ANY(%s)", qb.nextArg(pq.Array(q.ContactIDs))))
	}

	if q.Mode != ModeByIDs {
		if len(q.Tags) > 0 {
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM unnest(c.tags) AS t(tag) WHERE lower(btrim(t.tag)) = ANY(%s))",
				qb.nextArg(pq.Array(q.Tags))))
		}
		if q.CreatedAfter != nil {
			where = append(where, fmt.Sprintf("c.created_at >= %s", qb.nextArg(*q.CreatedAfter)))
		}
		if q.CreatedBefore != nil {
			where = append(where, fmt.Sprintf("c.created_at <= %s", qb.nextArg(*q.CreatedBefore)))
		}
		if q.Mode == ModePipeline {
			where = append(where, fmt.Sprintf("d.stage_id = ANY(%s)", qb.nextArg(pq.Array(q.StageIDs))))
		}
	}

	if len(q.ExcludedIDs) > 0 {
		where = append(where, fmt.Sprintf("NOT (c.id = ANY(%s))", qb.nextArg(pq.Array(q.ExcludedIDs))))
	}

	return "\nWHERE " + strings.Join(where, "\n  AND ")
}
