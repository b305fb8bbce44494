package stream

import (
	"fmt"
	"strings"
)

// Predicate is one `column op $N` fragment of a WHERE clause, built
// with its own parameter so QueryBuilder can assign placeholder indexes
// as predicates are added.
type Predicate struct {
	Expr string
	Args []any
}

// Eq returns a predicate matching column = value.
func Eq(column string, value any) Predicate {
	return Predicate{Expr: column + " = ", Args: []any{value}}
}

// Gt returns a predicate matching column > value.
func Gt(column string, value any) Predicate {
	return Predicate{Expr: column + " > ", Args: []any{value}}
}

// In returns a predicate matching column = ANY(values).
func In(column string, values ...any) Predicate {
	return Predicate{Expr: column + " = ANY(", Args: []any{values}}
}

// OrderDirection is the ORDER BY direction for a single column.
type OrderDirection string

const (
	Asc  OrderDirection = "ASC"
	Desc OrderDirection = "DESC"
)

// OrderTerm is one column of an ORDER BY clause.
type OrderTerm struct {
	Column    string
	Direction OrderDirection
}

// QueryBuilder composes `SELECT <projection> FROM <entity> [WHERE ...]
// [ORDER BY ...] [LIMIT n] [OFFSET m]` for the single-"data"-column
// read path, parameterizing every predicate with incremental $N
// placeholders.
type QueryBuilder struct {
	entity     string
	projection string
	predicates []Predicate
	order      []OrderTerm
	limit      *int
	offset     *int
	whereGo    func(doc []byte) bool
}

// NewQueryBuilder starts a builder over entity (a view or table name),
// defaulting projection to "data".
func NewQueryBuilder(entity string) *QueryBuilder {
	return &QueryBuilder{entity: entity, projection: "data"}
}

// Project overrides the default "data" projection with a
// database-specific expression that must alias its result "data" (e.g.
// `jsonb_build_object('id', id)`).
func (b *QueryBuilder) Project(expr string) *QueryBuilder {
	b.projection = expr
	return b
}

// Where adds a predicate, ANDed with any others already present.
func (b *QueryBuilder) Where(p Predicate) *QueryBuilder {
	b.predicates = append(b.predicates, p)
	return b
}

// OrderBy appends an ORDER BY term.
func (b *QueryBuilder) OrderBy(column string, dir OrderDirection) *QueryBuilder {
	b.order = append(b.order, OrderTerm{Column: column, Direction: dir})
	return b
}

// Limit sets LIMIT n.
func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	b.limit = &n
	return b
}

// Offset sets OFFSET m.
func (b *QueryBuilder) Offset(m int) *QueryBuilder {
	b.offset = &m
	return b
}

// WhereGo attaches a post-SQL predicate evaluated against each streamed
// JSON document after it leaves the database; it never affects the SQL
// this builder produces.
func (b *QueryBuilder) WhereGo(pred func(doc []byte) bool) *QueryBuilder {
	b.whereGo = pred
	return b
}

// GoPredicate returns the attached post-SQL predicate, or nil.
func (b *QueryBuilder) GoPredicate() func(doc []byte) bool { return b.whereGo }

// Build renders the final SQL string and its positional arguments.
func (b *QueryBuilder) Build() (string, []any) {
	var sql strings.Builder
	args := make([]any, 0, len(b.predicates))
	argIndex := 1

	projection := b.projection
	if projection != "data" {
		projection = fmt.Sprintf("%s AS data", projection)
	}
	fmt.Fprintf(&sql, "SELECT %s FROM %s", projection, b.entity)

	if len(b.predicates) > 0 {
		conditions := make([]string, 0, len(b.predicates))
		for _, p := range b.predicates {
			placeholders := make([]string, len(p.Args))
			for i := range p.Args {
				placeholders[i] = fmt.Sprintf("$%d", argIndex)
				argIndex++
			}
			expr := p.Expr + strings.Join(placeholders, ", ")
			if strings.HasSuffix(p.Expr, "(") {
				expr += ")"
			}
			conditions = append(conditions, expr)
			args = append(args, p.Args...)
		}
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(conditions, " AND "))
	}

	if len(b.order) > 0 {
		terms := make([]string, len(b.order))
		for i, t := range b.order {
			dir := t.Direction
			if dir == "" {
				dir = Asc
			}
			terms[i] = fmt.Sprintf("%s %s", t.Column, dir)
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(terms, ", "))
	}

	if b.limit != nil {
		fmt.Fprintf(&sql, " LIMIT %d", *b.limit)
	}
	if b.offset != nil {
		fmt.Fprintf(&sql, " OFFSET %d", *b.offset)
	}

	return sql.String(), args
}
