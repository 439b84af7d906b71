package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
	"kalitaforms/internal/reference"
)

// Store хранит записи в Postgres: таблица на сущность, поля в колонках.
// Нет записи: обёрнутый form.ErrNotFound; дубль id: form.ErrConflict.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

func NewStore(db *sql.DB, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, log: log}
}

func selectList(t *dsl.Table) (string, []dsl.Field) {
	fields := dataFields(t)
	cols := []string{sqlIdent(colID), sqlIdent(colVersion), sqlIdent(colCreatedAt), sqlIdent(colUpdatedAt)}
	for _, f := range fields {
		cols = append(cols, sqlIdent(f.Name))
	}
	return strings.Join(cols, ", "), fields
}

func (s *Store) Get(ctx context.Context, t *dsl.Table, id string) (map[string]any, error) {
	cols, fields := selectList(t)
	q := fmt.Sprintf("select %s from %s where id = $1", cols, relation(t))

	var (
		rid       string
		version   int64
		createdAt time.Time
		updatedAt time.Time
	)
	vals := make([]any, len(fields))
	dest := []any{&rid, &version, &createdAt, &updatedAt}
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	err := s.db.QueryRowContext(ctx, q, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(form.ErrNotFound, "record %s/%s", t.FQN(), id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", t.FQN(), id)
	}

	out := map[string]any{
		idFieldOf(t): rid,
		colVersion:   version,
		colCreatedAt: createdAt.UTC().Format(time.RFC3339),
		colUpdatedAt: updatedAt.UTC().Format(time.RFC3339),
	}
	for i, f := range fields {
		out[f.Name] = fromColumn(f, vals[i])
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, t *dsl.Table, id string, data map[string]any) error {
	cols := []string{sqlIdent(colID)}
	args := []any{id}
	for _, f := range dataFields(t) {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		cv, err := toColumn(f, v)
		if err != nil {
			return err
		}
		cols = append(cols, sqlIdent(f.Name))
		args = append(args, cv)
	}
	ph := make([]string, len(args))
	for i := range ph {
		ph[i] = "$" + strconv.Itoa(i+1)
	}
	q := fmt.Sprintf("insert into %s (%s) values (%s)", relation(t), strings.Join(cols, ", "), strings.Join(ph, ", "))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return s.mapErr(err, t, id)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, t *dsl.Table, id string, patch map[string]any) error {
	sets := []string{`"version" = "version" + 1`, `"updated_at" = now()`}
	args := []any{}
	for _, f := range dataFields(t) {
		v, ok := patch[f.Name]
		if !ok {
			continue
		}
		cv, err := toColumn(f, v)
		if err != nil {
			return err
		}
		args = append(args, cv)
		sets = append(sets, fmt.Sprintf("%s = $%d", sqlIdent(f.Name), len(args)))
	}
	args = append(args, id)
	q := fmt.Sprintf("update %s set %s where id = $%d", relation(t), strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return s.mapErr(err, t, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(form.ErrNotFound, "record %s/%s", t.FQN(), id)
	}
	return nil
}

// Search: ilike по ключу и подписи, по возрастанию ключа.
func (s *Store) Search(ctx context.Context, t *dsl.Table, term, displayField string, limit int) ([]reference.Suggestion, error) {
	label := sqlIdent(colID)
	if f, ok := t.Field(displayField); ok && displayField != idFieldOf(t) {
		label = fmt.Sprintf("coalesce(nullif(trim(%s::text), ''), id)", sqlIdent(f.Name))
	}
	if limit <= 0 {
		limit = 20
	}
	q := fmt.Sprintf(`select id, %[1]s from %[2]s
where $1 = '' or id ilike $2 or %[1]s ilike $2
order by id limit $3`, label, relation(t))

	rows, err := s.db.QueryContext(ctx, q, term, "%"+likeEscape(term)+"%", limit)
	if err != nil {
		return nil, errors.Wrapf(err, "search %s", t.FQN())
	}
	defer rows.Close()

	var out []reference.Suggestion
	for rows.Next() {
		var id, lbl string
		if err := rows.Scan(&id, &lbl); err != nil {
			return nil, errors.Wrap(err, "scan suggestion")
		}
		sg := reference.Suggestion{Value: id, Label: lbl}
		if lbl != id {
			sg.Description = id
		}
		out = append(out, sg)
	}
	return out, errors.Wrap(rows.Err(), "search rows")
}

func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	q := fmt.Sprintf(`insert into %[1]s ("key", "value") values ($1, 1)
on conflict ("key") do update set "value" = %[1]s."value" + 1
returning "value"`, SeriesTable)
	var n int64
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "next sequence %s", key)
	}
	return n, nil
}

// mapErr переводит ошибки Postgres в ошибки форм.
func (s *Store) mapErr(err error, t *dsl.Table, id string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return errors.Wrapf(err, "write %s/%s", t.FQN(), id)
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		if pgErr.ConstraintName == safeTable(t.Name)+"_pkey" {
			return errors.Wrapf(form.ErrConflict, "record %s/%s", t.FQN(), id)
		}
		return &form.ValidationError{Errors: []form.FieldError{{
			Code:    form.ErrNotUnique,
			Field:   fieldOfConstraint(t, pgErr.ConstraintName, "_uq"),
			Message: "Value must be unique",
		}}}
	case "23503": // foreign_key_violation
		field := fieldOfConstraint(t, pgErr.ConstraintName, "_fk")
		return &form.ValidationError{Errors: []form.FieldError{{
			Code:    form.ErrNotFoundCode,
			Field:   field,
			Message: "Referenced record not found",
		}}}
	}
	s.log.WithFields(logrus.Fields{"table": t.FQN(), "code": pgErr.Code}).Warn(pgErr.Message)
	return errors.Wrapf(err, "write %s/%s", t.FQN(), id)
}

// fieldOfConstraint: поле по имени ограничения "<entity>_<field><suffix>".
func fieldOfConstraint(t *dsl.Table, constraint, suffix string) string {
	prefix := strings.ToLower(t.Name) + "_"
	name := strings.TrimSuffix(strings.TrimPrefix(constraint, prefix), suffix)
	for _, f := range t.Fields {
		if strings.ToLower(f.Name) == name {
			return f.Name
		}
	}
	return ""
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// toColumn приводит значение патча к типу колонки.
func toColumn(f dsl.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Gallery {
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		return string(b), errors.Wrapf(err, "field %s", f.Name)
	}
	bad := func() error {
		return &form.ValidationError{Errors: []form.FieldError{{
			Code:    form.ErrTypeMismatch,
			Field:   f.Name,
			Message: fmt.Sprintf("%s: unexpected value %v", f.DisplayLabel(), v),
		}}}
	}
	switch f.Type {
	case dsl.TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, bad()
			}
			return int64(n), nil
		case string:
			if strings.TrimSpace(n) == "" {
				return nil, nil
			}
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, bad()
			}
			return i, nil
		}
		return nil, bad()
	case dsl.TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case string:
			if strings.TrimSpace(n) == "" {
				return nil, nil
			}
			x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, bad()
			}
			return x, nil
		}
		return nil, bad()
	case dsl.TypeCheck:
		switch c := v.(type) {
		case bool:
			if c {
				return int64(1), nil
			}
			return int64(0), nil
		case int:
			return int64(c), nil
		case int64:
			return c, nil
		case float64:
			return int64(c), nil
		}
		return nil, bad()
	case dsl.TypeDate:
		s, ok := v.(string)
		if !ok {
			return nil, bad()
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		d, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			return nil, bad()
		}
		return d, nil
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case map[string]any, []any:
			b, err := json.Marshal(x)
			return string(b), errors.Wrapf(err, "field %s", f.Name)
		default:
			return fmt.Sprint(x), nil
		}
	}
}

// fromColumn: значение колонки в виде, который понимает форма.
func fromColumn(f dsl.Field, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if f.Type == dsl.TypeDate {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return x
	}
}
