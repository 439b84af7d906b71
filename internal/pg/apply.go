package pg

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
)

// ApplyDDL выполняет map[key]sql по возрастанию ключей. Ожидается
// идемпотентный DDL (create ... if not exists).
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log logrus.FieldLogger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// duplicate_object (42710): ограничение уже есть
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				log.WithFields(logrus.Fields{"step": k, "constraint": pgErr.ConstraintName}).
					Debugf("DDL skipped (already exists): %s", strings.TrimSpace(pgErr.Message))
				continue
			}
			return errors.Wrapf(err, "DDL apply failed at %s", k)
		}
		log.WithField("step", k).Debug("DDL applied")
	}
	return nil
}

// Migrate создаёт недостающие схемы, таблицы и внешние ключи каталога.
// Только добавление: существующие колонки не меняются.
func Migrate(ctx context.Context, db *sql.DB, tables map[string]*dsl.Table, log logrus.FieldLogger) error {
	ddl, err := GenerateDDL(tables)
	if err != nil {
		return errors.Wrap(err, "generate DDL")
	}
	if err := ApplyDDL(ctx, db, ddl, log); err != nil {
		return err
	}
	log.WithField("tables", len(tables)).Info("schema migrated")
	return nil
}
