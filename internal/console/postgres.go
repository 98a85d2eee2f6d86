package console

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cfdilab/cfdilab/internal/platform/db"
)

// PGExecutor runs statements inside a READ ONLY transaction that is always rolled back.
type PGExecutor struct {
	pool    *pgxpool.Pool
	maxRows int
}

// NewPGExecutor constructs PGExecutor. maxRows caps returned rows; zero means unlimited.
func NewPGExecutor(pool *pgxpool.Pool, maxRows int) *PGExecutor {
	return &PGExecutor{pool: pool, maxRows: maxRows}
}

func (e *PGExecutor) Query(ctx context.Context, sql string) ([]string, []map[string]any, error) {
	var (
		columns []string
		out     []map[string]any
	)
	err := db.WithReadOnlyTx(ctx, e.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, pgx.QueryExecModeSimpleProtocol)
		if err != nil {
			return err
		}
		defer rows.Close()
		for _, fd := range rows.FieldDescriptions() {
			columns = append(columns, fd.Name)
		}
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			row := make(map[string]any, len(values))
			for i, v := range values {
				row[columns[i]] = normalize(v)
			}
			out = append(out, row)
			if e.maxRows > 0 && len(out) >= e.maxRows {
				break
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

const tablesSQL = `SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES', c.column_default,
	EXISTS (
		SELECT 1 FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage k
			ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name AND k.column_name = c.column_name
	)
FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

func (e *PGExecutor) Tables(ctx context.Context) (map[string][]Column, error) {
	tables := make(map[string][]Column)
	err := db.WithReadOnlyTx(ctx, e.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, tablesSQL)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var table string
			var col Column
			if err := rows.Scan(&table, &col.Name, &col.Type, &col.Nullable, &col.Default, &col.PrimaryKey); err != nil {
				return err
			}
			tables[table] = append(tables[table], col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("console: list tables: %w", err)
	}
	return tables, nil
}

// normalize converts driver values into JSON-friendly ones.
func normalize(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if f, err := val.Float64Value(); err == nil && f.Valid {
			return f.Float64
		}
		return numericString(val)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return hex.EncodeToString(val)
	default:
		return v
	}
}

func numericString(n pgtype.Numeric) string {
	if n.Int == nil {
		return "0"
	}
	r := new(big.Rat).SetInt(n.Int)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(n.Exp))), nil)
	if n.Exp < 0 {
		r.Quo(r, new(big.Rat).SetInt(scale))
	} else {
		r.Mul(r, new(big.Rat).SetInt(scale))
	}
	return r.FloatString(int(max(0, -n.Exp)))
}

func abs(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
