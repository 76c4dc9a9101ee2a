package vocabulary

import (
	"context"
	"database/sql"
	"fmt"
)

const postgresSource = "postgres"

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadSQL reads billable codes and their inclusion terms and includes notes
// from the diagnosis tables. Run it inside a read-only transaction so both
// queries see the same snapshot.
func LoadSQL(ctx context.Context, q Querier) (*Store, error) {
	records, byID, err := queryCodes(ctx, q)
	if err != nil {
		return nil, &LoadError{Source: postgresSource, Record: -1, Reason: "querying diagnosis codes", Err: err}
	}
	if err := querySynonyms(ctx, q, records, byID); err != nil {
		return nil, &LoadError{Source: postgresSource, Record: -1, Reason: "querying diagnosis synonyms", Err: err}
	}
	return NewStore(postgresSource, records)
}

func queryCodes(ctx context.Context, q Querier) ([]Record, map[int64]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, code, name
		FROM diagnosis_code
		WHERE billable = true
		ORDER BY code`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var records []Record
	byID := make(map[int64]int)
	for rows.Next() {
		var id int64
		var rec Record
		var name sql.NullString
		if err := rows.Scan(&id, &rec.Code, &name); err != nil {
			return nil, nil, fmt.Errorf("scanning diagnosis_code row: %w", err)
		}
		rec.Description = name.String
		byID[id] = len(records)
		records = append(records, rec)
	}
	return records, byID, rows.Err()
}

func querySynonyms(ctx context.Context, q Querier, records []Record, byID map[int64]int) error {
	rows, err := q.QueryContext(ctx, `
		SELECT diagnosis_code_id, note FROM diagnosis_inclusion_term
		UNION ALL
		SELECT diagnosis_code_id, note FROM diagnosis_includes_notes
		ORDER BY 1, 2`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var codeID int64
		var note string
		if err := rows.Scan(&codeID, &note); err != nil {
			return fmt.Errorf("scanning synonym row: %w", err)
		}
		// Notes of non-billable categories have no record.
		if i, ok := byID[codeID]; ok {
			records[i].Synonyms = append(records[i].Synonyms, note)
		}
	}
	return rows.Err()
}
