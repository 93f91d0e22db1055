package store

import "fmt"

const summaryColumns = `key, text, origin, is_placeholder, created_at`

// conflictClause renders the ON CONFLICT tail shared by the SQL backends.
func conflictClause(policy WritePolicy) string {
	update := `DO UPDATE SET
			text=excluded.text,
			origin=excluded.origin,
			is_placeholder=excluded.is_placeholder,
			created_at=excluded.created_at`
	switch policy {
	case WriteForce:
		return "ON CONFLICT (key) " + update
	case WriteReplacePlaceholder:
		return "ON CONFLICT (key) " + update + "\n\t\tWHERE summaries.is_placeholder"
	default:
		return "ON CONFLICT (key) DO NOTHING"
	}
}

func upsertSQL(policy WritePolicy, values string) string {
	return fmt.Sprintf(`INSERT INTO summaries (%s) VALUES (%s)
		%s
		RETURNING %s`, summaryColumns, values, conflictClause(policy), summaryColumns)
}
