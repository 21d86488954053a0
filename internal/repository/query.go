package repository

import (
	"database/sql"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// paging normalises page/size the same way for every list query.
func paging(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return page, size, (page - 1) * size
}

func sortColumn(allowed map[string]string, requested, fallback string) string {
	if column, ok := allowed[requested]; ok {
		return column
	}
	return allowed[fallback]
}

func sortDirection(requested string) string {
	if strings.EqualFold(requested, "DESC") {
		return "DESC"
	}
	return "ASC"
}

// validID rejects identifiers PostgreSQL would refuse to cast to UUID, so a
// malformed path parameter reads as "not found" instead of a driver error.
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return sql.ErrNoRows
	}
	return nil
}
