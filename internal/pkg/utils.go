package pkg

import (
	"strconv"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ParsePagination reads page/limit query values. page starts at 1.
func ParsePagination(pageStr, limitStr string) (page int, limit int) {
	page, _ = strconv.Atoi(pageStr)
	if page < 1 {
		page = 1
	}

	limit, _ = strconv.Atoi(limitStr)
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	return page, limit
}

func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}
