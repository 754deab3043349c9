package pagination

import (
	"fmt"
	"strconv"

	"teamchat-backend/pkg/constants"
)

// Params is a clamped limit/offset window
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Parse reads limit and offset query values. Empty values take the defaults,
// limit is clamped to [1, MaxPageSize] and a negative offset becomes 0.
// A page value, when given, overrides offset as (page-1)*limit.
func Parse(limitStr, offsetStr, pageStr string) (Params, error) {
	p := Params{Limit: constants.DefaultPageSize}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit parameter: %w", err)
		}
		p.Limit = min(max(l, 1), constants.MaxPageSize)
	}

	if offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid offset parameter: %w", err)
		}
		p.Offset = max(o, 0)
	}

	if pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid page parameter: %w", err)
		}
		p.Offset = (max(page, 1) - 1) * p.Limit
	}

	return p, nil
}
