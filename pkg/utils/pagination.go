package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// HistoryParams carries cursor pagination parameters for message history.
type HistoryParams struct {
	Cursor string
	Limit  int
	Oldest bool // true: oldest first; default is newest first
}

func GetHistoryParams(c echo.Context) HistoryParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return HistoryParams{
		Cursor: c.QueryParam("cursor"),
		Limit:  limit,
		Oldest: c.QueryParam("order") == "oldest",
	}
}
