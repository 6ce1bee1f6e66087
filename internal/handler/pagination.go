package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// pageParams reads ?page and ?per_page, falling back to the defaults on
// missing or out-of-range values.
func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return page, perPage
}
