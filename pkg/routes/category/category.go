package category

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/models"
)

// Register registers category routes
func Register(g *echo.Group) {
	g.GET("", List)
}

// List returns display metadata and alias suggestions for every node category.
func List(c echo.Context) error {
	return c.JSON(http.StatusOK, models.AllCategoryMetadata())
}
