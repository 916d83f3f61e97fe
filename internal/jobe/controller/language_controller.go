package controller

import (
	"jobe/internal/jobe/catalog"
	"jobe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// LanguageController lists the installed languages.
type LanguageController struct {
	catalog *catalog.Catalog
}

func NewLanguageController(c *catalog.Catalog) *LanguageController {
	return &LanguageController{catalog: c}
}

// List returns [[id, version], ...].
func (h *LanguageController) List(c *gin.Context) {
	langs, err := h.catalog.Languages(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, langs)
}
