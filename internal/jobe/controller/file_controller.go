package controller

import (
	"net/http"

	"jobe/internal/jobe/service"
	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type putFileRequest struct {
	FileContents *string `json:"file_contents"`
}

// FileController handles the file cache resource.
type FileController struct {
	svc *service.FileService
}

func NewFileController(svc *service.FileService) *FileController {
	return &FileController{svc: svc}
}

// Put stores base-64 file contents under the id in the URL.
func (h *FileController) Put(c *gin.Context) {
	var req putFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.New(appErr.RequiredFieldEmpty).WithMessage("put: missing file_contents parameter"))
		return
	}
	if err := h.svc.Put(c.Request.Context(), c.Param("id"), req.FileContents); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Head reports whether the id is cached, with no body either way.
func (h *FileController) Head(c *gin.Context) {
	if h.svc.Exists(c.Request.Context(), c.Param("id")) {
		c.Status(http.StatusNoContent)
		return
	}
	c.Status(http.StatusNotFound)
}
