package controller

import (
	"jobe/internal/jobe/model"
	"jobe/internal/jobe/service"
	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RunController handles run submissions.
type RunController struct {
	svc *service.RunService
}

func NewRunController(svc *service.RunService) *RunController {
	return &RunController{svc: svc}
}

// Create runs one job and returns its result. Any completed run, including
// an overloaded one, is a 200.
func (h *RunController) Create(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.InvalidFormat, "Non-JSON post data received"))
		return
	}
	res, err := h.svc.Run(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
