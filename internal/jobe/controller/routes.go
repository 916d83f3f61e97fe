package controller

import "github.com/gin-gonic/gin"

// Handlers groups the controllers mounted under a REST prefix.
type Handlers struct {
	Runs      *RunController
	Files     *FileController
	Languages *LanguageController
	// Throttle guards run submissions; nil means no check.
	Throttle gin.HandlerFunc
}

// Register mounts the REST resources on group.
func Register(group *gin.RouterGroup, h Handlers) {
	group.GET("/languages", h.Languages.List)

	runs := []gin.HandlerFunc{h.Runs.Create}
	if h.Throttle != nil {
		runs = append([]gin.HandlerFunc{h.Throttle}, runs...)
	}
	group.POST("/runs", runs...)

	group.PUT("/files/:id", h.Files.Put)
	group.HEAD("/files/:id", h.Files.Head)
}
