package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lenmanean/logbloga/services"
)

type DownloadController struct {
	downloads services.DownloadService
}

func NewDownloadController(downloads services.DownloadService) *DownloadController {
	return &DownloadController{downloads: downloads}
}

// Download answers with the signed URL as JSON, or redirects to it when the
// client asks with ?redirect=1.
func (dc *DownloadController) Download(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	link, err := dc.downloads.IssueDownloadURL(c.Request.Context(), services.DownloadRequest{
		Key:       c.Param("key"),
		UserID:    userID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Cache-Control", "no-store")
	if c.Query("redirect") == "1" {
		c.Redirect(http.StatusFound, link.URL)
		return
	}
	c.JSON(http.StatusOK, link)
}
