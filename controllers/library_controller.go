package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/services"
)

type LibraryController struct {
	licenses services.LicenseService
}

func NewLibraryController(licenses services.LicenseService) *LibraryController {
	return &LibraryController{licenses: licenses}
}

func (lc *LibraryController) ListLicenses(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	licenses, err := lc.licenses.ListUserLicenses(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}

func (lc *LibraryController) CheckAccess(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	hasAccess, err := lc.licenses.UserHasActiveLicense(c.Request.Context(), userID, productID)
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "has_access": hasAccess})
}

func (lc *LibraryController) GetLicense(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	license, err := lc.licenses.GetLicenseByKey(c.Request.Context(), userID, c.Param("key"))
	switch {
	case errors.Is(err, services.ErrInvalidLicenseKey):
		_ = c.Error(apperrors.BadRequest("Invalid license key format"))
		return
	case errors.Is(err, services.ErrLicenseNotFound):
		_ = c.Error(apperrors.NotFound("License not found"))
		return
	case err != nil:
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": license})
}
