package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/fan-verify/internal/apperr"
	"github.com/example/fan-verify/internal/visionclassifier"
)

const (
	documentField = "idDocument"
	selfieField   = "selfie"

	// multipartOverhead covers boundaries and part headers on top of the images.
	multipartOverhead = 1 << 20
)

type saveResultRequest struct {
	FaceVerified *bool    `json:"faceVerified" binding:"required"`
	Confidence   *float64 `json:"confidence"`
}

func (s *server) verifyIdentity(c *gin.Context) {
	userID := sessionUserID(c)
	if userID == "" {
		s.respondError(c, apperr.New(apperr.KindAuth, "no user context"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*s.MaxImageBytes+multipartOverhead)
	form, err := c.MultipartForm()
	if form != nil {
		defer form.RemoveAll()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(c, apperr.Wrap(err, apperr.KindValidation, visionclassifier.ErrImageTooLarge.Error()))
			return
		}
		s.respondError(c, apperr.Wrap(err, apperr.KindValidation, visionclassifier.ErrMissingImage.Error()))
		return
	}

	document, err := s.readImage(form, documentField)
	if err != nil {
		s.respondError(c, err)
		return
	}
	selfie, err := s.readImage(form, selfieField)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.Verification.VerifyIdentity(c.Request.Context(), userID, document, selfie)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"faceVerified": result.FaceVerified,
		"confidence":   result.Confidence,
		"reasons":      result.Reasons,
		"message":      result.Message,
	})
}

// readImage returns an empty Image when the field is absent so that the
// use case reports the missing image.
func (s *server) readImage(form *multipart.Form, field string) (visionclassifier.Image, error) {
	files := form.File[field]
	if len(files) == 0 {
		return visionclassifier.Image{}, nil
	}
	header := files[0]
	if header.Size > s.MaxImageBytes {
		return visionclassifier.Image{}, apperr.Wrap(visionclassifier.ErrImageTooLarge, apperr.KindValidation, visionclassifier.ErrImageTooLarge.Error())
	}

	f, err := header.Open()
	if err != nil {
		return visionclassifier.Image{}, apperr.Wrap(err, apperr.KindInternal, "failed to read image")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.MaxImageBytes+1))
	if err != nil {
		return visionclassifier.Image{}, apperr.Wrap(err, apperr.KindInternal, "failed to read image")
	}
	return visionclassifier.Image{MIMEType: header.Header.Get("Content-Type"), Data: data}, nil
}

func (s *server) saveResult(c *gin.Context) {
	var req saveResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(err, apperr.KindValidation, "faceVerified é obrigatório"))
		return
	}

	message, err := s.Verification.SaveResult(c.Request.Context(), sessionUserID(c), *req.FaceVerified, req.Confidence)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (s *server) completeVerification(c *gin.Context) {
	message, err := s.Verification.CompleteVerification(c.Request.Context(), sessionUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (s *server) status(c *gin.Context) {
	view, err := s.Verification.GetStatus(c.Request.Context(), sessionUserID(c), c.Param("userId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"status":           view.Status,
		"faceVerified":     view.FaceVerified,
		"confidence":       view.Confidence,
		"verificationDate": view.VerificationDate,
	})
}

func (s *server) summary(c *gin.Context) {
	summary, err := s.Verification.GetMetricsSummary(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}
