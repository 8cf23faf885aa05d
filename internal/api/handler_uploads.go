package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/mw"
)

// multipartOverhead is the room left for boundaries and part headers on top
// of the image itself.
const multipartOverhead = 64 << 10

// UploadImage handles POST /api/uploads with the image in the multipart
// field "file". The request body is capped before the form is parsed.
func (h *Handler) UploadImage(c *gin.Context) {
	if h.maxBytes > 0 {
		limit := h.maxBytes + multipartOverhead
		if c.Request.ContentLength > limit {
			badRequest[catalog.Upload](c, "file", fmt.Sprintf("image exceeds %d bytes", h.maxBytes))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			badRequest[catalog.Upload](c, "file", fmt.Sprintf("image exceeds %d bytes", h.maxBytes))
			return
		}
		badRequest[catalog.Upload](c, "file", "file is required")
		return
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		badRequest[catalog.Upload](c, "file", fmt.Sprintf("image exceeds %d bytes", h.maxBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		badRequest[catalog.Upload](c, "file", "file could not be read")
		return
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxBytes > 0 {
		r = io.LimitReader(f, h.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		badRequest[catalog.Upload](c, "file", "file could not be read")
		return
	}

	respond(c, http.StatusCreated, h.svc.UploadImage(c.Request.Context(), mw.CurrentIdentity(c), data))
}
