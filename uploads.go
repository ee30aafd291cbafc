package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/mmdatafocus/purchase_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// multipartOverhead is the slack allowed on top of the document size for
// the other form fields and part headers.
const multipartOverhead = 1 << 20

// uploadRateLimit is a fixed-window counter per client IP. Without redis the
// limit is not enforced.
func (a *application) uploadRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.uploadLimit <= 0 {
			c.Next()
			return
		}
		key := "RateLimit:upload:" + c.ClientIP()
		count, err := config.IncrWithExpiry(c.Request.Context(), key, a.uploadWindow)
		if err != nil {
			config.LogError(a.logger, "main", "uploadRateLimit", "incr rate limit", key, err)
			c.Next()
			return
		}
		if count > a.uploadLimit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(a.uploadWindow.Seconds())),
			})
			return
		}
		c.Next()
	}
}

func formInt(c *gin.Context, name string) (int, error) {
	v := strings.TrimSpace(c.PostForm(name))
	if v == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

// readUpload reads the multipart "file" part, refusing anything above the
// configured size before it is fully buffered.
func (a *application) readUpload(c *gin.Context) ([]byte, error) {
	maxBytes := a.settings.MaxUploadBytes
	if c.Request.ContentLength > maxBytes+multipartOverhead {
		return nil, utils.ErrDocumentTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, utils.ErrDocumentTooLarge
		}
		return nil, fmt.Errorf("%w: file is required", utils.ErrorInvalidInput)
	}
	if fh.Size > maxBytes {
		return nil, utils.ErrDocumentTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, utils.ErrDocumentTooLarge
	}
	return data, nil
}

func (a *application) uploadInvoice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "UploadInvoice")
	defer span.End()

	data, err := a.readUpload(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	vendorId, err := formInt(c, "vendor_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	shopId, err := formInt(c, "shop_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("vendor_id", vendorId), attribute.Int("size", len(data)))

	result, err := a.svc.Upload(ctx, &workflow.UploadInput{
		VendorId: vendorId,
		ShopId:   shopId,
		Source:   c.PostForm("source"),
		Data:     data,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.logger.WithFields(logrus.Fields{
		"trace_id":   result.TraceId,
		"invoice_id": result.InvoiceId,
		"vendor_id":  vendorId,
		"size":       len(data),
	}).Info("invoice uploaded")
	c.JSON(http.StatusAccepted, result)
}
