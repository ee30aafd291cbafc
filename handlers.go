package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/purchase_backend/middlewares"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/mmdatafocus/purchase_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrConfirmConflict),
		errors.Is(err, workflow.ErrInvoiceConfirmed),
		errors.Is(err, workflow.ErrIdempotencyInProgress),
		errors.Is(err, utils.ErrResourceLocked),
		errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrValidationFailed), errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, utils.ErrUnsupportedDocument):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, workflow.ErrQueueFull), errors.Is(err, workflow.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody carries the message plus whatever structured detail the error
// has, so clients can point at the offending lines.
func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}

	var conflict *workflow.ConfirmConflictError
	var invalid *workflow.ValidationError
	var short *models.InsufficientStockError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &conflict):
		body["reason"] = conflict.Reason
		if len(conflict.UnresolvedLineIds) > 0 {
			body["unresolved_count"] = len(conflict.UnresolvedLineIds)
			body["unresolved_line_ids"] = conflict.UnresolvedLineIds
		}
	case errors.As(err, &invalid):
		if invalid.Field != "" {
			body["field"] = invalid.Field
		}
	case errors.As(err, &short):
		body["product_id"] = short.ProductId
		body["requested"] = short.Requested
		body["available"] = short.Available
	case errors.As(err, &verrs):
		body["fields"] = utils.ProcessValidationErrors(err)
	}
	return body
}

func (a *application) writeError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, errorBody(err))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

type invoiceResponse struct {
	*workflow.InvoiceDetail
	Vendor   *models.Vendor         `json:"vendor,omitempty"`
	Shop     *models.Shop           `json:"shop,omitempty"`
	Products map[int]models.Product `json:"products,omitempty"`
}

func (a *application) getInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	detail, err := a.svc.GetInvoice(ctx, c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	resp := invoiceResponse{InvoiceDetail: detail}
	if v, err := middlewares.GetVendor(ctx, detail.VendorId); err == nil {
		resp.Vendor = v
	}
	if sh, err := middlewares.GetShop(ctx, detail.ShopId); err == nil {
		resp.Shop = sh
	}

	var ids []int
	for _, l := range detail.Lines {
		if l.MatchedProductId != nil {
			ids = append(ids, *l.MatchedProductId)
		}
		if l.SuggestedProductId != nil {
			ids = append(ids, *l.SuggestedProductId)
		}
	}
	ids = utils.UniqueSlice(ids)
	if len(ids) > 0 {
		products, _ := middlewares.GetProducts(ctx, ids)
		resp.Products = make(map[int]models.Product, len(products))
		for _, p := range products {
			if p != nil {
				resp.Products[p.ID] = *p
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *application) lineAction(c *gin.Context) {
	var input workflow.LineActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	result, err := a.svc.ApplyLineAction(c.Request.Context(), c.Param("id"), c.Param("lineId"), &input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type autoMatchRequest struct {
	Threshold *float64 `json:"threshold"`
}

func (a *application) autoMatch(c *gin.Context) {
	var req autoMatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	threshold := a.settings.AutoMatchThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	result, err := a.svc.AutoMatch(c.Request.Context(), c.Param("id"), threshold)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *application) validateInvoice(c *gin.Context) {
	report, err := a.svc.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *application) confirmInvoice(c *gin.Context) {
	var input workflow.ConfirmInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	ctx := c.Request.Context()
	if key, ok := utils.GetIdempotencyKeyFromContext(ctx); ok {
		input.IdempotencyKey = key
	}
	result, err := a.svc.Confirm(ctx, c.Param("id"), &input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusOK
	if !result.Replayed {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (a *application) exportReceipt(c *gin.Context) {
	receipt, err := models.GetPurchaseReceiptByInvoice(c.Request.Context(), a.db, c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	f, err := models.ExportPurchaseReceiptXlsx(receipt)
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer f.Close()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "grn-"+receipt.ID+".xlsx"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (a *application) searchProducts(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	products, err := models.SearchProducts(c.Request.Context(), a.db, models.ProductSearch{
		Query:   c.Query("q"),
		Brand:   strings.TrimSpace(c.Query("brand")),
		Potency: strings.TrimSpace(c.Query("potency")),
		Limit:   limit,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (a *application) importProducts(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if fh.Size > a.settings.MaxUploadBytes {
		a.writeError(c, utils.ErrDocumentTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer f.Close()
	summary, err := models.ImportProductsFromXlsx(c.Request.Context(), a.db, f)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *application) upsertVendor(c *gin.Context) {
	var input models.NewVendor
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	vendor, err := models.UpsertVendor(c.Request.Context(), a.db, &input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vendor)
}

func (a *application) listTasks(c *gin.Context) {
	vendorId, err := intQuery(c, "vendor_id", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	status := models.TaskStatus(strings.TrimSpace(c.DefaultQuery("status", string(models.TaskStatusPending))))
	if status == "all" {
		status = ""
	}
	tasks, err := a.svc.ListTasks(c.Request.Context(), models.TaskFilter{
		Status:    status,
		VendorId:  vendorId,
		InvoiceId: strings.TrimSpace(c.Query("invoice_id")),
		Limit:     limit,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

type resolveTaskRequest struct {
	Notes string `json:"notes"`
}

func (a *application) resolveTask(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req resolveTaskRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	task, err := a.svc.ResolveTask(c.Request.Context(), id, req.Notes)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type reserveRequest struct {
	ShopId       int             `json:"shop_id" validate:"required,gt=0"`
	ProductId    int             `json:"product_id" validate:"required,gt=0"`
	Qty          decimal.Decimal `json:"qty"`
	AllowPartial bool            `json:"allow_partial"`
	models.ReservationRef
}

type reservationRefRequest struct {
	models.ReservationRef
	Qty decimal.Decimal `json:"qty"`
}

func bindValid(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody(err))
		return false
	}
	return true
}

func (a *application) reserveStock(c *gin.Context) {
	var req reserveRequest
	if !bindValid(c, &req) {
		return
	}
	result, err := models.ReserveStock(c.Request.Context(), a.db, req.ShopId, req.ProductId, req.Qty, req.ReservationRef, req.AllowPartial)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *application) deductStock(c *gin.Context) {
	var req reservationRefRequest
	if !bindValid(c, &req) {
		return
	}
	result, err := models.DeductReserved(c.Request.Context(), a.db, req.ReservationRef, req.Qty)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *application) releaseStock(c *gin.Context) {
	var req reservationRefRequest
	if !bindValid(c, &req) {
		return
	}
	released, err := models.ReleaseReservation(c.Request.Context(), a.db, req.ReservationRef)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reference_type": req.Type,
		"reference_id":   req.Id,
		"released":       released,
	})
}

func (a *application) expiringBatches(c *gin.Context) {
	shopId, err := intQuery(c, "shop_id", 0)
	if err != nil || shopId <= 0 {
		badRequest(c, "shop_id is required")
		return
	}
	days, err := intQuery(c, "days", 30)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	batches, err := models.ExpiringBatches(c.Request.Context(), a.db, shopId, days, time.Now().UTC())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shop_id": shopId, "days": days, "batches": batches})
}

func (a *application) stockSummary(c *gin.Context) {
	shopId, err := intQuery(c, "shop_id", 0)
	if err != nil || shopId <= 0 {
		badRequest(c, "shop_id is required")
		return
	}
	productId, err := intQuery(c, "product_id", 0)
	if err != nil || productId <= 0 {
		badRequest(c, "product_id is required")
		return
	}
	summary, err := models.ProductStockSummary(c.Request.Context(), a.db, shopId, productId)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
