package main

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/middlewares"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/models/reports"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps the model error kinds onto HTTP statuses:
// VALIDATION 400, STATE/CONFLICT 409, NOT_FOUND 404, LIMIT 403.
// Anything unclassified is a 500 and only the correlation id leaks out.
func respondError(c *gin.Context, err error) {
	kind := models.ErrorKind(err)
	var status int
	switch kind {
	case models.ErrKindValidation:
		status = http.StatusBadRequest
	case models.ErrKindState, models.ErrKindConflict:
		status = http.StatusConflict
	case models.ErrKindNotFound:
		status = http.StatusNotFound
	case models.ErrKindLimit:
		status = http.StatusForbidden
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.GetLogger().WithFields(logrus.Fields{
			"field":          "api",
			"path":           c.FullPath(),
			"correlation_id": cid,
		}).Error(err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "correlation_id": cid})
		return
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	if field := models.ErrorField(err); field != "" {
		body["field"] = field
	}
	c.JSON(status, body)
}

func paramInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		respondError(c, models.NewValidationError(name, "must be a positive integer"))
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string) (*int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(c, models.NewValidationError(name, "must be an integer"))
		return nil, false
	}
	return &v, true
}

func queryString(c *gin.Context, name string) *string {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	return &raw
}

// queryDate parses a required ?from= / ?to= style calendar date. The clinic
// timezone is applied later, inside the report prologue.
func queryDate(c *gin.Context, name string) (models.MyDateString, bool) {
	raw := c.Query(name)
	if raw == "" {
		respondError(c, models.NewValidationError(name, "date is required (YYYY-MM-DD)"))
		return models.MyDateString{}, false
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		respondError(c, models.NewValidationError(name, "invalid date, want YYYY-MM-DD"))
		return models.MyDateString{}, false
	}
	return models.MyDateString(t), true
}

// ---- drawers ----

func listDrawersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		locationId, ok := queryInt(c, "location_id")
		if !ok {
			return
		}
		var status *models.DrawerStatus
		if raw := c.Query("status"); raw != "" {
			s := models.DrawerStatus(raw)
			status = &s
		}
		connection, err := models.PaginateCashDrawers(ctx, limit, queryString(c, "after"), status, locationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func openDrawerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCashDrawer
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		drawer, err := models.OpenDrawer(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, drawer)
	}
}

type drawerDetailResponse struct {
	*models.CashDrawerDetail
	LocationName string `json:"location_name,omitempty"`
	OpenedByName string `json:"opened_by_name,omitempty"`
}

func getDrawerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		detail, err := models.GetDrawer(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}

		resp := drawerDetailResponse{CashDrawerDetail: detail}
		if detail.LocationId != 0 {
			if loc, err := middlewares.GetAllLocation(ctx, detail.LocationId); err == nil {
				resp.LocationName = loc.Name
			}
		}
		if opener, err := middlewares.GetAllUser(ctx, detail.OpenedBy); err == nil {
			resp.OpenedByName = opener.Name
		}
		c.JSON(http.StatusOK, resp)
	}
}

func closeDrawerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.CloseCashDrawer
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		drawer, err := models.CloseDrawer(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, drawer)
	}
}

func reconcileDrawerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		drawer, err := models.ReconcileDrawer(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, drawer)
	}
}

// ---- drawer ledger ----

func recordTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.NewCashTransaction
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		transaction, err := models.RecordCashTransaction(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, transaction)
	}
}

func listTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		var transactionType *models.TransactionType
		if raw := c.Query("type"); raw != "" {
			t := models.TransactionType(raw)
			transactionType = &t
		}
		connection, err := models.PaginateCashTransactions(c.Request.Context(), id, limit, queryString(c, "after"), transactionType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

// ---- shifts ----

func handoffShiftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.NewShiftHandoff
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		shift, err := models.HandoffShift(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, shift)
	}
}

type shiftDetailResponse struct {
	*models.ShiftDetail
	CashierName string `json:"cashier_name,omitempty"`
}

func getShiftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		detail, err := models.GetShift(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		resp := shiftDetailResponse{ShiftDetail: detail}
		if cashier, err := middlewares.GetAllUser(ctx, detail.CashierId); err == nil {
			resp.CashierName = cashier.Name
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ---- attachments ----

func uploadAttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			respondError(c, models.NewValidationError("file", "file is required"))
			return
		}
		f, err := fileHeader.Open()
		if err != nil {
			respondError(c, models.NewValidationError("file", "cannot read file"))
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			respondError(c, models.NewValidationError("file", "cannot read file"))
			return
		}

		attachment, err := models.CreateCashAttachment(c.Request.Context(), id, fileHeader.Filename, data)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, attachment)
	}
}

func listAttachmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		attachments, err := models.ListCashAttachments(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, attachments)
	}
}

func deleteAttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		attachment, err := models.DeleteCashAttachment(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, attachment)
	}
}

// ---- reports ----

func reportWindow(c *gin.Context) (models.MyDateString, models.MyDateString, bool) {
	fromDate, ok := queryDate(c, "from")
	if !ok {
		return models.MyDateString{}, models.MyDateString{}, false
	}
	toDate, ok := queryDate(c, "to")
	if !ok {
		return models.MyDateString{}, models.MyDateString{}, false
	}
	if time.Time(toDate).Before(time.Time(fromDate)) {
		respondError(c, models.NewValidationError("to", "must not be before from"))
		return models.MyDateString{}, models.MyDateString{}, false
	}
	return fromDate, toDate, true
}

func cashSummaryReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fromDate, toDate, ok := reportWindow(c)
		if !ok {
			return
		}
		report, err := reports.GetCashSummaryReport(c.Request.Context(), fromDate, toDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func cashByDrawerReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fromDate, toDate, ok := reportWindow(c)
		if !ok {
			return
		}
		report, err := reports.GetCashByDrawerReport(c.Request.Context(), fromDate, toDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func cashByCashierReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fromDate, toDate, ok := reportWindow(c)
		if !ok {
			return
		}
		report, err := reports.GetCashByCashierReport(c.Request.Context(), fromDate, toDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func cashDiscrepancyReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fromDate, toDate, ok := reportWindow(c)
		if !ok {
			return
		}
		report, err := reports.GetCashDiscrepancyReport(c.Request.Context(), fromDate, toDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
