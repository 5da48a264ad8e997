package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/draft"
	"github.com/username/session-planner/internal/icsexport"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/internal/recurrence"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

const (
	outcomeOK      = "ok"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// bindRecurrence decodes the form; it writes the 400 response itself on failure
func (s *Server) bindRecurrence(c *gin.Context) (recurrence.Request, planner.Options, bool) {
	var body recurrenceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return recurrence.Request{}, planner.Options{}, false
	}

	req, err := body.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return recurrence.Request{}, planner.Options{}, false
	}

	opts, err := body.options(s.defaults)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return recurrence.Request{}, planner.Options{}, false
	}

	return req, opts, true
}

func (s *Server) handleValidate(c *gin.Context) {
	req, _, ok := s.bindRecurrence(c)
	if !ok {
		return
	}

	v := recurrence.Validate(req)
	outcome := outcomeOK
	if !v.IsValid {
		outcome = outcomeInvalid
	}
	s.metrics.IncRecurrence("validate", outcome)

	c.JSON(http.StatusOK, validationResponse{IsValid: v.IsValid, Errors: v.Errors})
}

func (s *Server) handlePreview(c *gin.Context) {
	req, opts, ok := s.bindRecurrence(c)
	if !ok {
		return
	}

	plan, ok := s.preview(c, "preview", req, opts)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, newPlanResponse(plan))
}

func (s *Server) handleDescribe(c *gin.Context) {
	req, _, ok := s.bindRecurrence(c)
	if !ok {
		return
	}

	v := recurrence.Validate(req)
	if !v.IsValid {
		s.metrics.IncRecurrence("describe", outcomeInvalid)
		c.JSON(http.StatusUnprocessableEntity, validationResponse{IsValid: false, Errors: v.Errors})
		return
	}
	s.metrics.IncRecurrence("describe", outcomeOK)

	rule, _ := req.RRuleString()
	c.JSON(http.StatusOK, gin.H{
		"description": recurrence.Describe(req),
		"rrule":       rule,
	})
}

func (s *Server) handleExport(c *gin.Context) {
	req, opts, ok := s.bindRecurrence(c)
	if !ok {
		return
	}

	plan, ok := s.preview(c, "export", req, opts)
	if !ok {
		return
	}

	var buf bytes.Buffer
	err := icsexport.Encode(&buf, plan.Result.Dates, icsexport.Options{
		Summary:     c.Query("summary"),
		Description: plan.Description,
		UIDSeed:     c.Query("seed"),
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="seances.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

// preview runs the planner and writes the error response itself on failure
func (s *Server) preview(c *gin.Context, operation string, req recurrence.Request, opts planner.Options) (*planner.Plan, bool) {
	plan, err := s.planner.Preview(c.Request.Context(), req, opts)
	if err != nil {
		var vErr *planner.ValidationError
		if errors.As(err, &vErr) {
			s.metrics.IncRecurrence(operation, outcomeInvalid)
			c.JSON(http.StatusUnprocessableEntity, validationResponse{IsValid: false, Errors: vErr.Errors})
			return nil, false
		}

		s.metrics.IncRecurrence(operation, outcomeError)
		s.logger.Error("Preview failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return nil, false
	}

	s.metrics.IncRecurrence(operation, outcomeOK)
	s.metrics.AddPlannedDates(plan.Result.TotalCount)
	return plan, true
}

func (s *Server) handleDuplicate(c *gin.Context) {
	req, opts, ok := s.bindRecurrence(c)
	if !ok {
		return
	}

	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	templateID := c.Param("id")

	summary, err := s.planner.Duplicate(c.Request.Context(), templateID, req, opts, dryRun)
	if summary != nil {
		s.metrics.AddDuplication(len(summary.Created), len(summary.Failed))
	}

	switch {
	case err == nil:
		s.metrics.IncRecurrence("duplicate", outcomeOK)
		c.JSON(http.StatusOK, newDuplicationResponse(summary))

	case errors.Is(err, planner.ErrBatchFailed):
		// Partial success: created sessions are kept and listed with the failures
		s.metrics.IncRecurrence("duplicate", outcomeError)
		c.JSON(http.StatusMultiStatus, newDuplicationResponse(summary))

	case planner.IsValidationError(err):
		s.metrics.IncRecurrence("duplicate", outcomeInvalid)
		var vErr *planner.ValidationError
		errors.As(err, &vErr)
		c.JSON(http.StatusUnprocessableEntity, validationResponse{IsValid: false, Errors: vErr.Errors})

	case errors.Is(err, backend.ErrSessionNotFound):
		s.metrics.IncRecurrence("duplicate", outcomeError)
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})

	default:
		s.metrics.IncRecurrence("duplicate", outcomeError)
		s.logger.Error("Duplication failed",
			zap.String("template_id", templateID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleDayInfo(c *gin.Context) {
	date, err := dateutil.ParseDate(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid date: " + err.Error()})
		return
	}

	info, err := s.planner.DayInfo(c.Request.Context(), date)
	if err != nil {
		s.logger.Error("Calendar lookup failed", zap.Time("date", date), zap.Error(err))
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, newDayInfoResponse(info))
}

func (s *Server) handleClearCalendarCache(c *gin.Context) {
	if !s.planner.ClearCalendarCache() {
		c.JSON(http.StatusNotImplemented, errorResponse{Error: "calendar keeps no cache"})
		return
	}
	s.logger.Info("Calendar cache cleared through the API")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListDrafts(c *gin.Context) {
	drafts, err := s.drafts.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if drafts == nil {
		drafts = []draft.Draft{}
	}
	c.JSON(http.StatusOK, drafts)
}

func (s *Server) handleGetDraft(c *gin.Context) {
	d, err := s.drafts.Load(c.Request.Context(), c.Param("key"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, d)
	case errors.Is(err, draft.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, draft.ErrExpired):
		c.JSON(http.StatusGone, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleSaveDraft(c *gin.Context) {
	var body saveDraftRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	d, err := s.drafts.Save(c.Request.Context(), c.Param("key"), body.Kind, body.Payload)
	if err != nil {
		if errors.Is(err, draft.ErrInvalidKey) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, d)
}

func (s *Server) handleDeleteDraft(c *gin.Context) {
	if err := s.drafts.Discard(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
