package handler

import (
	"mime/multipart"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/dto"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/response"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/service"
	"github.com/andrewpyen/arcpy-automated-map-creation/log"
	apperrors "github.com/andrewpyen/arcpy-automated-map-creation/pkg/errors"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) Handler {
	return Handler{Service: svc}
}

// formFile returns the named upload part, or nil when the form has none.
func formFile(c *gin.Context, field string) *multipart.FileHeader {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil
	}
	return fh
}

func (h Handler) SubmitMapJob(c *gin.Context) {
	var req dto.SubmitMapJobReq
	if err := c.ShouldBind(&req); err != nil {
		log.GetLogger().Error("SubmitMapJob ShouldBind err", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}
	log.GetLogger().Info("SubmitMapJob received request",
		zap.String("survey_type", req.SurveyType),
		zap.String("zip_name", req.ZipName))

	data, err := h.Service.SubmitMapJob(c.Request.Context(), req, formFile(c, "gdb_zip"), formFile(c, "gridzone"))
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h Handler) GetJobStatus(c *gin.Context) {
	var req dto.GetJobStatusReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}
	level, err := service.ParseLevel(req.Level)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}

	data, err := h.Service.GetJobStatus(c.Param("jobId"), level)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h Handler) ListJobs(c *gin.Context) {
	var req dto.GetJobStatusReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}
	level, err := service.ParseLevel(req.Level)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}

	data, err := h.Service.ListJobs(level)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h Handler) GetJobLogs(c *gin.Context) {
	var req dto.GetJobStatusReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.R(c, response.Response{
			Error: -1,
			Msg:   "Invalid parameters",
			Data:  nil,
		})
		return
	}
	level, err := service.ParseLevel(req.Level)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}

	data, err := h.Service.JobLogs(c.Param("jobId"), level)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h Handler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	log.GetLogger().Info("CancelJob received request", zap.String("job_id", jobID))

	data, err := h.Service.CancelJob(jobID)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h Handler) CancelAllJobs(c *gin.Context) {
	data := h.Service.CancelAllJobs()
	log.GetLogger().Info("CancelAllJobs signalled", zap.Int("count", data.Count))
	response.Success(c, data)
}

// DownloadResult streams the packaged results zip. Missing results are a real
// 404 so plain HTTP clients and share scripts see the right status.
func (h Handler) DownloadResult(c *gin.Context) {
	path, err := h.Service.ResolveDownload(c.Param("jobId"))
	if err != nil {
		if apperrors.Is(err, apperrors.CodeJobNotFound) || apperrors.Is(err, apperrors.CodeFileNotFound) {
			c.JSON(404, response.FromError(err))
			return
		}
		response.ErrorResponse(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (h Handler) RegistryCurrent(c *gin.Context) {
	response.Success(c, h.Service.RegistryCurrent())
}

func (h Handler) RegistryRefresh(c *gin.Context) {
	data, err := h.Service.RegistryRefresh()
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h Handler) ListSurveyTypes(c *gin.Context) {
	response.Success(c, h.Service.ListSurveyTypes())
}
