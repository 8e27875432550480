package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/services/jobs"
)

// CreateJobForm is the multipart body of POST /jobs. Omitted numbers keep the job defaults.
type CreateJobForm struct {
	File               *multipart.FileHeader `form:"file" binding:"required"`
	MaxFrames          *int                  `form:"max_frames" binding:"omitempty,min=10,max=4000"`
	FPS                *int                  `form:"fps" binding:"omitempty,min=1,max=120"`
	OCRInterval        *int                  `form:"ocr_interval" binding:"omitempty,min=1,max=300"`
	ClusteringInterval *int                  `form:"clustering_interval" binding:"omitempty,min=1,max=120"`
	MockMode           string                `form:"mock_mode,default=true"`
	AsyncMode          string                `form:"async_mode,default=true"`
	ZonesJSON          string                `form:"zones_json,default=[]"`
}

type ListJobsQuery struct {
	Status      string `form:"status"`
	RequestedBy string `form:"requested_by"`
	Limit       int    `form:"limit,default=20" binding:"min=1,max=100"`
	Offset      int    `form:"offset,default=0" binding:"min=0"`
}

type JobEventsQuery struct {
	EventType string `form:"event_type"`
	Severity  string `form:"severity"`
	Limit     int    `form:"limit,default=100" binding:"min=1,max=1000"`
	Offset    int    `form:"offset,default=0" binding:"min=0"`
}

// bindError turns a gin binding failure on obj into an InvalidInput error named after the
// offending form field. raw holds the submitted values and names the field of a parse
// failure. Oversized bodies map to ErrUploadTooLarge.
func bindError(obj any, raw map[string][]string, err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("%w: %w", jobs.ErrUploadTooLarge, err)
	}
	if errors.Is(err, http.ErrMissingFile) {
		return apperr.InvalidInput("handlers.bind", "file is required")
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		name := formName(obj, fe.StructField())
		switch fe.Tag() {
		case "required":
			return apperr.InvalidInput("handlers.bind", "%s is required", name)
		case "min":
			return apperr.InvalidInput("handlers.bind", "%s must be at least %s", name, fe.Param())
		case "max":
			return apperr.InvalidInput("handlers.bind", "%s must be at most %s", name, fe.Param())
		default:
			return apperr.InvalidInput("handlers.bind", "%s is invalid", name)
		}
	}

	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		for name, values := range raw {
			for _, v := range values {
				if v == numErr.Num {
					return apperr.InvalidInput("handlers.bind", "%s must be an integer", name)
				}
			}
		}
		return apperr.InvalidInput("handlers.bind", "%q is not an integer", numErr.Num)
	}
	return apperr.InvalidInput("handlers.bind", "invalid request: %v", err)
}

func formName(obj any, field string) string {
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if f, ok := t.FieldByName(field); ok {
		if name, _, _ := strings.Cut(f.Tag.Get("form"), ","); name != "" {
			return name
		}
	}
	return field
}
