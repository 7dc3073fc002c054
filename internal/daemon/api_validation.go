package daemon

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"bindery/internal/services"
	"bindery/internal/store"
)

var validate = validator.New()

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
	defaultLogLimit     = 200
)

// JobRequest is the body of POST /api/jobs and the IPC StartJob call.
type JobRequest struct {
	JobType  string   `json:"job_type" validate:"required,oneof=DOWNLOAD SYNC"`
	ASINs    []string `json:"asins,omitempty" validate:"omitempty,max=1000,dive,required,alphanum,len=10"`
	SyncMode string   `json:"sync_mode,omitempty" validate:"omitempty,oneof=FAST DEEP"`
}

// Validate normalizes case and checks the request.
func (r *JobRequest) Validate() error {
	r.JobType = strings.ToUpper(strings.TrimSpace(r.JobType))
	r.SyncMode = strings.ToUpper(strings.TrimSpace(r.SyncMode))
	for i, asin := range r.ASINs {
		r.ASINs[i] = strings.ToUpper(strings.TrimSpace(asin))
	}
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	if r.JobType == string(store.JobKindSync) && len(r.ASINs) > 0 {
		return services.Detailed(services.ErrValidation, "asins: not allowed for SYNC jobs")
	}
	if r.JobType == string(store.JobKindDownload) && r.SyncMode != "" {
		return services.Detailed(services.ErrValidation, "sync_mode: only valid for SYNC jobs")
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return services.Detailed(services.ErrValidation, "invalid request: %v", err)
	}
	first := errs[0]
	field := fieldName(first.StructField())
	switch first.Tag() {
	case "required":
		return services.Detailed(services.ErrValidation, "%s: required", field)
	case "oneof":
		return services.Detailed(services.ErrValidation, "%s: must be one of %s", field, strings.ReplaceAll(first.Param(), " ", ","))
	case "alphanum", "len":
		return services.Detailed(services.ErrValidation, "%s: must be a 10 character ASIN", field)
	case "max":
		return services.Detailed(services.ErrValidation, "%s: at most %s entries", field, first.Param())
	default:
		return services.Detailed(services.ErrValidation, "%s: invalid", field)
	}
}

func fieldName(structField string) string {
	switch {
	case strings.HasPrefix(structField, "ASINs"):
		return "asins"
	case structField == "JobType":
		return "job_type"
	case structField == "SyncMode":
		return "sync_mode"
	default:
		return strings.ToLower(structField)
	}
}

// ParseBookStatuses validates status filter values.
func ParseBookStatuses(values []string) ([]store.BookStatus, error) {
	var out []store.BookStatus
	for _, raw := range values {
		for part := range strings.SplitSeq(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := store.ParseBookStatus(part)
			if !ok {
				return nil, services.Detailed(services.ErrValidation, "status: must be one of NEW,MISSING,DOWNLOADED,ERROR")
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func validateRuntime(minutes int) error {
	if err := validate.Var(minutes, "min=1,max=100000"); err != nil {
		return services.Detailed(services.ErrValidation, "runtime_min: must be between 1 and 100000")
	}
	return nil
}

// parseJobsQuery reads ?limit= for GET /api/jobs.
func parseJobsQuery(r *http.Request) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get("limit"))
	if value == "" {
		return defaultJobListLimit, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, services.Detailed(services.ErrValidation, "limit: must be an integer")
	}
	if err := validate.Var(n, "min=1,max=500"); err != nil {
		return 0, services.Detailed(services.ErrValidation, "limit: must be between 1 and %d", maxJobListLimit)
	}
	return n, nil
}

// parseEstimateQuery reads ?runtime_min= for GET /api/estimate.
func parseEstimateQuery(r *http.Request) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get("runtime_min"))
	if value == "" {
		return 0, services.Detailed(services.ErrValidation, "runtime_min: required")
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, services.Detailed(services.ErrValidation, "runtime_min: must be an integer")
	}
	return n, validateRuntime(n)
}

type logsQuery struct {
	Since  uint64
	Limit  int
	Follow bool
	Tail   bool
	JobID  int64
	ASIN   string
}

// parseLogsQuery reads the filters of GET /api/logs.
func parseLogsQuery(r *http.Request) (logsQuery, error) {
	query := r.URL.Query()
	out := logsQuery{Limit: defaultLogLimit}
	if value := strings.TrimSpace(query.Get("since")); value != "" {
		since, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return out, services.Detailed(services.ErrValidation, "since: must be a sequence number")
		}
		out.Since = since
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || validate.Var(limit, "min=1,max=4096") != nil {
			return out, services.Detailed(services.ErrValidation, "limit: must be between 1 and 4096")
		}
		out.Limit = limit
	}
	if value := strings.TrimSpace(query.Get("job")); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return out, services.Detailed(services.ErrValidation, "job: must be an integer")
		}
		out.JobID = id
	}
	out.ASIN = strings.ToUpper(strings.TrimSpace(query.Get("asin")))
	out.Follow = truthy(query.Get("follow"))
	out.Tail = truthy(query.Get("tail"))
	return out, nil
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
