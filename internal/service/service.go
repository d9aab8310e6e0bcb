// Package service exposes pipeline runs and single class lookups over http.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/notify"
	"github.com/shatgupt/getmycourses/internal/pipeline"
	"github.com/shatgupt/getmycourses/internal/scrapers/classlist"
	"github.com/shatgupt/getmycourses/internal/store"
	"github.com/shatgupt/getmycourses/internal/telemetry"
)

const (
	report_service_classlist = "service.classlist"
	report_service_class     = "service.class"
	report_service_encode    = "service.encode"
)

// RunnerAPI runs the pipeline for a department.
//
// note: fault injection point
type RunnerAPI interface {
	Run(ctx context.Context, department, course string) (pipeline.Result, error)
}

// SeatsAPI looks up the seats of a single class.
//
// note: fault injection point
type SeatsAPI interface {
	ClassSeats(ctx context.Context, classId string) (catalog.SeatInfo, error)
}

type Service struct {
	runner RunnerAPI
	seats  SeatsAPI
	tel    telemetry.API
}

func NewService(runner RunnerAPI, seats SeatsAPI, tel telemetry.API) Service {
	assert.NotNil(runner)
	assert.NotNil(seats)
	assert.NotNil(tel)

	return Service{
		runner: runner,
		seats:  seats,
		tel:    telemetry.NewScopedAPI("service", tel),
	}
}

// Register mounts every endpoint on mux.
func (s Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/classlist", s.ClassList)
	mux.HandleFunc("/class", s.Class)
}

type errorResponse struct {
	Error string `json:"error"`
	// Delivered and FailedClass are only set when a notification failed.
	Delivered   *int   `json:"delivered,omitempty"`
	FailedClass string `json:"failed_class,omitempty"`
}

func (s Service) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		s.tel.ReportBroken(report_service_encode, err)
	}
}

func (s Service) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("allow", http.MethodGet)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}

// upstreamStatus maps errors caused by the portal or the mail server to 502 (504 on timeouts)
// and everything else to 500.
func upstreamStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var fetchErr *classlist.FetchError
	var extractErr *classlist.ExtractError
	var deliveryErr *notify.DeliveryError
	if errors.As(err, &fetchErr) || errors.As(err, &extractErr) || errors.As(err, &deliveryErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ClassList handles `GET /classlist?department=<d>[&course=<n>]`, it runs the pipeline and
// responds with the fresh snapshot keyed by class number. The number of notifications sent
// during the run is in the `x-delivered` header, including runs whose state could not be
// written afterwards.
func (s Service) ClassList(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	query := r.URL.Query()
	department := query.Get("department")
	if department == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("department is required"))
		return
	}
	department, err := pipeline.NormalizeDepartment(department)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	course := query.Get("course")

	result, err := s.runner.Run(r.Context(), department, course)
	w.Header().Set("x-delivered", strconv.Itoa(result.Delivered))

	var persistErr *store.PersistenceError
	var deliveryErr *notify.DeliveryError
	switch {
	case err == nil:
	case errors.As(err, &deliveryErr):
		s.tel.ReportWarning(report_service_classlist, err, department)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:       err.Error(),
			Delivered:   &deliveryErr.Delivered,
			FailedClass: deliveryErr.ClassID,
		})
		return
	case errors.Is(err, pipeline.ErrInvalidDepartment):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case errors.As(err, &persistErr):
		// the scrape itself succeeded, the store already reported the write as broken
		s.tel.ReportWarning(report_service_classlist, err, department)
	default:
		s.tel.ReportWarning(report_service_classlist, err, department)
		s.writeError(w, upstreamStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, result.Fresh)
}

// Class handles `GET /class?class=<id>`.
func (s Service) Class(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	classId := r.URL.Query().Get("class")
	if classId == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("class is required"))
		return
	}

	info, err := s.seats.ClassSeats(r.Context(), classId)
	if err != nil {
		s.tel.ReportWarning(report_service_class, err, classId)
		s.writeError(w, upstreamStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}
