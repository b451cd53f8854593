package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Smart Roll Call Attendance Server"

// apiResponse is the JSON envelope every endpoint returns.
type apiResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
	VerificationID    string `json:"verificationId,omitempty"`
	StudentName       string `json:"studentName,omitempty"`
	StudentEnrollment string `json:"studentEnrollment,omitempty"`
	CourseName        string `json:"courseName,omitempty"`
	ExpiresIn         int    `json:"expiresIn,omitempty"`
	Count             *int   `json:"count,omitempty"`
}

// Server exposes the attendance service over HTTP.
type Server struct {
	svc      *Service
	requests atomic.Int64
	logger   *slog.Logger
}

// NewServer creates the HTTP front end for svc.
func NewServer(svc *Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// Requests returns how many mark-attendance requests have been handled.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/mark-attendance", s.handleMarkAttendance)
	mux.HandleFunc("POST /api/cleanup-expired", s.handleCleanupExpired)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.svc.Now().Format(time.RFC3339),
		"service":   ServiceName,
	})
}

func (s *Server) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	reqID := s.requests.Add(1)
	start := time.Now()
	logger := s.logger.With("request", reqID)

	var body map[string]interface{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil || len(body) == 0 {
		logger.Warn("mark-attendance: no JSON data")
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "No JSON data provided"})
		return
	}
	mac, _ := body["macAddress"].(string)
	if mac == "" {
		logger.Warn("mark-attendance: missing macAddress")
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "macAddress is required"})
		return
	}
	logger.Info("mac address received", "mac", mac, "device", body["deviceId"])

	res, err := s.svc.MarkAttendance(r.Context(), mac)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, ErrInvalidMAC):
		logger.Warn("mark-attendance: invalid mac", "mac", mac, "elapsed", elapsed)
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Error:   "macAddress is not a valid MAC address",
			Message: err.Error(),
		})
	case errors.Is(err, ErrNoMatch):
		logger.Info("student not found", "mac", mac, "elapsed", elapsed)
		writeJSON(w, http.StatusNotFound, apiResponse{
			Error:   "Student not found or no active class",
			Message: "No student with this MAC address found in any active class",
		})
	case err != nil:
		logger.Error("mark-attendance failed", "mac", mac, "elapsed", elapsed, "error", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{
			Error:   err.Error(),
			Message: "Internal server error",
		})
	default:
		logger.Info("mark-attendance succeeded",
			"student", res.Match.Student.Name,
			"enrollment", res.Match.Student.Enrollment,
			"course", res.Match.Batch.Name,
			"verification_id", res.VerificationID,
			"created", res.Created,
			"elapsed", elapsed,
		)
		writeJSON(w, http.StatusOK, apiResponse{
			Success:           true,
			Message:           "Pending verification created",
			VerificationID:    res.VerificationID,
			StudentName:       orDefault(res.Match.Student.Name, "Unknown"),
			StudentEnrollment: orDefault(res.Match.Student.Enrollment, "Unknown"),
			CourseName:        orDefault(res.Match.Batch.Name, "Unknown Course"),
			ExpiresIn:         int(s.svc.TTL() / time.Second),
		})
	}
}

func (s *Server) handleCleanupExpired(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.CleanupExpired(r.Context(), s.svc.now())
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: fmt.Sprintf("Cleaned up %d expired verifications", n),
		Count:   &n,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
