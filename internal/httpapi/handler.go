package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wimira/queue-service/internal/binding"
	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store    store.QueueStore
	bindings *binding.Store
}

type createQueueRequest struct {
	OwnerID      string `json:"owner_id"`
	BusinessName string `json:"business_name"`
	QueueCode    string `json:"queue_code"`
	IndustryType string `json:"industry_type"`
}

type updateQueueRequest struct {
	BusinessName         *string  `json:"business_name"`
	IndustryType         *string  `json:"industry_type"`
	StrictMissedPolicy   *bool    `json:"strict_missed_policy"`
	MultiCounter         *bool    `json:"multi_counter"`
	EstimatedWaitEnabled *bool    `json:"estimated_wait_enabled"`
	CapacityEnabled      *bool    `json:"capacity_enabled"`
	AudioEnabled         *bool    `json:"audio_enabled"`
	ManualControlEnabled *bool    `json:"manual_control_enabled"`
	RequeueEnabled       *bool    `json:"requeue_enabled"`
	DailyCapacity        *int     `json:"daily_capacity"`
	AvgServiceSeconds    *float64 `json:"avg_service_seconds"`
}

type allocateRequest struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	RequestID string `json:"request_id"`
	Channel   string `json:"channel"`
}

type advanceRequest struct {
	CounterID string `json:"counter_id"`
}

type toggleRequest struct {
	Open *bool `json:"open"`
}

type requeueRequest struct {
	Number int `json:"number"`
}

type counterRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// queueResponse is the queue record plus the derived display values the
// status views are built from.
type queueResponse struct {
	models.QueueInstance
	PeopleWaiting        int      `json:"people_waiting"`
	EstimatedWaitSeconds *float64 `json:"estimated_wait_seconds,omitempty"`
	TokensRemaining      *int     `json:"tokens_remaining,omitempty"`
}

type advanceResponse struct {
	Queue  queueResponse `json:"queue"`
	Served *models.Token `json:"served,omitempty"`
	Missed int           `json:"missed"`
}

func queueView(q models.QueueInstance) queueResponse {
	view := queueResponse{QueueInstance: q, PeopleWaiting: q.PeopleWaiting()}
	if wait, ok := q.EstimatedWaitSeconds(); ok {
		view.EstimatedWaitSeconds = &wait
	}
	if remaining, ok := q.TokensRemaining(); ok {
		view.TokensRemaining = &remaining
	}
	return view
}

func NewHandler(queues store.QueueStore, bindings *binding.Store) *Handler {
	return &Handler{store: queues, bindings: bindings}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/by-code/", h.handleQueueByCode)
	mux.HandleFunc("/api/queues/", h.handleQueueSubtree)
	mux.HandleFunc("/queue/", h.handlePublicQueue)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateQueue(w, r)
	case http.MethodGet:
		h.handleListQueues(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.QueueCode = strings.TrimSpace(req.QueueCode)
	req.IndustryType = strings.TrimSpace(req.IndustryType)

	if req.OwnerID == "" || req.BusinessName == "" || req.QueueCode == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "owner_id, business_name, and queue_code are required")
		return
	}
	if !isValidUUID(req.OwnerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "owner_id must be a UUID")
		return
	}
	if !isValidQueueCode(req.QueueCode) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue_code must be 3-32 letters, digits, or hyphens")
		return
	}

	queue, err := h.store.CreateQueue(r.Context(), store.CreateQueueInput{
		OwnerID:      req.OwnerID,
		BusinessName: req.BusinessName,
		QueueCode:    req.QueueCode,
		IndustryType: req.IndustryType,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, queueView(queue))
}

func (h *Handler) handleListQueues(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "owner_id is required")
		return
	}
	if !isValidUUID(ownerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "owner_id must be a UUID")
		return
	}

	queues, err := h.store.ListOwnerQueues(r.Context(), ownerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	views := make([]queueResponse, 0, len(queues))
	for _, queue := range queues {
		views = append(views, queueView(queue))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleQueueByCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queues/by-code/"), "/")
	if !isValidQueueCode(code) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue code must be 3-32 letters, digits, or hyphens")
		return
	}
	queue, err := h.store.GetQueueByCode(r.Context(), code)
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, "", status, errCode, msg)
		return
	}
	writeJSON(w, http.StatusOK, queueView(queue))
}

// handlePublicQueue resolves the path printed on posters and QR labels:
// /queue/<code>, code case-insensitive.
func (h *Handler) handlePublicQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code, ok := ParsePublicCode(r.URL.Path)
	if !ok {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue code must be 3-32 letters, digits, or hyphens")
		return
	}
	queue, err := h.store.GetQueueByCode(r.Context(), code)
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, "", status, errCode, msg)
		return
	}
	writeJSON(w, http.StatusOK, queueView(queue))
}

// ParsePublicCode extracts and uppercases the queue code from a /queue/<code>
// path. Trailing segments are rejected.
func ParsePublicCode(path string) (string, bool) {
	code := strings.Trim(strings.TrimPrefix(path, "/queue/"), "/")
	if strings.Contains(code, "/") || !isValidQueueCode(code) {
		return "", false
	}
	return strings.ToUpper(code), true
}

func (h *Handler) handleQueueSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	queueID := parts[0]
	if !isValidUUID(queueID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleQueue(w, r, queueID)
	case len(parts) == 2 && parts[1] == "tokens":
		h.handleTokens(w, r, queueID)
	case len(parts) == 3 && parts[1] == "tokens" && parts[2] == "paper":
		h.handlePaperToken(w, r, queueID)
	case len(parts) == 3 && parts[1] == "tokens":
		h.handleToken(w, r, queueID, parts[2])
	case len(parts) == 4 && parts[1] == "tokens" && parts[3] == "events":
		h.handleTokenEvents(w, r, queueID, parts[2])
	case len(parts) == 2 && parts[1] == "advance":
		h.handleAdvance(w, r, queueID)
	case len(parts) == 2 && parts[1] == "toggle":
		h.handleToggle(w, r, queueID)
	case len(parts) == 2 && parts[1] == "requeue":
		h.handleRequeue(w, r, queueID)
	case len(parts) == 2 && parts[1] == "reset":
		h.handleReset(w, r, queueID)
	case len(parts) == 2 && parts[1] == "counters":
		h.handleCounters(w, r, queueID)
	case len(parts) == 3 && parts[1] == "counters":
		h.handleCounter(w, r, queueID, parts[2])
	case len(parts) == 2 && parts[1] == "binding":
		h.handleBinding(w, r, queueID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request, queueID string) {
	switch r.Method {
	case http.MethodGet:
		queue, err := h.store.GetQueue(r.Context(), queueID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, queueView(queue))
	case http.MethodPatch:
		h.handleUpdateQueue(w, r, queueID)
	case http.MethodDelete:
		if err := h.store.DeleteQueue(r.Context(), queueID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleUpdateQueue(w http.ResponseWriter, r *http.Request, queueID string) {
	var req updateQueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.DailyCapacity != nil && *req.DailyCapacity <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "daily_capacity must be positive")
		return
	}
	if req.AvgServiceSeconds != nil && *req.AvgServiceSeconds <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "avg_service_seconds must be positive")
		return
	}

	queue, err := h.store.UpdateQueuePolicy(r.Context(), queueID, store.PolicyUpdate{
		BusinessName:         req.BusinessName,
		IndustryType:         req.IndustryType,
		StrictMissedPolicy:   req.StrictMissedPolicy,
		MultiCounter:         req.MultiCounter,
		EstimatedWaitEnabled: req.EstimatedWaitEnabled,
		CapacityEnabled:      req.CapacityEnabled,
		AudioEnabled:         req.AudioEnabled,
		ManualControlEnabled: req.ManualControlEnabled,
		RequeueEnabled:       req.RequeueEnabled,
		DailyCapacity:        req.DailyCapacity,
		AvgServiceSeconds:    req.AvgServiceSeconds,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queueView(queue))
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request, queueID string) {
	switch r.Method {
	case http.MethodPost:
		h.handleAllocate(w, r, queueID)
	case http.MethodGet:
		h.handleSessionToken(w, r, queueID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request, queueID string) {
	var req allocateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Channel = strings.TrimSpace(req.Channel)

	if req.SessionID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}
	if req.Channel == "" {
		req.Channel = "web"
	}

	if h.bindings != nil && req.DeviceID != "" {
		if err := h.bindings.GuardAllocate(r.Context(), queueID, req.DeviceID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, req.RequestID, status, code, msg)
			return
		}
	}

	token, err := h.store.AllocateToken(r.Context(), store.AllocateInput{
		QueueID:   queueID,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Channel:   req.Channel,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	if h.bindings != nil && req.DeviceID != "" {
		// The token is committed either way; a failed bind only weakens the guard.
		_ = h.bindings.Bind(r.Context(), queueID, req.DeviceID, token.Number)
	}
	writeJSON(w, http.StatusCreated, token)
}

// handlePaperToken issues a walk-in ticket with a synthetic session so the
// printed slip goes through the same sequencer as app customers.
func (h *Handler) handlePaperToken(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, err := h.store.AllocateToken(r.Context(), store.AllocateInput{
		QueueID:   queueID,
		SessionID: "paper-" + uuid.NewString(),
		Channel:   "paper",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *Handler) handleSessionToken(w http.ResponseWriter, r *http.Request, queueID string) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	token, found, err := h.store.GetSessionToken(r.Context(), queueID, sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request, queueID, rawNumber string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	number, ok := parseTokenNumber(rawNumber)
	if !ok {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token number must be a positive integer")
		return
	}
	token, err := h.store.GetToken(r.Context(), queueID, number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleTokenEvents(w http.ResponseWriter, r *http.Request, queueID, rawNumber string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	number, ok := parseTokenNumber(rawNumber)
	if !ok {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token number must be a positive integer")
		return
	}
	events, err := h.store.ListTokenEvents(r.Context(), queueID, number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req advanceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.CounterID = strings.TrimSpace(req.CounterID)
	if req.CounterID != "" && !isValidUUID(req.CounterID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter_id must be a UUID when provided")
		return
	}

	result, err := h.store.AdvanceServing(r.Context(), store.AdvanceInput{
		QueueID:   queueID,
		CounterID: req.CounterID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{
		Queue:  queueView(result.Queue),
		Served: result.Served,
		Missed: result.Missed,
	})
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req toggleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Open == nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "open is required")
		return
	}

	queue, err := h.store.ToggleOpen(r.Context(), queueID, *req.Open)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queueView(queue))
}

func (h *Handler) handleRequeue(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req requeueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Number <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "number must be a positive integer")
		return
	}

	token, err := h.store.Requeue(r.Context(), queueID, req.Number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queue, err := h.store.ResetCounters(r.Context(), queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queueView(queue))
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request, queueID string) {
	switch r.Method {
	case http.MethodPost:
		var req counterRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		counter, err := h.store.CreateCounter(r.Context(), queueID, req.Name)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, counter)
	case http.MethodGet:
		counters, err := h.store.ListCounters(r.Context(), queueID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, counters)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCounter(w http.ResponseWriter, r *http.Request, queueID, counterID string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(counterID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter id must be a UUID")
		return
	}
	if err := h.store.DeleteCounter(r.Context(), queueID, counterID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBinding(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "device_id is required")
		return
	}
	if h.bindings == nil {
		writeJSON(w, http.StatusOK, binding.Binding{})
		return
	}
	reconciled, err := h.bindings.Reconcile(r.Context(), queueID, deviceID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reconciled)
}

func parseTokenNumber(raw string) (int, bool) {
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		return 0, false
	}
	return number, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidQueueCode(code string) bool {
	if len(code) < 3 || len(code) > 32 {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrDuplicateCode):
		return http.StatusConflict, "duplicate_code", "queue code already taken"
	case errors.Is(err, store.ErrQueueClosed):
		return http.StatusConflict, "queue_closed", "queue is closed"
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "daily capacity reached"
	case errors.Is(err, store.ErrPolicyViolation):
		return http.StatusConflict, "policy_violation", "queue policy does not allow this action"
	case errors.Is(err, store.ErrNoTokenWaiting):
		return http.StatusConflict, "no_token_waiting", "no token waiting to be served"
	case errors.Is(err, binding.ErrAlreadyQueued):
		return http.StatusConflict, "already_queued", "device already holds an active token"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
