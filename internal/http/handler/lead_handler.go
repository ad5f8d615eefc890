package handler

import (
	"net/http"
	"strings"

	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/service"
	"go.uber.org/zap"
)

type LeadHandler struct {
	leadService *service.LeadService
	logger      *zap.Logger
}

func NewLeadHandler(leadService *service.LeadService, logger *zap.Logger) *LeadHandler {
	return &LeadHandler{
		leadService: leadService,
		logger:      logger,
	}
}

// Create godoc
// @Summary Create lead
// @Description Submit a lead as an admin. A matching open lead of the same email is updated instead.
// @Tags Leads
// @Accept json
// @Produce json
// @Param request body domain.CreateLeadRequest true "Lead data"
// @Success 201 {object} domain.LeadDTO
// @Failure 400 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Router /leads [post]
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}

	var req domain.CreateLeadRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = domain.LeadSourceAdmin
	}

	lead, err := h.leadService.CreateLead(r.Context(), &req, tenantID, req.AgentID)
	if err != nil {
		respondServiceError(w, h.logger, err, "create lead")
		return
	}

	respondJSON(w, http.StatusCreated, lead)
}

// SubmitForm godoc
// @Summary Submit lead form
// @Description Public form intake. Agent selection is not accepted from the form.
// @Tags Leads
// @Accept json
// @Produce json
// @Param request body domain.CreateLeadRequest true "Form data"
// @Success 201 {object} domain.LeadDTO
// @Failure 400 {object} domain.APIError
// @Security ApiKeyAuth
// @Router /public/leads [post]
func (h *LeadHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}

	var req domain.CreateLeadRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.AgentID = nil
	req.Source = domain.LeadSourceForm

	lead, err := h.leadService.CreateLead(r.Context(), &req, tenantID, nil)
	if err != nil {
		respondServiceError(w, h.logger, err, "submit lead form")
		return
	}

	respondJSON(w, http.StatusCreated, lead)
}

// List godoc
// @Summary List leads
// @Tags Leads
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.LeadDTO}
// @Security BearerAuth
// @Router /leads [get]
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}

	page, pageSize := parsePagination(r)
	result, err := h.leadService.ListLeads(r.Context(), tenantID, page, pageSize)
	if err != nil {
		respondServiceError(w, h.logger, err, "list leads")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ListByAgent godoc
// @Summary List leads of an agent
// @Tags Leads
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.LeadDTO}
// @Security BearerAuth
// @Router /agents/{id}/leads [get]
func (h *LeadHandler) ListByAgent(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	agentID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	page, pageSize := parsePagination(r)
	result, err := h.leadService.ListLeadsByAgent(r.Context(), tenantID, agentID, page, pageSize)
	if err != nil {
		respondServiceError(w, h.logger, err, "list agent leads")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetByID godoc
// @Summary Get lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} domain.LeadDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /leads/{id} [get]
func (h *LeadHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	lead, err := h.leadService.GetLead(r.Context(), id, tenantID)
	if err != nil {
		respondServiceError(w, h.logger, err, "get lead")
		return
	}

	respondJSON(w, http.StatusOK, lead)
}

// Update godoc
// @Summary Update lead fields
// @Description Partial update. Send the nil UUID as agentId to unassign.
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.UpdateLeadRequest true "Changed fields"
// @Success 200 {object} domain.LeadDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Router /leads/{id} [patch]
func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req domain.UpdateLeadRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	lead, err := h.leadService.UpdateLeadFields(r.Context(), id, &req, tenantID)
	if err != nil {
		respondServiceError(w, h.logger, err, "update lead")
		return
	}

	respondJSON(w, http.StatusOK, lead)
}

// UpdateStatus godoc
// @Summary Change lead status
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.UpdateLeadStatusRequest true "New status"
// @Success 200 {object} domain.LeadDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /leads/{id}/status [put]
func (h *LeadHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req domain.UpdateLeadStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	lead, err := h.leadService.UpdateLeadStatus(r.Context(), id, req.Status, tenantID)
	if err != nil {
		respondServiceError(w, h.logger, err, "update lead status")
		return
	}

	respondJSON(w, http.StatusOK, lead)
}

// Delete godoc
// @Summary Delete lead
// @Tags Leads
// @Param id path string true "Lead ID"
// @Success 204
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /leads/{id} [delete]
func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.leadService.DeleteLead(r.Context(), id, tenantID); err != nil {
		respondServiceError(w, h.logger, err, "delete lead")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Import godoc
// @Summary Bulk import leads
// @Description Upserts rows by email. Rows without email are dropped.
// @Tags Leads
// @Accept json
// @Produce json
// @Param request body domain.ImportLeadsRequest true "Rows"
// @Success 200 {object} domain.ImportResultDTO
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Router /leads/import [post]
func (h *LeadHandler) Import(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}

	var req domain.ImportLeadsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.leadService.ImportLeads(r.Context(), req.Rows, tenantID)
	if err != nil {
		respondServiceError(w, h.logger, err, "import leads")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// SendProposal godoc
// @Summary Send proposal
// @Description Moves the lead to PROPOSAL_SENT and mails the proposal PDF. The status change is kept when sending fails.
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} domain.LeadDTO
// @Failure 404 {object} domain.APIError
// @Failure 502 {object} domain.APIError
// @Security BearerAuth
// @Router /leads/{id}/proposal [post]
func (h *LeadHandler) SendProposal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	lead, err := h.leadService.SendProposal(r.Context(), id, tenantID)
	if err != nil {
		respondServiceError(w, h.logger, err, "send proposal")
		return
	}

	respondJSON(w, http.StatusOK, lead)
}
