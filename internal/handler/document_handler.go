package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"quillsync/internal/domain"
	"quillsync/internal/repository"
	"quillsync/internal/service"
	"quillsync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type DocumentHandler struct {
	service  *service.DocumentService
	validate *validator.Validate
}

func NewDocumentHandler(service *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request payload")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	info, err := h.service.Create(&req)
	if err != nil {
		if errors.Is(err, repository.ErrDocumentExists) {
			response.Error(w, http.StatusConflict, "document already exists")
			return
		}
		response.InternalError(w, "failed to create document")
		return
	}

	response.Created(w, info)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.List()
	if err != nil {
		response.InternalError(w, "failed to list documents")
		return
	}
	response.Success(w, infos)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snapshot, err := h.service.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			response.NotFound(w, "document not found")
			return
		}
		response.InternalError(w, "failed to load document")
		return
	}
	response.Success(w, snapshot)
}
