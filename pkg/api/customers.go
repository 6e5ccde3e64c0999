// Package api exposes the customer registry over HTTP.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// CustomerReader is the read side of the cache manager.
type CustomerReader interface {
	GetCustomers(ctx context.Context) ([]types.Customer, error)
	GetCustomer(ctx context.Context, id int64) (types.Customer, bool, error)
	UniqueCustomer(ctx context.Context, firstName, lastName string) (bool, error)
}

// CustomerWriter applies mutations from client input.
type CustomerWriter interface {
	AddCustomer(ctx context.Context, in types.CustomerInput) (types.Customer, error)
	UpdateCustomer(ctx context.Context, in types.CustomerInput, existing types.Customer) (types.Customer, error)
	DeleteCustomer(ctx context.Context, existing types.Customer) error
}

// CustomerHandler serves the /customers resource.
type CustomerHandler struct {
	reader CustomerReader
	writer CustomerWriter
	logger zerolog.Logger
}

// NewCustomerHandler creates a CustomerHandler.
func NewCustomerHandler(reader CustomerReader, writer CustomerWriter, logger zerolog.Logger) *CustomerHandler {
	return &CustomerHandler{
		reader: reader,
		writer: writer,
		logger: logger.With().Str("component", "CustomerHandler").Logger(),
	}
}

// Register mounts the customer routes on mux.
func (h *CustomerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /customers", h.GetCustomers)
	mux.HandleFunc("GET /customers/{id}", h.GetCustomer)
	mux.HandleFunc("POST /customers", h.CreateCustomer)
	mux.HandleFunc("PUT /customers/{id}", h.UpdateCustomer)
	mux.HandleFunc("DELETE /customers/{id}", h.DeleteCustomer)
}

// GetCustomers lists every customer.
func (h *CustomerHandler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.reader.GetCustomers(r.Context())
	if err != nil {
		h.serverError(w, err, "Error retrieving list of all customers.")
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

// GetCustomer returns one customer by id.
func (h *CustomerHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, found, err := h.reader.GetCustomer(r.Context(), id)
	if err != nil {
		h.serverError(w, err, "Error retrieving customer data.")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.Newf(errors.CodeNotFound, "Customer %d not found.", id))
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// CreateCustomer adds a customer and answers 201 with its location.
func (h *CustomerHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	unique, err := h.reader.UniqueCustomer(r.Context(), in.FirstName, in.LastName)
	if err != nil {
		h.serverError(w, err, "Error creating a new customer.")
		return
	}
	if !unique {
		writeError(w, http.StatusBadRequest, errors.New(errors.CodeInvalidInput, nameExistsMessage(in)))
		return
	}

	customer, err := h.writer.AddCustomer(r.Context(), in)
	if err != nil {
		// A concurrent request took the name between the check and the insert.
		if errors.GetCode(err) == errors.CodeAlreadyExists {
			writeError(w, http.StatusConflict, errors.New(errors.CodeAlreadyExists, nameExistsMessage(in)))
			return
		}
		h.serverError(w, err, "Error creating a new customer.")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/customers/%d", customer.ID))
	writeJSON(w, http.StatusCreated, customer)
}

// UpdateCustomer applies the input to an existing customer.
func (h *CustomerHandler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	existing, found, err := h.reader.GetCustomer(r.Context(), id)
	if err != nil {
		h.serverError(w, err, "Error updating a customer.")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.Newf(errors.CodeNotFound, "Customer %d not found.", id))
		return
	}

	customer, err := h.writer.UpdateCustomer(r.Context(), in, existing)
	if err != nil {
		switch errors.GetCode(err) {
		case errors.CodeAlreadyExists:
			writeError(w, http.StatusConflict, errors.New(errors.CodeAlreadyExists, nameExistsMessage(in)))
		case errors.CodeNotFound:
			writeError(w, http.StatusNotFound, errors.Newf(errors.CodeNotFound, "Customer %d not found.", id))
		default:
			h.serverError(w, err, "Error updating a customer.")
		}
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// DeleteCustomer removes a customer and answers 204.
func (h *CustomerHandler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existing, found, err := h.reader.GetCustomer(r.Context(), id)
	if err != nil {
		h.serverError(w, err, "Error deleting customer data.")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.Newf(errors.CodeNotFound, "Customer %d not found.", id))
		return
	}
	if err := h.writer.DeleteCustomer(r.Context(), existing); err != nil {
		if errors.GetCode(err) == errors.CodeNotFound {
			writeError(w, http.StatusNotFound, errors.Newf(errors.CodeNotFound, "Customer %d not found.", id))
			return
		}
		h.serverError(w, err, "Error deleting customer data.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeInput reads and validates a CustomerInput body, answering 400 itself
// when it is unusable.
func (h *CustomerHandler) decodeInput(w http.ResponseWriter, r *http.Request) (types.CustomerInput, bool) {
	var in *types.CustomerInput
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in)
	switch {
	case stderrors.Is(err, io.EOF):
		in = nil
	case err != nil:
		writeError(w, http.StatusBadRequest, errors.Wrap(err, errors.CodeInvalidInput, "Customer input is not valid JSON."))
		return types.CustomerInput{}, false
	}
	if in == nil {
		writeError(w, http.StatusBadRequest, errors.New(errors.CodeInvalidInput, "Customer input cannot be null."))
		return types.CustomerInput{}, false
	}
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		writeError(w, http.StatusBadRequest, errors.New(errors.CodeInvalidInput, "Customer name cannot be null or empty."))
		return types.CustomerInput{}, false
	}
	return *in, true
}

func (h *CustomerHandler) serverError(w http.ResponseWriter, err error, message string) {
	h.logger.Error().Err(err).Msg(strings.TrimSuffix(message, "."))
	writeError(w, http.StatusInternalServerError, errors.New(errors.GetCode(err), message))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Newf(errors.CodeInvalidInput, "Customer id %q is not a number.", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func nameExistsMessage(in types.CustomerInput) string {
	return fmt.Sprintf("Customer first and last name (%s %s) already exists.", in.FirstName, in.LastName)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the flat error document; wrapped causes are not exposed.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errors.ToJSON(err))
}
