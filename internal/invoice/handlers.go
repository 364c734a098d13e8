package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

// maxUploadSize bounds multipart uploads; high-resolution phone photos can be large
const maxUploadSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON {"error": ...} body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scanning.ErrPDFProcessing),
		errors.Is(err, scanning.ErrImageProcessing),
		errors.Is(err, ErrNoPages):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// userID resolves the {user} path segment, creating the user on first use
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	username := r.PathValue("user")
	if username == "" {
		corsError(w, "User required", http.StatusBadRequest)
		return 0, false
	}
	id, err := s.service.GetOrCreateUser(username)
	if err != nil {
		slog.Error("Error resolving user", "user", username, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return 0, false
	}
	return id, true
}

// invoiceID parses the {id} path segment
func invoiceID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		corsError(w, "Invalid invoice ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// contentTypeFor guesses a MIME type from the filename when the client sent none
func contentTypeFor(filename, declared string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleListInvoices returns the user's invoices, newest first
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	invoices, err := s.service.ListInvoices(userID)
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, invoices)
}

// handleUploadInvoice handles invoice upload
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		jsonError(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	}

	contentType := contentTypeFor(header.Filename, header.Header.Get("Content-Type"))

	inv, assembly, err := s.service.ProcessInvoice(r.Context(), userID, header.Filename, data, contentType, r.FormValue("notes"))
	if err != nil {
		slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
		code := statusFor(err)
		message := "Internal server error"
		if code == http.StatusUnprocessableEntity {
			message = err.Error()
		}
		jsonError(w, message, code)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"invoice":    inv,
		"duplicates": assembly.Match,
		"validation": assembly.Validation,
	})
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := s.service.GetInvoice(userID, id)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			corsError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting invoice", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// handleGetInvoiceFile returns the original upload
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	data, contentType, err := s.service.GetInvoiceFile(userID, id)
	if err != nil {
		slog.Error("Error getting invoice file", "id", id, "error", err)
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetInvoiceText returns the extracted text as a download
func (s *Server) handleGetInvoiceText(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	text, name, err := s.service.GetInvoiceText(userID, id)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			corsError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting invoice text", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	io.WriteString(w, text)
}

// handleExportInvoices returns the user's invoices as an XLSX workbook
func (s *Server) handleExportInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	data, err := s.service.ExportInvoices(userID)
	if err != nil {
		slog.Error("Error exporting invoices", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	w.Write(data)
}

// handleDeleteInvoice deletes a single invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteInvoices(userID, []uint64{id}); err != nil {
		slog.Error("Error deleting invoice", "id", id, "error", err)
		corsError(w, "Error deleting invoice", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteInvoices deletes several invoices at once
func (s *Server) handleDeleteInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		IDs []uint64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		corsError(w, "At least one invoice ID is required", http.StatusBadRequest)
		return
	}

	if err := s.service.DeleteInvoices(userID, req.IDs); err != nil {
		slog.Error("Error deleting invoices", "ids", req.IDs, "error", err)
		corsError(w, "Error deleting invoices", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
