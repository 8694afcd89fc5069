package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/registry"
)

// multipart overhead allowed on top of the document size
const uploadSlack = 1 << 20

// POST /add-recipient
func (s *server) addRecipient(w http.ResponseWriter, r *http.Request) {
	var rec model.Recipient
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&rec); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	saved, err := s.Registry.AddRecipient(r.Context(), rec)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]any{"status": respond.StatusSuccess, "recipient": saved})
}

// GET /recipients
func (s *server) listRecipients(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Registry.Recipients(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Recipient{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"recipients": recs})
}

// POST /upload-document (multipart: file, description)
func (s *server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	limit := s.MaxUpload
	if limit <= 0 {
		limit = registry.DefaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadSlack)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respond.WriteTooLarge(w, fmt.Sprintf("upload exceeds %d bytes", limit))
			return
		}
		respond.WriteBadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()
	if hdr.Filename == "" {
		respond.WriteBadRequest(w, "no file selected")
		return
	}

	doc, err := s.Registry.SaveDocument(r.Context(), hdr.Filename, r.FormValue("description"), file)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]any{"status": respond.StatusSuccess, "document": doc})
}

// GET /documents
func (s *server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.Registry.Documents(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /documents/{filename}
func (s *server) serveDocument(w http.ResponseWriter, r *http.Request) {
	f, doc, err := s.Registry.OpenDocument(r.Context(), mux.Vars(r)["filename"])
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Name}))
	http.ServeContent(w, r, doc.Name, doc.UploadedAt, f)
}
