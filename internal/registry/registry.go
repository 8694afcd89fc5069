// Package registry persists recipients and released documents as JSON files
// next to the document store.
package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/zeebo/blake3"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

const (
	recipientsFile = "recipients.json"
	documentsFile  = "documents.json"

	defaultDescription = "No description provided"
	defaultLanguage    = "english"

	// DefaultMaxUpload caps a single uploaded document.
	DefaultMaxUpload int64 = 50 << 20
)

// AllowedExtensions lists the document types accepted for upload.
var AllowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".txt": true,
	".jpg": true, ".png": true, ".zip": true,
}

// Registry stores recipients and documents. Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	dataDir       string
	docsDir       string
	publicBaseURL string
	maxUpload     int64
	now           func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxUpload overrides DefaultMaxUpload.
func WithMaxUpload(n int64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxUpload = n
		}
	}
}

// New creates the data and document directories if needed.
func New(dataDir, docsDir, publicBaseURL string, opts ...Option) (*Registry, error) {
	for _, dir := range []string{dataDir, docsDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("registry: create %s: %w", dir, err)
		}
	}
	r := &Registry{
		dataDir:       dataDir,
		docsDir:       docsDir,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		maxUpload:     DefaultMaxUpload,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AddRecipient validates and stores a recipient. Email is the unique key and
// is compared case-insensitively.
func (r *Registry) AddRecipient(_ context.Context, rec model.Recipient) (model.Recipient, error) {
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	rec.Phone = strings.TrimSpace(rec.Phone)
	rec.WhatsApp = strings.TrimSpace(rec.WhatsApp)
	if rec.Name == "" || rec.Email == "" || rec.Phone == "" {
		return model.Recipient{}, fmt.Errorf("%w: name, email and phone are required", model.ErrValidation)
	}
	if !strfmt.IsEmail(rec.Email) {
		return model.Recipient{}, fmt.Errorf("%w: invalid email %q", model.ErrValidation, rec.Email)
	}
	if rec.WhatsApp == "" {
		rec.WhatsApp = rec.Phone
	}
	rec.PreferredLanguage = strings.ToLower(strings.TrimSpace(rec.PreferredLanguage))
	if rec.PreferredLanguage == "" {
		rec.PreferredLanguage = defaultLanguage
	}
	rec.AddedAt = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.Recipient
	if err := r.load(recipientsFile, &all); err != nil {
		return model.Recipient{}, err
	}
	for _, existing := range all {
		if existing.Email == rec.Email {
			return model.Recipient{}, fmt.Errorf("%w: recipient %s already exists", model.ErrConflict, rec.Email)
		}
	}
	all = append(all, rec)
	if err := r.save(recipientsFile, all); err != nil {
		return model.Recipient{}, err
	}
	return rec, nil
}

// Recipients returns every recipient in insertion order.
func (r *Registry) Recipients(context.Context) ([]model.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []model.Recipient
	if err := r.load(recipientsFile, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// SaveDocument stores an upload as "<unix>_<name>" and records its BLAKE3
// digest.
func (r *Registry) SaveDocument(_ context.Context, filename, description string, src io.Reader) (model.Document, error) {
	name := sanitizeName(filename)
	ext := strings.ToLower(filepath.Ext(name))
	if name == "" || !AllowedExtensions[ext] {
		return model.Document{}, fmt.Errorf("%w: file type %q not allowed", model.ErrValidation, ext)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = defaultDescription
	}
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	f, stored, err := r.createUnique(now, name)
	if err != nil {
		return model.Document{}, err
	}
	path := filepath.Join(r.docsDir, stored)

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(src, r.maxUpload+1))
	if err == nil && n > r.maxUpload {
		err = fmt.Errorf("%w: file exceeds %d bytes", model.ErrValidation, r.maxUpload)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return model.Document{}, err
	}

	doc := model.Document{
		Name:        name,
		StoredName:  stored,
		Path:        path,
		URL:         r.publicBaseURL + "/documents/" + url.PathEscape(stored),
		Description: description,
		Size:        n,
		Digest:      hex.EncodeToString(h.Sum(nil)),
		UploadedAt:  now,
	}
	var all []model.Document
	if err := r.load(documentsFile, &all); err != nil {
		_ = os.Remove(path)
		return model.Document{}, err
	}
	all = append(all, doc)
	if err := r.save(documentsFile, all); err != nil {
		_ = os.Remove(path)
		return model.Document{}, err
	}
	return doc, nil
}

func (r *Registry) createUnique(now time.Time, name string) (*os.File, string, error) {
	stored := fmt.Sprintf("%d_%s", now.Unix(), name)
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(r.docsDir, stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, stored, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return nil, "", err
		}
		stored = fmt.Sprintf("%d_%d_%s", now.Unix(), i, name)
	}
}

// Documents returns every document in upload order.
func (r *Registry) Documents(context.Context) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []model.Document
	if err := r.load(documentsFile, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// OpenDocument opens a stored document by its stored name. Names with path
// components are rejected.
func (r *Registry) OpenDocument(ctx context.Context, storedName string) (*os.File, model.Document, error) {
	if storedName == "" || strings.Contains(storedName, "..") || strings.ContainsAny(storedName, `/\`) {
		return nil, model.Document{}, fmt.Errorf("%w: invalid filename", model.ErrValidation)
	}
	docs, err := r.Documents(ctx)
	if err != nil {
		return nil, model.Document{}, err
	}
	for _, d := range docs {
		if d.StoredName == storedName {
			f, err := os.Open(filepath.Join(r.docsDir, storedName))
			if errors.Is(err, os.ErrNotExist) {
				return nil, model.Document{}, fmt.Errorf("%w: document file missing", model.ErrNotFound)
			}
			return f, d, err
		}
	}
	return nil, model.Document{}, fmt.Errorf("%w: document %s", model.ErrNotFound, storedName)
}

// Verify checks that a document's file still exists and matches the digest
// recorded at upload.
func (r *Registry) Verify(_ context.Context, doc model.Document) error {
	f, err := os.Open(doc.Path)
	if err != nil {
		return fmt.Errorf("%w: document %s: %v", model.ErrNotFound, doc.StoredName, err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); doc.Digest != "" && got != doc.Digest {
		return fmt.Errorf("%w: document %s changed since upload", model.ErrValidation, doc.StoredName)
	}
	return nil
}

// load reads a JSON list. A missing file is an empty list.
func (r *Registry) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(r.dataDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("registry: parse %s: %w", name, err)
	}
	return nil
}

// save writes atomically via a temp file and rename.
func (r *Registry) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(r.dataDir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(r.dataDir, name))
}

// sanitizeName keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with '_'.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	name = strings.TrimLeft(name, "._")
	if name == "" || name == "." {
		return ""
	}
	return name
}
