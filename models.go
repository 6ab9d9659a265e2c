package solsync

import (
	"fmt"
	"strings"
)

// Record is a contact as served by the backend.
// Numero is the display sequence number; zero means the backend did not send one.
type Record struct {
	ID          int64   `json:"id"`
	Numero      int64   `json:"numero,omitempty"`
	Nome        string  `json:"nome"`
	Empresa     string  `json:"empresa"`
	Telefone    string  `json:"telefone"`
	Email       string  `json:"email"`
	NIF         string  `json:"nif"`
	Observacao  string  `json:"observacao"`
	ProcessedAt *string `json:"processed_at"`
	CreatedAt   string  `json:"created_at"`
}

// Processed reports whether the record has been processed.
func (r Record) Processed() bool {
	return r.ProcessedAt != nil && *r.ProcessedAt != ""
}

// DisplayNumber is the number shown to users: Numero when known, else ID.
func (r Record) DisplayNumber() int64 {
	if r.Numero != 0 {
		return r.Numero
	}
	return r.ID
}

// Label renders the zero-padded display number, e.g. "#007".
func (r Record) Label() string {
	return fmt.Sprintf("#%03d", r.DisplayNumber())
}

// Stats is the aggregate served by /contacts/stats.
type Stats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Pending   int64 `json:"pending"`
}

// PageInfo is the canonical pagination metadata.
type PageInfo struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// PagedResult is the canonical list shape every backend variant normalizes into.
type PagedResult struct {
	Items    []Record `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}

// Clone returns a deep copy so callers can patch it without touching cached state.
func (p PagedResult) Clone() PagedResult {
	out := PagedResult{PageInfo: p.PageInfo}
	if p.Items != nil {
		out.Items = make([]Record, len(p.Items))
		for i, r := range p.Items {
			if r.ProcessedAt != nil {
				v := *r.ProcessedAt
				r.ProcessedAt = &v
			}
			out.Items[i] = r
		}
	}
	return out
}

// StatusFilter restricts a listing to pending or processed records.
type StatusFilter string

const (
	StatusAll       StatusFilter = ""
	StatusPending   StatusFilter = "pending"
	StatusProcessed StatusFilter = "processed"
)

// ListQuery identifies one page of contacts.
type ListQuery struct {
	Page    int
	PerPage int
	Query   string
	Status  StatusFilter
	// Force skips the freshness window and the in-flight table.
	Force bool
}

func (q ListQuery) normalized() (ListQuery, error) {
	if q.Page < 0 {
		return q, ErrInvalidPage
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = DefaultPerPage
	}
	q.Query = strings.TrimSpace(q.Query)
	return q, nil
}

// ContactUpdate is the body of PUT /contacts/{id}.
type ContactUpdate struct {
	Observacao string `json:"observacao"`
}

// User is the authenticated account.
type User struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// NewUser is the body of POST /users.
type NewUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// ScriptSettings holds the approach script shown to operators.
type ScriptSettings struct {
	Script string `json:"script"`
	OK     bool   `json:"ok,omitempty"`
}
