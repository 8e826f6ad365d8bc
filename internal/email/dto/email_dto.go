package dto

import "mailsync-backend/internal/email/domain"

type EmailsResponse struct {
	Emails []*domain.Email `json:"emails"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Total  int64           `json:"total"`
}

type SearchResponse struct {
	Emails []*domain.Email `json:"emails"`
	Query  string          `json:"query"`
}

type SyncRequestBody struct {
	Mode string `json:"mode"`
}

type ReconcileResponse struct {
	RemovedMessageIDs []string `json:"removed_message_ids"`
	RemovedCount      int      `json:"removed_count"`
}
