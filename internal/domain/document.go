package domain

import "time"

type DocumentInfo struct {
	ID        string    `json:"id"`
	Revision  uint64    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

type DocumentSnapshot struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Revision uint64 `json:"revision"`
}

type CreateDocumentRequest struct {
	ID   string `json:"id" validate:"required,min=1,max=128"`
	Text string `json:"text" validate:"max=1048576"`
}
