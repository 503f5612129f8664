package api

import "pawboard-api/domain"

const requestBodyMaxSize = 256 * 1024 // 256 KiB

// POST /api/visits request body.
type checkInRequest struct {
	Client       domain.Client        `json:"client"`
	Guardian     domain.Guardian      `json:"guardian"`
	Stage        string               `json:"stage,omitempty"`
	Services     []domain.ServiceItem `json:"services,omitempty"`
	Flags        []domain.Flag        `json:"flags,omitempty"`
	Instructions string               `json:"instructions,omitempty"`
	PublicNotes  string               `json:"publicNotes,omitempty"`
	PrivateNotes string               `json:"privateNotes,omitempty"`
}

// PATCH /api/visits/:id request body. Nil pointers leave fields untouched.
type updateVisitRequest struct {
	Services     []domain.ServiceItem `json:"services,omitempty"`
	Flags        []domain.Flag        `json:"flags,omitempty"`
	Instructions *string              `json:"instructions,omitempty"`
	PublicNotes  *string              `json:"publicNotes,omitempty"`
	PrivateNotes *string              `json:"privateNotes,omitempty"`
}

// POST /api/visits/:id/move request body.
type moveRequest struct {
	ToStage string `json:"toStage"`
	Comment string `json:"comment,omitempty"`
}

// POST /api/visits/:id/checkout request body.
type checkoutRequest struct {
	Comment string `json:"comment,omitempty"`
}

// POST /api/visits/:id/photos request body. Binary storage lives behind a
// CDN upload flow; the API records the resulting URL and flags only.
type addPhotoRequest struct {
	URL               string `json:"url"`
	VisibleToGuardian bool   `json:"visibleToGuardian"`
	IsPrimary         bool   `json:"isPrimary,omitempty"`
}

// PATCH /api/visits/:id/photos/:photoID request body.
type updatePhotoRequest struct {
	VisibleToGuardian *bool `json:"visibleToGuardian,omitempty"`
	IsPrimary         *bool `json:"isPrimary,omitempty"`
}

type visitDetailResponse struct {
	Visit      domain.Visit            `json:"visit"`
	History    []domain.HistoryEntry   `json:"history,omitempty"`
	Deliveries []domain.DeliveryRecord `json:"deliveries,omitempty"`
}

type servicesResponse struct {
	Services []domain.ServiceItem `json:"services"`
}

type intakeSearchResponse struct {
	Items []domain.IntakeMatch `json:"items"`
}

// moveAcceptedResponse echoes the current visit when a duplicate move is
// absorbed by the guard.
type moveAcceptedResponse struct {
	Visit   domain.Visit `json:"visit"`
	Pending bool         `json:"pending"`
}

type validationErrorResponse struct {
	Errors map[string]string `json:"errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}
