package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"pawboard-api/board"
	"pawboard-api/domain"
)

type stubNotFound struct{}

func (stubNotFound) Error() string { return "not found" }
func (stubNotFound) NotFound()     {}

type mockStorage struct {
	views         map[string]domain.View
	visits        map[string]domain.Visit
	board         domain.Board
	boardErr      error
	history       []domain.HistoryEntry
	deliveries    []domain.DeliveryRecord
	services      []domain.ServiceItem
	matches       []domain.IntakeMatch
	updated       []domain.Visit
	modifiedAfter []time.Time
}

func (m *mockStorage) FetchView(ctx context.Context, name string) (domain.View, error) {
	v, ok := m.views[name]
	if !ok {
		return domain.View{}, stubNotFound{}
	}
	return v, nil
}

func (m *mockStorage) FetchBoard(ctx context.Context, view domain.View, isPublic bool, modifiedAfter time.Time) (domain.Board, error) {
	m.modifiedAfter = append(m.modifiedAfter, modifiedAfter)
	if m.boardErr != nil {
		return domain.Board{}, m.boardErr
	}
	b := m.board
	b.IsPublic = isPublic
	return b, nil
}

func (m *mockStorage) FetchVisit(ctx context.Context, id string) (domain.Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return domain.Visit{}, stubNotFound{}
	}
	return v, nil
}

func (m *mockStorage) UpdateVisit(ctx context.Context, v domain.Visit) error {
	m.visits[v.ID] = v
	m.updated = append(m.updated, v)
	return nil
}

func (m *mockStorage) FetchHistory(ctx context.Context, visitID string) ([]domain.HistoryEntry, error) {
	return m.history, nil
}

func (m *mockStorage) FetchDeliveries(ctx context.Context, visitID string) ([]domain.DeliveryRecord, error) {
	return m.deliveries, nil
}

func (m *mockStorage) FetchServices(ctx context.Context, serviceContext string) ([]domain.ServiceItem, error) {
	return m.services, nil
}

func (m *mockStorage) SearchIntake(ctx context.Context, query string) ([]domain.IntakeMatch, error) {
	return m.matches, nil
}

type mockEngine struct {
	checkInFn  func(ctx context.Context, visit domain.Visit) (domain.Visit, error)
	updateFn   func(ctx context.Context, visit domain.Visit, actor string) (domain.Visit, error)
	moveFn     func(ctx context.Context, visitID, toStage, comment, actor string) (domain.Visit, error)
	checkoutFn func(ctx context.Context, visitID, comment, actor string) (domain.Visit, error)
	moveCalls  int
}

func (m *mockEngine) CheckIn(ctx context.Context, visit domain.Visit) (domain.Visit, error) {
	if m.checkInFn == nil {
		return domain.Visit{}, errors.New("unexpected CheckIn call")
	}
	return m.checkInFn(ctx, visit)
}

func (m *mockEngine) Update(ctx context.Context, visit domain.Visit, actor string) (domain.Visit, error) {
	if m.updateFn == nil {
		return domain.Visit{}, errors.New("unexpected Update call")
	}
	return m.updateFn(ctx, visit, actor)
}

func (m *mockEngine) Move(ctx context.Context, visitID, toStage, comment, actor string) (domain.Visit, error) {
	m.moveCalls++
	if m.moveFn == nil {
		return domain.Visit{}, errors.New("unexpected Move call")
	}
	return m.moveFn(ctx, visitID, toStage, comment, actor)
}

func (m *mockEngine) Checkout(ctx context.Context, visitID, comment, actor string) (domain.Visit, error) {
	if m.checkoutFn == nil {
		return domain.Visit{}, errors.New("unexpected Checkout call")
	}
	return m.checkoutFn(ctx, visitID, comment, actor)
}

type mockAuth struct {
	userID string
	err    error
}

func (m *mockAuth) UserIDFromAuthHeader(string) (string, error) {
	return m.userID, m.err
}

type mockGuard struct {
	denied   bool
	acquired []string
	released []string
}

func (m *mockGuard) Acquire(ctx context.Context, visitID string) (bool, error) {
	if m.denied {
		return false, nil
	}
	m.acquired = append(m.acquired, visitID)
	return true, nil
}

func (m *mockGuard) Release(ctx context.Context, visitID string) error {
	m.released = append(m.released, visitID)
	return nil
}

func newTestStorage() *mockStorage {
	return &mockStorage{
		views: map[string]domain.View{
			"internal": {Name: "internal", Type: domain.ViewInternal, ShowGuardian: true},
			"lobby":    {Name: "lobby", Type: domain.ViewLobby, PublicToken: "lobby-secret"},
		},
		visits: map[string]domain.Visit{
			"v1": {
				ID:           "v1",
				Client:       domain.Client{Name: "Biscuit"},
				Guardian:     domain.Guardian{FirstName: "Sam", LastName: "Rivera", Email: "sam@example.com"},
				CurrentStage: "bath",
				Status:       domain.StatusInProgress,
				Photos: []domain.Photo{
					{ID: "p1", URL: "https://cdn.example.com/p1.jpg", VisibleToGuardian: true, IsPrimary: true},
					{ID: "p2", URL: "https://cdn.example.com/p2.jpg"},
				},
			},
		},
		board: domain.Board{
			View: "internal",
			Stages: []domain.StageColumn{
				{Stage: domain.Stage{Key: "bath", SortOrder: 1}, Visits: []domain.Visit{{ID: "v1"}}},
			},
		},
	}
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newTestAPI(store *mockStorage, eng *mockEngine, auth Authenticator, guard MoveGuard) *echo.Echo {
	e := echo.New()
	if auth == nil {
		auth = &mockAuth{userID: "staff-1"}
	}
	if guard == nil {
		guard = &mockGuard{}
	}
	Register(e, store, eng, auth, guard, log.New())
	return e
}

func TestGetBoardStaff(t *testing.T) {
	store := newTestStorage()
	e := newTestAPI(store, &mockEngine{}, nil, nil)

	rec := doRequest(e, http.MethodGet, "/api/board", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	if err := sonic.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.IsPublic {
		t.Fatalf("staff board must not be public")
	}
	if len(store.modifiedAfter) != 1 || !store.modifiedAfter[0].IsZero() {
		t.Fatalf("expected one full fetch, got %v", store.modifiedAfter)
	}
}

func TestGetBoardIncremental(t *testing.T) {
	store := newTestStorage()
	e := newTestAPI(store, &mockEngine{}, nil, nil)

	since := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	rec := doRequest(e, http.MethodGet, "/api/board?modified_after="+since.Format(time.RFC3339Nano), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.modifiedAfter) != 1 || !store.modifiedAfter[0].Equal(since) {
		t.Fatalf("modified_after not passed through: %v", store.modifiedAfter)
	}
}

func TestGetBoardInvalidModifiedAfter(t *testing.T) {
	e := newTestAPI(newTestStorage(), &mockEngine{}, nil, nil)
	rec := doRequest(e, http.MethodGet, "/api/board?modified_after=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetBoardUnknownView(t *testing.T) {
	e := newTestAPI(newTestStorage(), &mockEngine{}, nil, nil)
	rec := doRequest(e, http.MethodGet, "/api/board?view=garden", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetBoardPublicToken(t *testing.T) {
	store := newTestStorage()
	// No Authorization header: public displays only hold the token.
	e := newTestAPI(store, &mockEngine{}, &mockAuth{err: errors.New("no token")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/board?view=lobby&public_token=lobby-secret", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	if err := sonic.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !b.IsPublic {
		t.Fatalf("public token fetch must produce the public projection")
	}
}

func TestGetBoardWrongPublicToken(t *testing.T) {
	e := newTestAPI(newTestStorage(), &mockEngine{}, &mockAuth{err: errors.New("no token")}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/board?view=lobby&public_token=guessed", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetVisitPublicIsMasked(t *testing.T) {
	store := newTestStorage()
	e := newTestAPI(store, &mockEngine{}, &mockAuth{err: errors.New("no token")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/visits/v1?view=lobby&public_token=lobby-secret", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); strings.Contains(body, "Rivera") || strings.Contains(body, "sam@example.com") {
		t.Fatalf("guardian PII leaked through public endpoint: %s", body)
	}
	var resp visitDetailResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.History) != 0 {
		t.Fatalf("public detail must not include history")
	}
	for _, p := range resp.Visit.Photos {
		if !p.VisibleToGuardian {
			t.Fatalf("guardian-hidden photo leaked: %+v", p)
		}
	}
}

func TestPostVisitValidation(t *testing.T) {
	e := newTestAPI(newTestStorage(), &mockEngine{}, nil, nil)
	rec := doRequest(e, http.MethodPost, "/api/visits", `{"client":{},"guardian":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp validationErrorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Errors["client.name"] == "" || resp.Errors["guardian.name"] == "" {
		t.Fatalf("expected field errors, got %+v", resp.Errors)
	}
}

func TestPostVisitCheckIn(t *testing.T) {
	eng := &mockEngine{
		checkInFn: func(ctx context.Context, visit domain.Visit) (domain.Visit, error) {
			if visit.CheckedInBy != "staff-1" {
				return domain.Visit{}, errors.New("actor not propagated")
			}
			visit.ID = "v-new"
			visit.CurrentStage = "check-in"
			return visit, nil
		},
	}
	e := newTestAPI(newTestStorage(), eng, nil, nil)
	rec := doRequest(e, http.MethodPost, "/api/visits",
		`{"client":{"name":"Mochi"},"guardian":{"firstName":"Ada","lastName":"Wong"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var visit domain.Visit
	if err := sonic.Unmarshal(rec.Body.Bytes(), &visit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if visit.ID != "v-new" || visit.CurrentStage != "check-in" {
		t.Fatalf("unexpected visit: %+v", visit)
	}
}

func TestPostMove(t *testing.T) {
	guard := &mockGuard{}
	eng := &mockEngine{
		moveFn: func(ctx context.Context, visitID, toStage, comment, actor string) (domain.Visit, error) {
			return domain.Visit{ID: visitID, CurrentStage: toStage}, nil
		},
	}
	e := newTestAPI(newTestStorage(), eng, nil, guard)
	rec := doRequest(e, http.MethodPost, "/api/visits/v1/move", `{"toStage":"grooming","comment":"ready"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(guard.acquired) != 1 || len(guard.released) != 1 {
		t.Fatalf("guard not acquired/released exactly once: %+v", guard)
	}
}

func TestPostMoveDuplicateAbsorbed(t *testing.T) {
	guard := &mockGuard{denied: true}
	eng := &mockEngine{}
	e := newTestAPI(newTestStorage(), eng, nil, guard)
	rec := doRequest(e, http.MethodPost, "/api/visits/v1/move", `{"toStage":"grooming"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if eng.moveCalls != 0 {
		t.Fatalf("duplicate move must not reach the engine")
	}
	if len(guard.released) != 0 {
		t.Fatalf("absorbed duplicate must not release the holder's guard")
	}
	var resp moveAcceptedResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Pending || resp.Visit.ID != "v1" {
		t.Fatalf("expected pending echo of current state, got %+v", resp)
	}
}

func TestPostMoveBusinessError(t *testing.T) {
	eng := &mockEngine{
		moveFn: func(ctx context.Context, visitID, toStage, comment, actor string) (domain.Visit, error) {
			return domain.Visit{}, board.ErrSameStage
		},
	}
	guard := &mockGuard{}
	e := newTestAPI(newTestStorage(), eng, nil, guard)
	rec := doRequest(e, http.MethodPost, "/api/visits/v1/move", `{"toStage":"bath"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(guard.released) != 1 {
		t.Fatalf("guard must be released after a failed move")
	}
}

func TestPostMoveMissingStage(t *testing.T) {
	e := newTestAPI(newTestStorage(), &mockEngine{}, nil, nil)
	rec := doRequest(e, http.MethodPost, "/api/visits/v1/move", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWritesRejectedForPublicToken(t *testing.T) {
	e := newTestAPI(newTestStorage(), &mockEngine{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/visits/v1/move?public_token=lobby-secret",
		strings.NewReader(`{"toStage":"grooming"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostCheckoutConflict(t *testing.T) {
	eng := &mockEngine{
		checkoutFn: func(ctx context.Context, visitID, comment, actor string) (domain.Visit, error) {
			return domain.Visit{}, board.ErrAlreadyCheckedOut
		},
	}
	e := newTestAPI(newTestStorage(), eng, nil, nil)
	rec := doRequest(e, http.MethodPost, "/api/visits/v1/checkout", `{"comment":"done"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPatchPhotoPrimaryIsExclusive(t *testing.T) {
	store := newTestStorage()
	e := newTestAPI(store, &mockEngine{}, nil, nil)
	rec := doRequest(e, http.MethodPatch, "/api/visits/v1/photos/p2", `{"isPrimary":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	saved := store.visits["v1"]
	primaries := 0
	for _, p := range saved.Photos {
		if p.IsPrimary {
			primaries++
			if p.ID != "p2" {
				t.Fatalf("wrong primary photo: %s", p.ID)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary photo, got %d", primaries)
	}
}

func TestPatchVisitPartialUpdate(t *testing.T) {
	store := newTestStorage()
	var gotActor string
	engine := &mockEngine{updateFn: func(ctx context.Context, v domain.Visit, actor string) (domain.Visit, error) {
		gotActor = actor
		store.visits[v.ID] = v
		return v, nil
	}}
	e := newTestAPI(store, engine, nil, nil)
	rec := doRequest(e, http.MethodPatch, "/api/visits/v1", `{"privateNotes":"nervous around dryers"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	saved := store.visits["v1"]
	if saved.PrivateNotes != "nervous around dryers" {
		t.Fatalf("private notes not saved: %+v", saved)
	}
	if saved.Client.Name != "Biscuit" {
		t.Fatalf("untouched fields must survive: %+v", saved)
	}
	if gotActor == "" {
		t.Fatal("edit must be attributed to the caller")
	}
}

func TestGetIntakeSearch(t *testing.T) {
	store := newTestStorage()
	store.matches = []domain.IntakeMatch{{
		Client:   domain.Client{Name: "Biscuit"},
		Guardian: domain.Guardian{FirstName: "Sam", LastName: "Rivera"},
	}}
	e := newTestAPI(store, &mockEngine{}, nil, nil)
	rec := doRequest(e, http.MethodGet, "/api/intake-search?q=bis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp intakeSearchResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Client.Name != "Biscuit" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}
