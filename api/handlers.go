package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"pawboard-api/board"
	"pawboard-api/domain"
)

const defaultViewName = "internal"

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, engine Engine, auth Authenticator, guard MoveGuard, logger *log.Logger) {
	e.GET("/api/board", getBoard(store, auth, logger))
	e.GET("/api/visits/:id", getVisit(store, auth))
	e.POST("/api/visits", postVisit(engine, auth))
	e.PATCH("/api/visits/:id", patchVisit(store, engine, auth))
	e.POST("/api/visits/:id/move", postMove(store, engine, auth, guard, logger))
	e.POST("/api/visits/:id/checkout", postCheckout(engine, auth))
	e.POST("/api/visits/:id/photos", postPhoto(store, auth))
	e.PATCH("/api/visits/:id/photos/:photoID", patchPhoto(store, auth))
	e.GET("/api/services", getServices(store, auth))
	e.GET("/api/intake-search", getIntakeSearch(store, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// access is the resolved caller identity for a board read: either a staff
// user or a public display that presented a view's public token.
type access struct {
	actor    string
	view     domain.View
	isPublic bool
}

var (
	errUnknownView    = errors.New("unknown view")
	errBadPublicToken = errors.New("invalid public token")
)

// resolveAccess authenticates a board read. Public tokens are scoped to a
// view; any mismatch is indistinguishable from a missing token.
func resolveAccess(c echo.Context, store Storage, auth Authenticator) (access, int, error) {
	ctx := c.Request().Context()
	viewName := c.QueryParam("view")
	if viewName == "" {
		viewName = defaultViewName
	}
	view, err := store.FetchView(ctx, viewName)
	if err != nil {
		var nf NotFoundError
		if errors.As(err, &nf) {
			return access{}, http.StatusNotFound, errUnknownView
		}
		return access{}, http.StatusInternalServerError, err
	}

	if token := c.QueryParam("public_token"); token != "" {
		if view.PublicToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(view.PublicToken)) != 1 {
			return access{}, http.StatusUnauthorized, errBadPublicToken
		}
		return access{view: view, isPublic: true}, 0, nil
	}

	actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return access{}, http.StatusUnauthorized, err
	}
	return access{actor: actor, view: view}, 0, nil
}

// staffActor authenticates a write request. Public displays never get
// write access, whatever token they present.
func staffActor(c echo.Context, auth Authenticator) (string, int, error) {
	if c.QueryParam("public_token") != "" {
		return "", http.StatusForbidden, errors.New("public view is read-only")
	}
	actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return "", http.StatusUnauthorized, err
	}
	return actor, 0, nil
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func getBoard(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		acc, status, accessErr := resolveAccess(c, store, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if accessErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(status, errorResponse{Error: accessErr.Error()})
			return err
		}
		metrics.SetPublic(acc.isPublic)

		var modifiedAfter time.Time
		if raw := strings.TrimSpace(c.QueryParam("modified_after")); raw != "" {
			parsed, parseErr := time.Parse(time.RFC3339Nano, raw)
			if parseErr != nil {
				metrics.SetErrorStage("invalid_modified_after")
				err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid modified_after"})
				return err
			}
			modifiedAfter = parsed
			metrics.SetIncremental(true)
		}

		fetchStart := time.Now()
		b, fetchErr := store.FetchBoard(ctx, acc.view, acc.isPublic, modifiedAfter)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load board"})
			return err
		}
		visits := 0
		for _, col := range b.Stages {
			visits += len(col.Visits)
		}
		metrics.SetVisitsReturned(visits)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, b)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getVisit(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		acc, status, accessErr := resolveAccess(c, store, auth)
		if accessErr != nil {
			return c.JSON(status, errorResponse{Error: accessErr.Error()})
		}

		visit, err := store.FetchVisit(ctx, c.Param("id"))
		if err != nil {
			return visitLookupError(c, err)
		}

		if acc.isPublic {
			return c.JSON(http.StatusOK, visitDetailResponse{Visit: domain.MaskVisit(visit)})
		}

		history, err := store.FetchHistory(ctx, visit.ID)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load history"})
		}
		deliveries, err := store.FetchDeliveries(ctx, visit.ID)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load deliveries"})
		}
		return c.JSON(http.StatusOK, visitDetailResponse{Visit: visit, History: history, Deliveries: deliveries})
	}
}

func postVisit(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, status, authErr := staffActor(c, auth)
		if authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}

		var req checkInRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if errs := validateCheckIn(req); len(errs) > 0 {
			return c.JSON(http.StatusBadRequest, validationErrorResponse{Errors: errs})
		}

		visit, err := engine.CheckIn(c.Request().Context(), domain.Visit{
			Client:       req.Client,
			Guardian:     req.Guardian,
			CurrentStage: req.Stage,
			Services:     req.Services,
			Flags:        req.Flags,
			Instructions: req.Instructions,
			PublicNotes:  req.PublicNotes,
			PrivateNotes: req.PrivateNotes,
			CheckedInBy:  actor,
		})
		if err != nil {
			return engineError(c, err, "check-in failed")
		}
		return c.JSON(http.StatusCreated, visit)
	}
}

func validateCheckIn(req checkInRequest) map[string]string {
	errs := map[string]string{}
	if strings.TrimSpace(req.Client.Name) == "" {
		errs["client.name"] = "client name is required"
	}
	if strings.TrimSpace(req.Guardian.FullName()) == "" {
		errs["guardian.name"] = "guardian name is required"
	}
	return errs
}

func patchVisit(store Storage, engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, status, authErr := staffActor(c, auth)
		if authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}

		var req updateVisitRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		ctx := c.Request().Context()
		visit, err := store.FetchVisit(ctx, c.Param("id"))
		if err != nil {
			return visitLookupError(c, err)
		}

		if req.Services != nil {
			visit.Services = req.Services
		}
		if req.Flags != nil {
			visit.Flags = req.Flags
		}
		if req.Instructions != nil {
			visit.Instructions = *req.Instructions
		}
		if req.PublicNotes != nil {
			visit.PublicNotes = *req.PublicNotes
		}
		if req.PrivateNotes != nil {
			visit.PrivateNotes = *req.PrivateNotes
		}
		visit, err = engine.Update(ctx, visit, actor)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save visit"})
		}
		return c.JSON(http.StatusOK, visit)
	}
}

func postMove(store Storage, engine Engine, auth Authenticator, guard MoveGuard, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, status, authErr := staffActor(c, auth)
		if authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}

		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if strings.TrimSpace(req.ToStage) == "" {
			return c.JSON(http.StatusBadRequest, validationErrorResponse{Errors: map[string]string{"toStage": "target stage is required"}})
		}

		ctx := c.Request().Context()
		visitID := c.Param("id")

		acquired, err := guard.Acquire(ctx, visitID)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to acquire move guard"})
		}
		if !acquired {
			// A move for this visit is already in flight somewhere; absorb
			// the duplicate and echo current state.
			visit, fetchErr := store.FetchVisit(ctx, visitID)
			if fetchErr != nil {
				return visitLookupError(c, fetchErr)
			}
			return c.JSON(http.StatusAccepted, moveAcceptedResponse{Visit: visit, Pending: true})
		}
		defer func() {
			if releaseErr := guard.Release(ctx, visitID); releaseErr != nil {
				logger.WithFields(log.Fields{"visit_id": visitID, "error": releaseErr.Error()}).
					Error("move guard release failed")
			}
		}()

		visit, err := engine.Move(ctx, visitID, req.ToStage, req.Comment, actor)
		if err != nil {
			return engineError(c, err, "move failed")
		}
		return c.JSON(http.StatusOK, visit)
	}
}

func postCheckout(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, status, authErr := staffActor(c, auth)
		if authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}

		var req checkoutRequest
		if err := decodeBody(c, &req); err != nil && err != io.EOF {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		visit, err := engine.Checkout(c.Request().Context(), c.Param("id"), req.Comment, actor)
		if err != nil {
			return engineError(c, err, "checkout failed")
		}
		return c.JSON(http.StatusOK, visit)
	}
}

func postPhoto(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, status, authErr := staffActor(c, auth); authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}

		var req addPhotoRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if strings.TrimSpace(req.URL) == "" {
			return c.JSON(http.StatusBadRequest, validationErrorResponse{Errors: map[string]string{"url": "photo url is required"}})
		}

		ctx := c.Request().Context()
		visit, err := store.FetchVisit(ctx, c.Param("id"))
		if err != nil {
			return visitLookupError(c, err)
		}

		photo := domain.Photo{
			ID:                uuid.NewString(),
			URL:               req.URL,
			VisibleToGuardian: req.VisibleToGuardian,
			IsPrimary:         req.IsPrimary,
			TakenAt:           time.Now().UTC(),
		}
		if photo.IsPrimary {
			for i := range visit.Photos {
				visit.Photos[i].IsPrimary = false
			}
		}
		visit.Photos = append(visit.Photos, photo)
		visit.UpdatedAt = time.Now().UTC()

		if err := store.UpdateVisit(ctx, visit); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save photo"})
		}
		return c.JSON(http.StatusCreated, photo)
	}
}

func patchPhoto(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, status, authErr := staffActor(c, auth); authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}

		var req updatePhotoRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		ctx := c.Request().Context()
		visit, err := store.FetchVisit(ctx, c.Param("id"))
		if err != nil {
			return visitLookupError(c, err)
		}

		photoID := c.Param("photoID")
		idx := -1
		for i := range visit.Photos {
			if visit.Photos[i].ID == photoID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "photo not found"})
		}

		if req.VisibleToGuardian != nil {
			visit.Photos[idx].VisibleToGuardian = *req.VisibleToGuardian
		}
		if req.IsPrimary != nil {
			if *req.IsPrimary {
				for i := range visit.Photos {
					visit.Photos[i].IsPrimary = false
				}
			}
			visit.Photos[idx].IsPrimary = *req.IsPrimary
		}
		visit.UpdatedAt = time.Now().UTC()

		if err := store.UpdateVisit(ctx, visit); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save photo"})
		}
		return c.JSON(http.StatusOK, visit.Photos[idx])
	}
}

func getServices(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, status, authErr := staffActor(c, auth); authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}
		services, err := store.FetchServices(c.Request().Context(), c.QueryParam("context"))
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load services"})
		}
		return c.JSON(http.StatusOK, servicesResponse{Services: services})
	}
}

func getIntakeSearch(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, status, authErr := staffActor(c, auth); authErr != nil {
			return c.JSON(status, errorResponse{Error: authErr.Error()})
		}
		items, err := store.SearchIntake(c.Request().Context(), c.QueryParam("q"))
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "search failed"})
		}
		return c.JSON(http.StatusOK, intakeSearchResponse{Items: items})
	}
}

// visitLookupError maps storage lookup failures onto responses.
func visitLookupError(c echo.Context, err error) error {
	var nf NotFoundError
	if errors.As(err, &nf) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "visit not found"})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load visit"})
}

// engineError maps transition engine failures onto the response taxonomy:
// rule violations carry their message at 422/409, everything else is an
// opaque 500 with a per-operation fallback string.
func engineError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, board.ErrUnknownStage),
		errors.Is(err, board.ErrSameStage),
		errors.Is(err, board.ErrVisitInactive):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, board.ErrAlreadyCheckedOut):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		var nf NotFoundError
		if errors.As(err, &nf) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "visit not found"})
		}
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: fallback})
	}
}
