package api

import (
	"net/http"

	"github.com/selfdb-io/selfdb/internal/auth"
	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/store"
)

func (s *Server) routeUsers(mux *http.ServeMux) {
	mux.HandleFunc("POST /users/{$}", s.handle(authNone, nil, s.register))
	mux.HandleFunc("POST /users/token", s.handle(authNone, nil, s.login))
	mux.HandleFunc("POST /users/token/refresh", s.handle(authNone, nil, s.refresh))
	mux.HandleFunc("POST /users/logout", s.handle(authRequired, nil, s.logout))
	mux.HandleFunc("POST /users/logout/all", s.handle(authRequired, nil, s.logoutAll))
	mux.HandleFunc("GET /users/me", s.handle(authRequired, nil, s.me))
	mux.HandleFunc("GET /users/count", s.handle(authRequired, []string{"search"}, s.countUsers))
	mux.HandleFunc("GET /users/{$}", s.handle(authRequired, listQueryParams, s.listUsers))
	mux.HandleFunc("GET /users/{id}", s.handle(authRequired, nil, s.getUser))
	mux.HandleFunc("PATCH /users/{id}", s.handle(authAdmin, nil, s.patchUser))
	mux.HandleFunc("DELETE /users/{id}", s.handle(authAdmin, nil, s.deleteUser))
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// Camel-case aliases kept for older clients.
	FirstNameAlias string `json:"firstName"`
	LastNameAlias  string `json:"lastName"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req registerRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if req.FirstName == "" {
		req.FirstName = req.FirstNameAlias
	}
	if req.LastName == "" {
		req.LastName = req.LastNameAlias
	}
	if req.Email == "" || req.Password == "" {
		return httpx.Validation("email and password are required")
	}
	if len(req.Password) < 8 {
		return httpx.Validation("Password must be at least 8 characters")
	}

	hash, err := s.auth.Passwords.Hash(r.Context(), req.Password)
	if err != nil {
		return err
	}
	user, err := store.CreateUser(r.Context(), rc.conn, req.Email, hash, req.FirstName, req.LastName)
	if httpx.IsUniqueViolation(err) {
		// Identical re-registration is idempotent; the same email with
		// different attributes is a conflict.
		existing, gerr := store.GetUserByEmail(r.Context(), rc.conn, req.Email)
		if gerr != nil {
			return httpx.Conflict("Email already registered")
		}
		same, _ := s.auth.Passwords.Verify(r.Context(), req.Password, existing.PasswordHash)
		if same && existing.FirstName == req.FirstName && existing.LastName == req.LastName {
			httpx.JSON(w, http.StatusOK, existing)
			return nil
		}
		return httpx.Conflict("Email already registered")
	}
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusCreated, user)
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req loginRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	user, err := store.GetUserByEmail(r.Context(), rc.conn, req.Email)
	if err != nil {
		// Same opaque detail as a wrong password: no user enumeration.
		return httpx.InvalidCredentials()
	}
	ok, err := s.auth.Passwords.Verify(r.Context(), req.Password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return httpx.InvalidCredentials()
	}
	if !user.IsActive {
		return httpx.InactiveUser()
	}

	access, err := s.auth.MintAccessToken(user.ID.String(), user.Role)
	if err != nil {
		return err
	}
	var refresh string
	// The first successful login flips the one-way initialized latch in the
	// same transaction as the session row.
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		if refresh, terr = s.auth.CreateRefreshToken(r.Context(), q, user.ID); terr != nil {
			return terr
		}
		return store.MarkInitialized(r.Context(), q)
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.auth.AccessTTL().Seconds()),
	})
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req refreshRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return httpx.Validation("refresh_token is required")
	}
	userID, found, expired, err := auth.LookupRefreshToken(r.Context(), rc.conn, req.RefreshToken)
	if err != nil {
		return err
	}
	if !found || expired {
		return httpx.InvalidToken()
	}
	user, err := store.GetUser(r.Context(), rc.conn, userID)
	if err != nil {
		return httpx.InvalidToken()
	}
	if !user.IsActive {
		return httpx.InactiveUser()
	}

	var newRefresh string
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		newRefresh, terr = s.auth.RotateRefreshToken(r.Context(), q, req.RefreshToken, userID)
		return terr
	})
	if err != nil {
		return err
	}
	if newRefresh == "" {
		// Reuse: the rotation found the token already revoked and the
		// cascade has revoked every live session for this user.
		return httpx.InvalidToken()
	}
	access, err := s.auth.MintAccessToken(user.ID.String(), user.Role)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.auth.AccessTTL().Seconds()),
	})
	return nil
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req logoutRequest
	if err := httpx.DecodeLenient(r, &req); err != nil {
		return err
	}
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		if req.RefreshToken != "" {
			_, terr := auth.RevokeRefreshToken(r.Context(), q, req.RefreshToken)
			return terr
		}
		_, terr := auth.RevokeAllUserTokens(r.Context(), q, rc.user.ID)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	return nil
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var revoked int64
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		revoked, terr = auth.RevokeAllUserTokens(r.Context(), q, rc.user.ID)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "logged_out", "revoked": revoked})
	return nil
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	httpx.JSON(w, http.StatusOK, rc.user)
	return nil
}

func (s *Server) countUsers(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	n, err := store.CountUsers(r.Context(), rc.conn, r.URL.Query().Get("search"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, n)
	return nil
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	users, err := store.ListUsers(r.Context(), rc.conn, opts)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, users)
	return nil
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	user, err := store.GetUser(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, user)
	return nil
}

type userPatchRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
	IsActive  *bool   `json:"is_active"`
	Password  *string `json:"password"`
}

func (s *Server) patchUser(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req userPatchRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	upd := store.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		IsActive:  req.IsActive,
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			return httpx.Validation("Password must be at least 8 characters")
		}
		hash, herr := s.auth.Passwords.Hash(r.Context(), *req.Password)
		if herr != nil {
			return herr
		}
		upd.PasswordHash = &hash
	}
	user, err := store.UpdateUser(r.Context(), rc.conn, id, upd)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, user)
	return nil
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	if err := store.DeleteUser(r.Context(), rc.conn, id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
