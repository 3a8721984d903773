package api

import (
	"net/http"
	"strings"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
)

func registerHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		u, err := authSvc.Register(r.Context(), req.Name, req.Email, req.Password)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeLogin(w, r, authSvc, u, http.StatusCreated)
	}
}

// loginHandler serves both login routes. adminOnly refuses citizen accounts
// with 403 after the password check.
func loginHandler(authSvc *auth.Service, adminOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		u, err := authSvc.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if adminOnly && u.Role != clinic.RoleAdmin {
			handleServiceError(w, r, clinic.ErrForbidden)
			return
		}

		writeLogin(w, r, authSvc, u, http.StatusOK)
	}
}

func writeLogin(w http.ResponseWriter, r *http.Request, authSvc *auth.Service, u *clinic.User, status int) {
	token, err := authSvc.Issue(auth.CallerOf(u))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, status, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		User:      toUserResponse(u),
	})
}

// forgotHandler never reveals whether the account exists.
func forgotHandler(w http.ResponseWriter, r *http.Request) {
	var req ForgotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email is required")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "If an account exists an email has been sent"})
}

func createUserHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		role := clinic.RoleCitizen
		if req.Role != "" {
			role = clinic.Role(strings.ToLower(req.Role))
		}

		u, err := authSvc.CreateUser(r.Context(), req.Name, req.Email, req.Password, role)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toUserResponse(u))
	}
}

func listUsersHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := authSvc.ListUsers(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		out := make([]UserResponse, 0, len(users))
		for i := range users {
			out = append(out, toUserResponse(&users[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
