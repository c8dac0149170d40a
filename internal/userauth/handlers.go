package userauth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trustcore/identity-platform/internal/apierr"
	"github.com/trustcore/identity-platform/pkg/models"
)

// Service exposes the User Auth shell's register/login HTTP surface, the
// only part of the user service spec.md specifies as the trust core's
// interface to an external user-auth collaborator.
type Service struct {
	shell *Shell
}

// NewService creates a userauth HTTP Service.
func NewService(shell *Shell) *Service {
	return &Service{shell: shell}
}

// Mount attaches /auth/register and /auth/login onto r.
func (s *Service) Mount(r chi.Router) {
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidRequest, "malformed register request body")
		return
	}

	userID, err := s.shell.Register(req.Username, req.Email, req.Password)
	if err != nil {
		apierr.Write(w, apierr.InvalidRequest, err.Error())
		return
	}

	apierr.WriteJSON(w, http.StatusCreated, models.RegisterResponse{UserID: userID})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidRequest, "malformed login request body")
		return
	}

	token, expiresIn, err := s.shell.Login(req.Username, req.Password)
	if err != nil {
		apierr.Write(w, apierr.TokenInvalid, "invalid username or password")
		return
	}

	apierr.WriteJSON(w, http.StatusOK, models.LoginResponse{AccessToken: token, ExpiresIn: expiresIn})
}
