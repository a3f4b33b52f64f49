package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/fan-verify/internal/apperr"
	"github.com/example/fan-verify/internal/auth"
	"github.com/example/fan-verify/internal/repository"
	"github.com/example/fan-verify/internal/usecase"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	Token string `json:"token"`
}

// userResponse never carries the password hash.
type userResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Picture  string `json:"picture,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func newUserResponse(u *repository.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		Picture:  u.Picture,
		Provider: u.Provider,
	}
}

func (s *server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(err, apperr.KindValidation, "Preencha todos os campos"))
		return
	}
	session, err := s.Accounts.Register(c.Request.Context(), usecase.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeSession(c, http.StatusCreated, "Usuário registrado com sucesso", session)
}

func (s *server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(err, apperr.KindValidation, "Email e senha são obrigatórios"))
		return
	}
	session, err := s.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeSession(c, http.StatusOK, "Login realizado com sucesso", session)
}

func (s *server) googleLogin(c *gin.Context) {
	var req googleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(err, apperr.KindValidation, "ID token é obrigatório"))
		return
	}
	session, err := s.Accounts.GoogleLogin(c.Request.Context(), req.Token)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeSession(c, http.StatusOK, "Autenticado via Google com sucesso", session)
}

func (s *server) logout(c *gin.Context) {
	auth.ClearSessionCookie(c, s.Cookie)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logout realizado com sucesso"})
}

func (s *server) me(c *gin.Context) {
	user, err := s.Accounts.Me(c.Request.Context(), sessionUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": newUserResponse(user)})
}

func (s *server) writeSession(c *gin.Context, status int, message string, session *usecase.Session) {
	auth.SetSessionCookie(c, session.Token, s.Cookie)
	c.JSON(status, gin.H{
		"success": true,
		"message": message,
		"token":   session.Token,
		"user":    newUserResponse(session.User),
	})
}
