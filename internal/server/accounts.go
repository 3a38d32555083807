package server

import (
	"errors"
	"net/http"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

type loginRequest struct {
	Email string `json:"email" binding:"required"`
}

// accountHandlers serves the account and history endpoints.
type accountHandlers struct {
	accounts store.Accounts
	history  *relay.Dispatcher
	log      *zap.Logger
}

func (a *accountHandlers) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Name and email required"})
		return
	}

	user, err := a.accounts.CreateUser(c.Request.Context(), store.Account{Name: req.Name, Email: req.Email})
	if errors.Is(err, store.ErrUserExists) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "User exists"})
		return
	}
	if err != nil {
		a.log.Error("Creating user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Registration failed"})
		return
	}

	a.log.Info("User registered", zap.String("id", user.ID))
	c.JSON(http.StatusOK, gin.H{"message": "Registered", "user": user})
}

func (a *accountHandlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Email required"})
		return
	}

	user, err := a.accounts.FindUser(c.Request.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	}
	if err != nil {
		a.log.Error("Finding user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Login success", "user": user})
}

func (a *accountHandlers) listUsers(c *gin.Context) {
	users, err := a.accounts.ListUsers(c.Request.Context())
	if err != nil {
		a.log.Error("Listing users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Could not list users"})
		return
	}
	if users == nil {
		users = []store.Account{}
	}
	c.JSON(http.StatusOK, users)
}

func (a *accountHandlers) messages(c *gin.Context) {
	user1 := relay.UserID(c.Param("user1"))
	user2 := relay.UserID(c.Param("user2"))
	if user1.Validate() != nil || user2.Validate() != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid user id"})
		return
	}

	history, err := a.history.History(c.Request.Context(), user1, user2)
	if err != nil {
		a.log.Error("Loading messages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Could not load messages"})
		return
	}
	if history == nil {
		history = []relay.Message{}
	}
	c.JSON(http.StatusOK, history)
}
