package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/dto"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/model"
)

func Register(c *gin.Context) {
	if !config.RegisterEnabled {
		respondMessage(c, "Registration is disabled by the administrator")
		return
	}

	var req dto.RegisterRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		respondMessage(c, "invalid request body")
		return
	}
	if err := dto.Validate(&req); err != nil {
		respondMessage(c, err.Error())
		return
	}
	if model.IsUsernameAlreadyTaken(req.Username) {
		respondMessage(c, "The username is already taken")
		return
	}
	if req.Email != "" && model.IsEmailAlreadyTaken(req.Email) {
		respondMessage(c, "The email address is already registered")
		return
	}

	user := model.User{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        model.RoleCommonUser,
		Status:      model.UserStatusEnabled,
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}
	if err := user.Insert(); err != nil {
		gmw.GetLogger(c).Error("failed to create user", zap.Error(err))
		respondMessage(c, "Failed to create the account, please try again")
		return
	}
	respondOK(c, nil)
}

func Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		respondMessage(c, "invalid request body")
		return
	}
	if err := dto.Validate(&req); err != nil {
		respondMessage(c, err.Error())
		return
	}

	user := model.User{
		Username: req.Username,
		Password: req.Password,
	}
	if err := user.ValidateAndFill(); err != nil {
		respondMessage(c, err.Error())
		return
	}
	setupLogin(&user, c)
}

// setupLogin stores the authenticated identity in the cookie session and
// returns the sanitized user record.
func setupLogin(user *model.User, c *gin.Context) {
	session := sessions.Default(c)
	session.Set("id", user.Id)
	session.Set("username", user.Username)
	session.Set("role", user.Role)
	session.Set("status", user.Status)
	if err := session.Save(); err != nil {
		helper.RespondError(c, err)
		return
	}

	respondOK(c, model.User{
		Id:          user.Id,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Status:      user.Status,
	})
}

func Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		respondMessage(c, err.Error())
		return
	}
	respondOK(c, nil)
}

// Me returns the authenticated user's own record.
func Me(c *gin.Context) {
	user, err := model.GetUserById(c.GetInt(ctxkey.Id), false)
	if err != nil {
		respondMessage(c, err.Error())
		return
	}
	respondOK(c, user)
}

// CreateToken mints a bearer access token so scripts and clients without
// cookie support can call the API as the logged-in user.
func CreateToken(c *gin.Context) {
	var req dto.TokenRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		respondMessage(c, "invalid request body")
		return
	}
	if err := dto.Validate(&req); err != nil {
		respondMessage(c, err.Error())
		return
	}

	user, err := model.GetUserById(c.GetInt(ctxkey.Id), false)
	if err != nil {
		respondMessage(c, err.Error())
		return
	}
	name := req.Name
	if name == "" {
		name = "api"
	}
	token, err := middleware.CreateAccessToken(user, name)
	if err != nil {
		gmw.GetLogger(c).Error("failed to sign access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "failed to create access token",
		})
		return
	}
	respondOK(c, gin.H{
		"token":        token,
		"name":         name,
		"expire_hours": config.JWTExpireHours,
	})
}
