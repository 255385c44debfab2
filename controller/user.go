package controller

import (
	"net/http"
	"strconv"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/model"
)

const usersPageSize = 20

// GetAllUsers pages through accounts for the admin dashboard.
func GetAllUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("p"))
	if page < 0 {
		page = 0
	}
	users, err := model.GetAllUsers(page*usersPageSize, usersPageSize)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, users)
}

func GetUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	user, err := model.GetUserById(id, false)
	if err != nil {
		respondMessage(c, err.Error())
		return
	}
	// Admins manage commoners; only root may inspect other admins.
	if user.Role >= c.GetInt(ctxkey.Role) && user.Id != c.GetInt(ctxkey.Id) {
		respondMessage(c, "No permission to access a peer or higher role user")
		return
	}
	respondOK(c, user)
}

// ManageUser enables, disables, promotes, demotes or deletes one account.
type manageUserRequest struct {
	Id     int    `json:"id"`
	Action string `json:"action"`
}

func ManageUser(c *gin.Context) {
	var req manageUserRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	user, err := model.GetUserById(req.Id, false)
	if err != nil {
		respondMessage(c, err.Error())
		return
	}
	callerRole := c.GetInt(ctxkey.Role)
	if user.Role >= callerRole {
		respondMessage(c, "No permission to manage a peer or higher role user")
		return
	}

	switch req.Action {
	case "enable":
		user.Status = model.UserStatusEnabled
	case "disable":
		user.Status = model.UserStatusDisabled
	case "promote":
		if callerRole < model.RoleRootUser {
			respondMessage(c, "Only root may promote users to admin")
			return
		}
		user.Role = model.RoleAdminUser
	case "demote":
		user.Role = model.RoleCommonUser
	case "delete":
		if err := user.Delete(); err != nil {
			respondMessage(c, err.Error())
			return
		}
		gmw.GetLogger(c).Info("user deleted",
			zap.Int("user_id", req.Id),
			zap.Int("operator_id", c.GetInt(ctxkey.Id)))
		respondOK(c, nil)
		return
	default:
		respondMessage(c, "unknown action: "+req.Action)
		return
	}

	if err := user.Update(false); err != nil {
		respondMessage(c, err.Error())
		return
	}
	respondOK(c, user)
}

// UpdateSelfPassword lets the logged-in user rotate their own password.
type updatePasswordRequest struct {
	Password string `json:"password"`
}

func UpdateSelfPassword(c *gin.Context) {
	var req updatePasswordRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 20 {
		respondMessage(c, "password must be between 8 and 20 characters")
		return
	}
	user, err := model.GetUserById(c.GetInt(ctxkey.Id), true)
	if err != nil {
		respondMessage(c, err.Error())
		return
	}
	user.Password = req.Password
	if err := user.Update(true); err != nil {
		respondMessage(c, err.Error())
		return
	}
	respondOK(c, nil)
}
