package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/common/network"
	"github.com/orchidlake/llmstudio/model"
)

// AccessClaims is the JWT payload of an API access token. Tokens are
// issued by the auth controller and verified here; the role is re-checked
// against the database on every request so a demoted user cannot keep
// admin access through an old token.
type AccessClaims struct {
	UserId    int    `json:"uid"`
	Username  string `json:"username"`
	Role      int    `json:"role"`
	TokenName string `json:"token_name,omitempty"`
	jwt.RegisteredClaims
}

// CreateAccessToken signs a JWT for API clients that cannot hold a cookie
// session. name labels the token in logs.
func CreateAccessToken(user *model.User, name string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserId:    user.Id,
		Username:  user.Username,
		Role:      user.Role,
		TokenName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "llmstudio",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(config.JWTExpireHours) * time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.JWTSecret))
	if err != nil {
		return "", errors.Wrap(err, "sign access token")
	}
	return signed, nil
}

func parseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse access token")
	}
	if !token.Valid {
		return nil, errors.New("access token is invalid")
	}
	return claims, nil
}

// authHelper authenticates a request from the cookie session or, failing
// that, a Bearer access token, then enforces the minimum role.
func authHelper(c *gin.Context, minRole int) {
	session := sessions.Default(c)
	id := session.Get("id")
	username := session.Get("username")
	role := session.Get("role")
	status := session.Get("status")

	if username == nil {
		claims, err := bearerClaims(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Not logged in or access token is invalid",
			})
			c.Abort()
			return
		}
		user, err := model.GetUserById(claims.UserId, false)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Access token refers to a user that no longer exists",
			})
			c.Abort()
			return
		}
		id = user.Id
		username = user.Username
		role = user.Role
		status = user.Status
		c.Set(ctxkey.TokenName, claims.TokenName)
	}

	if status == nil || status.(int) == model.UserStatusDisabled {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "The user has been banned",
		})
		session.Clear()
		_ = session.Save()
		c.Abort()
		return
	}
	if role == nil || role.(int) < minRole {
		gmw.GetLogger(c).Warn("insufficient permission",
			zap.Any("user_id", id),
			zap.Any("role", role),
			zap.Int("required", minRole))
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "No permission to perform this operation",
		})
		c.Abort()
		return
	}

	c.Set(ctxkey.Id, id.(int))
	c.Set(ctxkey.Username, username.(string))
	c.Set(ctxkey.Role, role.(int))
	c.Next()
}

func bearerClaims(c *gin.Context) (*AccessClaims, error) {
	auth := c.Request.Header.Get("Authorization")
	if auth == "" {
		return nil, errors.New("missing Authorization header")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))
	if raw == "" {
		return nil, errors.New("empty bearer token")
	}
	return parseAccessToken(raw)
}

func UserAuth() func(c *gin.Context) {
	return func(c *gin.Context) {
		authHelper(c, model.RoleCommonUser)
	}
}

func AdminAuth() func(c *gin.Context) {
	return func(c *gin.Context) {
		if config.AdminAllowedSubnets != "" &&
			!network.IsIpInSubnets(c.ClientIP(), config.AdminAllowedSubnets) {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Admin access is not allowed from this address",
			})
			c.Abort()
			return
		}
		authHelper(c, model.RoleAdminUser)
	}
}

func RootAuth() func(c *gin.Context) {
	return func(c *gin.Context) {
		authHelper(c, model.RoleRootUser)
	}
}
