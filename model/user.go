package model

import (
	"fmt"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/common/random"
)

const (
	RoleGuestUser  = 0
	RoleCommonUser = 1
	RoleAdminUser  = 10
	RoleRootUser   = 100
)

const (
	UserStatusEnabled  = 1 // don't use 0, 0 is the default value!
	UserStatusDisabled = 2 // also don't use 0
	UserStatusDeleted  = 3
)

// User if you add sensitive fields, don't forget to clean them in setupLogin,
// otherwise they end up in the browser's local storage in plain text.
type User struct {
	Id          int    `json:"id"`
	Username    string `json:"username" gorm:"unique;index" validate:"max=30"`
	Password    string `json:"password" gorm:"not null;" validate:"min=8,max=20"`
	DisplayName string `json:"display_name" gorm:"index" validate:"max=20"`
	Role        int    `json:"role" gorm:"type:int;default:1"`   // admin, common
	Status      int    `json:"status" gorm:"type:int;default:1"` // enabled, disabled
	Email       string `json:"email" gorm:"index" validate:"max=50"`
	CreatedAt   int64  `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt   int64  `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

func GetAllUsers(startIdx int, num int) (users []*User, err error) {
	err = DB.Limit(num).Offset(startIdx).
		Omit("password").
		Where("status != ?", UserStatusDeleted).
		Order("id desc").
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

func GetUserCount() (count int64, err error) {
	err = DB.Model(&User{}).Where("status != ?", UserStatusDeleted).Count(&count).Error
	return count, errors.Wrap(err, "count users")
}

func GetUserById(id int, selectAll bool) (*User, error) {
	if id == 0 {
		return nil, errors.New("id is empty!")
	}
	user := User{Id: id}
	var err error
	if selectAll {
		err = DB.First(&user, "id = ?", id).Error
	} else {
		err = DB.Omit("password").First(&user, "id = ?", id).Error
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user %d", id)
	}
	return &user, nil
}

func DeleteUserById(id int) (err error) {
	if id == 0 {
		return errors.New("id is empty!")
	}
	user := User{Id: id}
	return user.Delete()
}

func (user *User) Insert() error {
	var err error
	if user.Password != "" {
		user.Password, err = common.Password2Hash(user.Password)
		if err != nil {
			return errors.Wrapf(err, "failed to hash password for user: username=%s", user.Username)
		}
	}
	if err = DB.Create(user).Error; err != nil {
		return errors.Wrapf(err, "failed to create user: username=%s", user.Username)
	}
	return nil
}

func (user *User) Update(updatePassword bool) error {
	var err error
	if updatePassword {
		user.Password, err = common.Password2Hash(user.Password)
		if err != nil {
			return errors.Wrapf(err, "failed to hash password for user update: id=%d, username=%s", user.Id, user.Username)
		}
	}
	err = DB.Model(user).Updates(user).Error
	if err != nil {
		return errors.Wrapf(err, "failed to update user: id=%d, username=%s", user.Id, user.Username)
	}
	return nil
}

func (user *User) Delete() error {
	if user.Id == 0 {
		return errors.New("id is empty!")
	}
	// keep the row so session and usage history stays attributable
	user.Username = fmt.Sprintf("deleted_%s", random.GetUUID())
	user.Status = UserStatusDeleted
	err := DB.Model(user).Updates(user).Error
	if err != nil {
		return errors.Wrapf(err, "failed to delete user: id=%d", user.Id)
	}
	return nil
}

// ValidateAndFill check password & user status
func (user *User) ValidateAndFill() (err error) {
	// When querying with struct, GORM will only query with non-zero fields,
	// that means if your field’s value is 0, '', false or other zero values,
	// it won’t be used to build query conditions
	password := user.Password
	if user.Username == "" || password == "" {
		return errors.New("Username or password is empty")
	}
	err = DB.Where("username = ?", user.Username).First(user).Error
	if err != nil {
		// we must make sure check username firstly
		// consider this case: a malicious user set his username as other's email
		err := DB.Where("email = ?", user.Username).First(user).Error
		if err != nil {
			return errors.Errorf("username or password is wrong, or user has been banned: username=%s", user.Username)
		}
	}
	okay := common.ValidatePasswordAndHash(password, user.Password)
	if !okay || user.Status != UserStatusEnabled {
		return errors.New("Username or password is wrong, or user has been banned")
	}
	return nil
}

func (user *User) FillUserById() error {
	if user.Id == 0 {
		return errors.New("id is empty!")
	}
	DB.Where(User{Id: user.Id}).First(user)
	return nil
}

func (user *User) FillUserByUsername() error {
	if user.Username == "" {
		return errors.New("username is empty!")
	}
	DB.Where(User{Username: user.Username}).First(user)
	return nil
}

func IsEmailAlreadyTaken(email string) bool {
	return DB.Where("email = ?", email).Find(&User{}).RowsAffected == 1
}

func IsUsernameAlreadyTaken(username string) bool {
	return DB.Where("username = ?", username).Find(&User{}).RowsAffected == 1
}

func ResetUserPasswordByEmail(email string, password string) error {
	if email == "" || password == "" {
		return errors.New("Email address or password is empty!")
	}
	hashedPassword, err := common.Password2Hash(password)
	if err != nil {
		return errors.Wrap(err, "hash password for reset")
	}
	if err = DB.Model(&User{}).Where("email = ?", email).Update("password", hashedPassword).Error; err != nil {
		return errors.Wrapf(err, "update password for email %s", email)
	}
	return nil
}

func IsAdmin(userId int) bool {
	if userId == 0 {
		return false
	}
	var user User
	err := DB.Where("id = ?", userId).Select("role").Find(&user).Error
	if err != nil {
		logger.Logger.Error("no such user", zap.Error(err))
		return false
	}
	return user.Role >= RoleAdminUser
}

func IsUserEnabled(userId int) (bool, error) {
	if userId == 0 {
		return false, errors.New("user id is empty")
	}
	var user User
	err := DB.Where("id = ?", userId).Select("status").Find(&user).Error
	if err != nil {
		return false, errors.Wrapf(err, "query user %d status", userId)
	}
	return user.Status == UserStatusEnabled, nil
}

func GetUsernameById(id int) (username string) {
	DB.Model(&User{}).Where("id = ?", id).Select("username").Find(&username)
	return username
}
