package model

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/orchidlake/llmstudio/common"
)

func userColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "password", "display_name", "role", "status", "email", "created_at", "updated_at",
	})
}

func TestValidateAndFill(t *testing.T) {
	mock := setupMockDB(t)

	hash, err := common.Password2Hash("correct horse battery")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT \\* FROM `users`").
		WillReturnRows(userColumns().
			AddRow(1, "alice", hash, "Alice", RoleCommonUser, UserStatusEnabled, "alice@example.com", 1, 1))

	user := &User{Username: "alice", Password: "correct horse battery"}
	require.NoError(t, user.ValidateAndFill())
	require.Equal(t, 1, user.Id)
	require.Equal(t, RoleCommonUser, user.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateAndFillWrongPassword(t *testing.T) {
	mock := setupMockDB(t)

	hash, err := common.Password2Hash("the real one")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT \\* FROM `users`").
		WillReturnRows(userColumns().
			AddRow(1, "alice", hash, "Alice", RoleCommonUser, UserStatusEnabled, "", 1, 1))

	user := &User{Username: "alice", Password: "a guess"}
	require.Error(t, user.ValidateAndFill())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateAndFillDisabledUser(t *testing.T) {
	mock := setupMockDB(t)

	hash, err := common.Password2Hash("correct horse battery")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT \\* FROM `users`").
		WillReturnRows(userColumns().
			AddRow(1, "alice", hash, "Alice", RoleCommonUser, UserStatusDisabled, "", 1, 1))

	user := &User{Username: "alice", Password: "correct horse battery"}
	require.Error(t, user.ValidateAndFill())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateAndFillEmptyInput(t *testing.T) {
	user := &User{}
	require.Error(t, user.ValidateAndFill())
}

func TestUserInsertHashesPassword(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	user := &User{Username: "bob", Password: "plain secret", DisplayName: "Bob"}
	require.NoError(t, user.Insert())
	require.NotEqual(t, "plain secret", user.Password)
	require.True(t, common.ValidatePasswordAndHash("plain secret", user.Password))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsAdminByRole(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectQuery("SELECT `role` FROM `users`").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(RoleAdminUser))

	require.True(t, IsAdmin(1))
	require.False(t, IsAdmin(0))
	require.NoError(t, mock.ExpectationsWereMet())
}
