package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &SQLiteStore{db: db, now: func() time.Time { return fixed }}, mock
}

func TestSQLiteStore_CreateChatDatabaseError(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectExec("INSERT INTO chats").
		WithArgs(sqlmock.AnyArg(), DefaultTitle, "user-1", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	_, err := store.CreateChat(context.Background(), "user-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create chat")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateTitleNoRows(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectExec("UPDATE chats SET title").
		WithArgs("New", "chat-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateChatTitle(context.Background(), "chat-1", "New")
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_ListMessagesScanError(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, title, user_id, created_at FROM chats WHERE id").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "user_id", "created_at"}).
			AddRow("chat-1", "t", "u", created))
	mock.ExpectQuery("SELECT id, chat_id, role, content, created_at FROM messages").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"}).
			AddRow("m1", "chat-1", "user", "hi", "not a time"))

	_, err := store.ListMessages(context.Background(), "chat-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan message")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_AppendMessageUsesClock(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, title, user_id, created_at FROM chats WHERE id").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "user_id", "created_at"}).
			AddRow("chat-1", "t", "u", created))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "chat-1", "assistant", "answer", created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg, err := store.AppendMessage(context.Background(), "chat-1", domain.RoleAssistant, "answer")
	require.NoError(t, err)
	assert.Equal(t, created, msg.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_DeleteChatRollsBackOnError(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").
		WithArgs("chat-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM chats").
		WithArgs("chat-1").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := store.DeleteChat(context.Background(), "chat-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete chat")
	assert.NoError(t, mock.ExpectationsWereMet())
}
