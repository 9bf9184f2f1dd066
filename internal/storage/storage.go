package storage

import "github.com/AlexMickh/market-chat/pkg/apperr"

var (
	ErrConversationNotFound      = apperr.NotFound("conversation not found")
	ErrConversationAlreadyExists = apperr.Conflict("conversation already exists")
	ErrMessageNotFound           = apperr.NotFound("message not found")
	ErrUserNotFound              = apperr.NotFound("user not found")
	ErrNotMessageAuthor          = apperr.Unauthorized("only the author can delete a message")
)
