package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlexMickh/market-chat/pkg/chatclient/cache"
)

// HTTPHistory fetches a conversation's stored chats from
// GET /conversation/chats/{conversationId}.
type HTTPHistory struct {
	BaseURL string
	// Token returns the access token to present, usually Manager.AccessToken.
	Token  func() string
	Client *http.Client
}

func NewHTTPHistory(baseURL string, token func() string) *HTTPHistory {
	return &HTTPHistory{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (h *HTTPHistory) History(ctx context.Context, conversationID string) ([]cache.Chat, error) {
	const op = "chatclient.HTTPHistory.History"

	endpoint := h.BaseURL + "/conversation/chats/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Token())

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return nil, fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, failure.Message)
	}

	var out struct {
		Conversation struct {
			Chats []struct {
				ID     string    `json:"id"`
				Text   string    `json:"text"`
				Time   time.Time `json:"time"`
				Viewed bool      `json:"viewed"`
				Image  string    `json:"image"`
				User   struct {
					ID string `json:"id"`
				} `json:"user"`
			} `json:"chats"`
		} `json:"conversation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	chats := make([]cache.Chat, 0, len(out.Conversation.Chats))
	for _, c := range out.Conversation.Chats {
		chats = append(chats, cache.Chat{
			ID:        c.ID,
			SentBy:    c.User.ID,
			Content:   c.Text,
			Image:     c.Image,
			Timestamp: c.Time,
			Viewed:    c.Viewed,
		})
	}

	return chats, nil
}
