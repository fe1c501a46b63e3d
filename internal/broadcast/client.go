// Package broadcast はTelegram Bot APIによる告知メッセージ送信を提供する。
// 当選書籍の告知はベストエフォートであり、送信失敗が投票結果や
// イテレーションの状態に影響することはない。
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// defaultEndpoint はTelegram Bot APIのベースURL。
const defaultEndpoint = "https://api.telegram.org"

// ParseMode は告知テキストの整形モードを表す。
type ParseMode string

const (
	// ParseModePlain は整形なしの平文。
	ParseModePlain ParseMode = ""
	// ParseModeMarkdown はMarkdown整形。
	ParseModeMarkdown ParseMode = "Markdown"
	// ParseModeHTML はHTML整形。
	ParseModeHTML ParseMode = "HTML"
)

// Message は告知メッセージを表す。
// ImageURLが指定された場合はsendPhotoでテキストをキャプションとして送る。
type Message struct {
	ChatID    string
	Text      string
	ParseMode ParseMode
	ImageURL  string
}

// SendResult は送信結果を表す。
type SendResult struct {
	OK               bool
	MessageID        int64
	ErrorDescription string
}

// Sender は告知送信のインターフェース。
type Sender interface {
	// Send はメッセージを送信する。非okレスポンスもエラーとして返す。
	// 呼び出し元はエラーをソフト失敗として扱う（ログのみ、伝播しない）。
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Client はTelegram Bot APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientには数秒程度のタイムアウトを設定したクライアントを渡すこと。
// 外部エンドポイントの遅延でクローズ処理が停止しないための上限になる。
func NewClient(httpClient *http.Client, logger *slog.Logger, token string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		endpoint:   defaultEndpoint,
	}
}

// SetEndpoint はAPIエンドポイントを差し替える。テスト用。
func (c *Client) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

// apiResponse はBot APIの共通レスポンス形式。
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Send はメッセージを送信する。
// リトライは行わない。告知の欠落は許容されるデータロスであり、
// 呼び出し側の処理を遅延させないことを優先する。
func (c *Client) Send(ctx context.Context, msg Message) (*SendResult, error) {
	method := "sendMessage"
	payload := map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	}
	if msg.ImageURL != "" {
		method = "sendPhoto"
		payload = map[string]any{
			"chat_id": msg.ChatID,
			"photo":   msg.ImageURL,
			"caption": msg.Text,
		}
	}
	if msg.ParseMode != ParseModePlain {
		payload["parse_mode"] = string(msg.ParseMode)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	reqURL := fmt.Sprintf("%s/bot%s/%s", c.endpoint, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Telegram Bot APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.logger.Error("Telegram Bot APIのレスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	result := &SendResult{
		OK:               parsed.OK,
		MessageID:        parsed.Result.MessageID,
		ErrorDescription: parsed.Description,
	}

	if !parsed.OK {
		c.logger.Error("Telegram Bot APIがエラーを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.String("description", parsed.Description),
		)
		return result, fmt.Errorf("Telegram Bot APIがエラーを返しました: %s", parsed.Description)
	}

	return result, nil
}

// compile-time interface check
var _ Sender = (*Client)(nil)
