package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/model"
	"github.com/hitoshi/bookvote/internal/repository"
)

// Session は認証成功時に発行されるセッション情報を表す。
type Session struct {
	Token     string
	User      *model.User
	ExpiresAt time.Time
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BotToken   string        // 起動ペイロードの署名検証用
	AuthMaxAge time.Duration // auth_dateの許容経過時間
	SessionTTL time.Duration // セッショントークンの有効期間
}

// Service は起動ペイロード検証からセッション発行までの認証フローを提供する。
type Service struct {
	userRepo repository.UserRepository
	issuer   *TokenIssuer
	recorder metrics.Recorder
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewService(userRepo repository.UserRepository, issuer *TokenIssuer, recorder metrics.Recorder, config ServiceConfig, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		userRepo: userRepo,
		issuer:   issuer,
		recorder: recorder,
		config:   config,
		now:      now,
	}
}

// Authenticate は起動ペイロードを検証し、ユーザーをUPSERTしてセッションを発行する。
// 署名不一致・期限切れ・ユーザー情報不正のいずれの場合も、
// どの検証で失敗したかを呼び出し元に漏らさず同一のUNAUTHORIZEDを返す。
// 詳細な失敗理由はログにのみ記録する。
func (s *Service) Authenticate(ctx context.Context, rawInitData string) (*Session, error) {
	data, err := VerifyInitData(rawInitData, s.config.BotToken, s.config.AuthMaxAge, s.now())
	if err != nil {
		s.recorder.RecordAuthFailure()
		slog.Warn("launch payload verification failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnauthorizedError()
	}

	tgUser, err := data.ParseUser()
	if err != nil {
		s.recorder.RecordAuthFailure()
		slog.Warn("launch payload has malformed identity",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnauthorizedError()
	}

	displayName := strings.TrimSpace(tgUser.FirstName + " " + tgUser.LastName)

	user, err := s.userRepo.UpsertByTelegramID(ctx, tgUser.ID, displayName, tgUser.Username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのUPSERTに失敗しました: %w", err)
	}

	token, err := s.issuer.Issue(user.ID, user.TelegramUserID, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("セッショントークンの発行に失敗しました: %w", err)
	}

	slog.Info("user authenticated",
		slog.String("user_id", user.ID),
		slog.Int64("tg_user_id", user.TelegramUserID),
	)

	return &Session{
		Token:     token,
		User:      user,
		ExpiresAt: s.now().Add(s.config.SessionTTL),
	}, nil
}

// CurrentUser はセッショントークンを検証し、ストアから現在のユーザーを取得する。
// ロールなどの権限情報はトークンではなく常にストアの値を正とする。
func (s *Service) CurrentUser(ctx context.Context, tokenString string) (*model.User, error) {
	claims, err := s.issuer.Verify(tokenString)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}
