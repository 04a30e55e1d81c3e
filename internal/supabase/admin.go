package supabase

import (
	"context"
	"log/slog"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/model"
)

// AdminClient はservice_roleキーで行単位アクセス制御をバイパスする特権クライアント。
// プロセス内からのみ使用し、HTTPエンドポイントとしては公開しない。
type AdminClient struct {
	client *Client
}

// NewAdminClient はAdminClientを生成する。cfg.APIKeyにはservice_roleキーを指定する。
func NewAdminClient(cfg Config) *AdminClient {
	return &AdminClient{client: NewClient(cfg)}
}

// CreateProfile はusersテーブルにプロフィール行を作成する。
func (a *AdminClient) CreateProfile(ctx context.Context, user *model.User) error {
	if err := a.client.insertProfile(ctx, "admin.create_profile", "", user); err != nil {
		a.client.logger.Error("特権でのプロフィール作成に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("kind", backend.KindOf(err).String()),
		)
		return err
	}
	return nil
}

var _ backend.ProfileCreator = (*AdminClient)(nil)
