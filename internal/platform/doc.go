// Package platform メディアデバイスへのアクセスを抽象化する
//
// # 責務
// - デバイス列挙・権限確認・ストリーム取得のインターフェース定義
// - エラー分類（権限拒否・デバイス未検出・制約超過など）の統一
// - 描画サーフェスとビットマップのライフサイクル管理
// - V4L2ベースの本番実装とテスト用フェイク実装の提供
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラセッション管理をホスト環境から分離したい
// - 実デバイスなしで上位ロジックをテストしたい
// - プラットフォーム固有のエラーを統一的に扱いたい
//
// # 仕様
// - Provider: デバイス・権限・ストリーム・サーフェスの取得口
// - V4L2Provider: v4l2-ctl / ffmpeg を使う本番実装
// - FakeProvider: 決定的な動作をするテスト用実装
// - MediaError: エラーコード付きのエラー型（errors.As 対応）
//
// # 前提要件（V4L2Provider 使用時）
//   - v4l-utils: デバイス名の取得とコントロール設定に使用
//   - ffmpeg: 単一フレームキャプチャに使用
//   - videoグループへの参加: デバイスアクセス権限
package platform
