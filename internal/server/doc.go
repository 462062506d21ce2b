// Package server は、カメラセッションを公開するHTTPサーバーを管理します。
//
// このパッケージは、セッションライフサイクル操作のHTTPエンドポイント、
// キャプチャ結果の配信、WebSocketによる状態変更イベントの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - セッション操作（開始・停止・キャプチャ・ライブ調整）のエンドポイント
//   - デバイス列挙・権限・能力プローブのエンドポイント
//   - WebSocketによる状態変更・デバイス変更イベントの配信
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - WebSocketはgorilla/websocketを使用
//   - ヘルスチェックはgopsutilでホスト負荷も報告
//   - グレースフルシャットダウンに対応
package server
