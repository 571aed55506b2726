// Package users はユーザーの登録、ログイン、プロフィール管理を行うusersサービスを提供する。
//
// ログインに成功するとBearerトークンを発行する。保護されたエンドポイントでは
// トークンの検証に加えて、主体がまだユーザーとして存在するかを確認する。
package users
