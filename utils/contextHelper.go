package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/shipdocs_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyActorId       = appctx.ContextKeyActorId
	ContextKeyActorName     = appctx.ContextKeyActorName
	ContextKeyActorRole     = appctx.ContextKeyActorRole
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyDocumentHash  = appctx.ContextKeyDocumentHash
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetActorIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyActorId)
}

func GetActorNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorName)
}

func GetActorRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetDocumentHashFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyDocumentHash)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetActorIdInContext(ctx context.Context, actorId int) context.Context {
	return appctx.Set(ctx, ContextKeyActorId, actorId)
}

func SetActorNameInContext(ctx context.Context, actorName string) context.Context {
	return appctx.Set(ctx, ContextKeyActorName, actorName)
}

func SetActorRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyActorRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetDocumentHashInContext(ctx context.Context, documentHash string) context.Context {
	return appctx.Set(ctx, ContextKeyDocumentHash, documentHash)
}
