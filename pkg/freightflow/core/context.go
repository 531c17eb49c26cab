package core

type ctxKey string

const (
	CtxKeyExecutorId  ctxKey = ctxKey("executorId")
	CtxKeyWorkerId    ctxKey = ctxKey("workerId")
	CtxKeyExecutionId ctxKey = ctxKey("executionId")
	CtxKeyApiKeyName  ctxKey = ctxKey("apiKeyName")
)
