package domain

import "errors"

// Таксономия ошибок движка переговоров. Сервисы оборачивают их через
// fmt.Errorf("...: %w", ...), хендлеры мапят на HTTP-статусы через errors.Is.
var (
	ErrValidation = errors.New("validation failed") // 400: битый ввод, истекшая сессия, неактивный connection
	ErrAuthz      = errors.New("not authorized")    // 403: не участник, отсутствует нужный scope
	ErrNotFound   = errors.New("not found")         // 404: неизвестный connection/session
	ErrConflict   = errors.New("conflict")          // 409: дубль idempotency key, проигравший гонку confirm
	ErrInternal   = errors.New("internal error")    // 500: сбой calendar gateway после компенсации
)
